package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Data          string
	DataFormat    string
	Batch         string
	Version       int64
	MaxIterations int
	MaxRows       int
	All           bool // export loaded rows too

	// IDGenerator overrides the row id generator (for testing).
	// If nil, defaults to engine.UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Applied bool              `json:"applied"`
	Version int64             `json:"version"`
	Data    engine.StdPayload `json:"data"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <schema-dir>",
		Short: "Load data, apply a batch and print the result",
		Long: `Build the schema of a directory, load a payload into a fresh store,
apply one batch of instructions and print the store as a std payload.

Data and batch files are JSON, or YAML when named *.yaml / *.yml. A batch
is a list of instructions such as
  [{"inst": "set", "row": "invoices", "values": {"discount": 0.1}}]

Examples:
  restate run ./schema --data data.json --batch batch.json
  restate run ./schema --data rows.json --data-format fmap --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "payload to load before the batch")
	cmd.Flags().StringVar(&opts.DataFormat, "data-format", DataFormatStd, "payload format (std|fmap)")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "instruction list to apply")
	cmd.Flags().Int64Var(&opts.Version, "at-version", -1, "apply the batch only if the store is at this version")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", engine.DefaultMaxIterations, "recalculation pass bound")
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", engine.DefaultMaxRows, "recalculated row bound")
	cmd.Flags().BoolVar(&opts.All, "all", true, "export unchanged loaded rows too")

	return cmd
}

func runBatch(opts *RunOptions, dir string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	loaded, err := LoadSchema(dir, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	batch, err := readBatch(opts.Batch)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	s, err := newStore(loaded, logger, metrics.NewCollector(reg), opts)
	if err != nil {
		return err
	}
	if err := loadDataFile(s, opts.Data, opts.DataFormat, engine.LoadOptions{MarkLoaded: true}); err != nil {
		return err
	}

	applied := true
	if len(batch) > 0 {
		var callOpts []engine.CallOption
		if opts.Version >= 0 {
			callOpts = append(callOpts, engine.AtVersion(opts.Version))
		}
		applied, err = s.Update(batch, callOpts...)
		if err != nil {
			return formatter.Fail(ExitFailure, fmt.Sprintf("%s: update failed", engine.CodeOf(err)), err)
		}
		if !applied {
			return NewExitError(ExitFailure, fmt.Sprintf("batch rejected: store is at version %d", s.Version()))
		}
	}
	logMetrics(logger, reg)

	data, err := s.Unload(engine.UnloadOptions{IncludeLoaded: opts.All})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to unload", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(RunOutput{Applied: applied, Version: s.Version(), Data: data})
	}
	out, err := ir.MarshalCanonical(data)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode payload", err)
	}
	fmt.Fprintln(formatter.Writer, string(out))
	return nil
}

// newStore creates a store for loaded with the directory's datasets.
func newStore(loaded *Loaded, logger *slog.Logger, obs engine.Observer, opts *RunOptions) (*engine.DataStore, error) {
	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithObserver(obs),
		engine.WithMaxIterations(opts.MaxIterations),
		engine.WithMaxRows(opts.MaxRows),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	s := engine.New(loaded.Schema, engineOpts...)
	for _, name := range ir.SortedKeys(loaded.Source.Datasets) {
		if _, err := s.AddDataset(name, loaded.Source.Datasets[name]); err != nil {
			return nil, WrapExitError(ExitFailure, "failed to add dataset", err)
		}
	}
	return s, nil
}

// logMetrics writes the counters gathered from reg at debug level.
func logMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Warn("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				attrs = append(attrs,
					"count", m.GetHistogram().GetSampleCount(),
					"sum", m.GetHistogram().GetSampleSum(),
				)
			}
			logger.Debug("engine metric", attrs...)
		}
	}
}
