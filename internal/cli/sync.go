package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/metrics"
	"github.com/ilmimris/restate/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	RunOptions
	Database string
}

// SyncOutput is the JSON payload of the sync command.
type SyncOutput struct {
	SnapshotDigest string   `json:"snapshot_digest"`
	Upserted       int      `json:"upserted"`
	Deleted        int      `json:"deleted"`
	Unchanged      int      `json:"unchanged"`
	Skipped        []string `json:"skipped,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RunOptions: RunOptions{
		RootOptions:   rootOpts,
		MaxIterations: engine.DefaultMaxIterations,
		MaxRows:       engine.DefaultMaxRows,
	}}

	cmd := &cobra.Command{
		Use:   "sync <schema-dir>",
		Short: "Apply a batch and write the changes to an archive",
		Long: `Load a baseline, apply one batch of instructions and write the rows it
created, changed or deleted to a SQLite archive.

The baseline is the --data payload when given, otherwise the archive's
own content. Records are keyed by the default index of their type;
datasets whose type has no index are skipped.

Example:
  restate sync ./schema --db ./archive.db --data data.json --batch batch.json
  restate sync ./schema --db ./archive.db --batch batch.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite archive (required)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "baseline payload (default: archive content)")
	cmd.Flags().StringVar(&opts.DataFormat, "data-format", DataFormatStd, "payload format (std|fmap)")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "instruction list to apply")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSync(opts *SyncOptions, dir string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	loaded, err := LoadSchema(dir, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	batch, err := readBatch(opts.Batch)
	if err != nil {
		return err
	}

	logger.Info("opening archive", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to open archive", ErrCodeStoreFailed), err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing archive", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	s, err := newStore(loaded, logger, metrics.NewCollector(reg), &opts.RunOptions)
	if err != nil {
		return err
	}
	if err := loadBaseline(ctx, s, st, opts); err != nil {
		return err
	}

	if len(batch) > 0 {
		if _, err := s.Update(batch); err != nil {
			return formatter.Fail(ExitFailure, fmt.Sprintf("%s: update failed", engine.CodeOf(err)), err)
		}
	}
	logMetrics(logger, reg)

	payload, err := s.Unload(engine.UnloadOptions{IncludeDeleted: true, FullChildren: true})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to unload", err)
	}
	keys, skipped := archiveKeys(s, payload, logger)

	res, err := st.Apply(ctx, payload, keys)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("%s: failed to write archive", ErrCodeStoreFailed), err)
	}
	logger.Info("archive synced",
		"snapshot", res.SnapshotDigest,
		"upserted", res.Upserted,
		"deleted", res.Deleted,
		"unchanged", res.Unchanged,
	)

	out := SyncOutput{
		SnapshotDigest: res.SnapshotDigest,
		Upserted:       res.Upserted,
		Deleted:        res.Deleted,
		Unchanged:      res.Unchanged,
		Skipped:        skipped,
	}
	if formatter.Format == "json" {
		return formatter.Success(out)
	}
	fmt.Fprintf(formatter.Writer, "synced %s: %d upserted, %d deleted, %d unchanged\n",
		out.SnapshotDigest, out.Upserted, out.Deleted, out.Unchanged)
	for _, key := range skipped {
		fmt.Fprintf(formatter.Writer, "skipped %s: type has no index\n", key)
	}
	return nil
}

// loadBaseline loads the rows the batch is diffed against, flagged
// Loaded so that only changes are exported.
func loadBaseline(ctx context.Context, s *engine.DataStore, st *store.Store, opts *SyncOptions) error {
	loadOpts := engine.LoadOptions{MarkLoaded: true}
	if opts.Data != "" {
		return loadDataFile(s, opts.Data, opts.DataFormat, loadOpts)
	}
	payload, err := st.Payload(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("%s: failed to read archive", ErrCodeStoreFailed), err)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := s.Load(payload, loadOpts); err != nil {
		return WrapExitError(ExitFailure, "failed to load archive content", err)
	}
	return nil
}

// archiveKeys maps each payload key to the default index of its dataset's
// type. Keys without one are dropped from payload and returned.
func archiveKeys(s *engine.DataStore, payload engine.StdPayload, logger *slog.Logger) (map[string]string, []string) {
	keys := make(map[string]string, len(payload))
	var skipped []string
	for _, ds := range s.Datasets() {
		key := ds.Name() + ":" + ds.Type().Name
		if _, ok := payload[key]; !ok {
			continue
		}
		if idx := ds.Type().DefaultIndex; idx != "" {
			keys[key] = idx
			continue
		}
		logger.Warn("dataset not archived", "dataset", ds.Name(), "type", ds.Type().Name, "reason", "no index")
		delete(payload, key)
		skipped = append(skipped, key)
	}
	return keys, skipped
}
