package harness

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
	"github.com/ilmimris/restate/internal/testutil"
)

// Harness executes one scenario against a fresh DataStore.
type Harness struct {
	store  *engine.DataStore
	logger *slog.Logger

	// last holds the stats of the most recent Update call.
	last engine.UpdateStats
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh store with sequential row ids and a
// discard logger. The returned error reports a scenario that could not be
// set up (schema, datasets, data); step and assertion failures are
// recorded on the result instead.
//
// Execution flow:
// 1. Build the schema from the CUE directory or the inline types
// 2. Add the declared datasets and load the initial data
// 3. Execute the steps, checking expected errors
// 4. Evaluate assertions and unload the final store
func Run(scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	src, err := scenarioSource(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	sch, err := src.Build(schema.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	h := &Harness{logger: logger}
	opts := []engine.Option{
		engine.WithIDGenerator(testutil.NewSequentialIDs("")),
		engine.WithLogger(logger),
		engine.WithObserver(engine.ObserverFunc(func(st engine.UpdateStats) { h.last = st })),
	}
	if scenario.MaxIterations > 0 {
		opts = append(opts, engine.WithMaxIterations(scenario.MaxIterations))
	}
	if scenario.MaxRows > 0 {
		opts = append(opts, engine.WithMaxRows(scenario.MaxRows))
	}
	h.store = engine.New(sch, opts...)

	datasets := make(map[string]string, len(src.Datasets)+len(scenario.Datasets))
	for name, typ := range src.Datasets {
		datasets[name] = typ
	}
	for name, typ := range scenario.Datasets {
		datasets[name] = typ
	}
	for _, name := range ir.SortedKeys(datasets) {
		if _, err := h.store.AddDataset(name, datasets[name]); err != nil {
			return nil, fmt.Errorf("failed to add dataset: %w", err)
		}
	}

	if err := h.load(scenario.Data); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(i, step, result)
	}

	for _, errMsg := range EvaluateAssertions(h.store, scenario.Assertions) {
		result.AddError(errMsg)
	}

	data, err := h.store.Unload(engine.UnloadOptions{IncludeLoaded: true})
	if err != nil {
		return nil, fmt.Errorf("failed to unload: %w", err)
	}
	result.Data = data
	result.Store = h.store
	return result, nil
}

func scenarioSource(scenario *Scenario) (*schema.Source, error) {
	if scenario.Schema != "" {
		return schema.LoadDir(scenario.Schema)
	}
	return &schema.Source{Decls: scenario.Types, Hints: scenario.UI}, nil
}

func (h *Harness) load(data *DataSpec) error {
	if data == nil {
		return nil
	}
	opts := engine.LoadOptions{Mapping: data.Mapping, MarkLoaded: data.MarkLoaded}
	switch {
	case data.Fmap != nil:
		return h.store.LoadFmap(*data.Fmap, opts)
	case data.Std != nil:
		return h.store.Load(data.Std, opts)
	}
	return nil
}

// executeStep runs one Update call and checks it against the step's
// expectations.
func (h *Harness) executeStep(i int, step Step, result *Result) {
	var opts []engine.CallOption
	if step.Version != nil {
		opts = append(opts, engine.AtVersion(*step.Version))
	}
	if step.DeferFormula {
		opts = append(opts, engine.DeferFormula())
	}

	h.last = engine.UpdateStats{}
	applied, err := h.store.Update(step.Batch, opts...)

	outcome := StepOutcome{
		Step:    i,
		Name:    step.Name,
		Applied: applied,
		Passes:  h.last.Passes,
		Rows:    h.last.Rows,
		Version: h.store.Version(),
	}
	if err != nil {
		outcome.Error = string(engine.CodeOf(err))
	}
	result.Steps = append(result.Steps, outcome)

	label := fmt.Sprintf("step %d", i)
	if step.Name != "" {
		label = fmt.Sprintf("step %d (%s)", i, step.Name)
	}
	switch {
	case step.ExpectStale && applied:
		result.AddError(fmt.Sprintf("%s: expected a stale rejection, batch was applied", label))
	case !step.ExpectStale && !applied:
		result.AddError(fmt.Sprintf("%s: batch rejected as stale", label))
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("%s: expected error %s, got none", label, step.ExpectError))
	case step.ExpectError != "" && outcome.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("%s: expected error %s, got %v", label, step.ExpectError, err))
	}

	h.logger.Info("step completed",
		"step", i,
		"name", step.Name,
		"applied", applied,
		"passes", outcome.Passes,
		"error", outcome.Error,
	)
}
