package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/ilmimris/restate/internal/ir"
)

// Snapshot is what a golden file records for a scenario: each step's
// outcome and the final unload. Pass and row counts are left out so that
// golden files pin behavior, not effort.
type Snapshot struct {
	ScenarioName string
	Steps        []StepOutcome
	Data         map[string][]map[string]any
}

// toCanonicalMap converts a Snapshot to plain maps for canonical JSON.
func (s *Snapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		m := map[string]any{
			"step":    st.Step,
			"applied": st.Applied,
			"version": st.Version,
		}
		if st.Name != "" {
			m["name"] = st.Name
		}
		if st.Error != "" {
			m["error"] = st.Error
		}
		steps[i] = m
	}
	return map[string]any{
		"scenario": s.ScenarioName,
		"steps":    steps,
		"data":     s.Data,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snap := Snapshot{
		ScenarioName: scenarioName,
		Steps:        result.Steps,
		Data:         result.Data,
	}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
