package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

// Scenario defines a conformance test scenario: a schema, initial data, a
// sequence of update batches and assertions on the final store.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE directory (see schema.LoadDir). Mutually exclusive
	// with Types.
	Schema string `yaml:"schema,omitempty"`

	// Types and UI declare the schema inline.
	Types []ir.TypeDecl `yaml:"types,omitempty"`
	UI    ir.UIHints    `yaml:"ui,omitempty"`

	// Datasets adds top-level datasets (name -> type).
	Datasets map[string]string `yaml:"datasets,omitempty"`

	// Data is loaded before the first step.
	Data *DataSpec `yaml:"data,omitempty"`

	// MaxIterations and MaxRows override the engine bounds when non-zero.
	MaxIterations int `yaml:"max_iterations,omitempty"`
	MaxRows       int `yaml:"max_rows,omitempty"`

	Steps      []Step      `yaml:"steps,omitempty"`
	Assertions []Assertion `yaml:"assertions"`
}

// DataSpec is the initial content of the store.
type DataSpec struct {
	Std        engine.StdPayload   `yaml:"std,omitempty"`
	Fmap       *engine.FmapPayload `yaml:"fmap,omitempty"`
	Mapping    engine.DataMapping  `yaml:"mapping,omitempty"`
	MarkLoaded bool                `yaml:"mark_loaded,omitempty"`
}

// Step is one Update call.
type Step struct {
	Name  string               `yaml:"name,omitempty"`
	Batch []engine.Instruction `yaml:"batch"`

	// Version submits the batch under the optimistic guard.
	Version      *int64 `yaml:"version,omitempty"`
	DeferFormula bool   `yaml:"defer_formula,omitempty"`

	// ExpectError is the engine error code the call must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
	// ExpectStale requires the call to be rejected as stale.
	ExpectStale bool `yaml:"expect_stale,omitempty"`
}

// Assertion validates the final store.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Row locates the row (field_equals, link_absent, row_valid).
	Row *engine.RowPath `yaml:"row,omitempty"`

	// Field names the field (field_equals, link_absent).
	Field string `yaml:"field,omitempty"`

	// Value is the expected field value (field_equals). YAML null
	// expects an empty field.
	Value any `yaml:"value,omitempty"`

	// Dset is a dataset path (row_count).
	Dset string `yaml:"dset,omitempty"`

	// Count is the expected row count (row_count).
	Count *int `yaml:"count,omitempty"`

	// Valid is the expected row validity (row_valid).
	Valid *bool `yaml:"valid,omitempty"`
}

// Assertion type constants.
const (
	AssertFieldEquals     = "field_equals"
	AssertRowCount        = "row_count"
	AssertLinkAbsent      = "link_absent"
	AssertFixedPoint      = "fixed_point"
	AssertIndexConsistent = "index_consistent"
	AssertRowValid        = "row_valid"
)

// LoadScenario reads and parses a scenario YAML file. A relative schema
// path is resolved against the scenario file's directory.
//
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the schema path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && basePath != "" {
		scenario.Schema = filepath.Join(basePath, scenario.Schema)
	}
	if scenario.Schema != "" {
		if _, err := os.Stat(scenario.Schema); err != nil {
			return nil, fmt.Errorf("invalid scenario: schema directory not found: %s", scenario.Schema)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Schema == "" && len(s.Types) == 0:
		return fmt.Errorf("schema or types is required")
	case s.Schema != "" && len(s.Types) > 0:
		return fmt.Errorf("schema and types are mutually exclusive")
	}

	if s.Data != nil && s.Data.Std != nil && s.Data.Fmap != nil {
		return fmt.Errorf("data: std and fmap are mutually exclusive")
	}
	if s.MaxIterations < 0 || s.MaxRows < 0 {
		return fmt.Errorf("max_iterations and max_rows must be non-negative")
	}

	for i, step := range s.Steps {
		if len(step.Batch) == 0 {
			return fmt.Errorf("steps[%d]: batch is required and must be non-empty", i)
		}
		if step.ExpectError != "" && step.ExpectStale {
			return fmt.Errorf("steps[%d]: expect_error and expect_stale are mutually exclusive", i)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFieldEquals, AssertLinkAbsent:
		if a.Row == nil {
			return fmt.Errorf("assertions[%d]: row is required for %s", index, a.Type)
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for %s", index, a.Type)
		}
	case AssertRowCount:
		if a.Dset == "" {
			return fmt.Errorf("assertions[%d]: dset is required for row_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for row_count", index)
		}
	case AssertRowValid:
		if a.Row == nil {
			return fmt.Errorf("assertions[%d]: row is required for row_valid", index)
		}
		if a.Valid == nil {
			return fmt.Errorf("assertions[%d]: valid is required for row_valid", index)
		}
	case AssertFixedPoint, AssertIndexConsistent:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
