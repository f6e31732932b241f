package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

const minimalScenario = `
name: minimal
description: "one type, one step"
types:
  - name: Item
    indexes: [code]
    fields:
      - {name: code, type: string}
      - {name: qty, type: int}
      - {name: double, type: int, formula: "qty * 2"}
datasets:
  items: Item
steps:
  - name: add
    batch:
      - {inst: add, dset: items, values: {code: a, qty: 2}}
assertions:
  - type: field_equals
    row: {dset: items, irow: {code: a}}
    field: double
    value: 4
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Types, 1)
	assert.Equal(t, ir.TypeInt, s.Types[0].Fields[1].Type)
	assert.Equal(t, "qty * 2", s.Types[0].Fields[2].Formula)
	assert.Equal(t, map[string]string{"items": "Item"}, s.Datasets)

	require.Len(t, s.Steps, 1)
	require.Len(t, s.Steps[0].Batch, 1)
	assert.Equal(t, engine.OpAdd, s.Steps[0].Batch[0].Op)

	require.Len(t, s.Assertions, 1)
	a := s.Assertions[0]
	assert.Equal(t, AssertFieldEquals, a.Type)
	require.NotNil(t, a.Row)
	assert.Equal(t, engine.ByIndex("items", "code", "a"), *a.Row)
	assert.Equal(t, 4, a.Value)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
	}{
		{"unknown field", "name: x\ndescription: d\ntypes: []\nassertion: []\n", "field assertion not found"},
		{"no name", "description: d\ntypes: [{name: A}]\nassertions: [{type: fixed_point}]\n", "name is required"},
		{"no description", "name: x\ntypes: [{name: A}]\nassertions: [{type: fixed_point}]\n", "description is required"},
		{"no schema", "name: x\ndescription: d\nassertions: [{type: fixed_point}]\n", "schema or types is required"},
		{"both schemas", "name: x\ndescription: d\nschema: dir\ntypes: [{name: A}]\nassertions: [{type: fixed_point}]\n", "mutually exclusive"},
		{"no assertions", "name: x\ndescription: d\ntypes: [{name: A}]\n", "assertions list is required"},
		{"empty batch", "name: x\ndescription: d\ntypes: [{name: A}]\nsteps: [{name: s}]\nassertions: [{type: fixed_point}]\n", "batch is required"},
		{"unknown assertion", "name: x\ndescription: d\ntypes: [{name: A}]\nassertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"field_equals without row", "name: x\ndescription: d\ntypes: [{name: A}]\nassertions: [{type: field_equals, field: f}]\n", "row is required"},
		{"row_count without count", "name: x\ndescription: d\ntypes: [{name: A}]\nassertions: [{type: row_count, dset: as}]\n", "count is required"},
		{"row_valid without valid", "name: x\ndescription: d\ntypes: [{name: A}]\nassertions: [{type: row_valid, row: as}]\n", "valid is required"},
		{"stale and error", "name: x\ndescription: d\ntypes: [{name: A}]\nsteps: [{batch: [{inst: clear, dset: as}], expect_stale: true, expect_error: X}]\nassertions: [{type: fixed_point}]\n", "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadScenario_ResolvesSchemaDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "schema"), 0755))
	path := filepath.Join(dir, "s.yaml")
	doc := "name: x\ndescription: d\nschema: schema\nassertions: [{type: fixed_point}]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "schema"), s.Schema)

	_, err = LoadScenarioWithBasePath(path, t.TempDir())
	assert.ErrorContains(t, err, "schema directory not found")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}
