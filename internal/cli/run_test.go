package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.json", billingData)
	batch := writeFile(t, dir, "batch.json", `[
  {"inst": "set", "row": {"dset": "customers", "irow": {"name": "acme"}}, "values": {"discount": 0.5}}
]`)

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), billingSchema, "--data", data, "--batch", batch)
	require.NoError(t, err)

	var payload map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Len(t, payload["invoices:Invoice"], 1)
	inv := payload["invoices:Invoice"][0]
	assert.Equal(t, 12.0, inv["total"])
	assert.Equal(t, 6.0, inv["net"])
	assert.Equal(t, "U", inv["__loadFlag"])
	assert.Equal(t, "U", payload["customers:Customer"][0]["__loadFlag"])
}

func TestRun_OnlyChanges(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.json", billingData)
	batch := writeFile(t, dir, "batch.yaml", `
- inst: add
  dset: customers
  values: {name: globex}
`)

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "json"}), billingSchema,
		"--data", data, "--batch", batch, "--all=false")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Applied)
	assert.Empty(t, resp.Data.Data["invoices:Invoice"])
	require.Len(t, resp.Data.Data["customers:Customer"], 1)
	assert.Equal(t, "globex", resp.Data.Data["customers:Customer"][0]["name"])
}

func TestRun_Fmap(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "rows.json", `{
  "arrFieldMap": {"Customer": ["name", "discount"]},
  "data": {"customers:Customer": [["acme", 0.1], ["globex", 0.2]]}
}`)

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), billingSchema, "--data", data, "--data-format", "fmap")
	require.NoError(t, err)

	var payload map[string][]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Len(t, payload["customers:Customer"], 2)
}

func TestRun_StaleVersion(t *testing.T) {
	dir := t.TempDir()
	batch := writeFile(t, dir, "batch.json", `[{"inst": "add", "dset": "customers", "values": {"name": "x"}}]`)

	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), billingSchema, "--batch", batch, "--at-version", "3")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "batch rejected")
}

func TestRun_UpdateError(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.json", billingData)
	batch := writeFile(t, dir, "batch.json", `[{"inst": "set", "row": "invoices", "values": {"total": 1}}]`)

	_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), billingSchema, "--data", data, "--batch", batch)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "FORMULA_PROTECTED")
}

func TestRun_InputErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", billingData)
	badBatch := writeFile(t, dir, "bad.json", `[{"inst": "set", "rows": "invoices"}]`)

	tests := []struct {
		name    string
		args    []string
		message string
	}{
		{"missing schema", []string{"/nonexistent/schema"}, "schema directory not found"},
		{"missing data", []string{billingSchema, "--data", dir + "/nope.json"}, "failed to read data"},
		{"unknown batch field", []string{billingSchema, "--data", good, "--batch", badBatch}, "failed to read batch"},
		{"bad data format", []string{billingSchema, "--data", good, "--data-format", "csv"}, "invalid data format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestRunHelpText(t *testing.T) {
	out, err := execute(t, NewRunCommand(&RootOptions{Format: "text"}), "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--data-format")
	assert.Contains(t, out, "--batch")
}

func TestRun_UpdateErrorJSON(t *testing.T) {
	dir := t.TempDir()
	data := writeFile(t, dir, "data.json", billingData)
	batch := writeFile(t, dir, "batch.json", `[{"inst": "set", "row": "invoices", "values": {"total": 1}}]`)

	out, err := execute(t, NewRunCommand(&RootOptions{Format: "json"}), billingSchema, "--data", data, "--batch", batch)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORMULA_PROTECTED", resp.Error.Code)
	assert.Equal(t, "invoices", resp.Error.Dataset)
	assert.Equal(t, "total", resp.Error.Field)
}
