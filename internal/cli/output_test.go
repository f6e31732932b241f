package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/engine"
)

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"version": 3}))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"version": float64(3)}, resp.Data)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("schema ok"))
	assert.Equal(t, "schema ok\n", buf.String())
}

func TestReportOf(t *testing.T) {
	protected := &engine.Error{
		Code:    engine.ErrCodeFormulaProtected,
		Dataset: "invoices",
		Field:   "total",
		Message: "formula fields are computed and cannot be set",
	}
	limit := &engine.Error{
		Code:    engine.ErrCodeIterationLimit,
		Message: "did not settle",
		Details: map[string]string{"passes": "21"},
	}

	tests := []struct {
		name string
		err  error
		want *CLIError
	}{
		{"nil", nil, nil},
		{
			"engine error",
			protected,
			&CLIError{Code: "FORMULA_PROTECTED", Message: protected.Message, Dataset: "invoices", Field: "total"},
		},
		{
			"wrapped engine error keeps details",
			WrapExitError(ExitFailure, "update failed", fmt.Errorf("batch: %w", limit)),
			&CLIError{Code: "ITERATION_LIMIT", Message: "did not settle", Details: map[string]string{"passes": "21"}},
		},
		{
			"load error",
			&LoadError{Code: ErrCodeNoTypes, Message: "no types declared in x"},
			&CLIError{Code: ErrCodeNoTypes, Message: "no types declared in x"},
		},
		{
			"other error",
			errors.New("boom"),
			&CLIError{Code: ErrCodeGeneric, Message: "boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReportOf(tt.err))
		})
	}
}

func TestOutputFormatter_JSONReport(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Report(&CLIError{
		Code:    "FORMULA_PROTECTED",
		Message: "formula fields are computed and cannot be set",
		Dataset: "invoices",
		Field:   "total",
	}))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "FORMULA_PROTECTED", resp.Error.Code)
	assert.Equal(t, "invoices", resp.Error.Dataset)
	assert.Equal(t, "total", resp.Error.Field)
	assert.Empty(t, resp.Error.Details)
}

func TestOutputFormatter_TextReport(t *testing.T) {
	report := &CLIError{
		Code:    "ROW_LIMIT",
		Message: "too many rows",
		Dataset: "invoices",
		Field:   "total",
		Details: map[string]string{"rows": "1001", "max_rows": "1000"},
	}

	t.Run("quiet", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, formatter.Report(report))
		assert.Equal(t, "Error [ROW_LIMIT]: too many rows (dataset invoices, field total)\n", buf.String())
	})

	t.Run("verbose lists details in key order", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
		require.NoError(t, formatter.Report(report))
		assert.Equal(t,
			"Error [ROW_LIMIT]: too many rows (dataset invoices, field total)\n"+
				"  max_rows: 1000\n"+
				"  rows: 1001\n",
			buf.String())
	})

	t.Run("no location", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, formatter.Report(&CLIError{Code: ErrCodeSchema, Message: "schema build failed"}))
		assert.Equal(t, "Error [E102]: schema build failed\n", buf.String())
	})
}

func TestOutputFormatter_Fail(t *testing.T) {
	cause := &engine.Error{Code: engine.ErrCodeUnknownDataset, Dataset: "orders", Message: "unknown dataset"}

	t.Run("json writes the report", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: buf}
		err := formatter.Fail(ExitFailure, "update failed", cause)

		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.ErrorIs(t, err, cause)
		resp := decodeResponse(t, buf)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "UNKNOWN_DATASET", resp.Error.Code)
		assert.Equal(t, "orders", resp.Error.Dataset)
	})

	t.Run("text leaves output alone", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		err := formatter.Fail(ExitCommandError, "update failed", cause)

		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Empty(t, buf.String())
	})
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, diag := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: diag,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Loaded %d CUE file(s)", 2)

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Equal(t, "Loaded 2 CUE file(s)\n", diag.String())
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open archive", cause)

	assert.Equal(t, "failed to open archive: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", err)))

	plain := NewExitError(ExitFailure, "1 scenario(s) failed")
	assert.Equal(t, "1 scenario(s) failed", plain.Error())
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
}
