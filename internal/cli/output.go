package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

// Process exit statuses.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // invalid schema, failed scenario, rejected or failed batch
	ExitCommandError = 2 // bad path or unreadable input
)

// ExitError ends a command with a process exit status.
type ExitError struct {
	Status  int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(status int, message string) *ExitError {
	return &ExitError{Status: status, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(status int, message string, err error) *ExitError {
	return &ExitError{Status: status, Message: message, Err: err}
}

// GetExitCode returns the exit status carried by err, ExitFailure when err
// is not an ExitError and ExitSuccess for nil.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Status
	}
	return ExitFailure
}

// CLIResponse is the envelope of every JSON answer.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failure. Code is a CLI code such as "E101" or an
// engine code such as "ITERATION_LIMIT"; Dataset and Field locate engine
// errors.
type CLIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Dataset string            `json:"dataset,omitempty"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ReportOf builds the CLIError for err. Engine and schema load errors keep
// their codes and locations; anything else is reported as ErrCodeGeneric.
func ReportOf(err error) *CLIError {
	if err == nil {
		return nil
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		return &CLIError{
			Code:    string(engine.CodeOf(err)),
			Message: ee.Message,
			Dataset: ee.Dataset,
			Field:   ee.Field,
			Details: ee.Details,
		}
	}
	var le *LoadError
	if errors.As(err, &le) {
		r := &CLIError{Code: le.Code, Message: le.Message}
		if le.Pos.IsValid() {
			r.Details = map[string]string{
				"file":   le.Pos.Filename(),
				"line":   strconv.Itoa(le.Pos.Line()),
				"column": strconv.Itoa(le.Pos.Column()),
			}
		}
		return r
	}
	return &CLIError{Code: ErrCodeGeneric, Message: err.Error()}
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer when nil
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

// Success writes data.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Report writes r. Text output is one "Error [code]" line, then the details
// when verbose.
func (f *OutputFormatter) Report(r *CLIError) error {
	if f.isJSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: r})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s", r.Code, r.Message)
	if r.Dataset != "" {
		fmt.Fprintf(f.Writer, " (dataset %s", r.Dataset)
		if r.Field != "" {
			fmt.Fprintf(f.Writer, ", field %s", r.Field)
		}
		fmt.Fprint(f.Writer, ")")
	}
	fmt.Fprintln(f.Writer)
	if f.Verbose {
		for _, k := range ir.SortedKeys(r.Details) {
			fmt.Fprintf(f.Writer, "  %s: %s\n", k, r.Details[k])
		}
	}
	return nil
}

// Fail wraps err with an exit status. In JSON mode the report is written
// first, so stdout always carries a response; text callers leave printing
// to main.
func (f *OutputFormatter) Fail(status int, message string, err error) error {
	if f.isJSON() {
		_ = f.Report(ReportOf(err))
	}
	return WrapExitError(status, message, err)
}

// VerboseLog writes a diagnostic line when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
