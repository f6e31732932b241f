package engine

import (
	"errors"
	"fmt"
)

// Error is a fatal problem raised by a DataStore call.
//
// Validation failures are never reported this way; they are recorded on
// the row (see Row.FieldState and Row.RowState).
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Dataset and Field locate the failure when known.
	Dataset string
	Field   string

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeIterationLimit: recalculation did not converge within the
	// configured number of passes. Usually a formula cycle.
	ErrCodeIterationLimit ErrorCode = "ITERATION_LIMIT"

	// ErrCodeRowLimit: one recalculation pass touched more rows than allowed.
	ErrCodeRowLimit ErrorCode = "ROW_LIMIT"

	// ErrCodeInvalidInstruction: an instruction is malformed or carries a
	// value that cannot be stored.
	ErrCodeInvalidInstruction ErrorCode = "INVALID_INSTRUCTION"

	// ErrCodeFormulaProtected: a set instruction targeted a formula field.
	ErrCodeFormulaProtected ErrorCode = "FORMULA_PROTECTED"

	// ErrCodeUnknownDataset: a dataset or type name does not resolve.
	ErrCodeUnknownDataset ErrorCode = "UNKNOWN_DATASET"

	// ErrCodeLoadFailed: a serialized payload could not be loaded.
	ErrCodeLoadFailed ErrorCode = "LOAD_FAILED"
)

func (e *Error) Error() string {
	switch {
	case e.Dataset != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (dataset=%s, field=%s)", e.Code, e.Message, e.Dataset, e.Field)
	case e.Dataset != "":
		return fmt.Sprintf("%s: %s (dataset=%s)", e.Code, e.Message, e.Dataset)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// CodeOf returns the code of an engine error, or "" for any other error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsIterationLimit reports whether err is an iteration limit trip.
func IsIterationLimit(err error) bool { return CodeOf(err) == ErrCodeIterationLimit }

// IsRowLimit reports whether err is a row limit trip.
func IsRowLimit(err error) bool { return CodeOf(err) == ErrCodeRowLimit }

// IsFormulaProtected reports whether err rejected a write to a formula field.
func IsFormulaProtected(err error) bool { return CodeOf(err) == ErrCodeFormulaProtected }

func invalidInstruction(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidInstruction, Message: fmt.Sprintf(format, args...)}
}

func loadFailed(dataset, format string, args ...any) *Error {
	return &Error{Code: ErrCodeLoadFailed, Dataset: dataset, Message: fmt.Sprintf(format, args...)}
}
