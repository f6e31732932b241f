package formula

import (
	"errors"
	"fmt"
	"strings"
)

// Issue codes (F001-F099)
const (
	ErrSyntax             = "F001" // text does not parse
	ErrUnsupported        = "F002" // construct outside the formula grammar
	ErrUnknownField       = "F003" // identifier is not an elementary field
	ErrUnknownAttribute   = "F004" // <link>.<field> does not resolve
	ErrInvalidAggregate   = "F005" // aggregate over unknown dataset/field or wrong field type
	ErrUnknownFunction    = "F006" // call to a function outside the whitelist
	ErrArity              = "F007" // wrong number of call arguments
	ErrBooleanPlacement   = "F008" // boolean expression outside a conditional test
	ErrConditionalNoTest  = "F009" // conditional test is not a boolean expression
	ErrUnsupportedLiteral = "F010" // boolean, null, bytes or unsigned literal
)

// Issue is one problem found in a formula. Line and Column are 1-based.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
}

func (i Issue) String() string {
	if i.Line <= 0 {
		return fmt.Sprintf("[%s] %s", i.Code, i.Message)
	}
	return fmt.Sprintf("[%s] %d:%d: %s", i.Code, i.Line, i.Column, i.Message)
}

// CompileError carries every issue found while compiling one formula.
// Error() surfaces the first issue; Issues holds all of them.
type CompileError struct {
	Formula string
	Issues  []Issue
}

func (e *CompileError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid formula %q", e.Formula)
	}
	msg := e.Issues[0].String()
	if extra := len(e.Issues) - 1; extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}
	return msg
}

// Detail lists every issue on its own line, followed by the formula text.
func (e *CompileError) Detail() string {
	var b strings.Builder
	for _, issue := range e.Issues {
		b.WriteString(issue.String())
		b.WriteByte('\n')
	}
	b.WriteString("formula: ")
	b.WriteString(e.Formula)
	return b.String()
}

// IsCompileError reports whether err is or wraps a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
