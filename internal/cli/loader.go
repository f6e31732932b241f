package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue/token"

	"github.com/ilmimris/restate/internal/formula"
	"github.com/ilmimris/restate/internal/schema"
)

// LoadError is a schema directory that could not be turned into a schema.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Loaded is a built schema together with the directory's declarations.
type Loaded struct {
	Source *schema.Source
	Schema *schema.Schema
}

// LoadSchema loads the CUE files of dir and builds the schema they
// declare. Errors are *LoadError.
func LoadSchema(dir string, logger *slog.Logger) (*Loaded, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	src, err := schema.LoadDir(dir)
	if err != nil {
		return nil, convertLoadError(err)
	}
	if len(src.Decls) == 0 {
		return nil, &LoadError{Code: ErrCodeNoTypes, Message: fmt.Sprintf("no types declared in %s", dir)}
	}

	sch, err := src.Build(schema.WithLogger(logger))
	if err != nil {
		return nil, convertBuildError(err)
	}
	return &Loaded{Source: src, Schema: sch}, nil
}

func convertLoadError(err error) *LoadError {
	var de *schema.DeclError
	if errors.As(err, &de) {
		return &LoadError{Code: ErrCodeDeclaration, Message: fmt.Sprintf("%s: %s", de.Field, de.Message), Pos: de.Pos}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

func convertBuildError(err error) *LoadError {
	var ce *formula.CompileError
	if errors.As(err, &ce) {
		return &LoadError{Code: ErrCodeFormula, Message: err.Error()}
	}
	return &LoadError{Code: ErrCodeSchema, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeReadFailed  = "E002" // Input file unreadable or malformed
	ErrCodeNoTypes     = "E003" // Schema declares no types
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeStoreFailed = "E006" // Archive open or write failed

	// Schema errors
	ErrCodeDeclaration = "E101" // Malformed CUE declaration
	ErrCodeSchema      = "E102" // Schema build failed
	ErrCodeFormula     = "E103" // Formula does not compile
)
