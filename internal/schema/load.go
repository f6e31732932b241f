package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/ilmimris/restate/internal/ir"
)

// Source is what a schema directory declares: record types, UI hints and
// the top-level datasets a store starts with.
type Source struct {
	Decls    []ir.TypeDecl
	Hints    ir.UIHints
	Datasets map[string]string // dataset name -> type name
	Files    int
}

// LoadDir loads every CUE file of dir as one instance. Besides the types
// and ui sections read by DeclsFromCUE it accepts
//
//	datasets: {customers: "Customer", invoices: "Invoice"}
func LoadDir(dir string) (*Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	if err := instances[0].Err; err != nil {
		return nil, formatCUEError(err)
	}
	value := cuecontext.New().BuildInstance(instances[0])

	src, err := SourceFromCUE(value)
	if err != nil {
		return nil, err
	}
	src.Files = len(files)
	return src, nil
}

// SourceFromCUE reads a Source from an already built CUE value.
func SourceFromCUE(v cue.Value) (*Source, error) {
	decls, hints, err := DeclsFromCUE(v)
	if err != nil {
		return nil, err
	}
	datasets := map[string]string{}
	dv := v.LookupPath(cue.ParsePath("datasets"))
	if dv.Exists() {
		iter, err := dv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			typeName, err := iter.Value().String()
			if err != nil {
				return nil, &DeclError{Field: "datasets." + iter.Label(), Message: "must be a type name", Pos: iter.Value().Pos()}
			}
			datasets[iter.Label()] = typeName
		}
	}
	return &Source{Decls: decls, Hints: hints, Datasets: datasets}, nil
}

// Build builds the declared schema with the declared hints.
func (src *Source) Build(opts ...Option) (*Schema, error) {
	return Build(src.Decls, append([]Option{WithUIHints(src.Hints)}, opts...)...)
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
