package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/ilmimris/restate/internal/ir"
)

// DeclError is a malformed declaration found while reading CUE.
type DeclError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DeclError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DeclsFromCUE reads type declarations and UI hints from a CUE value of the
// form:
//
//	types: Invoice: {
//		indexes: ["number"]
//		fields: {
//			number: type: "string"
//			total:  {type: "float", formula: "sum(lines.amount)"}
//			lines:  {type: "dataset", dataset: "Line"}
//		}
//	}
//	ui: Invoice: number: {title: "No.", lookup_input: true}
//
// Types and fields keep their CUE declaration order.
func DeclsFromCUE(v cue.Value) ([]ir.TypeDecl, ir.UIHints, error) {
	if err := v.Err(); err != nil {
		return nil, nil, formatCUEError(err)
	}

	var decls []ir.TypeDecl
	typesVal := v.LookupPath(cue.ParsePath("types"))
	if typesVal.Exists() {
		iter, err := typesVal.Fields()
		if err != nil {
			return nil, nil, formatCUEError(err)
		}
		for iter.Next() {
			decl, err := typeFromCUE(iter.Label(), iter.Value())
			if err != nil {
				return nil, nil, err
			}
			decls = append(decls, decl)
		}
	}

	hints, err := hintsFromCUE(v.LookupPath(cue.ParsePath("ui")))
	if err != nil {
		return nil, nil, err
	}
	return decls, hints, nil
}

func typeFromCUE(name string, v cue.Value) (ir.TypeDecl, error) {
	decl := ir.TypeDecl{Name: name}
	var err error

	if decl.Extend, err = optString(v, "extend"); err != nil {
		return decl, err
	}
	if decl.DefaultIndex, err = optString(v, "default_index"); err != nil {
		return decl, err
	}
	if decl.ParentField, err = optString(v, "parent_field"); err != nil {
		return decl, err
	}
	if decl.Indexes, err = optStringList(v, "indexes"); err != nil {
		return decl, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return decl, nil
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return decl, formatCUEError(err)
	}
	for iter.Next() {
		fd, err := fieldFromCUE(iter.Label(), iter.Value())
		if err != nil {
			return decl, err
		}
		decl.Fields = append(decl.Fields, fd)
	}
	return decl, nil
}

func fieldFromCUE(name string, v cue.Value) (ir.FieldDecl, error) {
	fd := ir.FieldDecl{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return fd, &DeclError{Field: "type", Message: fmt.Sprintf("field %q has no type", name), Pos: v.Pos()}
	}
	typeStr, err := typeVal.String()
	if err != nil {
		return fd, formatCUEError(err)
	}
	ft, err := ir.ParseFieldType(typeStr)
	if err != nil {
		return fd, &DeclError{Field: "type", Message: err.Error(), Pos: typeVal.Pos()}
	}
	fd.Type = ft

	strs := []struct {
		path string
		dst  *string
	}{
		{"title", &fd.Title},
		{"formula", &fd.Formula},
		{"dataset", &fd.Dataset},
		{"link_lookup_field", &fd.LinkLookupField},
		{"link_src_name", &fd.LinkSrcName},
		{"link_index_name", &fd.LinkIndexName},
	}
	for _, s := range strs {
		if *s.dst, err = optString(v, s.path); err != nil {
			return fd, err
		}
	}
	if fd.Required, err = optBool(v, "required"); err != nil {
		return fd, err
	}
	return fd, nil
}

func hintsFromCUE(v cue.Value) (ir.UIHints, error) {
	if !v.Exists() {
		return nil, nil
	}
	hints := ir.UIHints{}
	types, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for types.Next() {
		fields, err := types.Value().Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		byField := map[string]ir.FieldHint{}
		for fields.Next() {
			var h ir.FieldHint
			if h.Title, err = optString(fields.Value(), "title"); err != nil {
				return nil, err
			}
			if h.LookupInput, err = optBool(fields.Value(), "lookup_input"); err != nil {
				return nil, err
			}
			byField[fields.Label()] = h
		}
		hints[types.Label()] = byField
	}
	return hints, nil
}

func optString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optBool(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optStringList(v cue.Value, path string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return nil, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// formatCUEError keeps the first CUE error with its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	de := &DeclError{Field: "cue", Message: err.Error()}
	if errs := errors.Errors(err); len(errs) > 0 {
		de.Message = errs[0].Error()
		if positions := errors.Positions(errs[0]); len(positions) > 0 {
			de.Pos = positions[0]
		}
	}
	return de
}
