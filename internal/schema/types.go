package schema

import (
	"strings"

	"github.com/ilmimris/restate/internal/formula"
	"github.com/ilmimris/restate/internal/ir"
)

// System fields present on every type.
const (
	FieldRowIndex = "__rowIndex"
	FieldRowNo    = "__rowNo"

	// CheckPrefix prefixes lookup-check shadow fields.
	CheckPrefix = "__chk_"
)

// Field is a fully resolved field of a Type. Inherited fields are cloned per
// type, so a Field always belongs to exactly one Type.
type Field struct {
	Name    string
	Type    ir.FieldType
	Title   string
	Formula string
	Program *formula.Program

	Owner *Type
	// TargetName is the declared element type of link and dataset fields.
	TargetName string
	Target     *Type

	System  bool
	Indexed bool
	// CheckFor names the base field of a lookup-check shadow field.
	CheckFor string

	Required  bool
	Validator ir.FieldValidator

	LinkLookupField string
	LinkSrcName     string
	LinkIndexName   string

	// Targets are the own and link edges whose Source is this field.
	Targets []*FVar
	// ContextTargets are the child edges whose Source is this field, keyed
	// by ContextKey.
	ContextTargets map[string][]*FVar
	// Sources are the edges this formula field reads through.
	Sources []*FVar
}

// IsElementary reports whether the field holds a scalar value.
func (f *Field) IsElementary() bool { return f.Type.IsElementary() }

// IsFormula reports whether the field is computed.
func (f *Field) IsFormula() bool { return f.Program != nil }

// IsLink reports whether the field is a link.
func (f *Field) IsLink() bool { return f.Type == ir.TypeLink }

// IsDataset reports whether the field owns a child dataset.
func (f *Field) IsDataset() bool { return f.Type == ir.TypeDataset }

// HasDependants reports whether changing the field can trigger a
// recalculation.
func (f *Field) HasDependants() bool {
	return len(f.Targets) > 0 || len(f.ContextTargets) > 0
}

// DisplayName is the title, or the name when no title was declared.
func (f *Field) DisplayName() string {
	if f.Title != "" {
		return f.Title
	}
	return f.Name
}

// Validate checks one value against the required flag and the declared
// validator.
func (f *Field) Validate(v ir.Value) (bool, string) {
	if f.Required && isEmpty(v) {
		return false, f.DisplayName() + " is required"
	}
	if f.Validator != nil {
		return f.Validator(v)
	}
	return true, ""
}

func isEmpty(v ir.Value) bool {
	if ir.IsNull(v) {
		return true
	}
	s, ok := v.(ir.String)
	return ok && strings.TrimSpace(string(s)) == ""
}

func (f *Field) clone(owner *Type) *Field {
	return &Field{
		Name:            f.Name,
		Type:            f.Type,
		Title:           f.Title,
		Formula:         f.Formula,
		Owner:           owner,
		TargetName:      f.TargetName,
		System:          f.System,
		CheckFor:        f.CheckFor,
		Required:        f.Required,
		Validator:       f.Validator,
		LinkLookupField: f.LinkLookupField,
		LinkSrcName:     f.LinkSrcName,
		LinkIndexName:   f.LinkIndexName,
	}
}

// Type is a fully resolved record type.
type Type struct {
	Name   string
	Parent *Type

	fields []*Field
	byName map[string]*Field

	// Indexes lists the indexed elementary fields, inherited ones first.
	Indexes      []string
	DefaultIndex string
	// ParentField is the link field automatically pointed at the owning row
	// when a row of this type lives in a child dataset.
	ParentField  *Field
	RowValidator ir.RowValidator

	formulaOrder []*Field
	children     []*Type
}

// Field returns the named field, or nil.
func (t *Type) Field(name string) *Field {
	return t.byName[name]
}

// Fields returns every field in declaration order, system fields first.
func (t *Type) Fields() []*Field {
	return t.fields
}

// FormulaOrder returns the formula fields ordered so that a formula comes
// after the own fields it reads. When own formulas form a cycle the
// remaining fields keep declaration order.
func (t *Type) FormulaOrder() []*Field {
	return t.formulaOrder
}

// IsOfType reports whether t is name or extends it.
func (t *Type) IsOfType(name string) bool {
	for cur := t; cur != nil; cur = cur.Parent {
		if cur.Name == name {
			return true
		}
	}
	return false
}

// IsIndexed reports whether the named field carries an index.
func (t *Type) IsIndexed(name string) bool {
	f := t.byName[name]
	return f != nil && f.Indexed
}

// Descendants returns every type extending t, transitively.
func (t *Type) Descendants() []*Type {
	var out []*Type
	for _, c := range t.children {
		out = append(out, c)
		out = append(out, c.Descendants()...)
	}
	return out
}

func (t *Type) addField(f *Field) {
	if existing, ok := t.byName[f.Name]; ok {
		for i, cur := range t.fields {
			if cur == existing {
				t.fields[i] = f
			}
		}
	} else {
		t.fields = append(t.fields, f)
	}
	t.byName[f.Name] = f
}

// Schema is the immutable metadata model shared by every dataset of a store.
type Schema struct {
	types    map[string]*Type
	order    []*Type
	warnings []CycleWarning
}

// Type returns the named type, or nil.
func (s *Schema) Type(name string) *Type {
	return s.types[name]
}

// Types returns every type in declaration order.
func (s *Schema) Types() []*Type {
	return s.order
}

// Warnings returns the cycle warnings found while building.
func (s *Schema) Warnings() []CycleWarning {
	return s.warnings
}
