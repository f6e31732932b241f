package schema

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ilmimris/restate/internal/formula"
	"github.com/ilmimris/restate/internal/ir"
)

// BuildError reports a fatal problem in the type declarations.
type BuildError struct {
	Type    string
	Field   string
	Formula string
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	if e.Type != "" {
		b.WriteString("type ")
		b.WriteString(e.Type)
		if e.Field != "" {
			b.WriteString(" field ")
			b.WriteString(e.Field)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Formula != "" {
		fmt.Fprintf(&b, " (formula %q)", e.Formula)
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// Option configures Build.
type Option func(*builder)

// WithUIHints supplies presentation hints. Fields marked as lookup inputs
// get a lookup-check shadow field.
func WithUIHints(h ir.UIHints) Option {
	return func(b *builder) {
		b.hints = h
	}
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

type builder struct {
	decls  []ir.TypeDecl
	hints  ir.UIHints
	logger *slog.Logger

	schema          *Schema
	declByName      map[string]*ir.TypeDecl
	parentFieldName map[*Type]string
}

// Build turns declarations into a Schema. The phases run strictly in order:
//
//  1. load: register types, check field declarations
//  2. inheritance: resolve extend chains, reject unknown parents and cycles
//  3. flatten: system fields, inherited fields, lookup-check fields
//  4. targets: resolve link and dataset targets, indexes, parent links
//  5. formulas: compile every formula and register dependency edges
//
// Any failure aborts the build with a *BuildError. Dependency cycles are
// not fatal; they are reported through Schema.Warnings.
func Build(decls []ir.TypeDecl, opts ...Option) (*Schema, error) {
	b := &builder{
		decls:           decls,
		logger:          slog.Default(),
		schema:          &Schema{types: make(map[string]*Type)},
		parentFieldName: make(map[*Type]string),
	}
	for _, opt := range opts {
		opt(b)
	}

	phases := []func() error{
		b.load,
		b.resolveInheritance,
		b.flatten,
		b.resolveTargets,
		b.compileFormulas,
	}
	for _, phase := range phases {
		if err := phase(); err != nil {
			return nil, err
		}
	}

	b.schema.warnings = AnalyzeCycles(b.schema)
	for _, w := range b.schema.warnings {
		b.logger.Warn("formula dependency cycle",
			"path", strings.Join(w.Path, " -> "),
			"kinds", strings.Join(w.Kinds, ","),
		)
	}

	b.logger.Debug("schema built", "types", len(b.schema.order))
	return b.schema, nil
}

func (b *builder) load() error {
	b.declByName = make(map[string]*ir.TypeDecl, len(b.decls))
	for i := range b.decls {
		d := &b.decls[i]
		if d.Name == "" {
			return &BuildError{Message: fmt.Sprintf("type #%d has no name", i)}
		}
		if _, dup := b.declByName[d.Name]; dup {
			return &BuildError{Type: d.Name, Message: "duplicate type"}
		}

		seen := make(map[string]bool, len(d.Fields))
		for _, fd := range d.Fields {
			if err := checkFieldDecl(d.Name, fd, seen); err != nil {
				return err
			}
		}

		b.declByName[d.Name] = d
		t := &Type{Name: d.Name, byName: make(map[string]*Field)}
		b.schema.types[d.Name] = t
		b.schema.order = append(b.schema.order, t)
	}
	return nil
}

func checkFieldDecl(typeName string, fd ir.FieldDecl, seen map[string]bool) error {
	fail := func(msg string, err error) error {
		return &BuildError{Type: typeName, Field: fd.Name, Message: msg, Err: err}
	}
	switch {
	case fd.Name == "":
		return &BuildError{Type: typeName, Message: "field has no name"}
	case strings.HasPrefix(fd.Name, "__"):
		return fail("names starting with __ are reserved", nil)
	case seen[fd.Name]:
		return fail("duplicate field", nil)
	}
	seen[fd.Name] = true

	if _, err := ir.ParseFieldType(string(fd.Type)); err != nil {
		return fail("invalid type", err)
	}
	if !fd.Type.IsElementary() && fd.Dataset == "" {
		return fail(fmt.Sprintf("%s field needs a target type", fd.Type), nil)
	}
	if fd.Formula != "" && !fd.Type.IsElementary() {
		return fail("only elementary fields can carry a formula", nil)
	}
	return nil
}

func (b *builder) resolveInheritance() error {
	for _, t := range b.schema.order {
		d := b.declByName[t.Name]
		if d.Extend == "" {
			continue
		}
		parent := b.schema.types[d.Extend]
		if parent == nil {
			return &BuildError{Type: t.Name, Message: fmt.Sprintf("extends unknown type %q", d.Extend)}
		}
		t.Parent = parent
		parent.children = append(parent.children, t)
	}

	for _, t := range b.schema.order {
		seen := map[*Type]bool{}
		for cur := t; cur != nil; cur = cur.Parent {
			if seen[cur] {
				return &BuildError{Type: t.Name, Message: "inheritance cycle"}
			}
			seen[cur] = true
		}
	}
	return nil
}

func (b *builder) flatten() error {
	done := make(map[*Type]bool, len(b.schema.order))
	var visit func(t *Type)
	visit = func(t *Type) {
		if done[t] {
			return
		}
		if t.Parent != nil {
			visit(t.Parent)
		}
		b.flattenType(t)
		done[t] = true
	}
	for _, t := range b.schema.order {
		visit(t)
	}
	return nil
}

func (b *builder) flattenType(t *Type) {
	d := b.declByName[t.Name]

	t.addField(&Field{Name: FieldRowIndex, Type: ir.TypeInt, Owner: t, System: true})
	t.addField(&Field{Name: FieldRowNo, Type: ir.TypeInt, Owner: t, System: true})

	if p := t.Parent; p != nil {
		for _, f := range p.fields {
			if !f.System {
				t.addField(f.clone(t))
			}
		}
		t.Indexes = slices.Clone(p.Indexes)
		t.DefaultIndex = p.DefaultIndex
		t.RowValidator = p.RowValidator
		b.parentFieldName[t] = b.parentFieldName[p]
	}

	for _, fd := range d.Fields {
		t.addField(&Field{
			Name:            fd.Name,
			Type:            fd.Type,
			Title:           fd.Title,
			Formula:         strings.TrimSpace(fd.Formula),
			Owner:           t,
			TargetName:      fd.Dataset,
			Required:        fd.Required,
			Validator:       fd.Validator,
			LinkLookupField: fd.LinkLookupField,
			LinkSrcName:     fd.LinkSrcName,
			LinkIndexName:   fd.LinkIndexName,
		})
	}
	for _, ix := range d.Indexes {
		if !slices.Contains(t.Indexes, ix) {
			t.Indexes = append(t.Indexes, ix)
		}
	}
	if d.DefaultIndex != "" {
		t.DefaultIndex = d.DefaultIndex
	}
	if d.RowValidator != nil {
		t.RowValidator = d.RowValidator
	}
	if d.ParentField != "" {
		b.parentFieldName[t] = d.ParentField
	}

	for _, f := range slices.Clone(t.fields) {
		if f.System || !f.IsElementary() {
			continue
		}
		hint, ok := b.hint(t, f.Name)
		if !ok {
			continue
		}
		if f.Title == "" {
			f.Title = hint.Title
		}
		if hint.LookupInput {
			t.addField(&Field{
				Name:     CheckPrefix + f.Name,
				Type:     ir.TypeString,
				Owner:    t,
				System:   true,
				CheckFor: f.Name,
			})
		}
	}
}

// hint finds the presentation hint of a field on t or its nearest ancestor.
func (b *builder) hint(t *Type, field string) (ir.FieldHint, bool) {
	for cur := t; cur != nil; cur = cur.Parent {
		if h, ok := b.hints[cur.Name][field]; ok {
			return h, true
		}
	}
	return ir.FieldHint{}, false
}

func (b *builder) resolveTargets() error {
	for _, t := range b.schema.order {
		for _, f := range t.fields {
			if f.IsElementary() {
				continue
			}
			target := b.schema.types[f.TargetName]
			if target == nil {
				return &BuildError{Type: t.Name, Field: f.Name, Message: fmt.Sprintf("unknown target type %q", f.TargetName)}
			}
			f.Target = target
		}
	}

	for _, t := range b.schema.order {
		if err := b.resolveIndexes(t); err != nil {
			return err
		}

		if name := b.parentFieldName[t]; name != "" {
			pf := t.byName[name]
			if pf == nil || !pf.IsLink() {
				return &BuildError{Type: t.Name, Field: name, Message: "parent field must be a link field"}
			}
			t.ParentField = pf
		}

		for _, f := range t.fields {
			if f.LinkLookupField == "" {
				continue
			}
			lf := t.byName[f.LinkLookupField]
			if lf == nil || !lf.IsLink() {
				return &BuildError{Type: t.Name, Field: f.Name, Message: fmt.Sprintf("link lookup field %q is not a link field", f.LinkLookupField)}
			}
			if f.LinkIndexName != "" && !lf.Target.IsIndexed(f.LinkIndexName) {
				return &BuildError{Type: t.Name, Field: f.Name, Message: fmt.Sprintf("%q is not an index of %s", f.LinkIndexName, lf.Target.Name)}
			}
		}
	}

	// A child type that links back to its owner must be able to point at
	// every type that can own it.
	for _, t := range b.schema.order {
		for _, f := range t.fields {
			if !f.IsDataset() || f.Target.ParentField == nil {
				continue
			}
			pf := f.Target.ParentField
			if !t.IsOfType(pf.Target.Name) {
				return &BuildError{
					Type:    t.Name,
					Field:   f.Name,
					Message: fmt.Sprintf("rows of %s link their owner through %s, which targets %s", f.Target.Name, pf.Name, pf.Target.Name),
				}
			}
		}
	}
	return nil
}

func (b *builder) resolveIndexes(t *Type) error {
	for _, ix := range t.Indexes {
		f := t.byName[ix]
		if f == nil || f.System || !f.IsElementary() {
			return &BuildError{Type: t.Name, Field: ix, Message: "index must name an elementary field"}
		}
		f.Indexed = true
	}
	if t.DefaultIndex == "" && len(t.Indexes) > 0 {
		t.DefaultIndex = t.Indexes[0]
	}
	if t.DefaultIndex != "" && !t.IsIndexed(t.DefaultIndex) {
		return &BuildError{Type: t.Name, Field: t.DefaultIndex, Message: "default index is not an index"}
	}
	return nil
}

func (b *builder) compileFormulas() error {
	for _, t := range b.schema.order {
		chk := checker{t: t}
		for _, f := range t.fields {
			if f.Formula == "" {
				continue
			}
			prog, err := formula.Compile(f.Formula, chk)
			if err != nil {
				return &BuildError{Type: t.Name, Field: f.Name, Formula: f.Formula, Message: "invalid formula", Err: err}
			}
			if slices.Contains(prog.Vars, f.Name) {
				return &BuildError{Type: t.Name, Field: f.Name, Formula: f.Formula, Message: "circular reference: formula reads its own field"}
			}
			f.Program = prog
		}
	}

	for _, t := range b.schema.order {
		for _, f := range t.fields {
			if f.IsFormula() {
				register(t, f)
			}
		}
		t.formulaOrder = orderFormulas(t)
	}
	return nil
}

// register adds the dependency edges of formula field f.
func register(t *Type, f *Field) {
	prog := f.Program

	addOwn := func(src *Field) {
		for _, existing := range f.Sources {
			if existing.Kind == RelOwn && existing.Source == src {
				return
			}
		}
		fv := &FVar{Kind: RelOwn, Target: f, Source: src}
		src.Targets = append(src.Targets, fv)
		f.Sources = append(f.Sources, fv)
	}

	for _, name := range prog.Vars {
		addOwn(t.byName[name])
	}

	for _, ref := range prog.Attrs {
		link := t.byName[ref.Via]
		// Re-pointing the link changes what the formula reads.
		addOwn(link)

		// A link may point at a row of any type extending its target.
		for i, target := range append([]*Type{link.Target}, link.Target.Descendants()...) {
			src := target.byName[ref.Field]
			if src == nil {
				continue
			}
			fv := &FVar{Kind: RelLink, Target: f, Source: src, Via: link}
			src.Targets = append(src.Targets, fv)
			if i == 0 {
				f.Sources = append(f.Sources, fv)
			}
		}
	}

	for _, ref := range prog.Aggregates {
		ds := t.byName[ref.Via]
		src := ds.Target.byName[ref.Field]
		fv := &FVar{Kind: RelChild, Target: f, Source: src, Via: ds}
		if src.ContextTargets == nil {
			src.ContextTargets = make(map[string][]*FVar)
		}
		key := fv.ContextKey()
		src.ContextTargets[key] = append(src.ContextTargets[key], fv)
		f.Sources = append(f.Sources, fv)
	}
}

func orderFormulas(t *Type) []*Field {
	var formulas []*Field
	for _, f := range t.fields {
		if f.IsFormula() {
			formulas = append(formulas, f)
		}
	}

	placed := make(map[*Field]bool, len(formulas))
	out := make([]*Field, 0, len(formulas))
	for len(out) < len(formulas) {
		progressed := false
		for _, f := range formulas {
			if placed[f] || !ownInputsPlaced(f, placed) {
				continue
			}
			out = append(out, f)
			placed[f] = true
			progressed = true
		}
		if !progressed {
			for _, f := range formulas {
				if !placed[f] {
					out = append(out, f)
					placed[f] = true
				}
			}
		}
	}
	return out
}

func ownInputsPlaced(f *Field, placed map[*Field]bool) bool {
	for _, src := range f.Sources {
		if src.Kind == RelOwn && src.Source.IsFormula() && !placed[src.Source] {
			return false
		}
	}
	return true
}

// checker resolves formula identifiers against one type.
type checker struct {
	t *Type
}

func (c checker) HasVar(name string) bool {
	f := c.t.byName[name]
	return f != nil && !f.System && f.IsElementary()
}

func (c checker) HasAttribute(link, field string) bool {
	lf := c.t.byName[link]
	if lf == nil || !lf.IsLink() || lf.Target == nil {
		return false
	}
	tf := lf.Target.byName[field]
	return tf != nil && !tf.System && tf.IsElementary()
}

func (c checker) ValidAggregate(fn formula.AggFunc, dataset, field string) bool {
	df := c.t.byName[dataset]
	if df == nil || !df.IsDataset() || df.Target == nil {
		return false
	}
	tf := df.Target.byName[field]
	return tf != nil && !tf.System && fn.Accepts(tf.Type)
}
