package engine

import (
	"slices"
	"strings"

	"github.com/ilmimris/restate/internal/formula"
	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
)

// LoadFlag tracks a row's persistence state for differential unloads.
type LoadFlag string

const (
	FlagNone    LoadFlag = ""
	FlagLoaded  LoadFlag = "L"
	FlagNew     LoadFlag = "N"
	FlagUpdated LoadFlag = "U"
)

// FieldState is the recorded validation result of one field.
type FieldState struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Row is one record of a Dataset.
//
// Links are non-owning: a row points at its link targets, and each target
// lists the rows pointing at it in its referrer table, keyed by
// "<referringType>|<linkField>". Child datasets are owned by the row.
type Row struct {
	id      string
	typ     *schema.Type
	dataset *Dataset

	values   map[string]ir.Value
	links    map[string]*Row
	children map[string]*Dataset

	referrers map[string]map[string]*Row

	fieldStates   map[string]FieldState
	invalidFields int
	rowState      FieldState

	stamp int64
	index int
	flag  LoadFlag
	alive bool
}

func newRow(id string, ds *Dataset) *Row {
	r := &Row{
		id:          id,
		typ:         ds.typ,
		dataset:     ds,
		values:      make(map[string]ir.Value),
		links:       make(map[string]*Row),
		children:    make(map[string]*Dataset),
		referrers:   make(map[string]map[string]*Row),
		fieldStates: make(map[string]FieldState),
		rowState:    FieldState{Valid: true},
		index:       -1,
		alive:       true,
	}
	for _, f := range r.typ.Fields() {
		switch {
		case f.IsDataset():
			r.children[f.Name] = newDataset(f.Name, f.Target, ds.store, r)
		case f.IsElementary():
			r.values[f.Name] = f.Type.Zero()
		}
		r.fieldStates[f.Name] = FieldState{Valid: true}
	}
	return r
}

// ID returns the row's immutable identifier.
func (r *Row) ID() string { return r.id }

// Type returns the row's schema type.
func (r *Row) Type() *schema.Type { return r.typ }

// Dataset returns the dataset holding the row.
func (r *Row) Dataset() *Dataset { return r.dataset }

// Owner returns the row owning the row's dataset, or nil for top-level rows.
func (r *Row) Owner() *Row { return r.dataset.owner }

// Index returns the zero-based position in the dataset, -1 once removed.
func (r *Row) Index() int { return r.index }

// Stamp is incremented on every mutation of the row or its children.
func (r *Row) Stamp() int64 { return r.stamp }

// Flag returns the persistence flag.
func (r *Row) Flag() LoadFlag { return r.flag }

// Alive reports whether the row is still part of its dataset.
func (r *Row) Alive() bool { return r.alive }

// Field returns the value of an elementary field, or Null.
// Implements ir.FieldReader and formula.Accessor.
func (r *Row) Field(name string) ir.Value {
	return ir.Or(r.values[name])
}

// Link returns the row a link field points at, or nil.
func (r *Row) Link(name string) *Row {
	return r.links[name]
}

// Child returns the dataset held by a dataset field, or nil.
func (r *Row) Child(name string) *Dataset {
	return r.children[name]
}

// LinkField implements formula.Accessor.
func (r *Row) LinkField(link, field string) ir.Value {
	target := r.links[link]
	if target == nil {
		return ir.Null{}
	}
	return target.Field(field)
}

// Aggregate implements formula.Accessor.
func (r *Row) Aggregate(fn formula.AggFunc, dataset, field string) ir.Value {
	ds := r.children[dataset]
	if ds == nil {
		return fn.Reduce(nil)
	}
	values := make([]ir.Value, len(ds.rows))
	for i, child := range ds.rows {
		values[i] = child.aggregateValue(field)
	}
	return fn.Reduce(values)
}

// aggregateValue is the value a child contributes to an aggregate. Link
// fields count when set.
func (r *Row) aggregateValue(field string) ir.Value {
	if target, ok := r.links[field]; ok && target != nil {
		return ir.String(target.id)
	}
	return r.Field(field)
}

// Referrers returns the rows linking to r under the given referrer key,
// ordered by id.
func (r *Row) Referrers(key string) []*Row {
	set := r.referrers[key]
	out := make([]*Row, 0, len(set))
	for _, ref := range set {
		out = append(out, ref)
	}
	slices.SortFunc(out, func(a, b *Row) int { return strings.Compare(a.id, b.id) })
	return out
}

// FieldState returns the validation state of a field.
func (r *Row) FieldState(name string) FieldState {
	if st, ok := r.fieldStates[name]; ok {
		return st
	}
	return FieldState{Valid: true}
}

// FieldStates returns a copy of every field's validation state.
func (r *Row) FieldStates() map[string]FieldState {
	out := make(map[string]FieldState, len(r.fieldStates))
	for k, v := range r.fieldStates {
		out[k] = v
	}
	return out
}

// AllFieldsValid reports whether every field passed validation.
func (r *Row) AllFieldsValid() bool { return r.invalidFields == 0 }

// RowState returns the result of the row-level validator.
func (r *Row) RowState() FieldState { return r.rowState }

// Values returns the row as plain values: elementary fields via ir.ToAny,
// links as the target row id, child datasets omitted.
func (r *Row) Values() map[string]any {
	out := make(map[string]any, len(r.values)+len(r.links))
	for name, v := range r.values {
		out[name] = ir.ToAny(v)
	}
	for _, f := range r.typ.Fields() {
		if !f.IsLink() {
			continue
		}
		if target := r.links[f.Name]; target != nil {
			out[f.Name] = target.id
		} else {
			out[f.Name] = nil
		}
	}
	out[fieldRowID] = r.id
	return out
}

// fieldRowID is the key carrying the row id in Values.
const fieldRowID = "__rowId"

// touch bumps the row stamp and every stamp above it.
func (r *Row) touch() {
	r.stamp++
	r.dataset.touch()
}

func (r *Row) setFlag(f LoadFlag) {
	r.flag = f
	if f != FlagNew && f != FlagUpdated {
		return
	}
	// The owner serializes its children, so it changed too.
	if owner := r.Owner(); owner != nil && owner.flag != FlagNew && owner.flag != FlagUpdated {
		owner.setFlag(FlagUpdated)
	}
}

// markChanged moves a loaded row to Updated after a field changed.
func (r *Row) markChanged() {
	f := r.flag
	if f == FlagLoaded {
		f = FlagUpdated
	}
	r.setFlag(f)
}

// link points a link field at target, keeping both ends in sync.
func (r *Row) link(name string, target *Row) {
	prev := r.links[name]
	if prev == target {
		return
	}
	key := schema.ReferrerKey(r.typ.Name, name)
	if prev != nil {
		prev.unrefer(key, r)
	}
	if target == nil {
		delete(r.links, name)
		return
	}
	target.refer(key, r)
	r.links[name] = target
}

func (r *Row) refer(key string, from *Row) {
	set := r.referrers[key]
	if set == nil {
		set = make(map[string]*Row)
		r.referrers[key] = set
	}
	set[from.id] = from
}

func (r *Row) unrefer(key string, from *Row) {
	delete(r.referrers[key], from.id)
	if len(r.referrers[key]) == 0 {
		delete(r.referrers, key)
	}
}

// validationValue is what a field validator sees.
func (r *Row) validationValue(f *schema.Field) ir.Value {
	if f.IsLink() {
		if target := r.links[f.Name]; target != nil {
			return ir.String(target.id)
		}
		return ir.Null{}
	}
	return r.Field(f.Name)
}

func (r *Row) validateField(f *schema.Field) {
	if f.IsDataset() {
		return
	}
	prev := r.FieldState(f.Name)
	ok, msg := f.Validate(r.validationValue(f))
	r.fieldStates[f.Name] = FieldState{Valid: ok, Message: msg}
	switch {
	case prev.Valid && !ok:
		r.invalidFields++
	case !prev.Valid && ok:
		r.invalidFields--
	}
}

// validateFields revalidates every field. Links are skipped when
// elementaryOnly is set, as during loading before links are resolved.
func (r *Row) validateFields(elementaryOnly bool) {
	r.invalidFields = 0
	for _, f := range r.typ.Fields() {
		st := FieldState{Valid: true}
		if !f.IsDataset() && !(elementaryOnly && f.IsLink()) {
			ok, msg := f.Validate(r.validationValue(f))
			st = FieldState{Valid: ok, Message: msg}
		}
		r.fieldStates[f.Name] = st
		if !st.Valid {
			r.invalidFields++
		}
	}
}

func (r *Row) validateRow() {
	if r.typ.RowValidator == nil {
		r.rowState = FieldState{Valid: true}
		return
	}
	ok, msg := r.typ.RowValidator(r)
	r.rowState = FieldState{Valid: ok, Message: msg}
}

// setValue stores an elementary value, keeping indexes and the lookup-check
// mirror in step. It reports whether the value changed.
func (r *Row) setValue(f *schema.Field, v ir.Value) bool {
	old := r.Field(f.Name)
	if sameValue(old, v) {
		return false
	}
	if f.Indexed {
		r.dataset.unindex(f.Name, old, r)
		r.dataset.index(f.Name, v, r)
	}
	r.values[f.Name] = v
	r.validateField(f)

	if chk := r.typ.Field(schema.CheckPrefix + f.Name); chk != nil {
		r.values[chk.Name] = ir.Coerce(chk.Type, v)
	}
	return true
}

// syncLookupChecks copies every base field into its lookup-check field.
func (r *Row) syncLookupChecks() {
	for _, f := range r.typ.Fields() {
		if f.CheckFor != "" {
			r.values[f.Name] = ir.Coerce(f.Type, r.Field(f.CheckFor))
		}
	}
}

// detach takes a row out of the store for good: children are reset, links
// and backlinks dropped, and the row reports dead.
func (r *Row) detach() {
	for _, ds := range r.children {
		ds.reset()
	}
	for name := range r.links {
		r.link(name, nil)
	}
	for key, set := range r.referrers {
		for _, from := range set {
			if field, ok := strings.CutPrefix(key, from.typ.Name+"|"); ok && from.links[field] == r {
				delete(from.links, field)
			}
		}
	}
	r.referrers = make(map[string]map[string]*Row)
	r.alive = false
	r.index = -1
}

// linkOwner points the type's parent field at the owning row.
func (r *Row) linkOwner() {
	if pf := r.typ.ParentField; pf != nil {
		if owner := r.Owner(); owner != nil {
			r.link(pf.Name, owner)
		}
	}
}

// recalc evaluates every formula of the row in dependency order, storing
// the results directly. It reports whether any value changed.
func (r *Row) recalc() bool {
	changed := false
	for _, f := range r.typ.FormulaOrder() {
		v := ir.Coerce(f.Type, f.Program.Eval(r))
		if r.setValue(f, v) {
			changed = true
		}
	}
	if changed {
		r.touch()
		r.validateRow()
	}
	return changed
}
