package engine

import (
	"fmt"

	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
)

// NavOp moves a dataset's active-row cursor.
type NavOp string

const (
	NavFirst NavOp = "first"
	NavPrev  NavOp = "prev"
	NavNext  NavOp = "next"
	NavLast  NavOp = "last"
)

// ParseNavOp validates a navigation keyword.
func ParseNavOp(s string) (NavOp, error) {
	switch op := NavOp(s); op {
	case NavFirst, NavPrev, NavNext, NavLast:
		return op, nil
	default:
		return "", fmt.Errorf("unknown navigation %q", s)
	}
}

// GotoTarget selects the active row by position, id, or index lookup.
// The first populated selector wins, in that order.
type GotoTarget struct {
	Index      *int   `json:"row_index,omitempty" yaml:"row_index,omitempty"`
	RowID      string `json:"row_id,omitempty" yaml:"row_id,omitempty"`
	IndexField string `json:"index_field,omitempty" yaml:"index_field,omitempty"`
	Value      any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// indexSlot holds the rows sharing one indexed value. Most values are
// unique, so a single row is kept without allocating a list.
type indexSlot struct {
	one  *Row
	many []*Row
}

// Dataset is an ordered collection of rows of one type.
type Dataset struct {
	name  string
	typ   *schema.Type
	store *DataStore
	owner *Row

	rows    []*Row
	byID    map[string]*Row
	indexes map[string]map[string]*indexSlot
	active  int
	stamp   int64

	// deleted keeps removed rows that had been loaded, for differential
	// unloads.
	deleted []*Row
}

func newDataset(name string, typ *schema.Type, store *DataStore, owner *Row) *Dataset {
	ds := &Dataset{
		name:   name,
		typ:    typ,
		store:  store,
		owner:  owner,
		active: -1,
	}
	ds.reset()
	return ds
}

// Name returns the dataset name (the field name for child datasets).
func (ds *Dataset) Name() string { return ds.name }

// Type returns the schema type of the rows.
func (ds *Dataset) Type() *schema.Type { return ds.typ }

// Owner returns the row holding a child dataset, or nil.
func (ds *Dataset) Owner() *Row { return ds.owner }

// Len returns the number of rows.
func (ds *Dataset) Len() int { return len(ds.rows) }

// Rows returns the rows in order. The slice must not be modified.
func (ds *Dataset) Rows() []*Row { return ds.rows }

// Row returns the row at position i, or nil.
func (ds *Dataset) Row(i int) *Row {
	if i < 0 || i >= len(ds.rows) {
		return nil
	}
	return ds.rows[i]
}

// RowByID returns the row with the given id, or nil.
func (ds *Dataset) RowByID(id string) *Row { return ds.byID[id] }

// Stamp is incremented whenever any row of the dataset changes.
func (ds *Dataset) Stamp() int64 { return ds.stamp }

// ActiveIndex returns the cursor position, -1 when there is no active row.
func (ds *Dataset) ActiveIndex() int { return ds.active }

// ActiveRow returns the row under the cursor, or nil.
func (ds *Dataset) ActiveRow() *Row { return ds.Row(ds.active) }

// Deleted returns the loaded rows removed since the last load.
func (ds *Dataset) Deleted() []*Row { return ds.deleted }

// Records returns every row as plain values, for list views.
func (ds *Dataset) Records() []map[string]any {
	out := make([]map[string]any, len(ds.rows))
	for i, r := range ds.rows {
		out[i] = r.Values()
	}
	return out
}

// IsOfType reports whether the dataset's type is name or extends it.
func (ds *Dataset) IsOfType(name string) bool { return ds.typ.IsOfType(name) }

func (ds *Dataset) touch() {
	ds.stamp++
	if ds.owner != nil {
		ds.owner.touch()
	}
}

// reset drops every row and index entry. Deleted rows are forgotten too.
// Dropped rows, and the rows of their child datasets, are detached so that
// handles kept by callers no longer resolve.
func (ds *Dataset) reset() {
	for _, r := range ds.rows {
		r.detach()
	}
	ds.stamp++
	ds.rows = nil
	ds.byID = make(map[string]*Row)
	ds.indexes = make(map[string]map[string]*indexSlot, len(ds.typ.Indexes))
	for _, name := range ds.typ.Indexes {
		ds.indexes[name] = make(map[string]*indexSlot)
	}
	ds.active = -1
	ds.deleted = nil
}

// indexKey tags the value with its kind so that "1" and 1 never collide.
func indexKey(v ir.Value) string {
	v = ir.Or(v)
	return fmt.Sprintf("%d:%s", v.Kind(), v.String())
}

func (ds *Dataset) index(field string, v ir.Value, r *Row) {
	idx := ds.indexes[field]
	if idx == nil {
		return
	}
	key := indexKey(v)
	slot := idx[key]
	switch {
	case slot == nil:
		idx[key] = &indexSlot{one: r}
	case slot.one == r:
	case slot.one != nil:
		slot.many = []*Row{slot.one, r}
		slot.one = nil
	default:
		for _, existing := range slot.many {
			if existing == r {
				return
			}
		}
		slot.many = append(slot.many, r)
	}
}

func (ds *Dataset) unindex(field string, v ir.Value, r *Row) {
	idx := ds.indexes[field]
	if idx == nil {
		return
	}
	key := indexKey(v)
	slot := idx[key]
	switch {
	case slot == nil:
	case slot.one == r:
		delete(idx, key)
	case slot.one == nil:
		for i, existing := range slot.many {
			if existing != r {
				continue
			}
			slot.many = append(slot.many[:i], slot.many[i+1:]...)
			break
		}
		switch len(slot.many) {
		case 0:
			delete(idx, key)
		case 1:
			slot.one, slot.many = slot.many[0], nil
		}
	}
}

func (ds *Dataset) indexRow(r *Row) {
	for _, name := range ds.typ.Indexes {
		ds.index(name, r.Field(name), r)
	}
}

func (ds *Dataset) unindexRow(r *Row) {
	for _, name := range ds.typ.Indexes {
		ds.unindex(name, r.Field(name), r)
	}
}

// FindIndexedRows returns every row whose indexed field equals value. The
// lookup value is converted to the field's type first.
func (ds *Dataset) FindIndexedRows(field string, value any) []*Row {
	idx := ds.indexes[field]
	if idx == nil {
		return nil
	}
	v, err := ir.FromAny(value)
	if err != nil {
		return nil
	}
	slot := idx[indexKey(ir.Coerce(ds.typ.Field(field).Type, v))]
	switch {
	case slot == nil:
		return nil
	case slot.one != nil:
		return []*Row{slot.one}
	default:
		return append([]*Row(nil), slot.many...)
	}
}

// FindIndexedRow returns the first row whose indexed field equals value.
func (ds *Dataset) FindIndexedRow(field string, value any) *Row {
	rows := ds.FindIndexedRows(field, value)
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

// renumber refreshes the system position fields from position from on.
func (ds *Dataset) renumber(from int) {
	for i := from; i < len(ds.rows); i++ {
		r := ds.rows[i]
		if r.index == i {
			continue
		}
		r.index = i
		r.values[schema.FieldRowIndex] = ir.Int(i)
		r.values[schema.FieldRowNo] = ir.Int(i + 1)
		r.touch()
	}
}

// insert places a new row before position at, or appends it when at is
// nil or out of range. The new row becomes active.
func (ds *Dataset) insert(r *Row, at *int) {
	pos := len(ds.rows)
	if at != nil && *at >= 0 && *at < len(ds.rows) {
		pos = *at
	}
	ds.rows = append(ds.rows, nil)
	copy(ds.rows[pos+1:], ds.rows[pos:])
	ds.rows[pos] = r
	ds.byID[r.id] = r
	ds.renumber(pos)
	ds.indexRow(r)
	ds.active = pos
}

// remove takes r out of the dataset. Loaded rows are kept in the deleted
// log.
func (ds *Dataset) remove(r *Row) {
	if r.dataset != ds || !r.alive {
		return
	}
	pos := r.index
	ds.unindexRow(r)
	ds.rows = append(ds.rows[:pos], ds.rows[pos+1:]...)
	delete(ds.byID, r.id)
	ds.renumber(pos)

	r.alive = false
	r.index = -1
	if ds.active >= len(ds.rows) || ds.active < 0 {
		ds.active = len(ds.rows) - 1
	}
	if r.flag == FlagLoaded || r.flag == FlagUpdated {
		ds.deleted = append(ds.deleted, r)
	}
	ds.touch()
}

// Navigate moves the cursor. Moves saturate at either end; the result
// reports whether the cursor moved.
func (ds *Dataset) Navigate(op NavOp) bool {
	prev := ds.active
	switch op {
	case NavFirst:
		if len(ds.rows) > 0 {
			ds.active = 0
		} else {
			ds.active = -1
		}
	case NavPrev:
		if ds.active > 0 {
			ds.active--
		}
	case NavNext:
		if ds.active < len(ds.rows)-1 {
			ds.active++
		}
	case NavLast:
		ds.active = len(ds.rows) - 1
	}
	return prev != ds.active
}

// Goto moves the cursor to the selected row. When the selector matches no
// row the cursor is cleared. The result reports whether a row is active.
func (ds *Dataset) Goto(target GotoTarget) bool {
	switch {
	case target.Index != nil:
		ds.active = -1
		if *target.Index >= 0 && *target.Index < len(ds.rows) {
			ds.active = *target.Index
		}
	case target.RowID != "":
		ds.active = -1
		if r := ds.byID[target.RowID]; r != nil {
			ds.active = r.index
		}
	case target.IndexField != "":
		ds.active = -1
		if r := ds.FindIndexedRow(target.IndexField, target.Value); r != nil {
			ds.active = r.index
		}
	}
	return ds.ActiveRow() != nil
}
