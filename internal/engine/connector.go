package engine

// Connector is the handle a binding layer uses to drive one dataset.
//
// Every write carries the version the connector last observed. When some
// other writer advanced the store in between, the write is a no-op and
// reports false; call Refresh, re-read and retry. Connectors derived with
// At share the observed version.
type Connector struct {
	store    *DataStore
	path     string
	observed *int64
}

// NewConnector binds a connector to the dataset at path.
func NewConnector(s *DataStore, path string) *Connector {
	v := s.Version()
	return &Connector{store: s, path: path, observed: &v}
}

// At returns a connector for another dataset path sharing the observed
// version.
func (c *Connector) At(path string) *Connector {
	return &Connector{store: c.store, path: path, observed: c.observed}
}

// Path returns the bound dataset path.
func (c *Connector) Path() string { return c.path }

// Observed returns the version the next write is submitted with.
func (c *Connector) Observed() int64 { return *c.observed }

// Refresh catches up with the store's current version.
func (c *Connector) Refresh() { *c.observed = c.store.Version() }

func (c *Connector) update(batch ...Instruction) (bool, error) {
	ok, err := c.store.Update(batch, AtVersion(*c.observed))
	if ok {
		c.Refresh()
	}
	return ok, err
}

// guarded runs fn when the observed version is current.
func (c *Connector) guarded(fn func() error) (bool, error) {
	if !c.store.version.admit(c.observed) {
		return false, nil
	}
	err := fn()
	c.Refresh()
	return true, err
}

func (c *Connector) dataset() *Dataset { return c.store.FindDataset(c.path, nil) }

// SetField sets one field of the active row.
func (c *Connector) SetField(name string, value any) (bool, error) {
	return c.update(Set(Active(c.path), map[string]any{name: value}))
}

// SetFields sets several fields of the active row.
func (c *Connector) SetFields(values map[string]any) (bool, error) {
	return c.update(Set(Active(c.path), values))
}

// AddRow appends a row; it becomes the active row.
func (c *Connector) AddRow(values map[string]any) (bool, error) {
	return c.update(Add(c.path, values))
}

// InsertRow inserts a row before position before.
func (c *Connector) InsertRow(before int, values map[string]any) (bool, error) {
	return c.update(Insert(c.path, before, values))
}

// DeleteRow deletes the active row.
func (c *Connector) DeleteRow() (bool, error) {
	return c.update(Del(Active(c.path)))
}

// Clear deletes every row of the dataset.
func (c *Connector) Clear() (bool, error) {
	return c.update(Clear(c.path))
}

// navigate catches up with the store version whether or not the move was
// admitted; a rejected move simply reports false.
func (c *Connector) navigate(op NavOp) (bool, error) {
	moved, err := c.store.Navigate(c.path, op, AtVersion(*c.observed))
	c.Refresh()
	return moved, err
}

// First moves to the first row. The result reports whether the cursor
// moved.
func (c *Connector) First() (bool, error) { return c.navigate(NavFirst) }

// Prev moves to the previous row.
func (c *Connector) Prev() (bool, error) { return c.navigate(NavPrev) }

// Next moves to the next row.
func (c *Connector) Next() (bool, error) { return c.navigate(NavNext) }

// Last moves to the last row.
func (c *Connector) Last() (bool, error) { return c.navigate(NavLast) }

// Goto selects the active row. The result reports whether a row is active.
func (c *Connector) Goto(target GotoTarget) (bool, error) {
	found, err := c.store.Goto(c.path, target, AtVersion(*c.observed))
	c.Refresh()
	return found, err
}

// Load replaces the rows of the bound dataset.
func (c *Connector) Load(records []map[string]any, opts LoadOptions) (bool, error) {
	return c.guarded(func() error {
		return c.store.LoadDataset(c.path, records, opts)
	})
}

// LoadStore replaces the content of the whole store.
func (c *Connector) LoadStore(payload StdPayload, opts LoadOptions) (bool, error) {
	return c.guarded(func() error {
		return c.store.Load(payload, opts)
	})
}

// ResetStore empties every dataset.
func (c *Connector) ResetStore() (bool, error) {
	return c.guarded(func() error {
		c.store.Reset()
		return nil
	})
}

// RecalcFormulas recalculates every formula of the store.
func (c *Connector) RecalcFormulas() (bool, error) {
	return c.guarded(c.store.RecalcFormulas)
}

// UnloadStore exports the store. Reads are never rejected.
func (c *Connector) UnloadStore(opts UnloadOptions) (StdPayload, error) {
	return c.store.Unload(opts)
}

// Fields returns the active row's values, or nil without an active row.
func (c *Connector) Fields() map[string]any {
	if r := c.activeRow(); r != nil {
		return r.Values()
	}
	return nil
}

// FieldStates returns the active row's field validation states.
func (c *Connector) FieldStates() map[string]FieldState {
	if r := c.activeRow(); r != nil {
		return r.FieldStates()
	}
	return nil
}

// RowState returns the active row's row-level validation state.
func (c *Connector) RowState() FieldState {
	if r := c.activeRow(); r != nil {
		return r.RowState()
	}
	return FieldState{Valid: true}
}

// AllFieldsValid reports whether every field of the active row is valid.
func (c *Connector) AllFieldsValid() bool {
	if r := c.activeRow(); r != nil {
		return r.AllFieldsValid()
	}
	return true
}

// Records returns every row of the dataset, for list views.
func (c *Connector) Records() []map[string]any {
	if ds := c.dataset(); ds != nil {
		return ds.Records()
	}
	return nil
}

// ActiveRow returns the active row, or nil.
func (c *Connector) ActiveRow() *Row { return c.activeRow() }

func (c *Connector) activeRow() *Row {
	if ds := c.dataset(); ds != nil {
		return ds.ActiveRow()
	}
	return nil
}

// FieldMeta describes one field for a binding layer.
type FieldMeta struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Target   string `json:"target,omitempty"`
	Computed bool   `json:"computed,omitempty"`
	Indexed  bool   `json:"indexed,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// DatasetMeta describes the bound dataset.
type DatasetMeta struct {
	Path   string      `json:"path"`
	Type   string      `json:"type"`
	Rows   int         `json:"rows"`
	Active int         `json:"active"`
	Stamp  int64       `json:"stamp"`
	Fields []FieldMeta `json:"fields"`
}

// Meta describes the bound dataset. ok is false when the path does not
// resolve.
func (c *Connector) Meta() (meta DatasetMeta, ok bool) {
	ds := c.dataset()
	if ds == nil {
		return DatasetMeta{}, false
	}
	meta = DatasetMeta{
		Path:   c.path,
		Type:   ds.typ.Name,
		Rows:   len(ds.rows),
		Active: ds.active,
		Stamp:  ds.stamp,
	}
	for _, f := range ds.typ.Fields() {
		if f.System {
			continue
		}
		meta.Fields = append(meta.Fields, FieldMeta{
			Name:     f.Name,
			Type:     string(f.Type),
			Title:    f.DisplayName(),
			Target:   f.TargetName,
			Computed: f.IsFormula(),
			Indexed:  f.Indexed,
			Required: f.Required,
		})
	}
	return meta, true
}
