package engine

import (
	"fmt"

	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
)

// LoadOptions controls Load, LoadFmap and LoadDataset.
type LoadOptions struct {
	// Mapping resolves payload keys; nil means "name:type" keys.
	Mapping DataMapping
	// MarkLoaded flags every loaded row Loaded, the baseline for
	// differential unloads.
	MarkLoaded bool
}

// Load replaces the content of the store with a std payload.
//
// Datasets named by the payload are created when missing. Link values
// are resolved once every record is in, then formulas are recalculated.
func (s *DataStore) Load(payload StdPayload, opts LoadOptions) error {
	s.Reset()
	ld := s.newLoader(opts, nil)

	targets := make(map[string]*Dataset, len(payload))
	fields := make(map[string]FieldMapping, len(payload))
	keys := ir.SortedKeys(payload)
	for _, key := range keys {
		ds, fm, err := s.resolveKey(key, opts.Mapping)
		if err != nil {
			return err
		}
		targets[key], fields[key] = ds, fm
	}
	for _, key := range keys {
		for _, rec := range payload[key] {
			if _, err := ld.record(targets[key], rec, fields[key]); err != nil {
				return err
			}
		}
	}
	return ld.finish()
}

// LoadFmap replaces the content of the store with an fmap payload. A key
// without ":type" names an existing dataset or, when the payload carries a
// single field list, a dataset of that type.
func (s *DataStore) LoadFmap(payload FmapPayload, opts LoadOptions) error {
	s.Reset()
	ld := s.newLoader(opts, payload.ArrFieldMap)

	targets := make(map[string]*Dataset, len(payload.Data))
	keys := ir.SortedKeys(payload.Data)
	for _, key := range keys {
		name, typeName := splitKey(key)
		if typeName == "" {
			switch ds := s.FindDataset(name, nil); {
			case ds != nil:
				typeName = ds.typ.Name
			case len(payload.ArrFieldMap) == 1:
				for t := range payload.ArrFieldMap {
					typeName = t
				}
			default:
				return loadFailed(name, "cannot tell the row type of payload key %q", key)
			}
		}
		ds, err := s.ensureDataset(name, typeName)
		if err != nil {
			return err
		}
		targets[key] = ds
	}
	for _, key := range keys {
		ds := targets[key]
		for _, item := range payload.Data[key] {
			rec, err := ld.positional(ds, item)
			if err != nil {
				return err
			}
			if _, err := ld.record(ds, rec, nil); err != nil {
				return err
			}
		}
	}
	return ld.finish()
}

// LoadDataset clears the dataset at path through Update, so loaded rows
// that disappear land in the deleted log, then loads records into it.
// The mapping entry keyed by path, if any, supplies the field mapping.
func (s *DataStore) LoadDataset(path string, records []map[string]any, opts LoadOptions) error {
	ds := s.FindDataset(path, nil)
	if ds == nil {
		return unknownDataset(path)
	}
	if _, err := s.Update([]Instruction{Clear(path)}); err != nil {
		return err
	}
	ld := s.newLoader(opts, nil)
	fm := opts.Mapping[path].Fields
	for _, rec := range records {
		if _, err := ld.record(ds, rec, fm); err != nil {
			return err
		}
	}
	return ld.finish()
}

func (s *DataStore) resolveKey(key string, mapping DataMapping) (*Dataset, FieldMapping, error) {
	name, typeName := splitKey(key)
	var fm FieldMapping
	if mapping != nil {
		info, ok := mapping[key]
		if !ok {
			return nil, nil, loadFailed(name, "no mapping for payload key %q", key)
		}
		name, typeName, fm = info.Dset, info.Type, info.Fields
	}
	ds, err := s.ensureDataset(name, typeName)
	return ds, fm, err
}

// ensureDataset returns the dataset at name, creating a top-level one of
// typeName when missing. An existing dataset must hold exactly typeName.
func (s *DataStore) ensureDataset(name, typeName string) (*Dataset, error) {
	if ds := s.FindDataset(name, nil); ds != nil {
		if typeName != "" && ds.typ.Name != typeName {
			return nil, loadFailed(name, "dataset holds %s rows, payload holds %s", ds.typ.Name, typeName)
		}
		return ds, nil
	}
	if typeName == "" {
		return nil, loadFailed(name, "unknown dataset and no type given")
	}
	return s.AddDataset(name, typeName)
}

type pendingLink struct {
	row   *Row
	field *schema.Field
	raw   any
}

// loader accumulates one load. Links are resolved at the end so records
// may point at rows that appear later in the payload.
type loader struct {
	s     *DataStore
	opts  LoadOptions
	fmap  map[string][]string
	links []pendingLink
	rows  []*Row
}

func (s *DataStore) newLoader(opts LoadOptions, fmap map[string][]string) *loader {
	return &loader{s: s, opts: opts, fmap: fmap}
}

// record appends one row to ds. The first loaded row becomes active.
func (ld *loader) record(ds *Dataset, rec map[string]any, fm FieldMapping) (*Row, error) {
	row := newRow(ld.s.ids.Generate(), ds)
	active := ds.active
	ds.insert(row, nil)
	if active >= 0 {
		ds.active = active
	}
	row.linkOwner()
	if err := ld.fill(row, rec, fm); err != nil {
		return nil, err
	}
	row.syncLookupChecks()
	if ld.opts.MarkLoaded {
		row.flag = FlagLoaded
	}
	ld.rows = append(ld.rows, row)
	return row, nil
}

func (ld *loader) fill(row *Row, rec map[string]any, fm FieldMapping) error {
	if fm.copiesAll() {
		for _, f := range row.typ.Fields() {
			if raw, ok := rec[f.Name]; ok {
				if err := ld.assign(row, f, raw, nil); err != nil {
					return err
				}
			}
		}
	}
	for _, key := range ir.SortedKeys(fm) {
		if key == AllFields {
			continue
		}
		raw, ok := rec[key]
		if !ok {
			continue
		}
		m := fm[key]
		switch {
		case m.Link != "":
			f := row.typ.Field(m.Link)
			if f == nil || !f.IsLink() {
				return loadFailed(row.dataset.name, "mapping %q: %q is not a link field of %s", key, m.Link, row.typ.Name)
			}
			target, err := ld.lookupLink(m, raw, rec)
			if err != nil {
				return err
			}
			if target != nil && !target.typ.IsOfType(f.Target.Name) {
				return loadFailed(row.dataset.name, "mapping %q: %s rows cannot be linked through %s", key, target.typ.Name, f.Name)
			}
			row.link(f.Name, target)
		case m.DsetField != "":
			f := row.typ.Field(m.DsetField)
			if f == nil || !f.IsDataset() {
				return loadFailed(row.dataset.name, "mapping %q: %q is not a dataset field of %s", key, m.DsetField, row.typ.Name)
			}
			if err := ld.assign(row, f, raw, m.Fields); err != nil {
				return err
			}
		default:
			name := m.Field
			if name == "" {
				name = key
			}
			f := row.typ.Field(name)
			if f == nil {
				ld.s.logger.Debug("mapped field ignored", "type", row.typ.Name, "key", key, "field", name)
				continue
			}
			if err := ld.assign(row, f, raw, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ld *loader) assign(row *Row, f *schema.Field, raw any, nested FieldMapping) error {
	switch {
	case f.IsDataset():
		return ld.children(row.children[f.Name], raw, nested)
	case f.IsLink():
		if f != row.typ.ParentField {
			ld.links = append(ld.links, pendingLink{row: row, field: f, raw: raw})
		}
	case f.System && f.CheckFor == "", f.IsFormula():
		// computed
	default:
		v, err := ir.FromAny(raw)
		if err != nil {
			return &Error{Code: ErrCodeLoadFailed, Dataset: row.dataset.name, Field: f.Name, Message: err.Error()}
		}
		row.setValue(f, ir.Coerce(f.Type, v))
	}
	return nil
}

func (ld *loader) children(ds *Dataset, raw any, fm FieldMapping) error {
	var items []any
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		items = v
	case []map[string]any:
		for _, rec := range v {
			items = append(items, rec)
		}
	case [][]any:
		for _, arr := range v {
			items = append(items, arr)
		}
	default:
		return loadFailed(ds.name, "dataset value must be a list, got %T", raw)
	}
	for _, item := range items {
		var rec map[string]any
		switch v := item.(type) {
		case map[string]any:
			rec = v
		case []any:
			var err error
			if rec, err = ld.positional(ds, v); err != nil {
				return err
			}
		default:
			return loadFailed(ds.name, "record must be an object or a list, got %T", item)
		}
		if _, err := ld.record(ds, rec, fm); err != nil {
			return err
		}
	}
	return nil
}

// positional turns an fmap row into a record using the field list of the
// dataset's type.
func (ld *loader) positional(ds *Dataset, values []any) (map[string]any, error) {
	names, ok := ld.fmap[ds.typ.Name]
	if !ok {
		return nil, loadFailed(ds.name, "no field list for type %s", ds.typ.Name)
	}
	rec := make(map[string]any, len(names))
	for i, name := range names {
		if i < len(values) {
			rec[name] = values[i]
		}
	}
	return rec, nil
}

// lookupLink finds the row a link mapping points at, inserting a stub
// filled from rec when none exists and the mapping allows it.
func (ld *loader) lookupLink(m FieldMap, raw any, rec map[string]any) (*Row, error) {
	if raw == nil {
		return nil, nil
	}
	ds := ld.s.FindDataset(m.Dset, nil)
	if ds == nil {
		return nil, loadFailed(m.Dset, "link mapping %q: dataset not found", m.Link)
	}
	index := m.Index
	if index == "" {
		index = ds.typ.DefaultIndex
	}
	if !ds.typ.IsIndexed(index) {
		return nil, loadFailed(m.Dset, "link mapping %q: %q is not an index of %s", m.Link, index, ds.typ.Name)
	}
	if target := ds.FindIndexedRow(index, raw); target != nil {
		return target, nil
	}
	if m.Fields == nil {
		ld.s.logger.Debug("link mapping unresolved", "dataset", m.Dset, "index", index, "value", raw)
		return nil, nil
	}
	stub, err := ld.record(ds, map[string]any{index: raw}, nil)
	if err != nil {
		return nil, err
	}
	if err := ld.fill(stub, rec, m.Fields); err != nil {
		return nil, err
	}
	stub.syncLookupChecks()
	return stub, nil
}

// finish resolves links, validates every loaded row and recalculates.
func (ld *loader) finish() error {
	unresolved := 0
	for _, pl := range ld.links {
		target, err := ld.s.resolveLinkValue(pl.field.Target.Name, pl.raw)
		if err != nil {
			return &Error{
				Code:    ErrCodeLoadFailed,
				Dataset: pl.row.dataset.name,
				Field:   pl.field.Name,
				Message: fmt.Sprintf("link: %v", err),
			}
		}
		if target == nil && pl.raw != nil {
			unresolved++
		}
		pl.row.link(pl.field.Name, target)
	}
	for _, r := range ld.rows {
		if r.alive {
			r.validateFields(false)
			r.validateRow()
		}
	}
	if err := ld.s.RecalcFormulas(); err != nil {
		return err
	}
	ld.s.logger.Info("payload loaded",
		"rows", len(ld.rows),
		"links", len(ld.links),
		"unresolved_links", unresolved,
	)
	return nil
}
