package engine

import (
	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
)

// Record markers written by Unload.
const (
	FieldLoadFlag = "__loadFlag"
	FieldDeleted  = "__deleted"
)

// UnloadOptions controls Unload.
type UnloadOptions struct {
	// Mapping selects datasets and fields; nil exports every top-level
	// dataset under "name:type" with all fields.
	Mapping DataMapping
	// IncludeLoaded exports rows still flagged Loaded (unchanged since
	// load). Without it only new and updated rows are exported.
	IncludeLoaded bool
	// IncludeDeleted appends loaded rows removed since, marked __deleted.
	IncludeDeleted bool
	// FullChildren exports every live child row of an exported row,
	// whatever its flag. Archives that replace records whole need it.
	FullChildren bool
}

// Unload exports the store as a std payload.
//
// With the default mapping, elementary fields are exported by name, child
// datasets recursively, and links as {dset, <defaultIndex>: value} when
// the target row lives in a top-level dataset whose type has a default
// index. Other links and the parent field are left out.
func (s *DataStore) Unload(opts UnloadOptions) (StdPayload, error) {
	out := StdPayload{}
	if opts.Mapping == nil {
		for _, ds := range s.Datasets() {
			out[ds.name+":"+ds.typ.Name] = s.unloadRows(ds, nil, opts)
		}
		return out, nil
	}
	for _, key := range ir.SortedKeys(opts.Mapping) {
		info := opts.Mapping[key]
		ds := s.FindDataset(info.Dset, nil)
		if ds == nil {
			return nil, unknownDataset(info.Dset)
		}
		out[key] = s.unloadRows(ds, info.Fields, opts)
	}
	return out, nil
}

func (s *DataStore) unloadRows(ds *Dataset, fm FieldMapping, opts UnloadOptions) []map[string]any {
	out := make([]map[string]any, 0, len(ds.rows))
	for _, r := range ds.rows {
		if r.flag == FlagLoaded && !opts.IncludeLoaded {
			continue
		}
		out = append(out, s.unloadRow(r, fm, opts))
	}
	if opts.IncludeDeleted {
		for _, r := range ds.deleted {
			rec := s.unloadRow(r, fm, opts)
			rec[FieldDeleted] = true
			out = append(out, rec)
		}
	}
	return out
}

func (s *DataStore) unloadRow(r *Row, fm FieldMapping, opts UnloadOptions) map[string]any {
	rec := make(map[string]any)
	if fm.copiesAll() {
		for _, f := range r.typ.Fields() {
			switch {
			case f.System:
			case f.IsDataset():
				rec[f.Name] = s.unloadRows(r.children[f.Name], nil, opts.nested())
			case f.IsLink():
				if f == r.typ.ParentField {
					continue
				}
				if ref, ok := linkRef(r.links[f.Name]); ok {
					rec[f.Name] = ref
				}
			default:
				rec[f.Name] = ir.ToAny(r.Field(f.Name))
			}
		}
	}
	for _, key := range ir.SortedKeys(fm) {
		if key == AllFields {
			continue
		}
		m := fm[key]
		switch {
		case m.Link != "":
			rec[key] = linkIndexValue(r.links[m.Link], m.Index)
		case m.DsetField != "":
			if child := r.children[m.DsetField]; child != nil {
				rec[key] = s.unloadRows(child, m.Fields, opts.nested())
			}
		default:
			name := m.Field
			if name == "" {
				name = key
			}
			if f := r.typ.Field(name); f != nil && f.IsElementary() {
				rec[key] = ir.ToAny(r.Field(name))
			}
		}
	}
	if r.flag != FlagNone {
		rec[FieldLoadFlag] = string(r.flag)
	}
	return rec
}

// nested returns the options for the child datasets of an exported row.
func (o UnloadOptions) nested() UnloadOptions {
	if o.FullChildren {
		o.IncludeLoaded, o.IncludeDeleted = true, false
	}
	return o
}

// linkRef renders a link target as a reloadable link path.
func linkRef(target *Row) (any, bool) {
	if target == nil {
		return nil, true
	}
	idx := target.typ.DefaultIndex
	if target.dataset.owner != nil || idx == "" {
		return nil, false
	}
	return map[string]any{
		"dset": target.dataset.name,
		idx:    ir.ToAny(target.Field(idx)),
	}, true
}

// linkIndexValue is the value of index (the default index when empty) on
// the link target.
func linkIndexValue(target *Row, index string) any {
	if target == nil {
		return nil
	}
	if index == "" {
		index = target.typ.DefaultIndex
	}
	if index == "" {
		return target.id
	}
	return ir.ToAny(target.Field(index))
}

// UnloadFmap exports every row of every top-level dataset in fmap form.
// Load flags are not carried.
func (s *DataStore) UnloadFmap() FmapPayload {
	p := FmapPayload{
		ArrFieldMap: make(map[string][]string),
		Data:        make(map[string][][]any),
	}
	for _, ds := range s.Datasets() {
		p.Data[ds.name+":"+ds.typ.Name] = unloadPositional(ds, p.ArrFieldMap)
	}
	return p
}

func unloadPositional(ds *Dataset, afm map[string][]string) [][]any {
	fields := fmapFields(ds.typ)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	afm[ds.typ.Name] = names

	out := make([][]any, 0, len(ds.rows))
	for _, r := range ds.rows {
		arr := make([]any, len(fields))
		for i, f := range fields {
			switch {
			case f.IsDataset():
				arr[i] = unloadPositional(r.children[f.Name], afm)
			case f.IsLink():
				arr[i], _ = linkRef(r.links[f.Name])
			default:
				arr[i] = ir.ToAny(r.Field(f.Name))
			}
		}
		out = append(out, arr)
	}
	return out
}

func fmapFields(t *schema.Type) []*schema.Field {
	var out []*schema.Field
	for _, f := range t.Fields() {
		if f.System || f == t.ParentField {
			continue
		}
		out = append(out, f)
	}
	return out
}
