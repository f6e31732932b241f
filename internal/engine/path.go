package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ilmimris/restate/internal/ir"
)

// RowPath addresses a row. Exactly one form is used:
//
//   - Row: a direct handle
//   - Chain: segments resolved one after the other, each relative to the
//     row found by the previous one
//   - Dset with ID: the row with that id
//   - Dset with IRow: the row whose indexed fields hold the given values
//   - Dset alone: the dataset's active row
//
// In JSON and YAML a path is a dataset path string, an object
// {dset, row, irow}, or an array of such segments.
type RowPath struct {
	Row   *Row
	Dset  string
	ID    string
	IRow  map[string]any
	Chain []RowPath
}

// At addresses r directly.
func At(r *Row) RowPath { return RowPath{Row: r} }

// Active addresses the active row of the dataset at dset.
func Active(dset string) RowPath { return RowPath{Dset: dset} }

// ByID addresses a row by id.
func ByID(dset, id string) RowPath { return RowPath{Dset: dset, ID: id} }

// ByIndex addresses a row by the value of an indexed field.
func ByIndex(dset, field string, value any) RowPath {
	return RowPath{Dset: dset, IRow: map[string]any{field: value}}
}

// Chain addresses a row through nested datasets.
func Chain(segments ...RowPath) RowPath { return RowPath{Chain: segments} }

func (p RowPath) String() string {
	switch {
	case p.Row != nil:
		return "row " + p.Row.id
	case len(p.Chain) > 0:
		var buf bytes.Buffer
		for i, seg := range p.Chain {
			if i > 0 {
				buf.WriteString(" / ")
			}
			buf.WriteString(seg.String())
		}
		return buf.String()
	case p.ID != "":
		return fmt.Sprintf("%s[%s]", p.Dset, p.ID)
	case len(p.IRow) > 0:
		var buf bytes.Buffer
		buf.WriteString(p.Dset)
		for _, k := range ir.SortedKeys(p.IRow) {
			fmt.Fprintf(&buf, "[%s=%v]", k, p.IRow[k])
		}
		return buf.String()
	default:
		return p.Dset
	}
}

type rowPathObject struct {
	Dset string         `json:"dset" yaml:"dset"`
	ID   string         `json:"row,omitempty" yaml:"row,omitempty"`
	IRow map[string]any `json:"irow,omitempty" yaml:"irow,omitempty"`
}

// UnmarshalJSON accepts the string, object and array forms.
func (p *RowPath) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty row path")
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &p.Dset)
	case '[':
		return json.Unmarshal(data, &p.Chain)
	case '{':
		var obj rowPathObject
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return err
		}
		p.Dset, p.ID, p.IRow = obj.Dset, obj.ID, obj.IRow
		return nil
	default:
		return fmt.Errorf("row path must be a string, object or array")
	}
}

// MarshalJSON writes the object or array form. Direct handles are written
// as {dset, row}.
func (p RowPath) MarshalJSON() ([]byte, error) {
	switch {
	case p.Row != nil:
		return json.Marshal(rowPathObject{Dset: p.Row.dataset.name, ID: p.Row.id})
	case len(p.Chain) > 0:
		return json.Marshal(p.Chain)
	default:
		return json.Marshal(rowPathObject{Dset: p.Dset, ID: p.ID, IRow: p.IRow})
	}
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (p *RowPath) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&p.Dset)
	case yaml.SequenceNode:
		return node.Decode(&p.Chain)
	case yaml.MappingNode:
		var obj rowPathObject
		if err := node.Decode(&obj); err != nil {
			return err
		}
		p.Dset, p.ID, p.IRow = obj.Dset, obj.ID, obj.IRow
		return nil
	default:
		return fmt.Errorf("line %d: row path must be a string, mapping or sequence", node.Line)
	}
}

// FindRow resolves p, relative to owner when owner is set. It returns nil
// when no live row matches.
func (s *DataStore) FindRow(p RowPath, owner *Row) *Row {
	switch {
	case p.Row != nil:
		if !p.Row.alive {
			return nil
		}
		return p.Row
	case len(p.Chain) > 0:
		cur := owner
		for _, seg := range p.Chain {
			cur = s.FindRow(seg, cur)
			if cur == nil {
				return nil
			}
		}
		return cur
	}

	ds := s.FindDataset(p.Dset, owner)
	if ds == nil {
		return nil
	}
	switch {
	case p.ID != "":
		return ds.byID[p.ID]
	case len(p.IRow) > 0:
		return findByIndexes(ds, p.IRow)
	default:
		return ds.ActiveRow()
	}
}

// findByIndexes returns the first row matching every indexed value.
func findByIndexes(ds *Dataset, irow map[string]any) *Row {
	keys := ir.SortedKeys(irow)
	for _, candidate := range ds.FindIndexedRows(keys[0], irow[keys[0]]) {
		if matchesAll(candidate, keys[1:], irow) {
			return candidate
		}
	}
	return nil
}

func matchesAll(r *Row, keys []string, want map[string]any) bool {
	for _, k := range keys {
		f := r.typ.Field(k)
		if f == nil || !f.IsElementary() {
			return false
		}
		v, err := ir.FromAny(want[k])
		if err != nil || !ir.Equal(r.Field(k), ir.Coerce(f.Type, v)) {
			return false
		}
	}
	return true
}

// linkPathFromMap reads a link value given as {dset, row} / {dset, irow}
// or the short form {dset, <indexField>: value}.
func linkPathFromMap(m map[string]any) (RowPath, error) {
	dset, _ := m["dset"].(string)
	if dset == "" {
		return RowPath{}, fmt.Errorf("link path needs a dset")
	}
	p := RowPath{Dset: dset}
	if id, ok := m["row"].(string); ok {
		p.ID = id
		return p, nil
	}
	if irow, ok := m["irow"].(map[string]any); ok {
		p.IRow = irow
		return p, nil
	}
	for _, k := range ir.SortedKeys(m) {
		if k == "dset" {
			continue
		}
		if p.IRow == nil {
			p.IRow = make(map[string]any)
		}
		p.IRow[k] = m[k]
	}
	if len(p.IRow) == 0 {
		return RowPath{}, fmt.Errorf("link path into %s selects no row", dset)
	}
	return p, nil
}

// resolveLinkValue turns a link field value into the target row. It
// returns nil when the value is null or selects no row, and an error when
// the value cannot address a row or the row has the wrong type.
func (s *DataStore) resolveLinkValue(target string, raw any) (*Row, error) {
	var (
		row *Row
		err error
	)
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case ir.Null:
		return nil, nil
	case *Row:
		row = s.FindRow(At(v), nil)
	case RowPath:
		row = s.FindRow(v, nil)
	case *RowPath:
		row = s.FindRow(*v, nil)
	case map[string]any:
		var p RowPath
		if p, err = linkPathFromMap(v); err != nil {
			return nil, err
		}
		row = s.FindRow(p, nil)
	case []any:
		var p RowPath
		if p, err = chainFromAny(v); err != nil {
			return nil, err
		}
		row = s.FindRow(p, nil)
	default:
		return nil, fmt.Errorf("a %T cannot address a row", raw)
	}
	if row != nil && !row.typ.IsOfType(target) {
		return nil, fmt.Errorf("row %s is a %s, not a %s", row.id, row.typ.Name, target)
	}
	return row, nil
}

func chainFromAny(items []any) (RowPath, error) {
	chain := make([]RowPath, 0, len(items))
	for _, item := range items {
		switch seg := item.(type) {
		case string:
			chain = append(chain, Active(seg))
		case map[string]any:
			if dset, ok := seg["dset"].(string); ok && len(seg) == 1 {
				chain = append(chain, Active(dset))
				continue
			}
			p, err := linkPathFromMap(seg)
			if err != nil {
				return RowPath{}, err
			}
			chain = append(chain, p)
		default:
			return RowPath{}, fmt.Errorf("a %T cannot be a row path segment", item)
		}
	}
	if len(chain) == 0 {
		return RowPath{}, fmt.Errorf("empty row path")
	}
	return Chain(chain...), nil
}
