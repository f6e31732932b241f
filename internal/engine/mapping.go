package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StdPayload is the std wire format: dataset key -> records.
type StdPayload map[string][]map[string]any

// FmapPayload is the fmap wire format: positional records plus the field
// order of each type.
type FmapPayload struct {
	ArrFieldMap map[string][]string `json:"arrFieldMap" yaml:"arrFieldMap"`
	Data        map[string][][]any  `json:"data" yaml:"data"`
}

// DataMapping resolves payload keys to datasets. Without a mapping a key
// reads "name:type".
type DataMapping map[string]MapInfo

// MapInfo is the target of one payload key.
type MapInfo struct {
	Dset   string       `json:"dset" yaml:"dset"`
	Type   string       `json:"type,omitempty" yaml:"type,omitempty"`
	Fields FieldMapping `json:"fieldMapping,omitempty" yaml:"fieldMapping,omitempty"`
}

// FieldMapping maps record keys to fields. The key "*" copies every record
// key that names a field of the row type.
type FieldMapping map[string]FieldMap

// AllFields is the mapping entry copying every matching key.
const AllFields = "*"

// FieldMap is one entry of a FieldMapping, in one of three forms:
//
//   - direct: Field names the target field ("*" for AllFields)
//   - link: Link names a link field; the record value is looked up in
//     index Index of dataset Dset. When no row matches and Fields is set,
//     a stub row is inserted and filled from the same record through
//     Fields.
//   - dataset: DsetField names a dataset field; the record value is a list
//     of records mapped through Fields.
type FieldMap struct {
	Field     string       `json:"-" yaml:"-"`
	Link      string       `json:"link,omitempty" yaml:"link,omitempty"`
	Dset      string       `json:"dset,omitempty" yaml:"dset,omitempty"`
	Index     string       `json:"index,omitempty" yaml:"index,omitempty"`
	DsetField string       `json:"dsetField,omitempty" yaml:"dsetField,omitempty"`
	Fields    FieldMapping `json:"fieldMapping,omitempty" yaml:"fieldMapping,omitempty"`
}

// Direct maps a record key onto field.
func Direct(field string) FieldMap { return FieldMap{Field: field} }

// fieldMapObject avoids recursing into the custom unmarshalers.
type fieldMapObject struct {
	Link      string       `json:"link,omitempty" yaml:"link,omitempty"`
	Dset      string       `json:"dset,omitempty" yaml:"dset,omitempty"`
	Index     string       `json:"index,omitempty" yaml:"index,omitempty"`
	DsetField string       `json:"dsetField,omitempty" yaml:"dsetField,omitempty"`
	Fields    FieldMapping `json:"fieldMapping,omitempty" yaml:"fieldMapping,omitempty"`
}

func (m *FieldMap) fromObject(obj fieldMapObject) error {
	*m = FieldMap{Link: obj.Link, Dset: obj.Dset, Index: obj.Index, DsetField: obj.DsetField, Fields: obj.Fields}
	switch {
	case m.Link != "" && m.DsetField != "":
		return fmt.Errorf("field mapping sets both link and dsetField")
	case m.Link != "" && m.Dset == "":
		return fmt.Errorf("link mapping %q needs a dset", m.Link)
	case m.Link == "" && m.DsetField == "":
		return fmt.Errorf("field mapping object needs link or dsetField")
	}
	return nil
}

// UnmarshalJSON accepts a field name string or a link/dataset object.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*m = FieldMap{}
		return json.Unmarshal(data, &m.Field)
	}
	var obj fieldMapObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	return m.fromObject(obj)
}

// MarshalJSON writes direct entries as strings.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	if m.Link == "" && m.DsetField == "" {
		return json.Marshal(m.Field)
	}
	return json.Marshal(fieldMapObject{Link: m.Link, Dset: m.Dset, Index: m.Index, DsetField: m.DsetField, Fields: m.Fields})
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (m *FieldMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*m = FieldMap{}
		return node.Decode(&m.Field)
	}
	var obj fieldMapObject
	if err := node.Decode(&obj); err != nil {
		return err
	}
	if err := m.fromObject(obj); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

// copiesAll reports whether the mapping copies matching keys wholesale. A
// nil mapping does.
func (fm FieldMapping) copiesAll() bool {
	if fm == nil {
		return true
	}
	m, ok := fm[AllFields]
	return ok && (m.Field == AllFields || m.Field == "")
}

// splitKey splits a "name:type" payload key.
func splitKey(key string) (name, typeName string) {
	name, typeName, _ = strings.Cut(key, ":")
	return name, typeName
}
