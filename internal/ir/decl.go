package ir

// FieldReader reads field values from a row.
type FieldReader interface {
	Field(name string) Value
}

// FieldValidator checks one field value. It returns false and a message
// when the value is not acceptable.
type FieldValidator func(value Value) (bool, string)

// RowValidator checks a whole row after its fields were validated.
type RowValidator func(row FieldReader) (bool, string)

// FieldDecl declares one field of a record type.
//
// Dataset names the target record type for link and dataset fields.
// A non-empty Formula makes the field computed.
type FieldDecl struct {
	Name    string    `json:"name" yaml:"name"`
	Type    FieldType `json:"type" yaml:"type"`
	Title   string    `json:"title,omitempty" yaml:"title,omitempty"`
	Formula string    `json:"formula,omitempty" yaml:"formula,omitempty"`
	Dataset string    `json:"dataset,omitempty" yaml:"dataset,omitempty"`

	// Required installs the built-in non-empty validator.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// A field with LinkLookupField retargets that link field whenever its
	// own value changes, by looking the value up in dataset LinkSrcName
	// through index LinkIndexName (the target type's default index when
	// empty).
	LinkLookupField string `json:"link_lookup_field,omitempty" yaml:"link_lookup_field,omitempty"`
	LinkSrcName     string `json:"link_src_name,omitempty" yaml:"link_src_name,omitempty"`
	LinkIndexName   string `json:"link_index_name,omitempty" yaml:"link_index_name,omitempty"`

	Validator FieldValidator `json:"-" yaml:"-"`
}

// TypeDecl declares a record type.
type TypeDecl struct {
	Name         string      `json:"name" yaml:"name"`
	Extend       string      `json:"extend,omitempty" yaml:"extend,omitempty"`
	Fields       []FieldDecl `json:"fields" yaml:"fields"`
	Indexes      []string    `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	DefaultIndex string      `json:"default_index,omitempty" yaml:"default_index,omitempty"`
	ParentField  string      `json:"parent_field,omitempty" yaml:"parent_field,omitempty"`

	RowValidator RowValidator `json:"-" yaml:"-"`
}

// FieldHint carries presentation data the engine cares about.
type FieldHint struct {
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	LookupInput bool   `json:"lookup_input,omitempty" yaml:"lookup_input,omitempty"`
}

// UIHints maps type name -> field name -> hint.
type UIHints map[string]map[string]FieldHint

// LookupInput reports whether the field is edited through a lookup input.
func (h UIHints) LookupInput(typeName, field string) bool {
	if h == nil {
		return false
	}
	return h[typeName][field].LookupInput
}
