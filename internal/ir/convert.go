package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeFloat   FieldType = "float"
	TypeDate    FieldType = "date"
	TypeLink    FieldType = "link"
	TypeDataset FieldType = "dataset"
)

// ParseFieldType validates a declared type name.
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(s); t {
	case TypeString, TypeInt, TypeFloat, TypeDate, TypeLink, TypeDataset:
		return t, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// IsElementary reports whether fields of this type hold a scalar value.
func (t FieldType) IsElementary() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeDate:
		return true
	default:
		return false
	}
}

// Zero is the value a fresh row holds for a field of type t.
func (t FieldType) Zero() Value {
	switch t {
	case TypeString:
		return String("")
	case TypeInt:
		return Int(0)
	case TypeFloat:
		return Float(0)
	default:
		return Null{}
	}
}

// DateLayout is the wire format of date values.
const DateLayout = "2006-01-02 15:04:05"

var dateInputLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FormatDate renders t in the wire format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate accepts the wire format, RFC 3339 and plain "2006-01-02".
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// Coerce converts v to the representation of field type t.
//
// Conversion matrix:
//
//	string  -> int    parse as float, round half away from zero
//	string  -> float  parse
//	string  -> date   parse (wire, RFC 3339, date only)
//	number  -> string decimal text
//	number  -> int    round
//	number  -> date   unix seconds
//	bool    -> int    0 / 1
//	bool    -> string "true" / "false"
//	null    -> zero value of t
//
// Anything that cannot be converted becomes Null. Link and dataset fields
// never hold scalar values, so Coerce returns Null for them.
func Coerce(t FieldType, v Value) Value {
	if IsNull(v) {
		return t.Zero()
	}
	switch t {
	case TypeString:
		return String(v.String())
	case TypeInt:
		switch x := v.(type) {
		case Int:
			return x
		case Float:
			return roundToInt(float64(x))
		case String:
			f, ok := parseNumber(string(x))
			if !ok {
				return Null{}
			}
			return roundToInt(f)
		case Bool:
			if x {
				return Int(1)
			}
			return Int(0)
		}
	case TypeFloat:
		switch x := v.(type) {
		case Int:
			return Float(x)
		case Float:
			return x
		case String:
			f, ok := parseNumber(string(x))
			if !ok {
				return Null{}
			}
			return Float(f)
		case Bool:
			if x {
				return Float(1)
			}
			return Float(0)
		}
	case TypeDate:
		switch x := v.(type) {
		case Date:
			return x
		case String:
			d, err := ParseDate(string(x))
			if err != nil {
				return Null{}
			}
			return NewDate(d)
		case Int:
			return NewDate(time.Unix(int64(x), 0).UTC())
		}
	}
	return Null{}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func roundToInt(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null{}
	}
	return Int(int64(math.Round(f)))
}
