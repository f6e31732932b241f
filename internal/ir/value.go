package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type behind a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindDate
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a sealed interface over the scalar values a row field can hold.
// Only Null, String, Int, Float, Date and Bool implement it.
type Value interface {
	value() // sealed
	Kind() Kind
	String() string
}

// Null is the absent value. A nil Value is treated the same way.
type Null struct{}

func (Null) value() {}
func (Null) Kind() Kind { return KindNull }
func (Null) String() string { return "" }

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a text value.
type String string

func (String) value() {}
func (String) Kind() Kind { return KindString }
func (s String) String() string { return string(s) }

// Int is a 64-bit integer value.
type Int int64

func (Int) value() {}
func (Int) Kind() Kind { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a 64-bit floating point value.
type Float float64

func (Float) value() {}
func (Float) Kind() Kind { return KindFloat }
func (f Float) String() string {
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

// Bool is only produced by comparisons inside formulas.
type Bool bool

func (Bool) value() {}
func (Bool) Kind() Kind { return KindBool }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Date is a point in time. Field dates carry second precision.
type Date struct {
	t time.Time
}

// NewDate wraps t as a Date value.
func NewDate(t time.Time) Date {
	return Date{t: t}
}

func (Date) value() {}
func (Date) Kind() Kind { return KindDate }
func (d Date) Time() time.Time { return d.t }
func (d Date) String() string { return FormatDate(d.t) }
func (d Date) Equal(o Date) bool { return d.t.Equal(o.t) }

// IsNull reports whether v is absent.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Or returns v, or Null when v is nil.
func Or(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v
}

// AsFloat returns the numeric value of v when it is an Int or a Float.
func AsFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// IsNumeric reports whether v is an Int or a Float.
func IsNumeric(v Value) bool {
	_, ok := AsFloat(v)
	return ok
}

// Equal reports whether a and b hold the same value.
// Ints and Floats compare numerically; two nulls are equal.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch x := a.(type) {
	case String:
		y, ok := b.(String)
		return ok && x == y
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case Date:
		y, ok := b.(Date)
		return ok && x.Equal(y)
	case Int:
		if y, ok := b.(Int); ok {
			return x == y
		}
	}
	fa, okA := AsFloat(a)
	fb, okB := AsFloat(b)
	return okA && okB && fa == fb
}

// Compare orders two values of compatible kinds. The second result is false
// when the values cannot be ordered (different kinds or a null operand).
func Compare(a, b Value) (int, bool) {
	if IsNull(a) || IsNull(b) {
		return 0, false
	}
	switch x := a.(type) {
	case String:
		if y, ok := b.(String); ok {
			return strings.Compare(string(x), string(y)), true
		}
		return 0, false
	case Date:
		if y, ok := b.(Date); ok {
			return x.t.Compare(y.t), true
		}
		return 0, false
	case Int:
		if y, ok := b.(Int); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	fa, okA := AsFloat(a)
	fb, okB := AsFloat(b)
	if !okA || !okB {
		return 0, false
	}
	switch {
	case fa < fb:
		return -1, true
	case fa > fb:
		return 1, true
	}
	return 0, true
}

// FromAny converts a decoded JSON, YAML or native Go value into a Value.
// Composite values (maps, slices) are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return Float(f), nil
	case time.Time:
		return NewDate(val), nil
	default:
		return nil, fmt.Errorf("unsupported scalar type: %T", v)
	}
}

// ToAny converts v into the plain Go value used in serialized payloads.
// Dates become "2006-01-02 15:04:05" strings.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Date:
		return FormatDate(val.t)
	default:
		return nil
	}
}
