package formula

import (
	"math"
	"time"

	"github.com/ilmimris/restate/internal/ir"
)

// AggFunc is an aggregate over the rows of a child dataset.
type AggFunc string

const (
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggAvg   AggFunc = "avg"
	AggCount AggFunc = "count"
)

// ParseAggFunc recognizes an aggregate function name.
func ParseAggFunc(name string) (AggFunc, bool) {
	switch f := AggFunc(name); f {
	case AggSum, AggMin, AggMax, AggAvg, AggCount:
		return f, true
	default:
		return "", false
	}
}

// Accepts reports whether the aggregate may fold a field of type t.
// min/max take int, float and date; sum/avg take int and float; count takes
// any field.
func (f AggFunc) Accepts(t ir.FieldType) bool {
	switch f {
	case AggCount:
		return true
	case AggMin, AggMax:
		return t == ir.TypeInt || t == ir.TypeFloat || t == ir.TypeDate
	case AggSum, AggAvg:
		return t == ir.TypeInt || t == ir.TypeFloat
	default:
		return false
	}
}

// Reduce folds one value per child row. count returns the number of rows;
// sum ignores non-numeric values and is 0 for no rows; min, max and avg are
// Null when nothing qualifies.
func (f AggFunc) Reduce(values []ir.Value) ir.Value {
	switch f {
	case AggCount:
		return ir.Int(len(values))
	case AggSum:
		return sum(values)
	case AggAvg:
		var total float64
		n := 0
		for _, v := range values {
			if x, ok := ir.AsFloat(v); ok {
				total += x
				n++
			}
		}
		if n == 0 {
			return ir.Null{}
		}
		return ir.Float(total / float64(n))
	case AggMin, AggMax:
		var best ir.Value = ir.Null{}
		for _, v := range values {
			if ir.IsNull(v) {
				continue
			}
			if ir.IsNull(best) {
				best = v
				continue
			}
			c, ok := ir.Compare(v, best)
			if !ok {
				continue
			}
			if (f == AggMin && c < 0) || (f == AggMax && c > 0) {
				best = v
			}
		}
		return best
	default:
		return ir.Null{}
	}
}

func sum(values []ir.Value) ir.Value {
	var ints int64
	var floats float64
	isFloat := false
	for _, v := range values {
		switch x := v.(type) {
		case ir.Int:
			ints += int64(x)
		case ir.Float:
			floats += float64(x)
			isFloat = true
		}
	}
	if isFloat {
		return ir.Float(float64(ints) + floats)
	}
	return ir.Int(ints)
}

// stdFunc describes a whitelisted scalar function.
type stdFunc struct {
	minArgs, maxArgs int
	call             func(args []ir.Value) ir.Value
}

var stdFuncs = map[string]stdFunc{
	"date":     {1, 1, fnDate},
	"str":      {1, 1, fnStr},
	"number":   {1, 1, fnNumber},
	"int":      {1, 1, fnInt},
	"round":    {1, 2, fnRound},
	"date_add": {2, 2, fnDateAdd},
}

// IsStdFunc reports whether name is a whitelisted scalar function.
func IsStdFunc(name string) bool {
	_, ok := stdFuncs[name]
	return ok
}

func fnDate(args []ir.Value) ir.Value {
	return ir.Coerce(ir.TypeDate, args[0])
}

func fnStr(args []ir.Value) ir.Value {
	return ir.String(ir.Or(args[0]).String())
}

func fnNumber(args []ir.Value) ir.Value {
	switch v := args[0].(type) {
	case ir.Int, ir.Float:
		return v
	case ir.Date:
		return ir.Int(v.Time().Unix())
	}
	if ir.IsNull(args[0]) {
		return ir.Null{}
	}
	return ir.Coerce(ir.TypeFloat, args[0])
}

func fnInt(args []ir.Value) ir.Value {
	if ir.IsNull(args[0]) {
		return ir.Null{}
	}
	return ir.Coerce(ir.TypeInt, args[0])
}

func fnRound(args []ir.Value) ir.Value {
	x, ok := ir.AsFloat(args[0])
	if !ok {
		return ir.Null{}
	}
	if len(args) == 1 {
		return ir.Int(int64(math.Round(x)))
	}
	digits, ok := ir.AsFloat(args[1])
	if !ok {
		return ir.Null{}
	}
	p := math.Pow(10, math.Round(digits))
	return ir.Float(math.Round(x*p) / p)
}

func fnDateAdd(args []ir.Value) ir.Value {
	d, ok := ir.Coerce(ir.TypeDate, args[0]).(ir.Date)
	if !ok {
		return ir.Null{}
	}
	days, ok := ir.AsFloat(args[1])
	if !ok {
		return ir.Null{}
	}
	return ir.NewDate(d.Time().Add(time.Duration(days * float64(24*time.Hour))))
}
