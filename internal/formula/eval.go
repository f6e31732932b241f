package formula

import (
	"github.com/ilmimris/restate/internal/ir"
)

// Accessor resolves the three row primitives a program reads through.
type Accessor interface {
	Field(name string) ir.Value
	LinkField(link, field string) ir.Value
	Aggregate(fn AggFunc, dataset, field string) ir.Value
}

// Eval runs the program against acc.
//
// Arithmetic rules: int op int stays int except for division, mixed
// operands give float, + with a string operand concatenates, a null operand
// or a division by zero yields null.
func (p *Program) Eval(acc Accessor) ir.Value {
	if p.Root == nil {
		return ir.Null{}
	}
	return eval(p.Root, acc)
}

func eval(n Node, acc Accessor) ir.Value {
	switch n := n.(type) {
	case *Literal:
		return n.Value
	case *FieldRef:
		return ir.Or(acc.Field(n.Name))
	case *LinkRef:
		return ir.Or(acc.LinkField(n.Link, n.Field))
	case *AggregateRef:
		return ir.Or(acc.Aggregate(n.Func, n.Dataset, n.Field))
	case *Arith:
		return arith(n.Op, eval(n.Left, acc), eval(n.Right, acc))
	case *Negate:
		switch x := eval(n.X, acc).(type) {
		case ir.Int:
			return -x
		case ir.Float:
			return -x
		}
		return ir.Null{}
	case *Conditional:
		if test(n.Test, acc) {
			return eval(n.Then, acc)
		}
		return eval(n.Else, acc)
	case *Call:
		args := make([]ir.Value, len(n.Args))
		for i, a := range n.Args {
			args[i] = eval(a, acc)
		}
		return stdFuncs[n.Func].call(args)
	}
	return ir.Null{}
}

func arith(op ArithOp, l, r ir.Value) ir.Value {
	if ir.IsNull(l) || ir.IsNull(r) {
		return ir.Null{}
	}
	if op == OpAdd {
		_, ls := l.(ir.String)
		_, rs := r.(ir.String)
		if ls || rs {
			return ir.String(l.String() + r.String())
		}
	}

	li, lInt := l.(ir.Int)
	ri, rInt := r.(ir.Int)
	if lInt && rInt && op != OpDiv {
		switch op {
		case OpAdd:
			return li + ri
		case OpSub:
			return li - ri
		case OpMul:
			return li * ri
		}
	}

	lf, okL := ir.AsFloat(l)
	rf, okR := ir.AsFloat(r)
	if !okL || !okR {
		return ir.Null{}
	}
	switch op {
	case OpAdd:
		return ir.Float(lf + rf)
	case OpSub:
		return ir.Float(lf - rf)
	case OpMul:
		return ir.Float(lf * rf)
	case OpDiv:
		if rf == 0 {
			return ir.Null{}
		}
		return ir.Float(lf / rf)
	}
	return ir.Null{}
}

func test(c Cond, acc Accessor) bool {
	switch c := c.(type) {
	case *Comparison:
		l, r := eval(c.Left, acc), eval(c.Right, acc)
		switch c.Op {
		case OpEq:
			return ir.Equal(l, r)
		case OpNe:
			return !ir.Equal(l, r)
		}
		cmp, ok := ir.Compare(l, r)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		}
	case *Logical:
		if c.Op == OpAnd {
			return test(c.Left, acc) && test(c.Right, acc)
		}
		return test(c.Left, acc) || test(c.Right, acc)
	case *Not:
		return !test(c.X, acc)
	}
	return false
}
