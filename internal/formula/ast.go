package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ilmimris/restate/internal/ir"
)

// Node is a sealed interface over value-producing formula nodes.
type Node interface {
	node()
	String() string
}

// Cond is a sealed interface over boolean nodes. Conds only appear as the
// test of a Conditional.
type Cond interface {
	cond()
	String() string
}

// ArithOp is a binary arithmetic operator.
type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpSub ArithOp = "-"
	OpMul ArithOp = "*"
	OpDiv ArithOp = "/"
)

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "=="
	OpNe CompareOp = "!="
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// LogicalOp joins two conditions.
type LogicalOp string

const (
	OpAnd LogicalOp = "&&"
	OpOr  LogicalOp = "||"
)

// Literal is a numeric or string constant.
type Literal struct {
	Value ir.Value
}

// FieldRef reads a field of the evaluating row.
type FieldRef struct {
	Name string
}

// LinkRef reads Field of the row linked through Link.
type LinkRef struct {
	Link  string
	Field string
}

// AggregateRef folds Field over the rows of the child dataset Dataset.
type AggregateRef struct {
	Func    AggFunc
	Dataset string
	Field   string
}

// Arith applies a binary arithmetic operator.
type Arith struct {
	Op          ArithOp
	Left, Right Node
}

// Negate is unary minus.
type Negate struct {
	X Node
}

// Conditional is test ? then : else.
type Conditional struct {
	Test       Cond
	Then, Else Node
}

// Call invokes a whitelisted scalar function.
type Call struct {
	Func string
	Args []Node
}

// Comparison compares two values.
type Comparison struct {
	Op          CompareOp
	Left, Right Node
}

// Logical joins two conditions with && or ||.
type Logical struct {
	Op          LogicalOp
	Left, Right Cond
}

// Not negates a condition.
type Not struct {
	X Cond
}

func (*Literal) node()      {}
func (*FieldRef) node()     {}
func (*LinkRef) node()      {}
func (*AggregateRef) node() {}
func (*Arith) node()        {}
func (*Negate) node()       {}
func (*Conditional) node()  {}
func (*Call) node()         {}

func (*Comparison) cond() {}
func (*Logical) cond()    {}
func (*Not) cond()        {}

// The String forms render a formula through its three row primitives:
// own(field), link(link, field) and aggr(fn, dataset, field).

func (n *Literal) String() string {
	if s, ok := n.Value.(ir.String); ok {
		return strconv.Quote(string(s))
	}
	return n.Value.String()
}

func (n *FieldRef) String() string { return fmt.Sprintf("own(%s)", n.Name) }

func (n *LinkRef) String() string { return fmt.Sprintf("link(%s, %s)", n.Link, n.Field) }

func (n *AggregateRef) String() string {
	return fmt.Sprintf("aggr(%s, %s, %s)", n.Func, n.Dataset, n.Field)
}

func (n *Arith) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Negate) String() string { return "-" + n.X.String() }

func (n *Conditional) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", n.Test, n.Then, n.Else)
}

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Func, strings.Join(args, ", "))
}

func (n *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
}

func (n *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Not) String() string { return "!(" + n.X.String() + ")" }
