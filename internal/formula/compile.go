package formula

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"

	"github.com/ilmimris/restate/internal/ir"
)

// Checker answers the semantic questions the compiler asks about the type
// a formula belongs to.
type Checker interface {
	// HasVar reports whether name is an elementary field of the type.
	HasVar(name string) bool
	// HasAttribute reports whether link is a link field whose target type
	// has an elementary field named field.
	HasAttribute(link, field string) bool
	// ValidAggregate reports whether dataset is a dataset field whose
	// element type has field, and fn accepts that field's type.
	ValidAggregate(fn AggFunc, dataset, field string) bool
}

// Ref names a dependency reached through another field: a link field for
// attributes, a dataset field for aggregates.
type Ref struct {
	Via   string
	Field string
}

// Program is a compiled formula.
type Program struct {
	Text string
	Root Node

	// Vars lists the own fields read, in first-use order.
	Vars []string
	// Attrs lists the <link>.<field> attributes read.
	Attrs []Ref
	// Aggregates lists the <dataset>.<field> pairs folded by aggregates.
	Aggregates []Ref
}

// String renders the compiled form through the row primitives.
func (p *Program) String() string {
	if p.Root == nil {
		return ""
	}
	return p.Root.String()
}

// The parser environment carries no declarations and no macros: cel-go is
// only used for tokenizing and parsing, evaluation is ours.
var parserEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(cel.ClearMacros())
})

var arithOps = map[string]ArithOp{
	operators.Add:      OpAdd,
	operators.Subtract: OpSub,
	operators.Multiply: OpMul,
	operators.Divide:   OpDiv,
}

var compareOps = map[string]CompareOp{
	operators.Equals:        OpEq,
	operators.NotEquals:     OpNe,
	operators.Less:          OpLt,
	operators.LessEquals:    OpLe,
	operators.Greater:       OpGt,
	operators.GreaterEquals: OpGe,
}

var logicalOps = map[string]LogicalOp{
	operators.LogicalAnd: OpAnd,
	operators.LogicalOr:  OpOr,
}

// Compile parses text, checks it against the restricted grammar and the
// Checker, and returns the compiled program. Every failing node is reported;
// any issue makes the whole formula fail with a *CompileError.
func Compile(text string, chk Checker) (*Program, error) {
	env, err := parserEnv()
	if err != nil {
		return nil, fmt.Errorf("formula parser: %w", err)
	}

	parsed, iss := env.Parse(text)
	if iss.Err() != nil {
		ce := &CompileError{Formula: text}
		for _, e := range iss.Errors() {
			ce.Issues = append(ce.Issues, Issue{
				Code:    ErrSyntax,
				Message: e.Message,
				Line:    e.Location.Line(),
				Column:  e.Location.Column() + 1,
			})
		}
		return nil, ce
	}

	native := parsed.NativeRep()
	c := &compiler{
		chk:  chk,
		info: native.SourceInfo(),
		prog: &Program{Text: text},
	}
	root := c.expr(native.Expr())
	if len(c.issues) > 0 {
		return nil, &CompileError{Formula: text, Issues: c.issues}
	}
	c.prog.Root = root
	return c.prog, nil
}

type compiler struct {
	chk    Checker
	info   *celast.SourceInfo
	prog   *Program
	issues []Issue
}

func (c *compiler) errorf(e celast.Expr, code, format string, args ...any) {
	loc := c.info.GetStartLocation(e.ID())
	issue := Issue{Code: code, Message: fmt.Sprintf(format, args...)}
	if loc.Line() > 0 {
		issue.Line = loc.Line()
		issue.Column = loc.Column() + 1
	}
	c.issues = append(c.issues, issue)
}

func (c *compiler) expr(e celast.Expr) Node {
	switch e.Kind() {
	case celast.LiteralKind:
		return c.literal(e)
	case celast.IdentKind:
		return c.ident(e)
	case celast.SelectKind:
		return c.attribute(e)
	case celast.CallKind:
		return c.call(e)
	default:
		c.errorf(e, ErrUnsupported, "unsupported expression")
		return nil
	}
}

func (c *compiler) literal(e celast.Expr) Node {
	switch v := e.AsLiteral().(type) {
	case types.Int:
		return &Literal{Value: ir.Int(v)}
	case types.Double:
		return &Literal{Value: ir.Float(v)}
	case types.String:
		return &Literal{Value: ir.String(v)}
	default:
		c.errorf(e, ErrUnsupportedLiteral, "unsupported literal %v", v)
		return nil
	}
}

func (c *compiler) ident(e celast.Expr) Node {
	name := e.AsIdent()
	if !c.chk.HasVar(name) {
		c.errorf(e, ErrUnknownField, "unknown field %q", name)
		return nil
	}
	if !slices.Contains(c.prog.Vars, name) {
		c.prog.Vars = append(c.prog.Vars, name)
	}
	return &FieldRef{Name: name}
}

// selectPair unpacks <ident>.<field>.
func (c *compiler) selectPair(e celast.Expr) (string, string, bool) {
	if e.Kind() != celast.SelectKind {
		return "", "", false
	}
	sel := e.AsSelect()
	if sel.IsTestOnly() || sel.Operand().Kind() != celast.IdentKind {
		return "", "", false
	}
	return sel.Operand().AsIdent(), sel.FieldName(), true
}

func (c *compiler) attribute(e celast.Expr) Node {
	link, field, ok := c.selectPair(e)
	if !ok {
		c.errorf(e, ErrUnsupported, "only <link>.<field> attributes are supported")
		return nil
	}
	if !c.chk.HasAttribute(link, field) {
		c.errorf(e, ErrUnknownAttribute, "unknown attribute %s.%s", link, field)
		return nil
	}
	ref := Ref{Via: link, Field: field}
	if !slices.Contains(c.prog.Attrs, ref) {
		c.prog.Attrs = append(c.prog.Attrs, ref)
	}
	return &LinkRef{Link: link, Field: field}
}

func (c *compiler) call(e celast.Expr) Node {
	call := e.AsCall()
	fn := call.FunctionName()
	args := call.Args()

	if call.IsMemberFunction() {
		c.errorf(e, ErrUnsupported, "method call %s() is not supported", fn)
		return nil
	}

	if op, ok := arithOps[fn]; ok {
		return &Arith{Op: op, Left: c.expr(args[0]), Right: c.expr(args[1])}
	}

	switch fn {
	case operators.Negate:
		return &Negate{X: c.expr(args[0])}
	case operators.Conditional:
		return &Conditional{
			Test: c.cond(args[0]),
			Then: c.expr(args[1]),
			Else: c.expr(args[2]),
		}
	}

	if _, ok := compareOps[fn]; ok {
		c.errorf(e, ErrBooleanPlacement, "comparison is only allowed as a conditional test")
		return nil
	}
	if _, ok := logicalOps[fn]; ok || fn == operators.LogicalNot {
		c.errorf(e, ErrBooleanPlacement, "logical operator is only allowed in a conditional test")
		return nil
	}

	if agg, ok := ParseAggFunc(fn); ok {
		return c.aggregate(e, agg, args)
	}

	if spec, ok := stdFuncs[fn]; ok {
		if len(args) < spec.minArgs || len(args) > spec.maxArgs {
			c.errorf(e, ErrArity, "%s() takes %s, got %d", fn, arityText(spec), len(args))
			return nil
		}
		nodes := make([]Node, len(args))
		for i, a := range args {
			nodes[i] = c.expr(a)
		}
		return &Call{Func: fn, Args: nodes}
	}

	if display, ok := operators.FindReverse(fn); ok {
		if display == "" {
			display = fn
		}
		c.errorf(e, ErrUnsupported, "operator %q is not supported", display)
		return nil
	}
	c.errorf(e, ErrUnknownFunction, "unknown function %s()", fn)
	return nil
}

func arityText(f stdFunc) string {
	if f.minArgs == f.maxArgs {
		if f.minArgs == 1 {
			return "1 argument"
		}
		return fmt.Sprintf("%d arguments", f.minArgs)
	}
	return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
}

func (c *compiler) aggregate(e celast.Expr, fn AggFunc, args []celast.Expr) Node {
	if len(args) != 1 {
		c.errorf(e, ErrArity, "%s() takes exactly one <dataset>.<field> argument", fn)
		return nil
	}
	dataset, field, ok := c.selectPair(args[0])
	if !ok {
		c.errorf(args[0], ErrInvalidAggregate, "%s() argument must be <dataset>.<field>", fn)
		return nil
	}
	if !c.chk.ValidAggregate(fn, dataset, field) {
		c.errorf(args[0], ErrInvalidAggregate, "invalid aggregate %s(%s.%s)", fn, dataset, field)
		return nil
	}
	ref := Ref{Via: dataset, Field: field}
	if !slices.Contains(c.prog.Aggregates, ref) {
		c.prog.Aggregates = append(c.prog.Aggregates, ref)
	}
	return &AggregateRef{Func: fn, Dataset: dataset, Field: field}
}

func (c *compiler) cond(e celast.Expr) Cond {
	if e.Kind() != celast.CallKind {
		c.errorf(e, ErrConditionalNoTest, "conditional test must be a comparison or logical expression")
		return nil
	}
	call := e.AsCall()
	fn := call.FunctionName()
	args := call.Args()

	if op, ok := compareOps[fn]; ok {
		return &Comparison{Op: op, Left: c.expr(args[0]), Right: c.expr(args[1])}
	}
	if op, ok := logicalOps[fn]; ok {
		return &Logical{Op: op, Left: c.cond(args[0]), Right: c.cond(args[1])}
	}
	if fn == operators.LogicalNot {
		return &Not{X: c.cond(args[0])}
	}
	c.errorf(e, ErrConditionalNoTest, "conditional test must be a comparison or logical expression")
	return nil
}
