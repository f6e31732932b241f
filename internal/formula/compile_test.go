package formula

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/ir"
)

// fakeChecker resolves names against fixed tables.
type fakeChecker struct {
	vars  map[string]bool
	links map[string]map[string]bool
	dsets map[string]map[string]ir.FieldType
}

func (c fakeChecker) HasVar(name string) bool { return c.vars[name] }

func (c fakeChecker) HasAttribute(link, field string) bool { return c.links[link][field] }

func (c fakeChecker) ValidAggregate(fn AggFunc, dataset, field string) bool {
	t, ok := c.dsets[dataset][field]
	return ok && fn.Accepts(t)
}

func invoiceChecker() fakeChecker {
	return fakeChecker{
		vars: map[string]bool{"price": true, "qty": true, "code": true, "due": true},
		links: map[string]map[string]bool{
			"customer": {"name": true, "discount": true},
		},
		dsets: map[string]map[string]ir.FieldType{
			"items": {"amount": ir.TypeFloat, "sku": ir.TypeString, "shipped": ir.TypeDate},
		},
	}
}

func compileOK(t *testing.T, text string) *Program {
	t.Helper()
	prog, err := Compile(text, invoiceChecker())
	require.NoError(t, err, "compile %q", text)
	return prog
}

func compileIssues(t *testing.T, text string) []Issue {
	t.Helper()
	_, err := Compile(text, invoiceChecker())
	require.Error(t, err, "compile %q", text)
	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.NotEmpty(t, ce.Issues)
	return ce.Issues
}

func TestCompile_Arithmetic(t *testing.T) {
	prog := compileOK(t, "price * qty")

	assert.Equal(t, []string{"price", "qty"}, prog.Vars)
	assert.Empty(t, prog.Attrs)
	assert.Empty(t, prog.Aggregates)
	assert.Equal(t, "(own(price) * own(qty))", prog.String())
}

func TestCompile_VarsDeduplicated(t *testing.T) {
	prog := compileOK(t, "price + price * qty - price")
	assert.Equal(t, []string{"price", "qty"}, prog.Vars)
}

func TestCompile_LinkAttribute(t *testing.T) {
	prog := compileOK(t, "price * (1 - customer.discount)")

	assert.Equal(t, []string{"price"}, prog.Vars)
	assert.Equal(t, []Ref{{Via: "customer", Field: "discount"}}, prog.Attrs)
	assert.Contains(t, prog.String(), "link(customer, discount)")
}

func TestCompile_Aggregates(t *testing.T) {
	prog := compileOK(t, "sum(items.amount) + count(items.sku)")

	assert.Equal(t, []Ref{{Via: "items", Field: "amount"}, {Via: "items", Field: "sku"}}, prog.Aggregates)
	assert.Empty(t, prog.Vars)
	assert.Equal(t, "(aggr(sum, items, amount) + aggr(count, items, sku))", prog.String())
}

func TestCompile_Conditional(t *testing.T) {
	prog := compileOK(t, `qty > 10 && !(code == "X") ? price * 0.9 : price`)
	assert.Equal(t, []string{"qty", "code", "price"}, prog.Vars)
}

func TestCompile_StdFunctions(t *testing.T) {
	for _, text := range []string{
		"round(price * 1.2, 2)",
		"round(price)",
		"int(price)",
		"str(qty)",
		"number(code)",
		"date(due)",
		"date_add(due, 30)",
		`'#' + str(qty)`,
	} {
		compileOK(t, text)
	}
}

func TestCompile_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{"syntax", "price *", ErrSyntax},
		{"unknown field", "price * missing", ErrUnknownField},
		{"unknown attribute", "customer.address", ErrUnknownAttribute},
		{"deep attribute", "customer.region.name", ErrUnsupported},
		{"sum over string", "sum(items.sku)", ErrInvalidAggregate},
		{"min over unknown", "min(items.nothing)", ErrInvalidAggregate},
		{"aggregate bare ident", "sum(price)", ErrInvalidAggregate},
		{"aggregate arity", "count(items.sku, items.amount)", ErrArity},
		{"unknown function", "sqrt(price)", ErrUnknownFunction},
		{"method call", "code.size()", ErrUnsupported},
		{"comparison as value", "price > 3", ErrBooleanPlacement},
		{"logical as value", "!(price > 3)", ErrBooleanPlacement},
		{"non boolean test", "price ? 1 : 2", ErrConditionalNoTest},
		{"bool literal", "true ? 1 : 2", ErrConditionalNoTest},
		{"modulo", "qty % 2", ErrUnsupported},
		{"list literal", "[1, 2]", ErrUnsupported},
		{"index", "items[0]", ErrUnsupported},
		{"arity", "round()", ErrArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := compileIssues(t, tt.text)
			codes := make([]string, len(issues))
			for i, is := range issues {
				codes[i] = is.Code
			}
			assert.Contains(t, codes, tt.code)
		})
	}
}

func TestCompile_ReportsEveryIssueWithPosition(t *testing.T) {
	issues := compileIssues(t, "price * nope +\n  customer.nothing")

	require.Len(t, issues, 2)
	assert.Equal(t, ErrUnknownField, issues[0].Code)
	assert.Equal(t, 1, issues[0].Line)
	assert.Equal(t, 9, issues[0].Column)

	assert.Equal(t, ErrUnknownAttribute, issues[1].Code)
	assert.Equal(t, 2, issues[1].Line)
}

func TestCompileError_Message(t *testing.T) {
	_, err := Compile("nope + nada", invoiceChecker())
	require.Error(t, err)
	assert.True(t, IsCompileError(err))
	assert.Contains(t, err.Error(), "F003")
	assert.Contains(t, err.Error(), `"nope"`)
	assert.Contains(t, err.Error(), "and 1 more")

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Detail(), "formula: nope + nada")
}
