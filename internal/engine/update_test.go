package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/formula"
	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
	"github.com/ilmimris/restate/internal/testutil"
)

func TestUpdate_OwnFormula(t *testing.T) {
	s := newTestStore(t, []ir.TypeDecl{{
		Name: "Invoice",
		Fields: []ir.FieldDecl{
			field("price", ir.TypeInt),
			field("qty", ir.TypeInt),
			calc("total", ir.TypeInt, "price * qty"),
		},
	}})
	_, err := s.AddDataset("invoices", "Invoice")
	require.NoError(t, err)

	mustUpdate(t, s, Add("invoices", map[string]any{"price": 10, "qty": 3}))
	row := s.Dataset("invoices").ActiveRow()
	require.NotNil(t, row)
	assert.Equal(t, int64(30), val(row, "total"))

	mustUpdate(t, s, Set(At(row), map[string]any{"price": 5}))
	assert.Equal(t, int64(15), val(row, "total"))
}

func TestUpdate_FormulaChainSettlesInOneCall(t *testing.T) {
	s := newTestStore(t, []ir.TypeDecl{{
		Name: "Chain",
		Fields: []ir.FieldDecl{
			field("a", ir.TypeInt),
			calc("b", ir.TypeInt, "a + 1"),
			calc("c", ir.TypeInt, "b * 2"),
		},
	}})
	_, err := s.AddDataset("chain", "Chain")
	require.NoError(t, err)

	mustUpdate(t, s, Add("chain", map[string]any{"a": 1}))
	row := s.Dataset("chain").ActiveRow()
	assert.Equal(t, int64(2), val(row, "b"))
	assert.Equal(t, int64(4), val(row, "c"))

	mustUpdate(t, s, Set(At(row), map[string]any{"a": 5}))
	assert.Equal(t, int64(6), val(row, "b"))
	assert.Equal(t, int64(12), val(row, "c"))
}

func TestUpdate_IterationLimit(t *testing.T) {
	var stats []UpdateStats
	s := newTestStore(t, []ir.TypeDecl{{
		Name: "Loop",
		Fields: []ir.FieldDecl{
			calc("a", ir.TypeInt, "b + 1"),
			calc("b", ir.TypeInt, "a + 1"),
		},
	}},
		WithMaxIterations(5),
		WithObserver(ObserverFunc(func(st UpdateStats) { stats = append(stats, st) })),
	)
	_, err := s.AddDataset("loops", "Loop")
	require.NoError(t, err)

	applied, err := s.Update([]Instruction{Add("loops", nil)})
	assert.True(t, applied)
	require.Error(t, err)
	assert.True(t, IsIterationLimit(err))

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "5", engErr.Details["max_passes"])

	require.Len(t, stats, 1)
	assert.Equal(t, 6, stats[0].Passes)
	assert.True(t, stats[0].Applied)
	assert.Equal(t, err, stats[0].Err)
}

func TestUpdate_DefaultIterationLimit(t *testing.T) {
	s := newTestStore(t, []ir.TypeDecl{{
		Name: "Loop",
		Fields: []ir.FieldDecl{
			calc("a", ir.TypeInt, "b + 1"),
			calc("b", ir.TypeInt, "a + 1"),
		},
	}})
	_, err := s.AddDataset("loops", "Loop")
	require.NoError(t, err)

	_, err = s.Update([]Instruction{Add("loops", nil)})
	require.Error(t, err)
	assert.True(t, IsIterationLimit(err))
	assert.Contains(t, err.Error(), "20 passes")
}

func TestUpdate_RowLimit(t *testing.T) {
	s := newBillingStore(t, WithMaxRows(2))

	// Each new invoice queues its own formulas: three rows in the first pass.
	applied, err := s.Update([]Instruction{
		Add("invoices", map[string]any{"number": "1"}),
		Add("invoices", map[string]any{"number": "2"}),
		Add("invoices", map[string]any{"number": "3"}),
	})
	assert.True(t, applied)
	require.Error(t, err)
	assert.True(t, IsRowLimit(err))
	assert.False(t, IsIterationLimit(err))
}

func TestUpdate_LinkAndChildPropagation(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	assert.Equal(t, 13.0, val(inv, "total"))
	assert.Equal(t, int64(2), val(inv, "lineCount"))
	assert.InDelta(t, 0.1, val(inv, "discount"), 1e-9)
	assert.InDelta(t, 11.7, val(inv, "net"), 1e-9)

	// A change on the linked customer reaches the invoice through the
	// referrer table.
	mustUpdate(t, s, Set(ByIndex("customers", "name", "acme"), map[string]any{"discount": 0.5}))
	assert.InDelta(t, 0.5, val(inv, "discount"), 1e-9)
	assert.InDelta(t, 6.5, val(inv, "net"), 1e-9)

	// A change on a child row reaches the owner.
	line := inv.Child("lines").Row(0)
	mustUpdate(t, s, Set(At(line), map[string]any{"qty": 4}))
	assert.Equal(t, 20.0, val(line, "amount"))
	assert.Equal(t, 23.0, val(inv, "total"))
	assert.InDelta(t, 11.5, val(inv, "net"), 1e-9)
}

func TestUpdate_ChildCount(t *testing.T) {
	tests := []struct {
		name    string
		formula string
	}{
		{"elementary field", "count(orders.amount)"},
		{"parent link", "count(orders.customer)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, []ir.TypeDecl{
				{
					Name:    "Customer",
					Indexes: []string{"name"},
					Fields: []ir.FieldDecl{
						field("name", ir.TypeString),
						ref("orders", ir.TypeDataset, "Order"),
						calc("orderCount", ir.TypeInt, tt.formula),
					},
				},
				{
					Name:        "Order",
					ParentField: "customer",
					Fields: []ir.FieldDecl{
						ref("customer", ir.TypeLink, "Customer"),
						field("amount", ir.TypeFloat),
					},
				},
			})
			_, err := s.AddDataset("customers", "Customer")
			require.NoError(t, err)

			mustUpdate(t, s, Add("customers", map[string]any{"name": "acme"}))
			for i := 0; i < 3; i++ {
				mustUpdate(t, s, Add("customers.orders", map[string]any{"amount": float64(i)}))
			}
			customer := rowByIndex(t, s, "customers", "name", "acme")
			orders := customer.Child("orders")
			assert.Equal(t, 3, orders.Len())
			assert.Equal(t, int64(3), val(customer, "orderCount"))
			for _, o := range orders.Rows() {
				assert.Same(t, customer, o.Link("customer"))
			}

			mustUpdate(t, s, Del(At(orders.Row(1))))
			assert.Equal(t, int64(2), val(customer, "orderCount"))
		})
	}
}

func TestUpdate_DeleteCascades(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	lines := inv.Child("lines").Rows()
	require.Len(t, lines, 2)
	first, second := lines[0], lines[1]
	customer := rowByIndex(t, s, "customers", "name", "acme")
	require.Equal(t, []*Row{inv}, customer.Referrers("Invoice|customer"))

	mustUpdate(t, s, Del(At(inv)))

	assert.False(t, inv.Alive())
	assert.False(t, first.Alive())
	assert.False(t, second.Alive())
	assert.Equal(t, 0, s.Dataset("invoices").Len())
	assert.Nil(t, s.Dataset("invoices").FindIndexedRow("number", "INV-1"))
	assert.Empty(t, customer.Referrers("Invoice|customer"))
	assert.Nil(t, first.Link("invoice"))
}

func TestUpdate_DeleteClearsLinksToRow(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	customer := rowByIndex(t, s, "customers", "name", "acme")
	stamp := inv.Stamp()

	mustUpdate(t, s, Del(At(customer)))

	assert.Nil(t, inv.Link("customer"))
	assert.Equal(t, 0.0, val(inv, "discount"))
	assert.Equal(t, 13.0, val(inv, "net"))
	assert.Greater(t, inv.Stamp(), stamp)
}

func TestUpdate_Clear(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	mustUpdate(t, s, Clear("invoices.lines"))

	assert.Equal(t, 0, inv.Child("lines").Len())
	assert.Equal(t, 0.0, val(inv, "total"))
	assert.Equal(t, int64(0), val(inv, "lineCount"))
}

func TestUpdate_InsertRenumbers(t *testing.T) {
	s := newBillingStore(t)
	mustUpdate(t, s,
		Add("customers", map[string]any{"name": "a"}),
		Add("customers", map[string]any{"name": "b"}),
	)
	ds := s.Dataset("customers")
	b := ds.Row(1)
	stamp := b.Stamp()

	mustUpdate(t, s, Insert("customers", 1, map[string]any{"name": "x"}))

	var names []any
	for _, r := range ds.Rows() {
		names = append(names, val(r, "name"))
	}
	assert.Equal(t, []any{"a", "x", "b"}, names)
	assert.Equal(t, 2, b.Index())
	assert.Equal(t, int64(2), val(b, "__rowIndex"))
	assert.Equal(t, int64(3), val(b, "__rowNo"))
	assert.Greater(t, b.Stamp(), stamp)
	assert.Equal(t, 1, ds.ActiveIndex())
}

func TestUpdate_FormulaProtected(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	applied, err := s.Update([]Instruction{
		Set(ByIndex("invoices", "number", "INV-1"), map[string]any{"total": 99}),
	})
	assert.True(t, applied)
	require.Error(t, err)
	assert.True(t, IsFormulaProtected(err))

	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "total", engErr.Field)
	assert.Equal(t, 13.0, val(rowByIndex(t, s, "invoices", "number", "INV-1"), "total"))
}

func TestUpdate_InvalidInstructions(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	tests := []struct {
		name string
		in   Instruction
	}{
		{"unknown op", Instruction{Op: "upsert", Dset: "customers"}},
		{"set without row", Instruction{Op: OpSet, Values: map[string]any{"name": "x"}}},
		{"add without dset", Instruction{Op: OpAdd}},
		{"link to wrong type", Set(Active("invoices"), map[string]any{
			"customer": map[string]any{"dset": "invoices", "number": "INV-1"},
		})},
		{"link from scalar", Set(Active("invoices"), map[string]any{"customer": 42})},
		{"composite value", Set(Active("customers"), map[string]any{"name": []any{"a"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update([]Instruction{tt.in})
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidInstruction, CodeOf(err))
		})
	}
}

func TestUpdate_SkipsUnresolvedTargets(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)
	before := s.Dataset("customers").Stamp()

	mustUpdate(t, s,
		Set(ByID("customers", "nope"), map[string]any{"discount": 1}),
		Del(ByIndex("customers", "name", "nobody")),
		Add("missing", map[string]any{"name": "x"}),
		Set(Active("customers"), map[string]any{"unknown": 1}),
	)
	assert.Equal(t, before, s.Dataset("customers").Stamp())
}

func TestUpdate_SetSameValueIsNoop(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)

	customer := rowByIndex(t, s, "customers", "name", "acme")
	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	rowStamp, invStamp := customer.Stamp(), inv.Stamp()
	states := customer.FieldStates()

	mustUpdate(t, s, Set(At(customer), map[string]any{"name": "acme", "discount": 0.1}))

	assert.Equal(t, rowStamp, customer.Stamp())
	assert.Equal(t, invStamp, inv.Stamp())
	assert.Equal(t, states, customer.FieldStates())

	// Values are coerced before the comparison.
	mustUpdate(t, s, Set(At(inv.Child("lines").Row(0)), map[string]any{"qty": "2"}))
	assert.Equal(t, invStamp, inv.Stamp())
}

func TestUpdate_DeferFormula(t *testing.T) {
	s := newTestStore(t, []ir.TypeDecl{{
		Name: "Chain",
		Fields: []ir.FieldDecl{
			field("a", ir.TypeInt),
			calc("b", ir.TypeInt, "a + 1"),
		},
	}})
	_, err := s.AddDataset("chain", "Chain")
	require.NoError(t, err)

	applied, err := s.Update([]Instruction{Add("chain", map[string]any{"a": 1})}, DeferFormula())
	require.NoError(t, err)
	require.True(t, applied)
	row := s.Dataset("chain").ActiveRow()
	assert.Equal(t, int64(0), val(row, "b"))

	require.NoError(t, s.RecalcFormulas())
	assert.Equal(t, int64(2), val(row, "b"))
}

func TestUpdate_LinkLookupField(t *testing.T) {
	decls := billingDecls()
	decls[1].Fields = append(decls[1].Fields, ir.FieldDecl{
		Name:            "customerName",
		Type:            ir.TypeString,
		LinkLookupField: "customer",
		LinkSrcName:     "customers",
		LinkIndexName:   "name",
	})
	s := newTestStore(t, decls)
	for name, typ := range map[string]string{"customers": "Customer", "invoices": "Invoice"} {
		_, err := s.AddDataset(name, typ)
		require.NoError(t, err)
	}
	mustUpdate(t, s,
		Add("customers", map[string]any{"name": "acme", "discount": 0.25}),
		Add("customers", map[string]any{"name": "globex", "discount": 0.5}),
		Add("invoices", map[string]any{"number": "1", "customerName": "acme"}),
	)
	inv := s.Dataset("invoices").ActiveRow()
	assert.Equal(t, "acme", val(inv.Link("customer"), "name"))
	assert.InDelta(t, 0.25, val(inv, "discount"), 1e-9)

	mustUpdate(t, s, Set(At(inv), map[string]any{"customerName": "globex"}))
	assert.Equal(t, "globex", val(inv.Link("customer"), "name"))
	assert.InDelta(t, 0.5, val(inv, "discount"), 1e-9)

	mustUpdate(t, s, Set(At(inv), map[string]any{"customerName": "nobody"}))
	assert.Nil(t, inv.Link("customer"))
	assert.Equal(t, 0.0, val(inv, "discount"))
}

func TestUpdate_Validation(t *testing.T) {
	decls := billingDecls()
	decls[0].Fields[0].Required = true
	decls[2].RowValidator = func(r ir.FieldReader) (bool, string) {
		if q, _ := r.Field("qty").(ir.Int); q <= 0 {
			return false, "qty must be positive"
		}
		return true, ""
	}
	s := newTestStore(t, decls)
	for name, typ := range map[string]string{"customers": "Customer", "invoices": "Invoice"} {
		_, err := s.AddDataset(name, typ)
		require.NoError(t, err)
	}

	mustUpdate(t, s, Add("customers", nil))
	customer := s.Dataset("customers").ActiveRow()
	assert.False(t, customer.AllFieldsValid())
	assert.Equal(t, FieldState{Valid: false, Message: "name is required"}, customer.FieldState("name"))

	mustUpdate(t, s, Set(At(customer), map[string]any{"name": "acme"}))
	assert.True(t, customer.AllFieldsValid())
	assert.True(t, customer.FieldState("name").Valid)

	mustUpdate(t, s,
		Add("invoices", map[string]any{"number": "1"}),
		Add("invoices.lines", map[string]any{"price": 2.0}),
	)
	line := s.FindDataset("invoices.lines", nil).ActiveRow()
	assert.Equal(t, FieldState{Valid: false, Message: "qty must be positive"}, line.RowState())

	mustUpdate(t, s, Set(At(line), map[string]any{"qty": 3}))
	assert.True(t, line.RowState().Valid)
}

func TestUpdate_LookupCheckField(t *testing.T) {
	hints := ir.UIHints{"Customer": {"name": {Title: "Name", LookupInput: true}}}
	sch, err := schema.Build(billingDecls(), schema.WithUIHints(hints), schema.WithLogger(discardLogger()))
	require.NoError(t, err)
	s := New(sch, WithIDGenerator(testutil.NewSequentialIDs("")), WithLogger(discardLogger()))
	_, err = s.AddDataset("customers", "Customer")
	require.NoError(t, err)

	mustUpdate(t, s, Add("customers", map[string]any{"name": "acme"}))
	row := s.Dataset("customers").ActiveRow()
	assert.Equal(t, "acme", val(row, "__chk_name"))

	mustUpdate(t, s, Set(At(row), map[string]any{"name": "globex"}))
	assert.Equal(t, "globex", val(row, "__chk_name"))

	// The check field itself accepts writes.
	mustUpdate(t, s, Set(At(row), map[string]any{"__chk_name": "typing"}))
	assert.Equal(t, "typing", val(row, "__chk_name"))
	assert.Equal(t, "globex", val(row, "name"))
}

func TestUpdate_Flags(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)
	payload, err := s.Unload(UnloadOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Load(payload, LoadOptions{MarkLoaded: true}))

	customer := rowByIndex(t, s, "customers", "name", "acme")
	inv := rowByIndex(t, s, "invoices", "number", "INV-1")
	line := inv.Child("lines").Row(0)
	assert.Equal(t, FlagLoaded, customer.Flag())
	assert.Equal(t, FlagLoaded, inv.Flag())
	assert.Equal(t, FlagLoaded, line.Flag())

	// A child update marks its owner updated.
	mustUpdate(t, s, Set(At(line), map[string]any{"qty": 7}))
	assert.Equal(t, FlagUpdated, line.Flag())
	assert.Equal(t, FlagUpdated, inv.Flag())
	assert.Equal(t, FlagLoaded, customer.Flag())

	// New rows stay new on further sets.
	mustUpdate(t, s, Add("customers", map[string]any{"name": "globex"}))
	globex := rowByIndex(t, s, "customers", "name", "globex")
	assert.Equal(t, FlagNew, globex.Flag())
	mustUpdate(t, s, Set(At(globex), map[string]any{"discount": 0.3}))
	assert.Equal(t, FlagNew, globex.Flag())

	// Removing a loaded row logs it.
	mustUpdate(t, s, Del(At(customer)), Del(At(globex)))
	assert.Equal(t, []*Row{customer}, s.Dataset("customers").Deleted())
}

func TestTargetRows_UnknownKindPanics(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)
	inv := rowByIndex(t, s, "invoices", "number", "INV-1")

	fv := *inv.Type().Field("total").Sources[0]
	fv.Kind = 0
	assert.Panics(t, func() { targetRows(&fv, inv) })
}

func TestRow_Aggregate(t *testing.T) {
	s := newBillingStore(t)
	seedBilling(t, s)
	inv := rowByIndex(t, s, "invoices", "number", "INV-1")

	assert.Equal(t, ir.Int(3), inv.Aggregate(formula.AggSum, "lines", "qty"))
	assert.Equal(t, ir.Float(3), inv.Aggregate(formula.AggMin, "lines", "price"))
	assert.Equal(t, ir.Int(2), inv.Aggregate(formula.AggCount, "lines", "invoice"))
	assert.Equal(t, ir.Int(0), inv.Aggregate(formula.AggCount, "missing", "qty"))
}
