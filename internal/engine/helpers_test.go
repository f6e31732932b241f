package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
	"github.com/ilmimris/restate/internal/testutil"
)

func field(name string, t ir.FieldType) ir.FieldDecl {
	return ir.FieldDecl{Name: name, Type: t}
}

func calc(name string, t ir.FieldType, text string) ir.FieldDecl {
	return ir.FieldDecl{Name: name, Type: t, Formula: text}
}

func ref(name string, t ir.FieldType, target string) ir.FieldDecl {
	return ir.FieldDecl{Name: name, Type: t, Dataset: target}
}

// billingDecls: customers, invoices linking to them, and invoice lines
// owned by the invoice.
func billingDecls() []ir.TypeDecl {
	return []ir.TypeDecl{
		{
			Name:    "Customer",
			Indexes: []string{"name"},
			Fields: []ir.FieldDecl{
				field("name", ir.TypeString),
				field("discount", ir.TypeFloat),
			},
		},
		{
			Name:    "Invoice",
			Indexes: []string{"number"},
			Fields: []ir.FieldDecl{
				field("number", ir.TypeString),
				ref("customer", ir.TypeLink, "Customer"),
				calc("discount", ir.TypeFloat, "customer.discount"),
				ref("lines", ir.TypeDataset, "Line"),
				calc("total", ir.TypeFloat, "sum(lines.amount)"),
				calc("lineCount", ir.TypeInt, "count(lines.qty)"),
				calc("net", ir.TypeFloat, "total * (1 - discount)"),
			},
		},
		{
			Name:        "Line",
			ParentField: "invoice",
			Fields: []ir.FieldDecl{
				ref("invoice", ir.TypeLink, "Invoice"),
				field("qty", ir.TypeInt),
				field("price", ir.TypeFloat),
				calc("amount", ir.TypeFloat, "qty * price"),
			},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, decls []ir.TypeDecl, opts ...Option) *DataStore {
	t.Helper()
	sch, err := schema.Build(decls, schema.WithLogger(discardLogger()))
	require.NoError(t, err)
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("")),
		WithLogger(discardLogger()),
	}
	return New(sch, append(base, opts...)...)
}

// newBillingStore registers "customers" and "invoices".
func newBillingStore(t *testing.T, opts ...Option) *DataStore {
	t.Helper()
	s := newTestStore(t, billingDecls(), opts...)
	_, err := s.AddDataset("customers", "Customer")
	require.NoError(t, err)
	_, err = s.AddDataset("invoices", "Invoice")
	require.NoError(t, err)
	return s
}

// seedBilling adds customer acme (discount 0.1) and invoice INV-1 with two
// lines: 2 x 5.0 and 1 x 3.0.
func seedBilling(t *testing.T, s *DataStore) {
	t.Helper()
	mustUpdate(t, s,
		Add("customers", map[string]any{"name": "acme", "discount": 0.1}),
		Add("invoices", map[string]any{
			"number":   "INV-1",
			"customer": map[string]any{"dset": "customers", "name": "acme"},
		}),
		Add("invoices.lines", map[string]any{"qty": 2, "price": 5.0}),
		Add("invoices.lines", map[string]any{"qty": 1, "price": 3.0}),
	)
}

func mustUpdate(t *testing.T, s *DataStore, batch ...Instruction) {
	t.Helper()
	applied, err := s.Update(batch)
	require.NoError(t, err)
	require.True(t, applied)
}

// val reads a field as a plain value.
func val(r *Row, name string) any {
	return ir.ToAny(r.Field(name))
}

func rowByIndex(t *testing.T, s *DataStore, dset, field string, value any) *Row {
	t.Helper()
	ds := s.FindDataset(dset, nil)
	require.NotNil(t, ds, "dataset %s", dset)
	r := ds.FindIndexedRow(field, value)
	require.NotNil(t, r, "%s[%s=%v]", dset, field, value)
	return r
}
