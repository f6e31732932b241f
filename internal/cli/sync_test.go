package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilmimris/restate/internal/store"
)

func syncJSON(t *testing.T, args ...string) SyncOutput {
	t.Helper()
	out, err := execute(t, NewSyncCommand(&RootOptions{Format: "json"}), args...)
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   SyncOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestSync(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "archive.db")
	data := writeFile(t, dir, "data.json", billingData)
	seed := writeFile(t, dir, "seed.json", `[
  {"inst": "add", "dset": "customers", "values": {"name": "globex", "discount": 0}}
]`)

	// Everything in --data is the baseline; only the new customer is written.
	res := syncJSON(t, billingSchema, "--db", db, "--data", data, "--batch", seed)
	assert.Equal(t, 1, res.Upserted)
	assert.Zero(t, res.Deleted)
	assert.NotEmpty(t, res.SnapshotDigest)

	// Without --data the archive is the baseline.
	reprice := writeFile(t, dir, "reprice.json", `[
  {"inst": "set", "row": {"dset": "customers", "irow": {"name": "globex"}}, "values": {"discount": 0.5}},
  {"inst": "add", "dset": "invoices", "values": {"number": "INV-9", "customer": {"dset": "customers", "name": "globex"}}},
  {"inst": "add", "dset": "invoices.lines", "values": {"qty": 2, "price": 3}}
]`)
	res = syncJSON(t, billingSchema, "--db", db, "--batch", reprice)
	assert.Equal(t, 2, res.Upserted)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	invoices, err := st.Records(ctx, "invoices:Invoice")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, `"INV-9"`, invoices[0].Key)
	assert.Equal(t, 6.0, invoices[0].Fields["total"])
	assert.Equal(t, 3.0, invoices[0].Fields["net"])
	assert.Len(t, invoices[0].Fields["lines"], 1)

	drop := writeFile(t, dir, "drop.json", `[
  {"inst": "del", "row": {"dset": "invoices", "irow": {"number": "INV-9"}}}
]`)
	res = syncJSON(t, billingSchema, "--db", db, "--batch", drop)
	assert.Equal(t, 1, res.Deleted)

	log, err := st.SyncLog(ctx)
	require.NoError(t, err)
	assert.Len(t, log, 3)
}

func TestSync_SkipsUnindexedDatasets(t *testing.T) {
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "schema")
	require.NoError(t, os.MkdirAll(schemaDir, 0755))
	writeFile(t, schemaDir, "notes.cue", `
types: Note: fields: text: type: "string"
datasets: notes: "Note"
`)
	batch := writeFile(t, dir, "batch.json", `[{"inst": "add", "dset": "notes", "values": {"text": "hi"}}]`)

	res := syncJSON(t, schemaDir, "--db", filepath.Join(dir, "a.db"), "--batch", batch)
	assert.Equal(t, []string{"notes:Note"}, res.Skipped)
	assert.Zero(t, res.Upserted)
}

func TestSync_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, NewSyncCommand(&RootOptions{Format: "text"}), billingSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)

	_, err = execute(t, NewSyncCommand(&RootOptions{Format: "text"}), billingSchema, "--db", filepath.Join(dir, "missing", "a.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open archive")
}
