package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// billingSchema is the checked-in schema shared with the harness scenarios.
const billingSchema = "../../testdata/schemas/billing"

const billingData = `{
  "customers:Customer": [{"name": "acme", "discount": 0.25}],
  "invoices:Invoice": [{
    "number": "INV-1",
    "customer": {"dset": "customers", "name": "acme"},
    "lines": [{"qty": 2, "price": 5}, {"qty": 1, "price": 2}]
  }]
}`

// execute runs cmd with args and returns stdout and the error.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
