package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDigestDeterminism(t *testing.T) {
	rec := map[string]any{"number": "INV-1", "total": 14.5}

	d1, err := RecordDigest(rec)
	require.NoError(t, err)
	d2, err := RecordDigest(rec)
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "RecordDigest must be deterministic")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestRecordDigestKeyOrdering(t *testing.T) {
	// Go maps don't guarantee order; canonical JSON sorts keys.
	a := map[string]any{"zebra": 1, "alpha": 2}
	b := map[string]any{"alpha": 2, "zebra": 1}

	assert.Equal(t, mustDigest(t, DomainRecord, a), mustDigest(t, DomainRecord, b))
}

func TestRecordDigestChangesWithContent(t *testing.T) {
	base := mustDigest(t, DomainRecord, map[string]any{"qty": 1})

	assert.NotEqual(t, base, mustDigest(t, DomainRecord, map[string]any{"qty": 2}))
	assert.NotEqual(t, base, mustDigest(t, DomainRecord, map[string]any{"qty": 1, "price": 0}))
	assert.NotEqual(t, base, mustDigest(t, DomainRecord, map[string]any{"qty": "1"}))
}

func TestRecordDigestNumberForms(t *testing.T) {
	// Integral floats and ints share a canonical form.
	assert.Equal(t,
		mustDigest(t, DomainRecord, map[string]any{"n": 2}),
		mustDigest(t, DomainRecord, map[string]any{"n": 2.0}),
	)
}

func TestDomainSeparation(t *testing.T) {
	v := map[string]any{"id": "test", "data": 42}
	assert.NotEqual(t, mustDigest(t, DomainRecord, v), mustDigest(t, DomainSnapshot, v))
}

func TestHashWithDomainNullSeparator(t *testing.T) {
	// "foo" + 0x00 + "bar" != "foob" + 0x00 + "ar"
	hash1 := hashWithDomain("foo", []byte("bar"))
	hash2 := hashWithDomain("foob", []byte("ar"))

	assert.NotEqual(t, hash1, hash2, "Null separator must prevent boundary confusion")
}

func TestDigestNestedPayload(t *testing.T) {
	payload := map[string][]map[string]any{
		"invoices:Invoice": {{
			"number": "INV-1",
			"lines":  []map[string]any{{"qty": 1}, {"qty": 2}},
		}},
	}
	d1 := mustDigest(t, DomainSnapshot, payload)

	payload["invoices:Invoice"][0]["lines"] = []map[string]any{{"qty": 2}, {"qty": 1}}
	assert.NotEqual(t, d1, mustDigest(t, DomainSnapshot, payload), "row order is part of the digest")
}

func TestDigestErrors(t *testing.T) {
	_, err := RecordDigest(map[string]any{"bad": math.NaN()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest")

	_, err = Digest(DomainSnapshot, map[int]any{1: "x"})
	require.Error(t, err)
}

func TestHashHexEncoding(t *testing.T) {
	id := mustDigest(t, DomainRecord, map[string]any{})
	for _, c := range id {
		valid := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		assert.True(t, valid, "Hash should only contain hex characters, got: %c", c)
	}
}

func mustDigest(t *testing.T, domain string, v any) string {
	t.Helper()
	d, err := Digest(domain, v)
	require.NoError(t, err)
	return d
}
