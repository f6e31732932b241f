package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

// ApplyResult counts what one Apply did to the archive.
type ApplyResult struct {
	// SnapshotDigest identifies the applied payload as a whole.
	SnapshotDigest string
	Upserted       int
	Deleted        int
	Unchanged      int
}

// Apply folds an unloaded payload into the archive in one transaction.
//
// keys names, per payload key, the field whose value identifies a record.
// Records marked __deleted are removed; the rest are upserted unless their
// digest matches the archived one. A record keeps its seq across updates,
// new records get the next seq. Every call appends one sync_log entry.
func (s *Store) Apply(ctx context.Context, payload engine.StdPayload, keys map[string]string) (ApplyResult, error) {
	var res ApplyResult

	digest, err := ir.Digest(ir.DomainSnapshot, payload)
	if err != nil {
		return res, fmt.Errorf("apply: %w", err)
	}
	res.SnapshotDigest = digest

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("apply: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, dataset := range ir.SortedKeys(payload) {
		keyField, ok := keys[dataset]
		if !ok || keyField == "" {
			return res, fmt.Errorf("apply: no key field for %q", dataset)
		}
		for i, rec := range payload[dataset] {
			key, err := recordKey(rec, keyField)
			if err != nil {
				return res, fmt.Errorf("apply: %s[%d]: %w", dataset, i, err)
			}
			if deleted, _ := rec[engine.FieldDeleted].(bool); deleted {
				n, err := deleteRecord(ctx, tx, dataset, key)
				if err != nil {
					return res, err
				}
				res.Deleted += n
				continue
			}
			changed, err := upsertRecord(ctx, tx, dataset, key, cleanRecord(rec))
			if err != nil {
				return res, err
			}
			if changed {
				res.Upserted++
			} else {
				res.Unchanged++
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_log (snapshot_digest, upserted, deleted, unchanged)
		VALUES (?, ?, ?, ?)
	`, res.SnapshotDigest, res.Upserted, res.Deleted, res.Unchanged)
	if err != nil {
		return res, fmt.Errorf("apply: write sync log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("apply: commit: %w", err)
	}
	return res, nil
}

func deleteRecord(ctx context.Context, tx *sql.Tx, dataset, key string) (int, error) {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM records WHERE dataset = ? AND record_key = ?
	`, dataset, key)
	if err != nil {
		return 0, fmt.Errorf("delete record %s %s: %w", dataset, key, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete record: rows affected: %w", err)
	}
	return int(n), nil
}

// upsertRecord writes rec unless the archived digest already matches.
func upsertRecord(ctx context.Context, tx *sql.Tx, dataset, key string, rec map[string]any) (bool, error) {
	digest, err := ir.RecordDigest(rec)
	if err != nil {
		return false, fmt.Errorf("record %s %s: %w", dataset, key, err)
	}

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT digest FROM records WHERE dataset = ? AND record_key = ?
	`, dataset, key).Scan(&current)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, fmt.Errorf("read digest %s %s: %w", dataset, key, err)
	case current == digest:
		return false, nil
	}

	payload, err := marshalRecord(rec)
	if err != nil {
		return false, err
	}

	// seq survives the conflict branch: only digest and payload change.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (dataset, record_key, seq, digest, payload)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records), ?, ?)
		ON CONFLICT(dataset, record_key) DO UPDATE SET
			digest = excluded.digest,
			payload = excluded.payload
	`, dataset, key, digest, payload)
	if err != nil {
		return false, fmt.Errorf("upsert record %s %s: %w", dataset, key, err)
	}
	return true, nil
}
