package store

import (
	"context"
	"fmt"

	"github.com/ilmimris/restate/internal/engine"
)

// Record is one archived record.
type Record struct {
	Dataset string
	Key     string
	Seq     int64
	Digest  string
	Fields  map[string]any
}

// Records returns the archived records of a dataset key.
// Results are ordered deterministically: ORDER BY seq ASC, record_key COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if the dataset has no records.
func (s *Store) Records(ctx context.Context, dataset string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset, record_key, seq, digest, payload
		FROM records
		WHERE dataset = ?
		ORDER BY seq ASC, record_key COLLATE BINARY ASC
	`, dataset)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var payload []byte
		if err := rows.Scan(&rec.Dataset, &rec.Key, &rec.Seq, &rec.Digest, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		fields, err := unmarshalRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("record %s %s: %w", rec.Dataset, rec.Key, err)
		}
		rec.Fields = fields
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Datasets returns the dataset keys present in the archive, sorted.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT dataset FROM records ORDER BY dataset COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	datasets := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		datasets = append(datasets, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}
	return datasets, nil
}

// Payload rebuilds a std payload from the whole archive, ready for Load.
func (s *Store) Payload(ctx context.Context) (engine.StdPayload, error) {
	datasets, err := s.Datasets(ctx)
	if err != nil {
		return nil, err
	}
	out := engine.StdPayload{}
	for _, name := range datasets {
		records, err := s.Records(ctx, name)
		if err != nil {
			return nil, err
		}
		recs := make([]map[string]any, len(records))
		for i, rec := range records {
			recs[i] = rec.Fields
		}
		out[name] = recs
	}
	return out, nil
}

// SyncEntry is one sync_log row.
type SyncEntry struct {
	Seq            int64
	SnapshotDigest string
	Upserted       int
	Deleted        int
	Unchanged      int
}

// SyncLog returns every Apply recorded in the archive, oldest first.
func (s *Store) SyncLog(ctx context.Context) ([]SyncEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, snapshot_digest, upserted, deleted, unchanged
		FROM sync_log
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sync log: %w", err)
	}
	defer rows.Close()

	entries := []SyncEntry{}
	for rows.Next() {
		var e SyncEntry
		if err := rows.Scan(&e.Seq, &e.SnapshotDigest, &e.Upserted, &e.Deleted, &e.Unchanged); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync log: %w", err)
	}
	return entries, nil
}
