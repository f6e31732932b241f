// Package store archives the records a DataStore unloads, in SQLite.
//
// The archive is the persistence side of differential sync: a store loaded
// with MarkLoaded exports only new and updated rows (plus deleted ones when
// asked), and Apply folds that delta into the archive. Records reads the
// archived rows back in a form Load accepts.
//
// # Records
//
//   - Keyed by (dataset key, record key); the record key is the canonical
//     JSON of the record's key field
//   - Stored as BSON documents next to a SHA-256 digest of their canonical
//     JSON, so re-applying an unchanged record is a no-op
//   - seq is assigned on first write and kept across updates; reads are
//     ordered by seq, then record key
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//
// Digests come from internal/ir/hash.go (canonical JSON, SHA-256, domain
// separation).
package store
