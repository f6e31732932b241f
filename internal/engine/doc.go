// Package engine holds the in-memory data of a restate store and keeps its
// formula fields up to date.
//
// ARCHITECTURE:
//
// Ownership:
// A DataStore owns its top-level Datasets, a Dataset owns its Rows, and a
// Row owns the Datasets of its dataset fields. Links are non-owning: the
// linking row keeps a pointer, the linked row keeps a referrer table keyed
// "<referringType>|<linkField>". Both ends change in the same step.
//
// Update Flow:
//  1. The version guard admits or silently rejects the call
//  2. Instructions (set, del, add, insert, clear) apply in order
//  3. Every changed field queues its dependants: own edges on the same row,
//     link edges on the referrers, child edges on the owner row
//  4. One pass evaluates the queued formulas against the current state
//  5. Values that changed are written back and queue their dependants
//  6. Steps 4-5 repeat until nothing changes
//
// Circuit Breaker:
// The schema accepts formula cycles that run through links or child
// datasets. A call fails with ITERATION_LIMIT after 20 passes and with
// ROW_LIMIT when one pass touches more than 1000 rows (both configurable).
//
// Persistence Flags:
// Rows are flagged Loaded, New or Updated. A child becoming New or Updated
// marks its owner Updated. Removed Loaded/Updated rows go to the dataset's
// deleted log, so Unload can emit a differential payload.
//
// Thread-safety: single logical writer. Nothing in this package locks.
package engine
