// Package ir provides the foundational value model and declaration types
// for restate.
//
// This package contains type definitions and pure conversion helpers only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Value is a sealed interface: Null, String, Int, Float, Date, Bool.
//   - Bool never lands in a field; it only exists while a formula runs.
//   - Field assignment always goes through Coerce, so a field holds either
//     Null or a value of its declared elementary type.
//   - Dates travel as "2006-01-02 15:04:05" strings at the wire boundary.
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for digests and golden snapshots.
package ir
