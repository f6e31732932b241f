// Package harness runs conformance scenarios against a DataStore.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: invoice_totals
//	description: "Line edits propagate to the invoice total"
//	schema: ../schemas/billing      # CUE directory, or inline `types:`
//	datasets: {customers: Customer} # added to the datasets the schema declares
//	data:
//	  std:
//	    customers:Customer: [{name: acme, discount: 0.25}]
//	  mark_loaded: true
//	steps:
//	  - name: add invoice
//	    batch:
//	      - {inst: add, dset: invoices, values: {number: INV-1}}
//	  - name: write a formula
//	    batch:
//	      - {inst: set, row: invoices, values: {total: 1}}
//	    expect_error: FORMULA_PROTECTED
//	assertions:
//	  - type: field_equals
//	    row: {dset: invoices, irow: {number: INV-1}}
//	    field: total
//	    value: 0
//
// Data is either a std payload (`std`) or an fmap payload (`fmap`),
// optionally read through a `mapping`.
//
// # Assertion Types
//
//   - field_equals: a field of the row at `row` holds `value`
//   - row_count: dataset path `dset` holds `count` live rows
//   - link_absent: link `field` of the row at `row` is empty
//   - fixed_point: recalculating every formula changes nothing
//   - index_consistent: every index agrees with a full scan
//   - row_valid: the row at `row` has validity `valid`
//
// # Deterministic Testing
//
// Every run uses sequential row ids and a discard logger, so identical
// scenarios produce identical unloads. RunWithGolden snapshots the step
// outcomes and the final unload as canonical JSON.
package harness
