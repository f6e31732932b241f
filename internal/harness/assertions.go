package harness

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Target   string // Row or dataset the assertion looked at
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Target != "" {
		fmt.Fprintf(&buf, " on %s", e.Target)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// floatTolerance absorbs rounding differences between a hand-written
// expectation and a computed float.
const floatTolerance = 1e-9

// EvaluateAssertions evaluates all assertions against the store.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(s *engine.DataStore, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFieldEquals:
			err = assertFieldEquals(s, assertion)
		case AssertRowCount:
			err = assertRowCount(s, assertion)
		case AssertLinkAbsent:
			err = assertLinkAbsent(s, assertion)
		case AssertFixedPoint:
			err = assertFixedPoint(s)
		case AssertIndexConsistent:
			err = assertIndexConsistent(s)
		case AssertRowValid:
			err = assertRowValid(s, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func findRow(s *engine.DataStore, a Assertion) (*engine.Row, error) {
	if a.Row == nil {
		return nil, fmt.Errorf("%s assertion requires a row", a.Type)
	}
	r := s.FindRow(*a.Row, nil)
	if r == nil {
		return nil, &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: "row to exist",
			Actual:   "row not found",
		}
	}
	return r, nil
}

// assertFieldEquals compares an elementary field after converting the
// expected value to the field's type.
func assertFieldEquals(s *engine.DataStore, a Assertion) error {
	r, err := findRow(s, a)
	if err != nil {
		return err
	}
	f := r.Type().Field(a.Field)
	if f == nil || !f.IsElementary() {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: fmt.Sprintf("elementary field %q", a.Field),
			Actual:   fmt.Sprintf("no such field on %s", r.Type().Name),
		}
	}

	expected, err := ir.FromAny(a.Value)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", a.Type, err)
	}
	expected = ir.Coerce(f.Type, expected)
	actual := r.Field(a.Field)
	if !valuesMatch(expected, actual) {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: fmt.Sprintf("%s = %v", a.Field, ir.ToAny(expected)),
			Actual:   fmt.Sprintf("%s = %v", a.Field, ir.ToAny(actual)),
		}
	}
	return nil
}

func valuesMatch(expected, actual ir.Value) bool {
	if ir.Equal(expected, actual) {
		return true
	}
	e, ok1 := expected.(ir.Float)
	a, ok2 := actual.(ir.Float)
	if !ok1 || !ok2 {
		return false
	}
	diff := math.Abs(float64(e) - float64(a))
	return diff <= floatTolerance*math.Max(1, math.Abs(float64(e)))
}

func assertRowCount(s *engine.DataStore, a Assertion) error {
	ds := s.FindDataset(a.Dset, nil)
	if ds == nil {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Dset,
			Expected: "dataset to exist",
			Actual:   "dataset not found",
		}
	}
	if ds.Len() != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Dset,
			Expected: fmt.Sprintf("%d rows", *a.Count),
			Actual:   fmt.Sprintf("%d rows", ds.Len()),
		}
	}
	return nil
}

func assertLinkAbsent(s *engine.DataStore, a Assertion) error {
	r, err := findRow(s, a)
	if err != nil {
		return err
	}
	if f := r.Type().Field(a.Field); f == nil || !f.IsLink() {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: fmt.Sprintf("link field %q", a.Field),
			Actual:   fmt.Sprintf("no such link on %s", r.Type().Name),
		}
	}
	if target := r.Link(a.Field); target != nil {
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: fmt.Sprintf("%s to be empty", a.Field),
			Actual:   fmt.Sprintf("%s points at %s", a.Field, target.ID()),
		}
	}
	return nil
}

// assertFixedPoint recalculates every formula and requires the store
// content to stay identical.
func assertFixedPoint(s *engine.DataStore) error {
	before, err := fmapSnapshot(s)
	if err != nil {
		return err
	}
	if err := s.RecalcFormulas(); err != nil {
		return &AssertionError{
			Type:     AssertFixedPoint,
			Expected: "recalculation to settle",
			Actual:   err.Error(),
		}
	}
	after, err := fmapSnapshot(s)
	if err != nil {
		return err
	}
	if !bytes.Equal(before, after) {
		return &AssertionError{
			Type:     AssertFixedPoint,
			Expected: string(before),
			Actual:   string(after),
		}
	}
	return nil
}

func fmapSnapshot(s *engine.DataStore) ([]byte, error) {
	p := s.UnloadFmap()
	data, err := ir.MarshalCanonical(map[string]any{
		"arrFieldMap": p.ArrFieldMap,
		"data":        p.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("fixed_point: %w", err)
	}
	return data, nil
}

// assertIndexConsistent compares every index lookup against a scan, in
// every dataset of the store including child datasets.
func assertIndexConsistent(s *engine.DataStore) error {
	var check func(ds *engine.Dataset) error
	check = func(ds *engine.Dataset) error {
		for _, f := range ds.Type().Fields() {
			if !f.Indexed {
				continue
			}
			for _, r := range ds.Rows() {
				var scan int
				for _, other := range ds.Rows() {
					if ir.Equal(other.Field(f.Name), r.Field(f.Name)) {
						scan++
					}
				}
				found := ds.FindIndexedRows(f.Name, ir.ToAny(r.Field(f.Name)))
				if len(found) != scan || !containsRow(found, r) {
					return &AssertionError{
						Type:     AssertIndexConsistent,
						Target:   fmt.Sprintf("%s.%s", ds.Name(), f.Name),
						Expected: fmt.Sprintf("%d rows for %v including %s", scan, ir.ToAny(r.Field(f.Name)), r.ID()),
						Actual:   fmt.Sprintf("%d rows", len(found)),
					}
				}
			}
		}
		for _, r := range ds.Rows() {
			for _, f := range r.Type().Fields() {
				if !f.IsDataset() {
					continue
				}
				if child := r.Child(f.Name); child != nil {
					if err := check(child); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	for _, ds := range s.Datasets() {
		if err := check(ds); err != nil {
			return err
		}
	}
	return nil
}

func containsRow(rows []*engine.Row, r *engine.Row) bool {
	for _, x := range rows {
		if x == r {
			return true
		}
	}
	return false
}

func assertRowValid(s *engine.DataStore, a Assertion) error {
	r, err := findRow(s, a)
	if err != nil {
		return err
	}
	valid := r.AllFieldsValid() && r.RowState().Valid
	if valid != *a.Valid {
		actual := "valid"
		if !valid {
			actual = "invalid: " + invalidReasons(r)
		}
		return &AssertionError{
			Type:     a.Type,
			Target:   a.Row.String(),
			Expected: fmt.Sprintf("valid = %t", *a.Valid),
			Actual:   actual,
		}
	}
	return nil
}

func invalidReasons(r *engine.Row) string {
	var reasons []string
	states := r.FieldStates()
	for _, name := range ir.SortedKeys(states) {
		if st := states[name]; !st.Valid {
			reasons = append(reasons, fmt.Sprintf("%s: %s", name, st.Message))
		}
	}
	if st := r.RowState(); !st.Valid {
		reasons = append(reasons, "row: "+st.Message)
	}
	return strings.Join(reasons, "; ")
}
