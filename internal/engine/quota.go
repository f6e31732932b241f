package engine

import "fmt"

const (
	// DefaultMaxIterations bounds the recalculation passes of one call.
	DefaultMaxIterations = 20

	// DefaultMaxRows bounds the rows recalculated in a single pass.
	DefaultMaxRows = 1000
)

// passBudget enforces the recalculation circuit breaker.
//
// The schema builder accepts dependency cycles across links and child
// datasets, so these limits are the only guarantee that a call terminates.
type passBudget struct {
	maxPasses int
	maxRows   int
	passes    int
	rows      int
}

func newPassBudget(maxPasses, maxRows int) *passBudget {
	return &passBudget{maxPasses: maxPasses, maxRows: maxRows}
}

// Check accounts for one pass over the given number of rows.
func (b *passBudget) Check(rows int) error {
	b.passes++
	if b.passes > b.maxPasses {
		return &Error{
			Code:    ErrCodeIterationLimit,
			Message: fmt.Sprintf("formula propagation did not settle within %d passes", b.maxPasses),
			Details: map[string]string{
				"passes":     fmt.Sprintf("%d", b.passes),
				"max_passes": fmt.Sprintf("%d", b.maxPasses),
			},
		}
	}
	if rows > b.maxRows {
		return &Error{
			Code:    ErrCodeRowLimit,
			Message: fmt.Sprintf("formula propagation touched %d rows in one pass (limit %d)", rows, b.maxRows),
			Details: map[string]string{
				"rows":     fmt.Sprintf("%d", rows),
				"max_rows": fmt.Sprintf("%d", b.maxRows),
				"pass":     fmt.Sprintf("%d", b.passes),
			},
		}
	}
	b.rows += rows
	return nil
}

// Passes returns the number of passes accounted so far.
func (b *passBudget) Passes() int { return b.passes }

// Rows returns the rows recalculated over all accepted passes.
func (b *passBudget) Rows() int { return b.rows }
