package harness

import "github.com/ilmimris/restate/internal/engine"

// StepOutcome records what one step did.
type StepOutcome struct {
	Step    int    `json:"step"`
	Name    string `json:"name,omitempty"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"` // engine error code
	Passes  int    `json:"passes"`
	Rows    int    `json:"rows"`
	Version int64  `json:"version"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Steps holds one outcome per executed step, in order.
	Steps []StepOutcome `json:"steps"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Data is the final unload, loaded rows included.
	Data engine.StdPayload `json:"data,omitempty"`

	// Store is the final store, for callers that inspect it further.
	Store *engine.DataStore `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepOutcome{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
