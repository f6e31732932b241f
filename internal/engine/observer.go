package engine

import "time"

// UpdateStats summarizes one Update call.
type UpdateStats struct {
	Instructions int
	// Applied is false when the call was rejected as stale.
	Applied bool
	// Passes counts recalculation passes; Rows the rows evaluated in them.
	Passes   int
	Rows     int
	Duration time.Duration
	Err      error
}

// Observer receives the outcome of every Update call. Implementations must
// not call back into the store.
type Observer interface {
	UpdateFinished(UpdateStats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(UpdateStats)

// UpdateFinished implements Observer.
func (f ObserverFunc) UpdateFinished(st UpdateStats) { f(st) }
