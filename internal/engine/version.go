package engine

import "sync/atomic"

// Version is the optimistic-concurrency counter of a DataStore.
//
// A caller reads Current, composes a change and submits it with that
// version. A submission older than the counter is rejected; an accepted one
// advances the counter.
type Version struct {
	n atomic.Int64
}

// Current returns the version without advancing it.
func (v *Version) Current() int64 {
	return v.n.Load()
}

// admit applies the guard. A nil observed version always passes and leaves
// the counter untouched.
func (v *Version) admit(observed *int64) bool {
	if observed == nil {
		return true
	}
	for {
		cur := v.n.Load()
		if *observed < cur {
			return false
		}
		if v.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}
