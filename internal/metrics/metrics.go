// Package metrics exposes DataStore update activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ilmimris/restate/internal/engine"
)

const (
	namespace = "restate"
	subsystem = "engine"
)

// Update outcomes used as the "result" label.
const (
	ResultApplied = "applied"
	ResultStale   = "stale"
	ResultError   = "error"
)

// Collector records engine.UpdateStats. It implements engine.Observer.
type Collector struct {
	updates      *prometheus.CounterVec
	passes       prometheus.Histogram
	rows         prometheus.Counter
	breakerTrips *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "updates_total",
				Help:      "Update calls by result.",
			},
			[]string{"result"},
		),
		passes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "update_passes",
				Help:      "Recalculation passes per admitted update.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
			},
		),
		rows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "recalculated_rows_total",
				Help:      "Rows evaluated by recalculation passes.",
			},
		),
		breakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "breaker_trips_total",
				Help:      "Updates stopped by the recalculation circuit breaker.",
			},
			[]string{"reason"}, // "iteration_limit" or "row_limit"
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "update_duration_seconds",
				Help:      "Update call time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(c.updates, c.passes, c.rows, c.breakerTrips, c.duration)
	return c
}

// UpdateFinished implements engine.Observer.
func (c *Collector) UpdateFinished(st engine.UpdateStats) {
	result := ResultApplied
	switch {
	case !st.Applied:
		result = ResultStale
	case st.Err != nil:
		result = ResultError
	}
	c.updates.WithLabelValues(result).Inc()
	c.duration.WithLabelValues(result).Observe(st.Duration.Seconds())
	if !st.Applied {
		return
	}

	c.passes.Observe(float64(st.Passes))
	c.rows.Add(float64(st.Rows))
	switch {
	case engine.IsIterationLimit(st.Err):
		c.breakerTrips.WithLabelValues("iteration_limit").Inc()
	case engine.IsRowLimit(st.Err):
		c.breakerTrips.WithLabelValues("row_limit").Inc()
	}
}
