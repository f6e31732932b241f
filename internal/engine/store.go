package engine

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ilmimris/restate/internal/schema"
)

// DataStore is the registry of named datasets and the single entry point
// for mutations.
//
// Thread-safety model: a store has one logical writer. Update, Load,
// Navigate and Goto run to completion without suspension; callers that
// share a store across goroutines must serialize those calls themselves.
// Version is safe to read from any goroutine.
type DataStore struct {
	schema   *schema.Schema
	datasets map[string]*Dataset
	order    []string

	ids      IDGenerator
	version  Version
	logger   *slog.Logger
	observer Observer

	maxIterations int
	maxRows       int
}

// Option configures a DataStore.
type Option func(*DataStore)

// WithIDGenerator replaces the default UUIDv7 row ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *DataStore) {
		s.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *DataStore) {
		s.logger = l
	}
}

// WithMaxIterations bounds the recalculation passes of a single call.
//
// Default: 20 (DefaultMaxIterations)
func WithMaxIterations(n int) Option {
	return func(s *DataStore) {
		s.maxIterations = n
	}
}

// WithMaxRows bounds the rows recalculated in one pass.
//
// Default: 1000 (DefaultMaxRows)
func WithMaxRows(n int) Option {
	return func(s *DataStore) {
		s.maxRows = n
	}
}

// WithObserver reports every Update call to o.
func WithObserver(o Observer) Option {
	return func(s *DataStore) {
		s.observer = o
	}
}

// New creates an empty store over sch.
func New(sch *schema.Schema, opts ...Option) *DataStore {
	s := &DataStore{
		schema:        sch,
		datasets:      make(map[string]*Dataset),
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		maxIterations: DefaultMaxIterations,
		maxRows:       DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schema returns the schema the store was built over.
func (s *DataStore) Schema() *schema.Schema { return s.schema }

// Version returns the optimistic-concurrency version.
func (s *DataStore) Version() int64 { return s.version.Current() }

// AddDataset registers a top-level dataset of the named type. Adding a name
// twice returns the existing dataset when the types agree.
func (s *DataStore) AddDataset(name, typeName string) (*Dataset, error) {
	t := s.schema.Type(typeName)
	if t == nil {
		return nil, &Error{
			Code:    ErrCodeUnknownDataset,
			Dataset: name,
			Message: fmt.Sprintf("unknown type %q", typeName),
		}
	}
	if ds, ok := s.datasets[name]; ok {
		if ds.typ != t {
			return nil, &Error{
				Code:    ErrCodeUnknownDataset,
				Dataset: name,
				Message: fmt.Sprintf("dataset already holds %s rows, not %s", ds.typ.Name, typeName),
			}
		}
		return ds, nil
	}
	ds := newDataset(name, t, s, nil)
	s.datasets[name] = ds
	s.order = append(s.order, name)
	return ds, nil
}

// Dataset returns the named top-level dataset, or nil.
func (s *DataStore) Dataset(name string) *Dataset { return s.datasets[name] }

// Datasets returns the top-level datasets in registration order.
func (s *DataStore) Datasets() []*Dataset {
	out := make([]*Dataset, len(s.order))
	for i, name := range s.order {
		out[i] = s.datasets[name]
	}
	return out
}

// FindDataset resolves a dot-separated dataset path. The first segment
// names a top-level dataset, or a dataset field of owner when owner is
// set. Each further segment is a dataset field of the previous dataset's
// active row.
func (s *DataStore) FindDataset(path string, owner *Row) *Dataset {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	var ds *Dataset
	if owner != nil {
		ds = owner.Child(parts[0])
	} else {
		ds = s.datasets[parts[0]]
	}
	for _, part := range parts[1:] {
		if ds == nil {
			return nil
		}
		active := ds.ActiveRow()
		if active == nil {
			return nil
		}
		ds = active.Child(part)
	}
	return ds
}

// Reset empties every dataset. Registered datasets stay registered.
func (s *DataStore) Reset() {
	for _, name := range s.order {
		s.datasets[name].reset()
	}
	s.logger.Debug("store reset", "datasets", len(s.order))
}

// Navigate moves the active row of the dataset at path. The first result
// reports whether the cursor moved; a stale version leaves it in place.
func (s *DataStore) Navigate(path string, op NavOp, opts ...CallOption) (bool, error) {
	ds := s.FindDataset(path, nil)
	if ds == nil {
		return false, unknownDataset(path)
	}
	if !s.version.admit(newCallConfig(opts).version) {
		return false, nil
	}
	return ds.Navigate(op), nil
}

// Goto moves the active row of the dataset at path to the selected row.
// The first result reports whether a row is active afterwards.
func (s *DataStore) Goto(path string, target GotoTarget, opts ...CallOption) (bool, error) {
	ds := s.FindDataset(path, nil)
	if ds == nil {
		return false, unknownDataset(path)
	}
	if !s.version.admit(newCallConfig(opts).version) {
		return false, nil
	}
	return ds.Goto(target), nil
}

// RecalcFormulas evaluates every formula of every row until nothing
// changes. Child rows are evaluated before their owner. Only the iteration
// bound applies; the row bound is meant for propagation, not full sweeps.
func (s *DataStore) RecalcFormulas() error {
	budget := newPassBudget(s.maxIterations, math.MaxInt)
	for {
		count := 0
		changed := false
		for _, name := range s.order {
			for _, r := range s.datasets[name].rows {
				n, c := recalcTree(r)
				count += n
				changed = changed || c
			}
		}
		if !changed {
			return nil
		}
		if err := budget.Check(count); err != nil {
			s.logger.Error("formula recalculation did not settle",
				"passes", budget.Passes(),
				"limit", s.maxIterations,
				"event", "iteration_limit",
			)
			return err
		}
	}
}

// recalcTree recalculates r and everything below it, children first. It
// returns the number of rows visited and whether any value changed.
func recalcTree(r *Row) (int, bool) {
	count, changed := 0, false
	for _, f := range r.typ.Fields() {
		if !f.IsDataset() {
			continue
		}
		for _, child := range r.children[f.Name].rows {
			n, c := recalcTree(child)
			count += n
			changed = changed || c
		}
	}
	if r.recalc() {
		changed = true
	}
	return count + 1, changed
}

func unknownDataset(path string) *Error {
	return &Error{
		Code:    ErrCodeUnknownDataset,
		Dataset: path,
		Message: "dataset not found",
	}
}
