package engine

import "fmt"

// Op is the kind of an update instruction.
type Op string

const (
	OpSet    Op = "set"
	OpDel    Op = "del"
	OpAdd    Op = "add"
	OpInsert Op = "insert"
	OpClear  Op = "clear"
)

// Instruction is one step of an update batch.
//
// set and del address a row through Row (or the active row of Dset when
// Row is absent). add, insert and clear address a dataset through Dset,
// relative to Owner when given. Before is the position an inserted row
// takes; without it the row is appended.
type Instruction struct {
	Op     Op             `json:"inst" yaml:"inst"`
	Row    *RowPath       `json:"row,omitempty" yaml:"row,omitempty"`
	Dset   string         `json:"dset,omitempty" yaml:"dset,omitempty"`
	Values map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
	Before *int           `json:"before_row,omitempty" yaml:"before_row,omitempty"`
	Owner  *RowPath       `json:"owner_row,omitempty" yaml:"owner_row,omitempty"`
}

// Set builds a set instruction.
func Set(row RowPath, values map[string]any) Instruction {
	return Instruction{Op: OpSet, Row: &row, Values: values}
}

// Del builds a del instruction.
func Del(row RowPath) Instruction {
	return Instruction{Op: OpDel, Row: &row}
}

// Add builds an add instruction appending to the dataset at dset.
func Add(dset string, values map[string]any) Instruction {
	return Instruction{Op: OpAdd, Dset: dset, Values: values}
}

// Insert builds an insert instruction placing the row before position
// before.
func Insert(dset string, before int, values map[string]any) Instruction {
	return Instruction{Op: OpInsert, Dset: dset, Values: values, Before: &before}
}

// Clear builds a clear instruction.
func Clear(dset string) Instruction {
	return Instruction{Op: OpClear, Dset: dset}
}

// Under resolves the instruction's dataset relative to owner.
func (in Instruction) Under(owner RowPath) Instruction {
	in.Owner = &owner
	return in
}

func (in Instruction) String() string {
	switch in.Op {
	case OpSet, OpDel:
		if in.Row != nil {
			return fmt.Sprintf("%s %s", in.Op, in.Row)
		}
	}
	return fmt.Sprintf("%s %s", in.Op, in.Dset)
}

// CallOption configures a single store call.
type CallOption func(*callConfig)

type callConfig struct {
	version      *int64
	deferFormula bool
}

func newCallConfig(opts []CallOption) callConfig {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// AtVersion submits the call with the caller's last observed store
// version. A version older than the store's makes the call a no-op.
// Calls without AtVersion are never rejected and do not advance the
// version.
func AtVersion(v int64) CallOption {
	return func(c *callConfig) {
		c.version = &v
	}
}

// DeferFormula applies the instructions without recalculating dependants.
// Formulas stay stale until the next RecalcFormulas.
func DeferFormula() CallOption {
	return func(c *callConfig) {
		c.deferFormula = true
	}
}
