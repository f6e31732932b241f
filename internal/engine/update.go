package engine

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ilmimris/restate/internal/ir"
	"github.com/ilmimris/restate/internal/schema"
)

// Update applies batch in order, then recalculates every affected formula
// until no value changes.
//
// The first result is false only when AtVersion carried a stale version;
// the store is then left untouched and err is nil. Once admitted, a failing
// call returns true and the error. Instructions applied before the failure
// stay applied and propagation may be incomplete, so callers must treat
// such an error as fatal for the data involved.
//
// Rows or datasets that do not resolve are skipped. Malformed
// instructions, writes to formula fields, and link values of the wrong
// type fail the call, as does propagation exceeding the pass or row bound.
func (s *DataStore) Update(batch []Instruction, opts ...CallOption) (bool, error) {
	cfg := newCallConfig(opts)
	start := time.Now()

	if !s.version.admit(cfg.version) {
		s.logger.Debug("stale update ignored",
			"observed", *cfg.version,
			"version", s.Version(),
		)
		s.observe(UpdateStats{Instructions: len(batch), Duration: time.Since(start)})
		return false, nil
	}

	u := &updater{
		s:            s,
		budget:       newPassBudget(s.maxIterations, s.maxRows),
		deferFormula: cfg.deferFormula,
		frontier:     newFrontier(),
	}
	err := u.run(batch)

	st := UpdateStats{
		Instructions: len(batch),
		Applied:      true,
		Passes:       u.budget.Passes(),
		Rows:         u.budget.Rows(),
		Duration:     time.Since(start),
		Err:          err,
	}
	switch code := CodeOf(err); {
	case err == nil:
		s.logger.Debug("update applied",
			"version", s.Version(),
			"instructions", len(batch),
			"passes", st.Passes,
			"rows", st.Rows,
		)
	case code == ErrCodeIterationLimit || code == ErrCodeRowLimit:
		s.logger.Error("recalculation circuit breaker tripped",
			"passes", st.Passes,
			"max_passes", s.maxIterations,
			"max_rows", s.maxRows,
			"error", err,
			"event", strings.ToLower(string(code)),
		)
	default:
		s.logger.Warn("update failed",
			"instructions", len(batch),
			"error", err,
		)
	}
	s.observe(st)
	return true, err
}

func (s *DataStore) observe(st UpdateStats) {
	if s.observer != nil {
		s.observer.UpdateFinished(st)
	}
}

// frontier is the set of (row, formula field) pairs awaiting evaluation,
// in first-seen order.
type frontier struct {
	rows   []*Row
	fields map[*Row][]*schema.Field
}

func newFrontier() *frontier {
	return &frontier{fields: make(map[*Row][]*schema.Field)}
}

func (f *frontier) add(r *Row, field *schema.Field) {
	fields, seen := f.fields[r]
	if !seen {
		f.rows = append(f.rows, r)
	}
	if slices.Contains(fields, field) {
		return
	}
	f.fields[r] = append(fields, field)
}

func (f *frontier) live() []*Row {
	out := make([]*Row, 0, len(f.rows))
	for _, r := range f.rows {
		if r.alive {
			out = append(out, r)
		}
	}
	return out
}

type computed struct {
	row   *Row
	field *schema.Field
	value ir.Value
}

// updater carries the state of one admitted Update call.
type updater struct {
	s            *DataStore
	budget       *passBudget
	deferFormula bool
	frontier     *frontier
}

func (u *updater) run(batch []Instruction) error {
	for i, in := range batch {
		if err := u.apply(in); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, in, err)
		}
	}

	for len(u.frontier.rows) > 0 {
		pending := u.frontier
		u.frontier = newFrontier()

		rows := pending.live()
		if len(rows) == 0 {
			break
		}
		if err := u.budget.Check(len(rows)); err != nil {
			return err
		}
		// Evaluate the whole pass against the same state, then write back.
		var results []computed
		for _, r := range rows {
			for _, f := range pending.fields[r] {
				v := ir.Coerce(f.Type, f.Program.Eval(r))
				if !sameValue(r.Field(f.Name), v) {
					results = append(results, computed{row: r, field: f, value: v})
				}
			}
		}
		for _, res := range results {
			if res.row.alive {
				u.setField(res.row, res.field, res.value)
			}
		}
	}
	return nil
}

func (u *updater) apply(in Instruction) error {
	switch in.Op {
	case OpSet, OpDel:
		row, err := u.row(in)
		if err != nil {
			return err
		}
		if row == nil {
			u.s.logger.Debug("instruction skipped: row not found", "instruction", in.String())
			return nil
		}
		if in.Op == OpDel {
			u.del(row, false)
			return nil
		}
		return u.set(row, in.Values)

	case OpAdd, OpInsert, OpClear:
		ds, err := u.dataset(in)
		if err != nil {
			return err
		}
		if ds == nil {
			u.s.logger.Debug("instruction skipped: dataset not found", "instruction", in.String())
			return nil
		}
		if in.Op == OpClear {
			u.clear(ds)
			return nil
		}
		return u.add(ds, in.Before, in.Values)

	default:
		return invalidInstruction("unknown instruction %q", in.Op)
	}
}

// owner resolves the instruction's owner row. The second result is false
// when an owner was given but does not resolve.
func (u *updater) owner(p *RowPath) (*Row, bool) {
	if p == nil {
		return nil, true
	}
	r := u.s.FindRow(*p, nil)
	return r, r != nil
}

func (u *updater) row(in Instruction) (*Row, error) {
	if in.Row == nil && in.Dset == "" {
		return nil, invalidInstruction("%s needs a row", in.Op)
	}
	owner, ok := u.owner(in.Owner)
	if !ok {
		return nil, nil
	}
	if in.Row == nil {
		return u.s.FindRow(Active(in.Dset), owner), nil
	}
	return u.s.FindRow(*in.Row, owner), nil
}

func (u *updater) dataset(in Instruction) (*Dataset, error) {
	if in.Dset == "" {
		return nil, invalidInstruction("%s needs a dset", in.Op)
	}
	ownerPath := in.Owner
	if ownerPath == nil {
		ownerPath = in.Row
	}
	owner, ok := u.owner(ownerPath)
	if !ok {
		return nil, nil
	}
	return u.s.FindDataset(in.Dset, owner), nil
}

// set assigns values to row in field declaration order. Dataset fields,
// unknown names and system fields are ignored.
func (u *updater) set(row *Row, values map[string]any) error {
	for name := range values {
		if row.typ.Field(name) == nil {
			u.s.logger.Debug("unknown field ignored", "type", row.typ.Name, "field", name)
		}
	}
	for _, f := range row.typ.Fields() {
		raw, ok := values[f.Name]
		if !ok {
			continue
		}
		switch {
		case f.IsDataset():
		case f.System && f.CheckFor == "":
		case f.IsFormula():
			return &Error{
				Code:    ErrCodeFormulaProtected,
				Dataset: row.dataset.name,
				Field:   f.Name,
				Message: "formula fields are computed and cannot be set",
			}
		case f.IsLink():
			target, err := u.s.resolveLinkValue(f.Target.Name, raw)
			if err != nil {
				return &Error{
					Code:    ErrCodeInvalidInstruction,
					Dataset: row.dataset.name,
					Field:   f.Name,
					Message: err.Error(),
				}
			}
			u.setLink(row, f, target)
		default:
			v, err := ir.FromAny(raw)
			if err != nil {
				return &Error{
					Code:    ErrCodeInvalidInstruction,
					Dataset: row.dataset.name,
					Field:   f.Name,
					Message: err.Error(),
				}
			}
			u.setField(row, f, ir.Coerce(f.Type, v))
		}
	}
	return nil
}

func (u *updater) setField(row *Row, f *schema.Field, v ir.Value) {
	if row.setValue(f, v) {
		u.changed(row, f)
	}
}

func (u *updater) setLink(row *Row, f *schema.Field, target *Row) {
	if row.links[f.Name] == target {
		return
	}
	row.link(f.Name, target)
	row.validateField(f)
	u.changed(row, f)
}

// changed records a mutation of field f on row.
func (u *updater) changed(row *Row, f *schema.Field) {
	row.touch()
	row.markChanged()
	row.validateRow()
	if f.LinkLookupField != "" {
		u.lookup(row, f)
	}
	u.collect(row, f)
}

// lookup retargets the link field driven by lookup field f.
func (u *updater) lookup(row *Row, f *schema.Field) {
	link := row.typ.Field(f.LinkLookupField)
	src := u.s.lookupSource(f.LinkSrcName, link.Target)
	index := f.LinkIndexName
	if index == "" {
		index = link.Target.DefaultIndex
	}

	var target *Row
	if v := row.Field(f.Name); src != nil && index != "" && !ir.IsNull(v) {
		target = src.FindIndexedRow(index, ir.ToAny(v))
	}
	if target != nil && !target.typ.IsOfType(link.Target.Name) {
		target = nil
	}
	u.setLink(row, link, target)
}

// lookupSource returns the named dataset, or the first top-level dataset
// holding rows of typ when no name is given.
func (s *DataStore) lookupSource(name string, typ *schema.Type) *Dataset {
	if name != "" {
		return s.FindDataset(name, nil)
	}
	for _, n := range s.order {
		if ds := s.datasets[n]; ds.typ.IsOfType(typ.Name) {
			return ds
		}
	}
	return nil
}

// collect queues every formula that depends on field f of row.
func (u *updater) collect(row *Row, f *schema.Field) {
	if u.deferFormula {
		return
	}
	for _, fv := range f.Targets {
		u.enqueue(fv, row)
	}
	if owner := row.Owner(); owner != nil {
		for _, fv := range f.ContextTargets[schema.ContextKey(owner.typ.Name, row.dataset.name)] {
			u.enqueue(fv, row)
		}
	}
}

func (u *updater) enqueue(fv *schema.FVar, changed *Row) {
	for _, r := range targetRows(fv, changed) {
		u.frontier.add(r, fv.Target)
	}
}

// targetRows returns the rows whose formula fv.Target must be recomputed
// after fv.Source changed on row changed.
func targetRows(fv *schema.FVar, changed *Row) []*Row {
	switch fv.Kind {
	case schema.RelOwn:
		return []*Row{changed}
	case schema.RelLink:
		return changed.Referrers(fv.ReferrerKey())
	case schema.RelChild:
		owner := changed.Owner()
		if owner == nil || fv.ContextKey() != schema.ContextKey(owner.typ.Name, changed.dataset.name) {
			return nil
		}
		return []*Row{owner}
	default:
		panic(fmt.Sprintf("engine: unhandled relation kind %v", fv.Kind))
	}
}

// add creates a row with default values in ds, then applies values to it.
func (u *updater) add(ds *Dataset, before *int, values map[string]any) error {
	row := newRow(u.s.ids.Generate(), ds)
	ds.insert(row, before)
	row.linkOwner()
	row.syncLookupChecks()
	row.setFlag(FlagNew)
	row.validateFields(false)
	row.validateRow()
	row.touch()

	if !u.deferFormula {
		for _, f := range row.typ.FormulaOrder() {
			u.frontier.add(row, f)
		}
		if owner := row.Owner(); owner != nil {
			key := schema.ContextKey(owner.typ.Name, ds.name)
			for _, f := range row.typ.Fields() {
				for _, fv := range f.ContextTargets[key] {
					u.frontier.add(owner, fv.Target)
				}
			}
		}
	}
	return u.set(row, values)
}

// del removes row and everything below it. Rows linking to it lose the
// link. recursing is set for rows removed along with their owner.
func (u *updater) del(row *Row, recursing bool) {
	for _, f := range row.typ.Fields() {
		if !f.IsDataset() {
			continue
		}
		child := row.children[f.Name]
		for i := len(child.rows) - 1; i >= 0; i-- {
			u.del(child.rows[i], true)
		}
	}

	if !u.deferFormula {
		var ctx string
		if owner := row.Owner(); owner != nil && !recursing {
			ctx = schema.ContextKey(owner.typ.Name, row.dataset.name)
		}
		for _, f := range row.typ.Fields() {
			for _, fv := range f.Targets {
				if fv.Kind != schema.RelOwn {
					u.enqueue(fv, row)
				}
			}
			if ctx != "" {
				for _, fv := range f.ContextTargets[ctx] {
					u.enqueue(fv, row)
				}
			}
		}
	}

	for _, ref := range referringRows(row) {
		for _, f := range ref.typ.Fields() {
			if f.IsLink() && ref.links[f.Name] == row {
				u.setLink(ref, f, nil)
			}
		}
	}
	for name := range row.links {
		row.link(name, nil)
	}

	owner := row.Owner()
	row.stamp++
	row.dataset.remove(row)
	if owner != nil && !recursing {
		owner.markChanged()
	}
}

func (u *updater) clear(ds *Dataset) {
	for i := len(ds.rows) - 1; i >= 0; i-- {
		u.del(ds.rows[i], false)
	}
}

// referringRows returns every row linking to r, ordered by id.
func referringRows(r *Row) []*Row {
	seen := make(map[*Row]bool)
	var out []*Row
	for _, set := range r.referrers {
		for _, ref := range set {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	slices.SortFunc(out, func(a, b *Row) int { return strings.Compare(a.id, b.id) })
	return out
}

// sameValue reports whether two stored values are indistinguishable.
// Int 1 and Float 1 differ here even though ir.Equal accepts them.
func sameValue(a, b ir.Value) bool {
	a, b = ir.Or(a), ir.Or(b)
	return a.Kind() == b.Kind() && ir.Equal(a, b)
}
