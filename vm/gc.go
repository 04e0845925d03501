package vm

import "github.com/chazu/tierup/pkg/value"

// ---------------------------------------------------------------------------
// Collector cooperation
// ---------------------------------------------------------------------------

// SlotVisitor receives the strong references a CodeBlock holds. One
// visitor is used per collection cycle; cycle IDs start at 1.
type SlotVisitor interface {
	CycleID() uint64
	Append(v value.Value)
	AppendCell(c value.CellID)
}

// Liveness answers whether a cell survived the current cycle.
type Liveness interface {
	IsLive(c value.CellID) bool
}

// LiveSet is a Liveness over an explicit set of cells.
type LiveSet map[value.CellID]bool

// IsLive implements Liveness.
func (s LiveSet) IsLive(c value.CellID) bool { return s[c] }

// MarkVisitor is a SlotVisitor that records every reported cell.
type MarkVisitor struct {
	Cycle  uint64
	Marked LiveSet
}

// NewMarkVisitor creates a visitor for cycle.
func NewMarkVisitor(cycle uint64) *MarkVisitor {
	return &MarkVisitor{Cycle: cycle, Marked: make(LiveSet)}
}

// CycleID implements SlotVisitor.
func (m *MarkVisitor) CycleID() uint64 { return m.Cycle }

// Append implements SlotVisitor.
func (m *MarkVisitor) Append(v value.Value) {
	if v.IsCell() {
		m.Marked[v.Cell()] = true
	}
}

// AppendCell implements SlotVisitor.
func (m *MarkVisitor) AppendCell(c value.CellID) { m.Marked[c] = true }

// ShouldImmediatelyAssumeLivenessDuringScan reports whether the weak
// references of cb are marked strongly. Baseline code has nothing to
// lose by keeping its references alive; optimized code with weak
// references instead dies with them.
func (cb *CodeBlock) ShouldImmediatelyAssumeLivenessDuringScan() bool {
	if cb.jitType != OptimizedJIT {
		return true
	}
	return len(cb.weakReferences()) == 0
}

func (cb *CodeBlock) weakReferences() []value.CellID {
	if cb.payload == nil || cb.payload.SideTable == nil {
		return nil
	}
	return cb.payload.SideTable.WeakRefs
}

// VisitAggregate reports the references of cb to v. A block is visited
// at most once per cycle; later calls with the same cycle are no-ops.
func (cb *CodeBlock) VisitAggregate(v SlotVisitor) {
	cycle := v.CycleID()
	for {
		last := cb.lastVisitedCycle.Load()
		if last == cycle {
			return
		}
		if cb.lastVisitedCycle.CompareAndSwap(last, cycle) {
			break
		}
	}

	v.AppendCell(cb.executable.Cell)
	cb.stronglyVisitStrongReferences(v)
	if cb.ShouldImmediatelyAssumeLivenessDuringScan() {
		cb.stronglyVisitWeakReferences(v)
	}
	if cb.alternative != nil {
		cb.alternative.VisitAggregate(v)
	}
	if r := cb.replacement.Load(); r != nil && r != cb {
		r.VisitAggregate(v)
	}
}

func (cb *CodeBlock) stronglyVisitStrongReferences(v SlotVisitor) {
	for _, c := range cb.constants {
		v.Append(c)
	}
	for _, fn := range cb.unlinked.FunctionDecls {
		for _, c := range fn.Constants {
			v.Append(c)
		}
	}
	for _, fn := range cb.unlinked.FunctionExprs {
		for _, c := range fn.Constants {
			v.Append(c)
		}
	}
}

func (cb *CodeBlock) stronglyVisitWeakReferences(v SlotVisitor) {
	for _, c := range cb.weakReferences() {
		v.AppendCell(c)
	}
}

// FinalizeUnconditionally runs after marking. Optimized code whose weak
// references died is jettisoned, and inline caches and call links that
// point at dead cells are cleared.
func (cb *CodeBlock) FinalizeUnconditionally(l Liveness) {
	if cb.jitType == OptimizedJIT && !cb.ShouldImmediatelyAssumeLivenessDuringScan() && !cb.IsJettisoned() {
		for _, c := range cb.weakReferences() {
			if !l.IsLive(c) {
				cb.Jettison("weak reference died")
				break
			}
		}
	}

	for _, s := range cb.stubs {
		if s.VisitWeak(l) {
			log.Debugf("%s: cleared inline cache at bc#%d", cb, s.BytecodeOffset)
		}
	}
	for _, c := range cb.callLinks {
		if c.VisitWeak(l) {
			log.Debugf("%s: unlinked call at bc#%d", cb, c.BytecodeOffset)
		}
	}
}
