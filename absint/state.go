package absint

import "fmt"

// ---------------------------------------------------------------------------
// Internal-consistency faults
// ---------------------------------------------------------------------------

// fault is panicked on structural violations (stack underflow, merge
// depth mismatch, the forbidden local state). The driver recovers it at
// the Interpret boundary and turns it into ErrAnalysisFailed; bytecode
// is assumed verified by the supplier, so a fault is a defect signal,
// not a user error.
type fault struct {
	msg string
}

func (f fault) Error() string { return f.msg }

func faultf(format string, args ...interface{}) {
	panic(fault{msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// ValueWithSource
// ---------------------------------------------------------------------------

// ValueWithSource pairs an abstract value with its optional provenance.
type ValueWithSource struct {
	Value  Value
	Source Source // nil when provenance is unknown or merged away
}

// HasSource returns true if provenance is tracked.
func (v ValueWithSource) HasSource() bool { return v.Source != nil }

// MergeWith joins the values and conservatively drops source identity
// when the two operands disagree on provenance.
func (v ValueWithSource) MergeWith(o ValueWithSource) ValueWithSource {
	src := v.Source
	if v.Source != o.Source {
		src = nil
	}
	return ValueWithSource{Value: Merge(v.Value, o.Value), Source: src}
}

// Equal compares the value structurally and the source by identity.
func (v ValueWithSource) Equal(o ValueWithSource) bool {
	if v.Source != o.Source {
		return false
	}
	if v.Value == nil || o.Value == nil {
		return v.Value == o.Value
	}
	return v.Value.Equal(o.Value)
}

// ---------------------------------------------------------------------------
// LocalInfo: a local variable's state at one program point
// ---------------------------------------------------------------------------

// LocalInfo tracks a local's abstract value plus whether the slot may be
// unbound. The reachable states are:
//
//	Kind != Undefined, MaybeUndefined = false  -- definitely assigned
//	Kind != Undefined, MaybeUndefined = true   -- assigned on some paths only
//	Kind == Undefined, MaybeUndefined = true   -- definitely unassigned
//
// Kind == Undefined with MaybeUndefined == false means the bottom value
// leaked out of the lattice; NewLocalInfo faults on it.
type LocalInfo struct {
	ValueInfo      ValueWithSource
	MaybeUndefined bool
}

// NewLocalInfo builds a LocalInfo, enforcing the state invariant.
func NewLocalInfo(v ValueWithSource, maybeUndefined bool) LocalInfo {
	if v.Value == nil {
		faultf("absint: local info with nil value")
	}
	if v.Value.Kind() == KindUndefined && !maybeUndefined {
		faultf("absint: undefined local marked definitely assigned")
	}
	return LocalInfo{ValueInfo: v, MaybeUndefined: maybeUndefined}
}

// UndefinedLocal returns the state of a slot before any assignment.
func UndefinedLocal() LocalInfo {
	return LocalInfo{
		ValueInfo:      ValueWithSource{Value: Undefined},
		MaybeUndefined: true,
	}
}

// MergeWith joins two local states: values join pointwise and the
// maybe-undefined flag propagates from either side.
func (l LocalInfo) MergeWith(o LocalInfo) LocalInfo {
	return LocalInfo{
		ValueInfo:      l.ValueInfo.MergeWith(o.ValueInfo),
		MaybeUndefined: l.MaybeUndefined || o.MaybeUndefined,
	}
}

// Equal reports structural equality.
func (l LocalInfo) Equal(o LocalInfo) bool {
	return l.MaybeUndefined == o.MaybeUndefined && l.ValueInfo.Equal(o.ValueInfo)
}

// ---------------------------------------------------------------------------
// CowLocals: copy-on-write locals vector
// ---------------------------------------------------------------------------

// cowCell is the shared backing store for CowLocals. refs counts how
// many states may reference it; it only ever grows (discarded states are
// not tracked), which makes the sharing test conservative: at worst a
// private copy is taken when none was needed.
type cowCell struct {
	items []LocalInfo
	refs  int
}

// CowLocals is a vector of LocalInfo shared by reference across
// interpreter states until a write forces a private copy. Forking is
// O(1); all other sharers are unaffected by a Replace.
type CowLocals struct {
	cell *cowCell
}

// NewCowLocals creates a vector of n definitely-unassigned slots.
func NewCowLocals(n int) CowLocals {
	items := make([]LocalInfo, n)
	for i := range items {
		items[i] = UndefinedLocal()
	}
	return CowLocals{cell: &cowCell{items: items, refs: 1}}
}

// Len returns the slot count.
func (c CowLocals) Len() int { return len(c.cell.items) }

// At returns the state of slot i.
func (c CowLocals) At(i int) LocalInfo { return c.cell.items[i] }

// Fork returns a vector sharing this one's storage.
func (c CowLocals) Fork() CowLocals {
	c.cell.refs++
	return CowLocals{cell: c.cell}
}

// Replace sets slot i, privatizing the storage first if it is shared.
func (c *CowLocals) Replace(i int, info LocalInfo) {
	if c.cell.refs > 1 {
		items := make([]LocalInfo, len(c.cell.items))
		copy(items, c.cell.items)
		c.cell.refs--
		c.cell = &cowCell{items: items, refs: 1}
	}
	c.cell.items[i] = info
}

// ---------------------------------------------------------------------------
// State: the interpreter state before one instruction executes
// ---------------------------------------------------------------------------

// State snapshots the operand stack (top at the end) and locals at one
// program point. States are created as instructions become reachable,
// mutated only by merging, and frozen once analysis terminates.
type State struct {
	stack  []ValueWithSource
	locals CowLocals
}

// NewState creates the state for a frame with n local slots: empty
// stack, all locals definitely unassigned.
func NewState(numLocals int) *State {
	return &State{locals: NewCowLocals(numLocals)}
}

// Fork returns a state with a private copy of the stack and shared
// (copy-on-write) locals, for cheap forking at branches.
func (s *State) Fork() *State {
	stack := make([]ValueWithSource, len(s.stack))
	copy(stack, s.stack)
	return &State{stack: stack, locals: s.locals.Fork()}
}

// StackDepth returns the operand stack depth.
func (s *State) StackDepth() int { return len(s.stack) }

// Stack returns the operand stack, bottom first. The slice is the
// state's own storage; callers must not mutate it.
func (s *State) Stack() []ValueWithSource { return s.stack }

// Push pushes a value.
func (s *State) Push(v ValueWithSource) {
	s.stack = append(s.stack, v)
}

// Pop removes and returns the top value, marking its source as escaped:
// the value leaves the tracked stack into instruction semantics and can
// no longer be traced by position. Faults on an empty stack.
func (s *State) Pop() ValueWithSource {
	v := s.PopNoEscape()
	if v.Source != nil {
		v.Source.escape()
	}
	return v
}

// PopNoEscape removes and returns the top value without marking escape,
// for consumers that become the value's new source. Faults on an empty
// stack.
func (s *State) PopNoEscape() ValueWithSource {
	if len(s.stack) == 0 {
		faultf("absint: stack underflow")
	}
	v := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return v
}

// Local returns the state of local slot i.
func (s *State) Local(i int) LocalInfo {
	if i < 0 || i >= s.locals.Len() {
		faultf("absint: local slot %d out of range", i)
	}
	return s.locals.At(i)
}

// ReplaceLocal sets local slot i, copy-on-write.
func (s *State) ReplaceLocal(i int, info LocalInfo) {
	if i < 0 || i >= s.locals.Len() {
		faultf("absint: local slot %d out of range", i)
	}
	s.locals.Replace(i, info)
}

// MergeWith merges the other state into this one pointwise and reports
// whether this state changed. The two stacks must have equal depth;
// anything else is a structural fault.
func (s *State) MergeWith(o *State) bool {
	if len(s.stack) != len(o.stack) {
		faultf("absint: merge depth mismatch (%d vs %d)", len(s.stack), len(o.stack))
	}
	changed := false
	for i := range s.stack {
		merged := s.stack[i].MergeWith(o.stack[i])
		if !merged.Equal(s.stack[i]) {
			s.stack[i] = merged
			changed = true
		}
	}
	for i := 0; i < s.locals.Len(); i++ {
		merged := s.locals.At(i).MergeWith(o.locals.At(i))
		if !merged.Equal(s.locals.At(i)) {
			s.locals.Replace(i, merged)
			changed = true
		}
	}
	return changed
}
