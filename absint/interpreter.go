package absint

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/alioth/bytecode"
)

// ErrAnalysisFailed is returned when analysis hits a structural
// inconsistency (stack underflow, merge depth mismatch, region
// underflow, undecodable code). The caller falls back to a fully boxed
// compilation strategy for the function; there are no partial results.
var ErrAnalysisFailed = errors.New("absint: analysis failed")

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter performs the abstract interpretation of one function. It
// owns every Value and Source it creates; nothing it produces may be
// shared with another function's analysis. Use one Interpreter per
// function and per goroutine.
type Interpreter struct {
	fn *bytecode.Function

	// Decoded program
	instrs map[int]bytecode.Instruction
	order  []int // instruction offsets in code order

	// Preprocessed control-flow facts
	regions     []Block       // all protected regions
	breakTo     map[int]Block // OpBreakLoop offset -> innermost enclosing loop
	jumpTargets map[int]bool

	// Analysis state
	startStates map[int]*State
	entryDepth  map[int]int // setup offset -> stack depth entering the region
	returnValue Value
	sources     []Source       // arena: released together when analysis ends
	sourceCache map[int]Source // producer offset -> its source, stable across revisits
	queue       []int
	queued      map[int]bool
	analyzed    bool
}

// NewInterpreter creates an interpreter for one function.
func NewInterpreter(fn *bytecode.Function) *Interpreter {
	return &Interpreter{
		fn:          fn,
		instrs:      make(map[int]bytecode.Instruction),
		breakTo:     make(map[int]Block),
		jumpTargets: make(map[int]bool),
		startStates: make(map[int]*State),
		entryDepth:  make(map[int]int),
		sourceCache: make(map[int]Source),
		queued:      make(map[int]bool),
	}
}

// Function returns the function under analysis.
func (i *Interpreter) Function() *bytecode.Function { return i.fn }

// Interpret runs the analysis to its fixed point. On success every
// reachable instruction has exactly one start state; on failure all
// results are discarded and the error wraps ErrAnalysisFailed.
func (i *Interpreter) Interpret() (err error) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(fault)
			if !ok {
				panic(r)
			}
			i.startStates = make(map[int]*State)
			i.analyzed = false
			err = fmt.Errorf("%w: %s", ErrAnalysisFailed, f.msg)
		}
	}()

	if err := i.preprocess(); err != nil {
		return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	if len(i.order) == 0 {
		return fmt.Errorf("%w: empty code", ErrAnalysisFailed)
	}

	i.startStates[0] = i.entryState()
	i.schedule(0)
	for len(i.queue) > 0 {
		off := i.queue[0]
		i.queue = i.queue[1:]
		i.queued[off] = false
		i.run(off)
	}
	i.analyzed = true
	return nil
}

// entryState builds the state at offset 0: parameter slots typed from
// their declared tags, every other local definitely unassigned, empty
// operand stack.
func (i *Interpreter) entryState() *State {
	s := NewState(i.fn.NumLocals)
	for p := 0; p < i.fn.NumParams && p < i.fn.NumLocals; p++ {
		tag := bytecode.TagObject
		if p < len(i.fn.Params) {
			tag = i.fn.Params[p]
		}
		src := i.newLocalSource(FrameProducer, p)
		s.ReplaceLocal(p, NewLocalInfo(ValueWithSource{Value: paramValue(tag), Source: src}, false))
	}
	return s
}

func paramValue(t bytecode.Tag) Value {
	switch t {
	case bytecode.TagNil:
		return Of(KindNil)
	case bytecode.TagBool:
		return Of(KindBool)
	case bytecode.TagInt:
		return Of(KindInteger)
	case bytecode.TagFloat:
		return Of(KindFloat)
	case bytecode.TagString:
		return Of(KindString)
	case bytecode.TagBytes:
		return Of(KindBytes)
	default:
		return Any
	}
}

// ---------------------------------------------------------------------------
// Preprocessing
// ---------------------------------------------------------------------------

// preprocess decodes the instruction stream and records, in one scan,
// the protected-region spans (pairing each setup with its pop-block),
// the loop each break escapes, and the set of jump targets.
func (i *Interpreter) preprocess() error {
	instrs, err := bytecode.Decode(i.fn.Code)
	if err != nil {
		return err
	}
	for _, in := range instrs {
		i.instrs[in.Index] = in
		i.order = append(i.order, in.Index)
	}

	var scan BlockStack
	for _, in := range instrs {
		switch in.Op {
		case bytecode.OpSetupLoop:
			scan.Push(Block{
				Kind:       BlockLoop,
				Setup:      in.Index,
				Start:      in.Next(),
				End:        in.Arg,
				Handler:    NoHandler,
				ContinueTo: in.Next(),
			})
			i.jumpTargets[in.Arg] = true
		case bytecode.OpSetupExcept:
			scan.Push(Block{
				Kind:    BlockExcept,
				Setup:   in.Index,
				Start:   in.Next(),
				Handler: in.Arg,
			})
			i.jumpTargets[in.Arg] = true
		case bytecode.OpSetupFinally:
			scan.Push(Block{
				Kind:    BlockFinally,
				Setup:   in.Index,
				Start:   in.Next(),
				Handler: in.Arg,
			})
			i.jumpTargets[in.Arg] = true
		case bytecode.OpPopBlock:
			if scan.Len() == 0 {
				return fmt.Errorf("POP_BLOCK at %d with no open region", in.Index)
			}
			b := scan.Pop()
			if b.End == 0 {
				b.End = in.Next()
			}
			i.regions = append(i.regions, b)
		case bytecode.OpBreakLoop:
			loop, ok := scan.InnermostLoop()
			if !ok {
				return fmt.Errorf("BREAK_LOOP at %d outside any loop", in.Index)
			}
			i.breakTo[in.Index] = loop
			i.jumpTargets[loop.End] = true
		case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
			bytecode.OpForIter, bytecode.OpContinueLoop:
			i.jumpTargets[in.Arg] = true
		}
	}
	for scan.Len() > 0 {
		b := scan.Pop()
		if b.End == 0 {
			b.End = len(i.fn.Code)
		}
		i.regions = append(i.regions, b)
	}

	for target := range i.jumpTargets {
		if _, ok := i.instrs[target]; !ok {
			return fmt.Errorf("jump target %d is not an instruction boundary", target)
		}
	}

	// Outermost first, so blocksAt can rebuild nesting in push order.
	sort.SliceStable(i.regions, func(a, b int) bool {
		ra, rb := i.regions[a], i.regions[b]
		if ra.Start != rb.Start {
			return ra.Start < rb.Start
		}
		return ra.End > rb.End
	})
	return nil
}

// blocksAt reconstructs the region nesting active at an offset. A
// worklist run can begin mid-region, so nesting is derived from the
// static region table rather than carried along every path.
func (i *Interpreter) blocksAt(offset int) BlockStack {
	var bs BlockStack
	for _, r := range i.regions {
		if r.Contains(offset) {
			bs.Push(r)
		}
	}
	return bs
}

// regionDepth returns the operand stack depth recorded when the region
// was entered. The setup instruction dominates everything inside the
// region, so the depth is always on record by the time it is needed.
func (i *Interpreter) regionDepth(b Block) int {
	d, ok := i.entryDepth[b.Setup]
	if !ok {
		faultf("absint: region at %d entered before its setup was analyzed", b.Setup)
	}
	return d
}

// ---------------------------------------------------------------------------
// Worklist traversal
// ---------------------------------------------------------------------------

func (i *Interpreter) schedule(offset int) {
	if !i.queued[offset] {
		i.queued[offset] = true
		i.queue = append(i.queue, offset)
	}
}

// updateStartState merges a propagated state into the stored start
// state for an instruction, reporting whether the stored state changed
// (or was newly created).
func (i *Interpreter) updateStartState(newState *State, index int) bool {
	existing, ok := i.startStates[index]
	if !ok {
		i.startStates[index] = newState.Fork()
		return true
	}
	return existing.MergeWith(newState)
}

// mergeInto propagates a state to a jump target and schedules the
// target if its stored state changed.
func (i *Interpreter) mergeInto(target int, st *State) {
	if _, ok := i.instrs[target]; !ok {
		faultf("absint: jump target %d is not an instruction boundary", target)
	}
	if i.updateStartState(st, target) {
		i.schedule(target)
	}
}

// run walks linearly from the given offset, applying instruction
// semantics, until the path ends or the fall-through state stops
// changing.
func (i *Interpreter) run(offset int) {
	cur := i.startStates[offset].Fork()
	for {
		in, ok := i.instrs[offset]
		if !ok {
			faultf("absint: execution reached non-instruction offset %d", offset)
		}
		if !i.step(in, cur) {
			return
		}
		next := in.Next()
		if next >= len(i.fn.Code) {
			faultf("absint: control falls off the end of the code at %d", in.Index)
		}
		if !i.updateStartState(cur, next) {
			return
		}
		cur = i.startStates[next].Fork()
		offset = next
	}
}

// ---------------------------------------------------------------------------
// Instruction semantics
// ---------------------------------------------------------------------------

// step applies one instruction's abstract semantics to cur, merging
// into any jump successors. It returns false when the linear path ends.
func (i *Interpreter) step(in bytecode.Instruction, cur *State) bool {
	at := in.Index
	switch in.Op {
	case bytecode.OpNop, bytecode.OpPopBlock, bytecode.OpPopExcept:
		// No stack effect; regions are tracked statically.

	case bytecode.OpPop:
		i.consume(cur, at, 1)

	case bytecode.OpDup:
		v := cur.PopNoEscape()
		cur.Push(v)
		cur.Push(v)

	case bytecode.OpSwap:
		a := cur.PopNoEscape()
		b := cur.PopNoEscape()
		cur.Push(a)
		cur.Push(b)

	case bytecode.OpLoadConst:
		if in.Arg >= len(i.fn.Constants) {
			faultf("absint: constant index %d out of range at %d", in.Arg, at)
		}
		c := i.fn.Constants[in.Arg]
		cur.Push(ValueWithSource{Value: NewConstValue(c), Source: i.newConstSource(at, in.Arg)})

	case bytecode.OpLoadLocal:
		info := cur.Local(in.Arg)
		v := info.ValueInfo.Value
		if v.Kind() == KindUndefined {
			// Reading an unbound slot raises at runtime; if execution
			// continues the value could be anything.
			v = Any
		}
		cur.Push(ValueWithSource{Value: v, Source: i.newLocalSource(at, in.Arg)})

	case bytecode.OpStoreLocal:
		v := i.consume(cur, at, 1)[0]
		cur.ReplaceLocal(in.Arg, NewLocalInfo(v, false))

	case bytecode.OpDeleteLocal:
		cur.ReplaceLocal(in.Arg, UndefinedLocal())

	case bytecode.OpLoadGlobal:
		i.pushResult(cur, at, Any)

	case bytecode.OpStoreGlobal:
		i.consume(cur, at, 1)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		ops := i.take(cur, at, 2)
		i.pushResult(cur, at, binaryResult(in.Op, ops[0].Value, ops[1].Value))

	case bytecode.OpNeg:
		v := i.take(cur, at, 1)[0]
		if v.Value.Kind().IsNumeric() {
			i.pushResult(cur, at, Of(v.Value.Kind()))
		} else {
			i.pushResult(cur, at, Any)
		}

	case bytecode.OpNot:
		i.take(cur, at, 1)
		i.pushResult(cur, at, Of(KindBool))

	case bytecode.OpCompare:
		i.take(cur, at, 2)
		i.pushResult(cur, at, Of(KindBool))

	case bytecode.OpBuildList:
		i.consume(cur, at, in.Arg)
		i.pushResult(cur, at, NewSequenceValue(KindList, in.Arg))

	case bytecode.OpBuildTuple:
		i.consume(cur, at, in.Arg)
		i.pushResult(cur, at, NewSequenceValue(KindTuple, in.Arg))

	case bytecode.OpBuildSet:
		i.consume(cur, at, in.Arg)
		i.pushResult(cur, at, NewSequenceValue(KindSet, in.Arg))

	case bytecode.OpBuildMap:
		i.consume(cur, at, 2*in.Arg)
		i.pushResult(cur, at, NewSequenceValue(KindDict, in.Arg))

	case bytecode.OpSubscr:
		i.consume(cur, at, 2)
		i.pushResult(cur, at, Any)

	case bytecode.OpStoreSubscr:
		i.consume(cur, at, 3)

	case bytecode.OpGetIter:
		i.take(cur, at, 1)
		i.pushResult(cur, at, Of(KindIterator))

	case bytecode.OpForIter:
		// Exhaustion path: iterator popped, jump to the exit.
		exit := cur.Fork()
		exit.PopNoEscape()
		i.mergeInto(in.Arg, exit)
		// Iteration path: iterator stays, next element pushed.
		i.pushResult(cur, at, Any)

	case bytecode.OpCall:
		i.consume(cur, at, in.Arg+1)
		i.pushResult(cur, at, Any)

	case bytecode.OpJump:
		i.mergeInto(in.Arg, cur)
		return false

	case bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
		i.take(cur, at, 1)
		i.mergeInto(in.Arg, cur)

	case bytecode.OpSetupLoop:
		i.entryDepth[at] = cur.StackDepth()

	case bytecode.OpSetupExcept, bytecode.OpSetupFinally:
		i.entryDepth[at] = cur.StackDepth()
		// The handler begins with the protected depth plus the current
		// exception (or the finally reason) on the stack.
		hs := cur.Fork()
		hs.Push(ValueWithSource{Value: Of(KindObject), Source: i.newIntermediateSource(at)})
		i.mergeInto(in.Arg, hs)

	case bytecode.OpEndFinally:
		i.consume(cur, at, 1)

	case bytecode.OpBreakLoop:
		loop, ok := i.breakTo[at]
		if !ok {
			faultf("absint: BREAK_LOOP at %d has no recorded loop", at)
		}
		st := cur.Fork()
		i.trimStack(st, i.regionDepth(loop))
		i.mergeInto(loop.End, st)
		return false

	case bytecode.OpContinueLoop:
		bs := i.blocksAt(at)
		loop, ok := bs.InnermostLoop()
		if !ok {
			faultf("absint: CONTINUE_LOOP at %d outside any loop", at)
		}
		st := cur.Fork()
		if target, exists := i.startStates[in.Arg]; exists {
			i.trimStack(st, target.StackDepth())
		} else {
			i.trimStack(st, i.regionDepth(loop))
		}
		i.mergeInto(in.Arg, st)
		return false

	case bytecode.OpRaise:
		i.consume(cur, at, 1)
		i.unwind(cur, at)
		return false

	case bytecode.OpReturn:
		v := i.consume(cur, at, 1)[0]
		i.returnValue = Merge(i.returnValue, v.Value)
		return false

	default:
		faultf("absint: unsupported opcode %s at %d", in.Op, at)
	}
	return true
}

// unwind transfers the raising state at the given offset to the
// innermost active handler, restoring the protected depth and pushing
// the current-exception value. Without a handler the function exits via
// exception: the state at the raise point stays on record, but the walk
// does not continue past it.
func (i *Interpreter) unwind(cur *State, at int) {
	bs := i.blocksAt(at)
	blk, ok := bs.InnermostHandler(at)
	if !ok {
		return
	}
	hs := cur.Fork()
	i.trimStack(hs, i.regionDepth(blk))
	hs.Push(ValueWithSource{Value: Of(KindObject), Source: i.newIntermediateSource(at)})
	i.mergeInto(blk.Handler, hs)
}

// trimStack discards values above the target depth, releasing the
// per-region temporaries an abnormal exit abandons.
func (i *Interpreter) trimStack(s *State, depth int) {
	if s.StackDepth() < depth {
		faultf("absint: stack depth %d below region entry depth %d", s.StackDepth(), depth)
	}
	for s.StackDepth() > depth {
		s.PopNoEscape()
	}
}

// binaryResult infers the kind produced by a binary arithmetic opcode.
func binaryResult(op bytecode.Opcode, left, right Value) Value {
	lk, rk := left.Kind(), right.Kind()
	if lk.IsNumeric() && rk.IsNumeric() {
		if op == bytecode.OpDiv {
			return Of(KindFloat)
		}
		return Of(mergeKinds(lk, rk))
	}
	if op == bytecode.OpAdd && lk == rk {
		switch lk {
		case KindString, KindBytes, KindList, KindTuple:
			return Of(lk)
		}
	}
	return Any
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

// take pops n operands without marking escape (the consumer becomes the
// new source) and records their consumption. The result is in operand
// order: index 0 is the deepest of the popped group.
func (i *Interpreter) take(s *State, at, n int) []ValueWithSource {
	return i.popOperands(s, at, n, false)
}

// consume pops n operands marking them escaped (they leave the tracked
// stack into instruction semantics) and records their consumption.
func (i *Interpreter) consume(s *State, at, n int) []ValueWithSource {
	return i.popOperands(s, at, n, true)
}

func (i *Interpreter) popOperands(s *State, at, n int, escapes bool) []ValueWithSource {
	vals := make([]ValueWithSource, n)
	for k := n - 1; k >= 0; k-- {
		if escapes {
			vals[k] = s.Pop()
		} else {
			vals[k] = s.PopNoEscape()
		}
	}
	for pos, v := range vals {
		if v.Source != nil {
			v.Source.recordConsumer(at, pos)
		}
	}
	return vals
}

// pushResult pushes an intermediate result produced by the instruction.
func (i *Interpreter) pushResult(s *State, at int, v Value) {
	s.Push(ValueWithSource{Value: v, Source: i.newIntermediateSource(at)})
}

// ---------------------------------------------------------------------------
// Source arena
// ---------------------------------------------------------------------------

// Sources are cached by producing offset so a revisited instruction
// hands out the same identity it did on earlier passes; otherwise every
// loop iteration of the fixed point would look like a provenance
// disagreement and merge the source away. Each offset produces at most
// one tracked value. Parameter sources share the FrameProducer offset
// and bypass the cache; the entry state is built exactly once.

func (i *Interpreter) newLocalSource(at, slot int) Source {
	if at != FrameProducer {
		if s, ok := i.sourceCache[at]; ok {
			return s
		}
	}
	s := &LocalSource{baseSource: baseSource{producer: at}, Slot: slot}
	i.sources = append(i.sources, s)
	if at != FrameProducer {
		i.sourceCache[at] = s
	}
	return s
}

func (i *Interpreter) newConstSource(at, index int) Source {
	if s, ok := i.sourceCache[at]; ok {
		return s
	}
	s := &ConstSource{baseSource: baseSource{producer: at}, Index: index}
	i.sources = append(i.sources, s)
	i.sourceCache[at] = s
	return s
}

func (i *Interpreter) newIntermediateSource(at int) Source {
	if s, ok := i.sourceCache[at]; ok {
		return s
	}
	s := &IntermediateSource{baseSource: baseSource{producer: at}}
	i.sources = append(i.sources, s)
	i.sourceCache[at] = s
	return s
}

// ---------------------------------------------------------------------------
// Result queries
// ---------------------------------------------------------------------------

// Analyzed reports whether Interpret has completed successfully.
func (i *Interpreter) Analyzed() bool { return i.analyzed }

// StateAt returns the interpreter state immediately before the
// instruction at the given offset executes.
func (i *Interpreter) StateAt(offset int) (*State, bool) {
	s, ok := i.startStates[offset]
	return s, ok
}

// StackAt returns the operand stack before the instruction at the given
// offset, bottom first.
func (i *Interpreter) StackAt(offset int) ([]ValueWithSource, bool) {
	s, ok := i.startStates[offset]
	if !ok {
		return nil, false
	}
	return s.Stack(), true
}

// LocalAt returns the state of one local slot before the instruction at
// the given offset.
func (i *Interpreter) LocalAt(offset, slot int) (LocalInfo, bool) {
	s, ok := i.startStates[offset]
	if !ok || slot < 0 || slot >= i.fn.NumLocals {
		return LocalInfo{}, false
	}
	return s.Local(slot), true
}

// ReturnValue returns the join of the values at the top of the stack at
// every reached return instruction, or Undefined when no return was
// reached.
func (i *Interpreter) ReturnValue() Value {
	if i.returnValue == nil {
		return Undefined
	}
	return i.returnValue
}

// CanSkipLastiUpdate reports whether instruction-pointer bookkeeping
// can be elided for the instruction at the given offset: the update is
// observable only when the opcode can raise mid-instruction.
func (i *Interpreter) CanSkipLastiUpdate(offset int) bool {
	in, ok := i.instrs[offset]
	return ok && !in.Op.CanRaise()
}

// Instructions returns the decoded logical instructions in code order.
func (i *Interpreter) Instructions() []bytecode.Instruction {
	out := make([]bytecode.Instruction, 0, len(i.order))
	for _, off := range i.order {
		out = append(out, i.instrs[off])
	}
	return out
}
