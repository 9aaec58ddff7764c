package absint

import (
	"strings"
	"testing"

	"github.com/chazu/alioth/bytecode"
)

func buildGraph(t *testing.T, fn *bytecode.Function) (*Interpreter, *Graph) {
	t.Helper()
	interp := analyze(t, fn)
	g, err := NewGraph(interp)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return interp, g
}

func TestGraph_RequiresCompletedAnalysis(t *testing.T) {
	a := bytecode.NewAssembler()
	a.LoadConst(bytecode.IntConst(1))
	a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("f", 0, 0)

	if _, err := NewGraph(NewInterpreter(fn)); err == nil {
		t.Error("graph from an unanalyzed interpreter should fail")
	}
}

func TestGraph_EdgesFollowConsumption(t *testing.T) {
	a := bytecode.NewAssembler()
	c1 := a.LoadConst(bytecode.IntConst(3))
	c2 := a.LoadConst(bytecode.IntConst(4))
	addAt := a.Emit(bytecode.OpAdd, 0)
	retAt := a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("add", 0, 0)

	_, g := buildGraph(t, fn)

	in := g.EdgesTo(addAt)
	if len(in) != 2 {
		t.Fatalf("edges into add: got %d, want 2", len(in))
	}
	// Ascending operand position: deepest operand first.
	if in[0].From != c1 || in[0].Position != 0 {
		t.Errorf("first operand: got from %d pos %d, want from %d pos 0", in[0].From, in[0].Position, c1)
	}
	if in[1].From != c2 || in[1].Position != 1 {
		t.Errorf("second operand: got from %d pos %d, want from %d pos 1", in[1].From, in[1].Position, c2)
	}

	out := g.EdgesFrom(addAt)
	if len(out) != 1 || out[0].To != retAt {
		t.Fatalf("edges out of add: got %+v, want one into the return", out)
	}
}

func TestGraph_ParamEdgeFromFrame(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpLoadLocal, 0)
	retAt := a.Emit(bytecode.OpReturn, 0)
	fn := a.FunctionTyped("id", []bytecode.Tag{bytecode.TagInt}, 1)

	_, g := buildGraph(t, fn)

	in := g.EdgesTo(retAt)
	if len(in) != 1 {
		t.Fatalf("edges into return: got %d, want 1", len(in))
	}
	// The load instruction is the producer; the frame only feeds slots.
	if in[0].From == FrameProducer {
		t.Error("stack value should trace to the load, not the frame")
	}
}

func TestGraph_ArithmeticUnboxes(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpLoadLocal, 1)
	mulAt := a.Emit(bytecode.OpMul, 0)
	c := a.LoadConst(bytecode.IntConst(42))
	addAt := a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpReturn, 0)
	fn := a.FunctionTyped("arith", []bytecode.Tag{bytecode.TagInt, bytecode.TagInt}, 2)

	_, g := buildGraph(t, fn)

	if !g.IsUnboxed(mulAt) {
		t.Error("int*int should lower natively")
	}
	if !g.IsUnboxed(addAt) {
		t.Error("int+int should lower natively")
	}
	if !g.IsUnboxed(c) {
		t.Error("a constant feeding unboxed arithmetic should load natively")
	}
	if g.ShouldBox(mulAt) {
		t.Error("ShouldBox and IsUnboxed disagree")
	}

	// mul -> add runs native end to end; add -> return crosses back.
	for _, e := range g.EdgesTo(addAt) {
		if e.From == mulAt && e.Kind != EdgeUnboxed {
			t.Errorf("mul->add: got %s, want unboxed", e.Kind)
		}
	}
	for _, e := range g.EdgesFrom(addAt) {
		if e.Kind != EdgeBox {
			t.Errorf("add->return: got %s, want box", e.Kind)
		}
	}
}

func TestGraph_EscapedValueStaysBoxed(t *testing.T) {
	a := bytecode.NewAssembler()
	c := a.LoadConst(bytecode.IntConst(5))
	a.Emit(bytecode.OpStoreLocal, 0)
	a.LoadConst(bytecode.NilConst())
	a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("store", 0, 1)

	_, g := buildGraph(t, fn)

	if g.IsUnboxed(c) {
		t.Error("a constant stored into a boxed local slot must stay boxed")
	}
	for _, e := range g.EdgesFrom(c) {
		if e.Kind != EdgeNoEscape {
			t.Errorf("const->store: got %s, want no-escape", e.Kind)
		}
	}
}

func TestGraph_NonNumericStaysBoxed(t *testing.T) {
	a := bytecode.NewAssembler()
	a.LoadConst(bytecode.StringConst("a"))
	a.LoadConst(bytecode.StringConst("b"))
	addAt := a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("concat", 0, 0)

	_, g := buildGraph(t, fn)
	if g.IsUnboxed(addAt) {
		t.Error("string concatenation has no native lowering")
	}
}

func TestGraph_LoneConstantDeoptimizes(t *testing.T) {
	a := bytecode.NewAssembler()
	c := a.LoadConst(bytecode.IntConst(1))
	a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("lone", 0, 0)

	_, g := buildGraph(t, fn)
	// The constant's only consumer is boxed; unboxing it would buy a
	// box/unbox pair for nothing.
	if g.IsUnboxed(c) {
		t.Error("constant feeding only a boxed consumer should revert")
	}
}

func TestGraph_ConditionUnboxes(t *testing.T) {
	a := bytecode.NewAssembler()
	done := a.NewLabel()
	a.Emit(bytecode.OpLoadLocal, 0)
	a.LoadConst(bytecode.IntConst(10))
	cmpAt := a.Emit(bytecode.OpCompare, bytecode.CmpLt)
	jmpAt := a.EmitJump(bytecode.OpJumpIfFalse, done)
	a.LoadConst(bytecode.NilConst())
	a.Emit(bytecode.OpReturn, 0)
	a.Mark(done)
	a.LoadConst(bytecode.NilConst())
	a.Emit(bytecode.OpReturn, 0)
	fn := a.FunctionTyped("cond", []bytecode.Tag{bytecode.TagInt}, 1)

	_, g := buildGraph(t, fn)
	if !g.IsUnboxed(cmpAt) {
		t.Error("int comparison should lower natively")
	}
	if !g.IsUnboxed(jmpAt) {
		t.Error("branch on a native bool should lower natively")
	}
	for _, e := range g.EdgesTo(jmpAt) {
		if e.Kind != EdgeUnboxed {
			t.Errorf("compare->branch: got %s, want unboxed", e.Kind)
		}
	}
}

func TestGraph_UnboxedLocalsEmpty(t *testing.T) {
	a := bytecode.NewAssembler()
	a.LoadConst(bytecode.IntConst(1))
	a.Emit(bytecode.OpStoreLocal, 0)
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpReturn, 0)
	fn := a.Function("slots", 0, 1)

	_, g := buildGraph(t, fn)
	if len(g.UnboxedLocals()) != 0 {
		t.Error("local slots are not unboxed yet")
	}
}

func TestGraph_Dot(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpLoadLocal, 1)
	a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpReturn, 0)
	fn := a.FunctionTyped("dot", []bytecode.Tag{bytecode.TagInt, bytecode.TagInt}, 2)

	_, g := buildGraph(t, fn)
	out := g.Dot()
	if !strings.HasPrefix(out, "digraph") {
		t.Fatalf("not a dot document:\n%s", out)
	}
	if !strings.Contains(out, "color=blue") {
		t.Error("unboxed instructions should render blue")
	}
	if !strings.Contains(out, "color=green") {
		t.Error("boxing edges should render green")
	}
}
