package wire

import (
	"bytes"
	"testing"

	"github.com/chazu/alioth/absint"
	"github.com/chazu/alioth/bytecode"
)

func arithFunction() *bytecode.Function {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpLoadLocal, 1)
	a.Emit(bytecode.OpMul, 0)
	a.LoadConst(bytecode.IntConst(42))
	a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpReturn, 0)
	return a.FunctionTyped("arith", []bytecode.Tag{bytecode.TagInt, bytecode.TagInt}, 2)
}

func TestFunction_CBORRoundTrip(t *testing.T) {
	fn := arithFunction()

	data, err := MarshalFunction(fn)
	if err != nil {
		t.Fatalf("MarshalFunction: %v", err)
	}
	got, err := UnmarshalFunction(data)
	if err != nil {
		t.Fatalf("UnmarshalFunction: %v", err)
	}

	if got.Name != fn.Name {
		t.Errorf("Name: got %q, want %q", got.Name, fn.Name)
	}
	if !bytes.Equal(got.Code, fn.Code) {
		t.Error("Code mismatch")
	}
	if len(got.Constants) != len(fn.Constants) {
		t.Errorf("Constants: got %d, want %d", len(got.Constants), len(fn.Constants))
	}
	if got.NumLocals != fn.NumLocals || got.NumParams != fn.NumParams {
		t.Error("frame metadata mismatch")
	}
	if got.ContentHash() != fn.ContentHash() {
		t.Error("content hash changed across the wire")
	}
}

func TestMarshalFunction_Deterministic(t *testing.T) {
	fn := arithFunction()
	d1, err := MarshalFunction(fn)
	if err != nil {
		t.Fatalf("MarshalFunction: %v", err)
	}
	d2, err := MarshalFunction(fn)
	if err != nil {
		t.Fatalf("MarshalFunction: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Error("canonical encoding should be byte-stable")
	}
}

func TestSummarize(t *testing.T) {
	fn := arithFunction()
	interp := absint.NewInterpreter(fn)
	if err := interp.Interpret(); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	g, err := absint.NewGraph(interp)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	s := Summarize(interp, g)
	if s.FunctionName != "arith" {
		t.Errorf("name: got %q", s.FunctionName)
	}
	if s.FunctionHash != fn.ContentHash() {
		t.Error("hash mismatch")
	}
	if s.Instructions != 6 {
		t.Errorf("instructions: got %d, want 6", s.Instructions)
	}
	if s.ReturnKind != "int" {
		t.Errorf("return kind: got %q, want int", s.ReturnKind)
	}
	if len(s.Unboxed) == 0 {
		t.Error("int arithmetic should produce unboxed offsets")
	}
	if len(s.Edges) == 0 {
		t.Error("expected value-flow edges")
	}
}

func TestSummary_CBORRoundTrip(t *testing.T) {
	fn := arithFunction()
	interp := absint.NewInterpreter(fn)
	if err := interp.Interpret(); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	g, err := absint.NewGraph(interp)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	s := Summarize(interp, g)

	data, err := MarshalSummary(s)
	if err != nil {
		t.Fatalf("MarshalSummary: %v", err)
	}
	got, err := UnmarshalSummary(data)
	if err != nil {
		t.Fatalf("UnmarshalSummary: %v", err)
	}

	if got.FunctionHash != s.FunctionHash {
		t.Error("hash mismatch")
	}
	if got.ReturnKind != s.ReturnKind {
		t.Errorf("return kind: got %q, want %q", got.ReturnKind, s.ReturnKind)
	}
	if len(got.Edges) != len(s.Edges) {
		t.Errorf("edges: got %d, want %d", len(got.Edges), len(s.Edges))
	}
	if len(got.Unboxed) != len(s.Unboxed) {
		t.Errorf("unboxed: got %d, want %d", len(got.Unboxed), len(s.Unboxed))
	}
}
