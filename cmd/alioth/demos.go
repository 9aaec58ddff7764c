package main

import (
	"github.com/chazu/alioth/bytecode"
)

// demos maps names to builders for small functions that exercise the
// analyzer's interesting paths.
var demos = map[string]func() *bytecode.Function{
	"arith":  demoArith,
	"loop":   demoLoop,
	"maybe":  demoMaybe,
	"except": demoExcept,
}

// demoArith multiplies two int parameters and adds a constant; every
// arithmetic instruction should come back unboxed.
func demoArith() *bytecode.Function {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpLoadLocal, 1)
	a.Emit(bytecode.OpMul, 0)
	a.LoadConst(bytecode.IntConst(42))
	a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpReturn, 0)
	return a.FunctionTyped("arith", []bytecode.Tag{bytecode.TagInt, bytecode.TagInt}, 2)
}

// demoLoop sums an int accumulator with a float inside a loop; the
// accumulator's kind widens to number at the loop head.
func demoLoop() *bytecode.Function {
	a := bytecode.NewAssembler()
	exit := a.NewLabel()
	head := a.NewLabel()
	after := a.NewLabel()

	a.LoadConst(bytecode.IntConst(0))
	a.Emit(bytecode.OpStoreLocal, 0)
	a.EmitJump(bytecode.OpSetupLoop, after)
	a.Mark(head)
	a.Emit(bytecode.OpLoadLocal, 0)
	a.LoadConst(bytecode.IntConst(100))
	a.Emit(bytecode.OpCompare, bytecode.CmpLt)
	a.EmitJump(bytecode.OpJumpIfFalse, exit)
	a.Emit(bytecode.OpLoadLocal, 0)
	a.LoadConst(bytecode.FloatConst(0.5))
	a.Emit(bytecode.OpAdd, 0)
	a.Emit(bytecode.OpStoreLocal, 0)
	a.EmitJump(bytecode.OpJump, head)
	a.Mark(exit)
	a.Emit(bytecode.OpPopBlock, 0)
	a.Mark(after)
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpReturn, 0)
	return a.Function("loop", 0, 1)
}

// demoMaybe assigns a local on only one branch, so the read below the
// join sees maybe-undefined.
func demoMaybe() *bytecode.Function {
	a := bytecode.NewAssembler()
	join := a.NewLabel()

	a.Emit(bytecode.OpLoadLocal, 0)
	a.EmitJump(bytecode.OpJumpIfFalse, join)
	a.LoadConst(bytecode.IntConst(1))
	a.Emit(bytecode.OpStoreLocal, 1)
	a.Mark(join)
	a.Emit(bytecode.OpLoadLocal, 1)
	a.Emit(bytecode.OpReturn, 0)
	return a.FunctionTyped("maybe", []bytecode.Tag{bytecode.TagBool}, 2)
}

// demoExcept wraps a call in a try region; the handler discards the
// exception and returns a fallback constant.
func demoExcept() *bytecode.Function {
	a := bytecode.NewAssembler()
	handler := a.NewLabel()
	done := a.NewLabel()

	a.EmitJump(bytecode.OpSetupExcept, handler)
	a.Emit(bytecode.OpLoadGlobal, 0)
	a.Emit(bytecode.OpCall, 0)
	a.Emit(bytecode.OpStoreLocal, 0)
	a.Emit(bytecode.OpPopBlock, 0)
	a.EmitJump(bytecode.OpJump, done)
	a.Mark(handler)
	a.Emit(bytecode.OpPop, 0)
	a.LoadConst(bytecode.IntConst(-1))
	a.Emit(bytecode.OpStoreLocal, 0)
	a.Emit(bytecode.OpPopExcept, 0)
	a.Mark(done)
	a.Emit(bytecode.OpLoadLocal, 0)
	a.Emit(bytecode.OpReturn, 0)
	return a.Function("except", 0, 1)
}
