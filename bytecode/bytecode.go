package bytecode

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// Code is a sequence of two-byte units: an opcode byte followed by an
// 8-bit immediate. Opcodes that need a wider immediate are preceded by
// one or more OpWide units whose immediates supply the high bits.
type Opcode byte

// Stack Operations
const (
	OpNop  Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpDup  Opcode = 0x02 // duplicate top of stack
	OpSwap Opcode = 0x03 // swap top two stack entries
)

// Constants and Variables
const (
	OpLoadConst   Opcode = 0x10 // push constant pool entry (immediate: pool index)
	OpLoadLocal   Opcode = 0x11 // push local slot (immediate: slot)
	OpStoreLocal  Opcode = 0x12 // pop into local slot (immediate: slot)
	OpDeleteLocal Opcode = 0x13 // unbind local slot (immediate: slot)
	OpLoadGlobal  Opcode = 0x14 // push global (immediate: name index)
	OpStoreGlobal Opcode = 0x15 // pop into global (immediate: name index)
)

// Arithmetic and Logic
const (
	OpAdd     Opcode = 0x20 // pop 2, push sum (or concatenation)
	OpSub     Opcode = 0x21 // pop 2, push difference
	OpMul     Opcode = 0x22 // pop 2, push product
	OpDiv     Opcode = 0x23 // pop 2, push quotient
	OpMod     Opcode = 0x24 // pop 2, push remainder
	OpNeg     Opcode = 0x25 // negate top of stack
	OpNot     Opcode = 0x26 // logical not of top of stack
	OpCompare Opcode = 0x27 // pop 2, push boolean (immediate: comparison code)
)

// Container Operations
const (
	OpBuildList   Opcode = 0x30 // pop N items, push list (immediate: N)
	OpBuildTuple  Opcode = 0x31 // pop N items, push tuple (immediate: N)
	OpBuildMap    Opcode = 0x32 // pop N key/value pairs, push map (immediate: N)
	OpBuildSet    Opcode = 0x33 // pop N items, push set (immediate: N)
	OpSubscr      Opcode = 0x34 // pop container and index, push element
	OpStoreSubscr Opcode = 0x35 // pop container, index, and value
)

// Iteration
const (
	OpGetIter Opcode = 0x38 // pop iterable, push iterator
	OpForIter Opcode = 0x39 // push next element, or pop iterator and jump (immediate: exit offset)
)

// Calls
const (
	OpCall Opcode = 0x40 // pop callee and N args, push result (immediate: N)
)

// Control Flow (all jump targets are absolute byte offsets)
const (
	OpJump        Opcode = 0x50 // unconditional jump
	OpJumpIfTrue  Opcode = 0x51 // pop condition, jump if true
	OpJumpIfFalse Opcode = 0x52 // pop condition, jump if false
)

// Protected Regions
const (
	OpSetupLoop    Opcode = 0x60 // enter loop region (immediate: offset past the loop)
	OpSetupExcept  Opcode = 0x61 // enter try region (immediate: handler offset)
	OpSetupFinally Opcode = 0x62 // enter try region (immediate: finally handler offset)
	OpPopBlock     Opcode = 0x63 // leave innermost region normally
	OpEndFinally   Opcode = 0x64 // pop finally reason, resume or re-raise
	OpPopExcept    Opcode = 0x65 // leave exception handler
	OpBreakLoop    Opcode = 0x66 // jump past the innermost loop
	OpContinueLoop Opcode = 0x67 // jump to loop head (immediate: head offset)
	OpRaise        Opcode = 0x68 // pop exception, begin unwinding
)

// Returns
const (
	OpReturn Opcode = 0x70 // return top of stack
)

// Prefix
const (
	OpWide Opcode = 0x7F // extend the next unit's immediate (high bits)
)

// Comparison codes for OpCompare's immediate.
const (
	CmpEq = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	StackEffect int    // net effect on stack (VariableEffect = depends on immediate)
	CanRaise    bool   // true if executing the opcode can raise an exception
}

// VariableEffect marks opcodes whose stack effect depends on the immediate.
// Use StackEffect(op, arg) for those.
const VariableEffect = -128

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", 0, false},
	OpPop:  {"POP", -1, false},
	OpDup:  {"DUP", 1, false},
	OpSwap: {"SWAP", 0, false},

	OpLoadConst:   {"LOAD_CONST", 1, false},
	OpLoadLocal:   {"LOAD_LOCAL", 1, true}, // unbound local raises
	OpStoreLocal:  {"STORE_LOCAL", -1, false},
	OpDeleteLocal: {"DELETE_LOCAL", 0, true}, // unbound local raises
	OpLoadGlobal:  {"LOAD_GLOBAL", 1, true},  // undefined name raises
	OpStoreGlobal: {"STORE_GLOBAL", -1, false},

	OpAdd:     {"ADD", -1, true},
	OpSub:     {"SUB", -1, true},
	OpMul:     {"MUL", -1, true},
	OpDiv:     {"DIV", -1, true},
	OpMod:     {"MOD", -1, true},
	OpNeg:     {"NEG", 0, true},
	OpNot:     {"NOT", 0, false},
	OpCompare: {"COMPARE", -1, true},

	OpBuildList:   {"BUILD_LIST", VariableEffect, false},
	OpBuildTuple:  {"BUILD_TUPLE", VariableEffect, false},
	OpBuildMap:    {"BUILD_MAP", VariableEffect, false},
	OpBuildSet:    {"BUILD_SET", VariableEffect, true}, // unhashable element raises
	OpSubscr:      {"SUBSCR", -1, true},
	OpStoreSubscr: {"STORE_SUBSCR", -3, true},

	OpGetIter: {"GET_ITER", 0, true},
	OpForIter: {"FOR_ITER", 1, true},

	OpCall: {"CALL", VariableEffect, true},

	OpJump:        {"JUMP", 0, false},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", -1, false},
	OpJumpIfFalse: {"JUMP_IF_FALSE", -1, false},

	OpSetupLoop:    {"SETUP_LOOP", 0, false},
	OpSetupExcept:  {"SETUP_EXCEPT", 0, false},
	OpSetupFinally: {"SETUP_FINALLY", 0, false},
	OpPopBlock:     {"POP_BLOCK", 0, false},
	OpEndFinally:   {"END_FINALLY", -1, true}, // may re-raise
	OpPopExcept:    {"POP_EXCEPT", 0, false},
	OpBreakLoop:    {"BREAK_LOOP", 0, false},
	OpContinueLoop: {"CONTINUE_LOOP", 0, false},
	OpRaise:        {"RAISE", -1, true},

	OpReturn: {"RETURN", -1, false},

	OpWide: {"WIDE", 0, false},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), StackEffect: 0}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// CanRaise returns true if executing the opcode can raise an exception.
func (op Opcode) CanRaise() bool {
	return op.Info().CanRaise
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// StackEffect returns the net stack effect of an instruction, resolving
// immediate-dependent opcodes with the given immediate.
func StackEffect(op Opcode, arg int) int {
	info := op.Info()
	if info.StackEffect != VariableEffect {
		return info.StackEffect
	}
	switch op {
	case OpBuildList, OpBuildTuple, OpBuildSet:
		return 1 - arg
	case OpBuildMap:
		return 1 - 2*arg
	case OpCall:
		return -arg // pops callee + args, pushes result
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// UnitSize is the size in bytes of one physical code unit.
const UnitSize = 2

// Instruction is one decoded logical instruction. A logical instruction
// spans its OpWide prefixes plus the final opcode unit; Index is the byte
// offset of the first physical unit and Width the total bytes consumed.
type Instruction struct {
	Index int    // byte offset of the first physical unit
	Op    Opcode // opcode after skipping OpWide prefixes
	Arg   int    // combined immediate
	Width int    // total bytes consumed, including prefixes
}

// Next returns the byte offset of the following instruction.
func (in Instruction) Next() int {
	return in.Index + in.Width
}

// String returns a compact rendering for diagnostics.
func (in Instruction) String() string {
	return fmt.Sprintf("%04d %s %d", in.Index, in.Op, in.Arg)
}

// Decode decodes a code stream into logical instructions. It returns an
// error for a truncated unit or a trailing OpWide prefix; operand
// validity (pool indices, jump targets) is the verifier's concern, not
// the decoder's.
func Decode(code []byte) ([]Instruction, error) {
	if len(code)%UnitSize != 0 {
		return nil, fmt.Errorf("bytecode: truncated code unit at offset %d", len(code)-len(code)%UnitSize)
	}
	var instrs []Instruction
	for pos := 0; pos < len(code); {
		start := pos
		arg := 0
		op := Opcode(code[pos])
		for op == OpWide {
			arg = (arg | int(code[pos+1])) << 8
			pos += UnitSize
			if pos >= len(code) {
				return nil, fmt.Errorf("bytecode: dangling WIDE prefix at offset %d", start)
			}
			op = Opcode(code[pos])
		}
		arg |= int(code[pos+1])
		pos += UnitSize
		instrs = append(instrs, Instruction{
			Index: start,
			Op:    op,
			Arg:   arg,
			Width: pos - start,
		})
	}
	return instrs, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns a textual listing of a function's code, one
// instruction per line, annotating constant loads with the constant.
func Disassemble(fn *Function) string {
	instrs, err := Decode(fn.Code)
	if err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	out := ""
	for _, in := range instrs {
		if out != "" {
			out += "\n"
		}
		switch {
		case in.Op == OpLoadConst && in.Arg < len(fn.Constants):
			out += fmt.Sprintf("%04d  %s %d (%s)", in.Index, in.Op, in.Arg, fn.Constants[in.Arg])
		case in.Op.Info().StackEffect == VariableEffect,
			in.Op == OpLoadLocal, in.Op == OpStoreLocal, in.Op == OpDeleteLocal,
			in.Op == OpLoadGlobal, in.Op == OpStoreGlobal,
			in.Op == OpLoadConst, in.Op == OpCompare:
			out += fmt.Sprintf("%04d  %s %d", in.Index, in.Op, in.Arg)
		case in.Op == OpJump, in.Op == OpJumpIfTrue, in.Op == OpJumpIfFalse,
			in.Op == OpForIter, in.Op == OpContinueLoop,
			in.Op == OpSetupLoop, in.Op == OpSetupExcept, in.Op == OpSetupFinally:
			out += fmt.Sprintf("%04d  %s -> %04d", in.Index, in.Op, in.Arg)
		default:
			out += fmt.Sprintf("%04d  %s", in.Index, in.Op)
		}
	}
	return out
}
