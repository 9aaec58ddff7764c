package bytecode

// ---------------------------------------------------------------------------
// Assembler: helper for constructing code by hand
// ---------------------------------------------------------------------------

// Assembler builds a code stream unit by unit. It is used by tests and
// by the CLI's demo functions; production bytecode comes from the
// supplier already assembled.
type Assembler struct {
	code      []byte
	constants []Constant
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{code: make([]byte, 0, 64)}
}

// Len returns the current code length in bytes.
func (a *Assembler) Len() int {
	return len(a.code)
}

// Emit appends one logical instruction, inserting OpWide prefixes as
// needed for immediates above 255. It returns the instruction's offset.
func (a *Assembler) Emit(op Opcode, arg int) int {
	start := len(a.code)
	if arg>>16 != 0 {
		a.code = append(a.code, byte(OpWide), byte(arg>>16))
	}
	if arg>>8 != 0 {
		a.code = append(a.code, byte(OpWide), byte(arg>>8))
	}
	a.code = append(a.code, byte(op), byte(arg))
	return start
}

// Const interns a constant in the pool and returns its index.
func (a *Assembler) Const(c Constant) int {
	for i, existing := range a.constants {
		if existing.equal(c) {
			return i
		}
	}
	a.constants = append(a.constants, c)
	return len(a.constants) - 1
}

// LoadConst emits OpLoadConst for the given constant, interning it.
func (a *Assembler) LoadConst(c Constant) int {
	return a.Emit(OpLoadConst, a.Const(c))
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label represents a jump target that may not be placed yet. Target
// instructions are always assembled with a single OpWide prefix so a
// forward reference can be patched in place once the label is marked.
type Label struct {
	resolved bool
	target   int
	refs     []int // offsets of 4-byte wide-encoded instructions to patch
}

// NewLabel creates an unresolved label.
func (a *Assembler) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches all
// forward references to it.
func (a *Assembler) Mark(l *Label) {
	if l.resolved {
		panic("bytecode: label already resolved")
	}
	l.resolved = true
	l.target = len(a.code)
	for _, ref := range l.refs {
		a.code[ref+1] = byte(l.target >> 8)
		a.code[ref+3] = byte(l.target)
	}
	l.refs = nil
}

// EmitJump appends a jump-family instruction targeting the label. The
// instruction is wide-encoded (4 bytes) regardless of the target's
// magnitude so Mark can patch it without shifting code.
func (a *Assembler) EmitJump(op Opcode, l *Label) int {
	start := len(a.code)
	if l.resolved {
		a.code = append(a.code, byte(OpWide), byte(l.target>>8), byte(op), byte(l.target))
	} else {
		l.refs = append(l.refs, start)
		a.code = append(a.code, byte(OpWide), 0, byte(op), 0)
	}
	return start
}

// ---------------------------------------------------------------------------
// Assembly into a Function
// ---------------------------------------------------------------------------

// Function packages the assembled code into a Function with the given
// frame metadata. Parameter slots default to untyped.
func (a *Assembler) Function(name string, numParams, numLocals int) *Function {
	params := make([]Tag, numParams)
	for i := range params {
		params[i] = TagObject
	}
	return a.FunctionTyped(name, params, numLocals)
}

// FunctionTyped packages the assembled code with declared parameter
// types. numLocals counts all slots including the parameters.
func (a *Assembler) FunctionTyped(name string, params []Tag, numLocals int) *Function {
	return &Function{
		Name:      name,
		Code:      a.code,
		Constants: a.constants,
		NumLocals: numLocals,
		NumParams: len(params),
		Params:    params,
	}
}
