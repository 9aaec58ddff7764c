package absint

// ---------------------------------------------------------------------------
// Protected regions
// ---------------------------------------------------------------------------

// BlockKind classifies a protected region.
type BlockKind int

const (
	BlockLoop BlockKind = iota
	BlockTry
	BlockFinally
	BlockExcept
)

// String returns the region kind name.
func (k BlockKind) String() string {
	switch k {
	case BlockLoop:
		return "loop"
	case BlockTry:
		return "try"
	case BlockFinally:
		return "finally"
	case BlockExcept:
		return "except"
	default:
		return "block"
	}
}

// NoHandler marks a region without an exception handler.
const NoHandler = -1

// Block is one protected region: a loop, try, finally, or handler span.
// Start is the offset of the first instruction inside the region and End
// the first offset past it; unwinding out of the region must restore the
// operand stack to the depth it had at Start.
type Block struct {
	Kind       BlockKind
	Setup      int // offset of the setup instruction that opened the region
	Start      int // first offset inside the region
	End        int // first offset past the region
	Handler    int // handler entry offset, or NoHandler
	ContinueTo int // continue target for loops; 0 otherwise
}

// Contains reports whether the offset lies inside the region.
func (b Block) Contains(offset int) bool {
	return offset >= b.Start && offset < b.End
}

// HasHandler reports whether unwinding into this region transfers to a
// handler rather than propagating outward.
func (b Block) HasHandler() bool { return b.Handler != NoHandler }

// ---------------------------------------------------------------------------
// BlockStack
// ---------------------------------------------------------------------------

// BlockStack tracks the regions active at a program point, innermost
// last, matching the bytecode's lexical nesting.
type BlockStack struct {
	blocks []Block
}

// Len returns the number of active regions.
func (s *BlockStack) Len() int { return len(s.blocks) }

// Push enters a region.
func (s *BlockStack) Push(b Block) {
	s.blocks = append(s.blocks, b)
}

// Pop leaves the innermost region. Popping an empty stack is a
// structural fault: the bytecode closed a region it never opened.
func (s *BlockStack) Pop() Block {
	if len(s.blocks) == 0 {
		faultf("absint: block stack underflow")
	}
	b := s.blocks[len(s.blocks)-1]
	s.blocks = s.blocks[:len(s.blocks)-1]
	return b
}

// Top returns the innermost region without popping it.
func (s *BlockStack) Top() Block {
	if len(s.blocks) == 0 {
		faultf("absint: block stack underflow")
	}
	return s.blocks[len(s.blocks)-1]
}

// InnermostLoop returns the innermost loop region, for resolving break
// and continue targets.
func (s *BlockStack) InnermostLoop() (Block, bool) {
	for i := len(s.blocks) - 1; i >= 0; i-- {
		if s.blocks[i].Kind == BlockLoop {
			return s.blocks[i], true
		}
	}
	return Block{}, false
}

// InnermostHandler returns the innermost region that unwinding from the
// given offset would transfer to, skipping regions whose handler span
// the offset is already inside (raising inside a handler propagates
// outward, not back into itself).
func (s *BlockStack) InnermostHandler(offset int) (Block, bool) {
	for i := len(s.blocks) - 1; i >= 0; i-- {
		b := s.blocks[i]
		if b.HasHandler() && offset < b.Handler {
			return b, true
		}
	}
	return Block{}, false
}
