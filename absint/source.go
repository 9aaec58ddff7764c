package absint

import "fmt"

// ---------------------------------------------------------------------------
// Source: provenance of an abstract value
// ---------------------------------------------------------------------------

// FrameProducer is the pseudo-instruction offset of the function frame
// itself, used as the producer of parameter values.
const FrameProducer = -1

// Source records where a value came from and which instructions consume
// it, so a value can be traced through stack shuffling without being
// re-derived. Sources are identity objects: two values with different
// sources may carry the same kind, and sources are never compared by
// content. Each Source belongs to exactly one Interpreter's arena.
type Source interface {
	// Producer returns the offset of the producing instruction, or
	// FrameProducer for values present at function entry.
	Producer() int
	// ConsumedBy reports whether the instruction at the given offset
	// consumes this value, and at which operand position.
	ConsumedBy(consumer int) (position int, ok bool)
	// HasEscaped reports whether the value was consumed in a way that
	// forces materialization as a boxed object.
	HasEscaped() bool
	Describe() string

	escape()
	recordConsumer(consumer, position int)
}

// baseSource carries the bookkeeping shared by all source variants.
type baseSource struct {
	producer  int
	escaped   bool
	consumers map[int]int // consumer offset -> operand position
}

func (s *baseSource) Producer() int { return s.producer }

func (s *baseSource) ConsumedBy(consumer int) (int, bool) {
	pos, ok := s.consumers[consumer]
	return pos, ok
}

func (s *baseSource) HasEscaped() bool { return s.escaped }

func (s *baseSource) escape() { s.escaped = true }

func (s *baseSource) recordConsumer(consumer, position int) {
	if s.consumers == nil {
		s.consumers = make(map[int]int, 1)
	}
	s.consumers[consumer] = position
}

// LocalSource marks a value read from a local variable slot.
type LocalSource struct {
	baseSource
	Slot int
}

// Describe implements Source.
func (s *LocalSource) Describe() string {
	if s.producer == FrameProducer {
		return fmt.Sprintf("param %d", s.Slot)
	}
	return fmt.Sprintf("local %d @%d", s.Slot, s.producer)
}

// ConstSource marks a value loaded from the constant pool.
type ConstSource struct {
	baseSource
	Index int
}

// Describe implements Source.
func (s *ConstSource) Describe() string {
	return fmt.Sprintf("const %d @%d", s.Index, s.producer)
}

// IntermediateSource marks a value produced as an instruction's result.
type IntermediateSource struct {
	baseSource
}

// Describe implements Source.
func (s *IntermediateSource) Describe() string {
	return fmt.Sprintf("result @%d", s.producer)
}
