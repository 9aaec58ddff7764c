package absint

import (
	"fmt"
	"sort"

	"github.com/chazu/alioth/bytecode"
)

// ---------------------------------------------------------------------------
// Instruction graph
// ---------------------------------------------------------------------------

// EdgeKind classifies how a value crosses an edge after escape analysis.
type EdgeKind int

const (
	// EdgeNoEscape: both endpoints work on boxed values; nothing changes.
	EdgeNoEscape EdgeKind = iota
	// EdgeUnbox: a boxed producer feeds an unboxed consumer.
	EdgeUnbox
	// EdgeBox: an unboxed producer feeds a boxed consumer.
	EdgeBox
	// EdgeUnboxed: both endpoints work on the native representation.
	EdgeUnboxed
)

// String returns the edge kind name.
func (k EdgeKind) String() string {
	switch k {
	case EdgeNoEscape:
		return "no-escape"
	case EdgeUnbox:
		return "unbox"
	case EdgeBox:
		return "box"
	case EdgeUnboxed:
		return "unboxed"
	default:
		return "edge"
	}
}

// Edge is one value flowing from its producing instruction to a
// consuming one. Position is the operand position at the consumer,
// deepest operand first.
type Edge struct {
	From     int // producer offset, or FrameProducer for parameters
	To       int // consumer offset
	Position int
	Value    Value
	Source   Source
	Kind     EdgeKind
}

// Graph is the value dependency graph of an analyzed function. Nodes
// are instructions; edges follow the provenance the interpreter
// recorded. After construction each instruction is classified as
// operating on boxed or unboxed values and every edge carries the
// boxing transition, ready for code generation.
type Graph struct {
	fn      *bytecode.Function
	instrs  []bytecode.Instruction
	edges   []Edge
	unboxed map[int]bool // instruction offset -> operates on native values
}

// NewGraph builds the dependency graph from a completed analysis and
// runs escape analysis over it.
func NewGraph(interp *Interpreter) (*Graph, error) {
	if !interp.Analyzed() {
		return nil, fmt.Errorf("absint: graph requested before analysis completed")
	}
	g := &Graph{
		fn:      interp.Function(),
		instrs:  interp.Instructions(),
		unboxed: make(map[int]bool),
	}
	g.collectEdges(interp)
	g.markUnboxable()
	g.deoptimize()
	g.classifyEdges()
	return g, nil
}

// collectEdges walks every instruction's start-state stack and turns
// each recorded consumption into an edge. A value sits on the start
// stack of exactly the instructions executed while it is live, so
// looking only at the consumer's own start state finds every edge once.
func (g *Graph) collectEdges(interp *Interpreter) {
	type edgeKey struct {
		src Source
		to  int
	}
	seen := make(map[edgeKey]bool)
	for _, in := range g.instrs {
		stack, ok := interp.StackAt(in.Index)
		if !ok {
			continue // unreachable instruction
		}
		for _, vs := range stack {
			if vs.Source == nil {
				continue
			}
			pos, consumed := vs.Source.ConsumedBy(in.Index)
			if !consumed {
				continue
			}
			key := edgeKey{src: vs.Source, to: in.Index}
			if seen[key] {
				continue
			}
			seen[key] = true
			g.edges = append(g.edges, Edge{
				From:     vs.Source.Producer(),
				To:       in.Index,
				Position: pos,
				Value:    vs.Value,
				Source:   vs.Source,
			})
		}
	}
	sort.SliceStable(g.edges, func(a, b int) bool {
		ea, eb := g.edges[a], g.edges[b]
		if ea.To != eb.To {
			return ea.To < eb.To
		}
		return ea.Position < eb.Position
	})
}

// unboxableOpcodes lists the opcodes the code generator can emit native
// sequences for. Local load/store is absent: locals live in boxed frame
// slots.
var unboxableOpcodes = map[bytecode.Opcode]bool{
	bytecode.OpLoadConst:   true,
	bytecode.OpAdd:         true,
	bytecode.OpSub:         true,
	bytecode.OpMul:         true,
	bytecode.OpDiv:         true,
	bytecode.OpMod:         true,
	bytecode.OpNeg:         true,
	bytecode.OpNot:         true,
	bytecode.OpCompare:     true,
	bytecode.OpJumpIfTrue:  true,
	bytecode.OpJumpIfFalse: true,
}

// edgeUnboxable reports whether the value crossing an edge has a native
// representation at all. An edge into a boxed consumer does not block
// marking by itself; it becomes a Box transition, and deoptimize
// reverts the cases where that transition would cost more than the
// native lowering saves.
func edgeUnboxable(e Edge) bool {
	return e.Value != nil && e.Value.Kind().Unboxable()
}

// markUnboxable marks every instruction whose opcode has a native
// lowering and whose incident values can all stay unboxed.
func (g *Graph) markUnboxable() {
	for _, in := range g.instrs {
		if !unboxableOpcodes[in.Op] {
			continue
		}
		ein, eout := g.EdgesTo(in.Index), g.EdgesFrom(in.Index)
		if len(ein) == 0 && len(eout) == 0 {
			continue // unreachable or value never tracked
		}
		ok := true
		for _, e := range ein {
			if !edgeUnboxable(e) {
				ok = false
				break
			}
		}
		for _, e := range eout {
			if !ok {
				break
			}
			if !edgeUnboxable(e) {
				ok = false
			}
		}
		if ok {
			g.unboxed[in.Index] = true
		}
	}
}

// deoptimize reverts unboxed markings that cannot be lowered safely,
// iterating because each revert can strand a neighbor. An instruction
// reverts when its edge count disagrees with its declared stack effect
// (some of its values are invisible to the graph) or when it is an
// unboxed island whose only neighbor is boxed, where the box/unbox
// traffic would cost more than it saves.
func (g *Graph) deoptimize() {
	for changed := true; changed; {
		changed = false
		for _, in := range g.instrs {
			if !g.unboxed[in.Index] {
				continue
			}
			ein, eout := g.EdgesTo(in.Index), g.EdgesFrom(in.Index)
			if bytecode.StackEffect(in.Op, in.Arg) != len(eout)-len(ein) {
				delete(g.unboxed, in.Index)
				changed = true
				continue
			}
			if len(ein) == 0 && len(eout) == 1 && !g.unboxed[eout[0].To] {
				delete(g.unboxed, in.Index)
				changed = true
				continue
			}
			if len(ein) == 1 && len(eout) == 0 &&
				(ein[0].From == FrameProducer || !g.unboxed[ein[0].From]) {
				delete(g.unboxed, in.Index)
				changed = true
			}
		}
	}
}

// classifyEdges assigns each edge the boxing transition implied by its
// endpoints' final markings.
func (g *Graph) classifyEdges() {
	for i := range g.edges {
		e := &g.edges[i]
		producerUnboxed := e.From != FrameProducer && g.unboxed[e.From]
		consumerUnboxed := g.unboxed[e.To]
		switch {
		case producerUnboxed && consumerUnboxed:
			e.Kind = EdgeUnboxed
		case producerUnboxed:
			e.Kind = EdgeBox
		case consumerUnboxed:
			e.Kind = EdgeUnbox
		default:
			e.Kind = EdgeNoEscape
		}
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Edges returns every edge, ordered by consumer offset then operand
// position.
func (g *Graph) Edges() []Edge { return g.edges }

// EdgesTo returns the edges consumed by the instruction at the given
// offset, in ascending operand position.
func (g *Graph) EdgesTo(offset int) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.To == offset {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFrom returns the edges produced by the instruction at the given
// offset.
func (g *Graph) EdgesFrom(offset int) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.From == offset {
			out = append(out, e)
		}
	}
	return out
}

// IsUnboxed reports whether the instruction at the given offset was
// marked to operate on native values.
func (g *Graph) IsUnboxed(offset int) bool { return g.unboxed[offset] }

// ShouldBox reports whether the value produced at the given offset must
// be materialized as a heap object.
func (g *Graph) ShouldBox(offset int) bool { return !g.unboxed[offset] }

// UnboxedLocals returns the local slots that can live in native
// representation. Locals currently always stay boxed, so the map is
// empty; the query exists so the code generator's contract does not
// change when slot unboxing lands.
func (g *Graph) UnboxedLocals() map[int]Kind {
	return map[int]Kind{}
}
