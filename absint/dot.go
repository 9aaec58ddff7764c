package absint

import (
	"fmt"
	"strings"

	"github.com/chazu/alioth/bytecode"
)

// edgeColors maps each boxing transition to its diagnostic color.
var edgeColors = map[EdgeKind]string{
	EdgeNoEscape: "black",
	EdgeUnbox:    "red",
	EdgeBox:      "green",
	EdgeUnboxed:  "purple",
}

// Dot renders the graph in Graphviz dot form for inspection. Unboxed
// instructions are drawn blue, value edges take the color of their
// boxing transition, and control-flow jumps are drawn yellow.
func (g *Graph) Dot() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %q {\n", g.fn.Name)
	b.WriteString("\tnode [shape=box fontname=\"monospace\"];\n")

	fmt.Fprintf(&b, "\tFRAME [label=\"frame\" shape=ellipse];\n")
	for _, in := range g.instrs {
		color := "black"
		if g.unboxed[in.Index] {
			color = "blue"
		}
		fmt.Fprintf(&b, "\tI%d [label=\"%d: %s\" color=%s];\n",
			in.Index, in.Index, instructionLabel(in), color)
	}

	for _, e := range g.edges {
		from := fmt.Sprintf("I%d", e.From)
		if e.From == FrameProducer {
			from = "FRAME"
		}
		label := e.Kind.String()
		if e.Value != nil {
			label = fmt.Sprintf("%s [%s]", e.Value.Describe(), e.Kind)
		}
		fmt.Fprintf(&b, "\t%s -> I%d [label=%q color=%s];\n",
			from, e.To, label, edgeColors[e.Kind])
	}

	for _, in := range g.instrs {
		switch in.Op {
		case bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
			bytecode.OpForIter, bytecode.OpContinueLoop:
			fmt.Fprintf(&b, "\tI%d -> I%d [color=yellow style=dashed];\n", in.Index, in.Arg)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func instructionLabel(in bytecode.Instruction) string {
	switch in.Op {
	case bytecode.OpLoadConst, bytecode.OpLoadLocal, bytecode.OpStoreLocal,
		bytecode.OpDeleteLocal, bytecode.OpLoadGlobal, bytecode.OpStoreGlobal,
		bytecode.OpCompare, bytecode.OpBuildList, bytecode.OpBuildTuple,
		bytecode.OpBuildMap, bytecode.OpBuildSet, bytecode.OpCall,
		bytecode.OpJump, bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse,
		bytecode.OpForIter, bytecode.OpContinueLoop, bytecode.OpSetupLoop,
		bytecode.OpSetupExcept, bytecode.OpSetupFinally:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	default:
		return in.Op.String()
	}
}
