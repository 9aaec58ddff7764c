// Package wire defines the serialized forms exchanged between the
// analysis front end and its consumers: bytecode functions shipped in
// for analysis, and analysis summaries shipped out to code generators
// and caches. Encoding is canonical CBOR, so the same input always
// yields the same bytes and summaries can be content-addressed.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/alioth/absint"
	"github.com/chazu/alioth/bytecode"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalFunction serializes a Function to CBOR bytes.
func MarshalFunction(fn *bytecode.Function) ([]byte, error) {
	return cborEncMode.Marshal(fn)
}

// UnmarshalFunction deserializes a Function from CBOR bytes.
func UnmarshalFunction(data []byte) (*bytecode.Function, error) {
	var fn bytecode.Function
	if err := cbor.Unmarshal(data, &fn); err != nil {
		return nil, fmt.Errorf("wire: unmarshal function: %w", err)
	}
	return &fn, nil
}

// EdgeSummary is one value-flow edge in serialized form.
type EdgeSummary struct {
	From     int    `cbor:"1,keyasint"` // producer offset, -1 for frame entry
	To       int    `cbor:"2,keyasint"`
	Position int    `cbor:"3,keyasint"`
	Kind     uint8  `cbor:"4,keyasint"` // boxing transition
	Value    string `cbor:"5,keyasint"` // abstract value description
}

// AnalysisSummary is the durable result of analyzing one function:
// everything a code generator needs to pick native lowerings, without
// the interpreter's working state.
type AnalysisSummary struct {
	FunctionHash [32]byte      `cbor:"1,keyasint"`
	FunctionName string        `cbor:"2,keyasint"`
	Instructions int           `cbor:"3,keyasint"`
	ReturnKind   string        `cbor:"4,keyasint"`
	Unboxed      []int         `cbor:"5,keyasint,omitempty"` // offsets lowered natively
	SkipLasti    []int         `cbor:"6,keyasint,omitempty"` // offsets with elidable ip updates
	Edges        []EdgeSummary `cbor:"7,keyasint,omitempty"`
}

// MarshalSummary serializes an AnalysisSummary to CBOR bytes.
func MarshalSummary(s *AnalysisSummary) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSummary deserializes an AnalysisSummary from CBOR bytes.
func UnmarshalSummary(data []byte) (*AnalysisSummary, error) {
	var s AnalysisSummary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("wire: unmarshal summary: %w", err)
	}
	return &s, nil
}

// Summarize flattens a completed analysis into its serialized form.
func Summarize(interp *absint.Interpreter, g *absint.Graph) *AnalysisSummary {
	fn := interp.Function()
	s := &AnalysisSummary{
		FunctionHash: fn.ContentHash(),
		FunctionName: fn.Name,
		ReturnKind:   interp.ReturnValue().Kind().String(),
	}
	for _, in := range interp.Instructions() {
		s.Instructions++
		if !g.ShouldBox(in.Index) {
			s.Unboxed = append(s.Unboxed, in.Index)
		}
		if interp.CanSkipLastiUpdate(in.Index) {
			s.SkipLasti = append(s.SkipLasti, in.Index)
		}
	}
	for _, e := range g.Edges() {
		es := EdgeSummary{
			From:     e.From,
			To:       e.To,
			Position: e.Position,
			Kind:     uint8(e.Kind),
		}
		if e.Value != nil {
			es.Value = e.Value.Describe()
		}
		s.Edges = append(s.Edges, es)
	}
	return s
}
