package absint

import (
	"fmt"

	"github.com/chazu/alioth/bytecode"
)

// ---------------------------------------------------------------------------
// Kind: the abstract value lattice's carrier set
// ---------------------------------------------------------------------------

// Kind classifies an abstract value. KindUndefined is the lattice bottom
// (identity for Merge) and KindAny the top (absorbing).
type Kind int

const (
	KindUndefined Kind = iota // bottom: no value on any path
	KindAny                   // top: could be anything
	KindNil
	KindBool
	KindInteger
	KindFloat
	KindNumber // widening supertype of the numeric kinds
	KindString
	KindBytes
	KindList
	KindTuple
	KindDict
	KindSet
	KindIterator
	KindFunction
	KindObject // generic heap object
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindAny:       "any",
	KindNil:       "nil",
	KindBool:      "bool",
	KindInteger:   "int",
	KindFloat:     "float",
	KindNumber:    "number",
	KindString:    "str",
	KindBytes:     "bytes",
	KindList:      "list",
	KindTuple:     "tuple",
	KindDict:      "dict",
	KindSet:       "set",
	KindIterator:  "iterator",
	KindFunction:  "function",
	KindObject:    "object",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsNumeric returns true for kinds in the numeric widening family.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindBool, KindInteger, KindFloat, KindNumber:
		return true
	}
	return false
}

// IsContainer returns true for the concrete container kinds, which widen
// to KindObject when merged with a different container kind.
func (k Kind) IsContainer() bool {
	switch k {
	case KindString, KindBytes, KindList, KindTuple, KindDict, KindSet:
		return true
	}
	return false
}

// Unboxable returns true if values of this kind have a native machine
// representation the code generator can keep out of the object heap.
func (k Kind) Unboxable() bool {
	switch k {
	case KindBool, KindInteger, KindFloat:
		return true
	}
	return false
}

// mergeKinds is the join on the kind lattice. Commutative; KindUndefined
// is the identity and KindAny absorbing.
func mergeKinds(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindUndefined:
		return b
	case b == KindUndefined:
		return a
	case a == KindAny || b == KindAny:
		return KindAny
	case a.IsNumeric() && b.IsNumeric():
		return KindNumber
	case a.IsContainer() && b.IsContainer():
		return KindObject
	case a == KindObject && b.IsContainer(), b == KindObject && a.IsContainer():
		return KindObject
	default:
		return KindAny
	}
}

// ---------------------------------------------------------------------------
// Value: an immutable abstract description of a possible runtime type
// ---------------------------------------------------------------------------

// Value describes what is known about one runtime value. Implementations
// are immutable; Merge returns a value no more precise than either
// operand and never fails.
type Value interface {
	Kind() Kind
	Merge(other Value) Value
	Equal(other Value) bool
	Describe() string
}

// plainValue carries a bare kind with no refinement.
type plainValue struct {
	kind Kind
}

var plainValues = func() []Value {
	vs := make([]Value, len(kindNames))
	for k := range vs {
		vs[k] = plainValue{Kind(k)}
	}
	return vs
}()

// Of returns the shared refinement-free value for a kind.
func Of(k Kind) Value {
	if int(k) < len(plainValues) {
		return plainValues[k]
	}
	return plainValue{k}
}

// Undefined is the lattice bottom: merging with it yields the other operand.
var Undefined = Of(KindUndefined)

// Any is the lattice top: merging anything with it yields Any.
var Any = Of(KindAny)

func (v plainValue) Kind() Kind { return v.kind }

func (v plainValue) Merge(other Value) Value {
	if v.kind == KindUndefined {
		return other
	}
	if v.Equal(other) {
		return v
	}
	return Of(mergeKinds(v.kind, other.Kind()))
}

func (v plainValue) Equal(other Value) bool {
	o, ok := other.(plainValue)
	return ok && o.kind == v.kind
}

func (v plainValue) Describe() string { return v.kind.String() }

// ---------------------------------------------------------------------------
// ConstValue: constant-folded scalar refinement
// ---------------------------------------------------------------------------

// ConstValue refines a scalar kind with the constant it was loaded from.
type ConstValue struct {
	kind Kind
	c    bytecode.Constant
}

// NewConstValue builds the abstract value for a constant pool entry.
func NewConstValue(c bytecode.Constant) Value {
	var k Kind
	switch c.Tag {
	case bytecode.TagNil:
		// nil carries no useful refinement
		return Of(KindNil)
	case bytecode.TagBool:
		k = KindBool
	case bytecode.TagInt:
		k = KindInteger
	case bytecode.TagFloat:
		k = KindFloat
	case bytecode.TagString:
		k = KindString
	case bytecode.TagBytes:
		k = KindBytes
	default:
		return Of(KindObject)
	}
	return ConstValue{kind: k, c: c}
}

// Constant returns the folded constant.
func (v ConstValue) Constant() bytecode.Constant { return v.c }

func (v ConstValue) Kind() Kind { return v.kind }

func (v ConstValue) Merge(other Value) Value {
	if v.Equal(other) {
		return v
	}
	if other.Kind() == KindUndefined {
		return v
	}
	// Disagreeing refinements of the same kind widen to the plain kind.
	if other.Kind() == v.kind {
		return Of(v.kind)
	}
	return Of(mergeKinds(v.kind, other.Kind()))
}

func (v ConstValue) Equal(other Value) bool {
	o, ok := other.(ConstValue)
	return ok && o.kind == v.kind && constantEqual(o.c, v.c)
}

func (v ConstValue) Describe() string {
	return fmt.Sprintf("%s(%s)", v.kind, v.c)
}

func constantEqual(a, b bytecode.Constant) bool {
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case bytecode.TagBool:
		return a.Bool == b.Bool
	case bytecode.TagInt:
		return a.Int == b.Int
	case bytecode.TagFloat:
		return a.Float == b.Float
	case bytecode.TagString:
		return a.Str == b.Str
	case bytecode.TagBytes:
		if len(a.Bytes) != len(b.Bytes) {
			return false
		}
		for i := range a.Bytes {
			if a.Bytes[i] != b.Bytes[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// ---------------------------------------------------------------------------
// SequenceValue: known-length container refinement
// ---------------------------------------------------------------------------

// SequenceValue refines a container kind with its known length, produced
// by the build-container opcodes whose element count is static.
type SequenceValue struct {
	kind   Kind
	length int
}

// NewSequenceValue builds a known-length container value.
func NewSequenceValue(k Kind, length int) Value {
	return SequenceValue{kind: k, length: length}
}

// Length returns the known element count.
func (v SequenceValue) Length() int { return v.length }

func (v SequenceValue) Kind() Kind { return v.kind }

func (v SequenceValue) Merge(other Value) Value {
	if v.Equal(other) {
		return v
	}
	if other.Kind() == KindUndefined {
		return v
	}
	if other.Kind() == v.kind {
		return Of(v.kind)
	}
	return Of(mergeKinds(v.kind, other.Kind()))
}

func (v SequenceValue) Equal(other Value) bool {
	o, ok := other.(SequenceValue)
	return ok && o.kind == v.kind && o.length == v.length
}

func (v SequenceValue) Describe() string {
	return fmt.Sprintf("%s[%d]", v.kind, v.length)
}

// Merge joins two abstract values. It is exported as a convenience so
// callers holding possibly-nil values do not need nil checks.
func Merge(a, b Value) Value {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return a.Merge(b)
}
