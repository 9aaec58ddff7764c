package absint

import (
	"testing"

	"github.com/chazu/alioth/bytecode"
)

func TestMergeKinds_Identity(t *testing.T) {
	kinds := []Kind{KindNil, KindBool, KindInteger, KindFloat, KindString, KindList, KindObject, KindAny}
	for _, k := range kinds {
		if got := mergeKinds(KindUndefined, k); got != k {
			t.Errorf("undefined + %s: got %s, want %s", k, got, k)
		}
		if got := mergeKinds(k, KindUndefined); got != k {
			t.Errorf("%s + undefined: got %s, want %s", k, got, k)
		}
		if got := mergeKinds(k, k); got != k {
			t.Errorf("%s + %s: got %s", k, k, got)
		}
	}
}

func TestMergeKinds_Absorbing(t *testing.T) {
	for _, k := range []Kind{KindNil, KindInteger, KindList, KindUndefined} {
		if got := mergeKinds(KindAny, k); got != KindAny {
			t.Errorf("any + %s: got %s", k, got)
		}
	}
}

func TestMergeKinds_NumericWidening(t *testing.T) {
	tests := []struct {
		a, b, want Kind
	}{
		{KindInteger, KindFloat, KindNumber},
		{KindBool, KindInteger, KindNumber},
		{KindBool, KindFloat, KindNumber},
		{KindNumber, KindInteger, KindNumber},
	}
	for _, tt := range tests {
		if got := mergeKinds(tt.a, tt.b); got != tt.want {
			t.Errorf("%s + %s: got %s, want %s", tt.a, tt.b, got, tt.want)
		}
		if got := mergeKinds(tt.b, tt.a); got != tt.want {
			t.Errorf("%s + %s: got %s, want %s", tt.b, tt.a, got, tt.want)
		}
	}
}

func TestMergeKinds_ContainerWidening(t *testing.T) {
	if got := mergeKinds(KindList, KindTuple); got != KindObject {
		t.Errorf("list + tuple: got %s, want object", got)
	}
	if got := mergeKinds(KindString, KindDict); got != KindObject {
		t.Errorf("str + dict: got %s, want object", got)
	}
	if got := mergeKinds(KindList, KindObject); got != KindObject {
		t.Errorf("list + object: got %s, want object", got)
	}
}

func TestMergeKinds_Unrelated(t *testing.T) {
	if got := mergeKinds(KindInteger, KindString); got != KindAny {
		t.Errorf("int + str: got %s, want any", got)
	}
	if got := mergeKinds(KindNil, KindInteger); got != KindAny {
		t.Errorf("nil + int: got %s, want any", got)
	}
}

func TestConstValue_MergeEqual(t *testing.T) {
	a := NewConstValue(bytecode.IntConst(3))
	b := NewConstValue(bytecode.IntConst(3))
	got := a.Merge(b)
	if !got.Equal(a) {
		t.Errorf("equal constants should keep the refinement, got %s", got.Describe())
	}
}

func TestConstValue_MergeDisagreeingWidens(t *testing.T) {
	a := NewConstValue(bytecode.IntConst(3))
	b := NewConstValue(bytecode.IntConst(4))
	got := a.Merge(b)
	if _, still := got.(ConstValue); still {
		t.Fatalf("disagreeing constants should widen, got %s", got.Describe())
	}
	if got.Kind() != KindInteger {
		t.Errorf("kind: got %s, want int", got.Kind())
	}
}

func TestConstValue_MergeCrossKind(t *testing.T) {
	a := NewConstValue(bytecode.IntConst(3))
	b := NewConstValue(bytecode.FloatConst(1.5))
	if got := a.Merge(b); got.Kind() != KindNumber {
		t.Errorf("int const + float const: got %s, want number", got.Kind())
	}
}

func TestConstValue_MergeUndefined(t *testing.T) {
	a := NewConstValue(bytecode.IntConst(3))
	if got := a.Merge(Undefined); !got.Equal(a) {
		t.Errorf("const + undefined should keep the const, got %s", got.Describe())
	}
	if got := Undefined.Merge(a); !got.Equal(a) {
		t.Errorf("undefined + const should keep the const, got %s", got.Describe())
	}
}

func TestSequenceValue_Merge(t *testing.T) {
	a := NewSequenceValue(KindList, 2)
	b := NewSequenceValue(KindList, 2)
	if got := a.Merge(b); !got.Equal(a) {
		t.Errorf("equal sequences should keep the length, got %s", got.Describe())
	}

	c := NewSequenceValue(KindList, 3)
	got := a.Merge(c)
	if _, still := got.(SequenceValue); still {
		t.Fatalf("disagreeing lengths should widen, got %s", got.Describe())
	}
	if got.Kind() != KindList {
		t.Errorf("kind: got %s, want list", got.Kind())
	}

	d := NewSequenceValue(KindTuple, 2)
	if got := a.Merge(d); got.Kind() != KindObject {
		t.Errorf("list + tuple sequences: got %s, want object", got.Kind())
	}
}

func TestKind_Unboxable(t *testing.T) {
	for _, k := range []Kind{KindBool, KindInteger, KindFloat} {
		if !k.Unboxable() {
			t.Errorf("%s should be unboxable", k)
		}
	}
	for _, k := range []Kind{KindNumber, KindString, KindAny, KindObject, KindNil} {
		if k.Unboxable() {
			t.Errorf("%s should not be unboxable", k)
		}
	}
}

func TestNewConstValue_Nil(t *testing.T) {
	if got := NewConstValue(bytecode.NilConst()); got.Kind() != KindNil {
		t.Errorf("nil constant: got %s, want nil kind", got.Kind())
	}
}
