package bytecode

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// Tag identifies the runtime type of a constant pool entry. The same tags
// double as declared parameter types on Function (TagObject = untyped).
type Tag byte

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagBytes
	TagObject // generic/untyped; not a valid constant tag
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagNil:
		return "nil"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagBytes:
		return "bytes"
	case TagObject:
		return "object"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// Constant is one constant pool entry. Exactly one payload field is
// meaningful, selected by Tag. Fields are exported for wire encoding.
type Constant struct {
	Tag   Tag     `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Str   string  `cbor:"5,keyasint,omitempty"`
	Bytes []byte  `cbor:"6,keyasint,omitempty"`
}

// NilConst returns the nil constant.
func NilConst() Constant { return Constant{Tag: TagNil} }

// BoolConst returns a boolean constant.
func BoolConst(b bool) Constant { return Constant{Tag: TagBool, Bool: b} }

// IntConst returns an integer constant.
func IntConst(n int64) Constant { return Constant{Tag: TagInt, Int: n} }

// FloatConst returns a float constant.
func FloatConst(f float64) Constant { return Constant{Tag: TagFloat, Float: f} }

// StringConst returns a string constant.
func StringConst(s string) Constant { return Constant{Tag: TagString, Str: s} }

// BytesConst returns a bytes constant.
func BytesConst(b []byte) Constant { return Constant{Tag: TagBytes, Bytes: b} }

// equal compares two constants by tag and payload.
func (c Constant) equal(o Constant) bool {
	if c.Tag != o.Tag {
		return false
	}
	switch c.Tag {
	case TagBool:
		return c.Bool == o.Bool
	case TagInt:
		return c.Int == o.Int
	case TagFloat:
		return c.Float == o.Float
	case TagString:
		return c.Str == o.Str
	case TagBytes:
		return bytes.Equal(c.Bytes, o.Bytes)
	default:
		return true
	}
}

// String renders the constant for disassembly.
func (c Constant) String() string {
	switch c.Tag {
	case TagNil:
		return "nil"
	case TagBool:
		return strconv.FormatBool(c.Bool)
	case TagInt:
		return strconv.FormatInt(c.Int, 10)
	case TagFloat:
		return strconv.FormatFloat(c.Float, 'g', -1, 64)
	case TagString:
		return strconv.Quote(c.Str)
	case TagBytes:
		return fmt.Sprintf("bytes[%d]", len(c.Bytes))
	default:
		return c.Tag.String()
	}
}

// ---------------------------------------------------------------------------
// Function: the unit of analysis and compilation
// ---------------------------------------------------------------------------

// Function is one compiled function as delivered by the bytecode
// supplier: code, constant pool, and frame metadata. The analyzer treats
// it as verified input; it never mutates a Function.
type Function struct {
	Name      string     `cbor:"1,keyasint"`
	Code      []byte     `cbor:"2,keyasint"`
	Constants []Constant `cbor:"3,keyasint,omitempty"`
	NumLocals int        `cbor:"4,keyasint"`
	NumParams int        `cbor:"5,keyasint"`
	// Params holds the declared type of each parameter slot, TagObject
	// when untyped. len(Params) == NumParams.
	Params []Tag `cbor:"6,keyasint,omitempty"`
}

// ContentHash returns a sha256 digest over the function's code,
// constants, and frame metadata. Two functions with equal hashes have
// identical analysis results, which makes the hash a cache key.
func (f *Function) ContentHash() [32]byte {
	h := sha256.New()
	var buf [8]byte

	writeInt := func(n int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(int64(len(s)))
		h.Write([]byte(s))
	}

	writeStr(f.Name)
	writeInt(int64(len(f.Code)))
	h.Write(f.Code)
	writeInt(int64(f.NumLocals))
	writeInt(int64(f.NumParams))
	for _, p := range f.Params {
		h.Write([]byte{byte(p)})
	}
	writeInt(int64(len(f.Constants)))
	for _, c := range f.Constants {
		h.Write([]byte{byte(c.Tag)})
		switch c.Tag {
		case TagBool:
			if c.Bool {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		case TagInt:
			writeInt(c.Int)
		case TagFloat:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(c.Float))
			h.Write(buf[:])
		case TagString:
			writeStr(c.Str)
		case TagBytes:
			writeInt(int64(len(c.Bytes)))
			h.Write(c.Bytes)
		}
	}

	var sum [32]byte
	h.Sum(sum[:0])
	return sum
}
