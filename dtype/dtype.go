// Package dtype defines the element-type and shape model shared by every tensor in the
// intermediate representation: the closed set of element types, ordered-extent shapes,
// and the numpy-style broadcast and reduction-axis rules the rest of the core relies on
// to size buffers and to synthesize gradient reductions.
//
// Element types purposefully stop at the set spec.md §3 names. Unlike the teacher's
// shapes.DType (which tracks XLA's xla_data.proto, including Tuple/Token/Opaque
// pseudo-types for a hardware backend), DType here has no backend-specific members:
// the accelerator-specific codegen that would need them is out of scope.
package dtype

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the element type of a Tensor. The set is closed: every case is listed here
// and nowhere else constructs a DType value.
type DType int8

const (
	Invalid DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	String
	Complex64
	Complex128
)

var names = [...]string{
	Invalid:    "invalid",
	Bool:       "bool",
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint8:      "uint8",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Float16:    "float16",
	Float32:    "float32",
	Float64:    "float64",
	String:     "string",
	Complex64:  "complex64",
	Complex128: "complex128",
}

// String implements fmt.Stringer.
func (d DType) String() string {
	if d < 0 || int(d) >= len(names) || names[d] == "" {
		return fmt.Sprintf("DType(%d)", int(d))
	}
	return names[d]
}

var byName map[string]DType

func init() {
	byName = make(map[string]DType, len(names))
	for d, name := range names {
		if name != "" {
			byName[name] = DType(d)
		}
	}
}

// FromString converts an ONNX-style type name to a DType. It is the inverse of
// DType.String, used at the ONNX interop boundary (§4.A).
func FromString(name string) (DType, error) {
	d, ok := byName[name]
	if !ok {
		return Invalid, errors.Errorf("dtype: unknown type name %q", name)
	}
	return d, nil
}

// IsFloat reports whether d is one of the floating-point element types.
func (d DType) IsFloat() bool {
	return d == Float16 || d == Float32 || d == Float64
}

// IsInt reports whether d is one of the signed or unsigned integer element types.
func (d DType) IsInt() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsComplex reports whether d is one of the complex element types.
func (d DType) IsComplex() bool {
	return d == Complex64 || d == Complex128
}

// elementSizes gives the byte size of one element for every concrete DType. String has
// no fixed element size (it's not byte-sized the way the others are, it's lengths+bytes);
// it is excluded from nbytes computations and callers must special-case it.
var elementSizes = map[DType]int{
	Bool:       1,
	Int8:       1,
	Int16:      2,
	Int32:      4,
	Int64:      8,
	Uint8:      1,
	Uint16:     2,
	Uint32:     4,
	Uint64:     8,
	Float16:    2,
	Float32:    4,
	Float64:    8,
	Complex64:  8,
	Complex128: 16,
}

// ElementSize returns the number of bytes occupied by one element of dtype (§4.A
// elementSize). It panics for String and Invalid, which have no fixed element size.
func ElementSize(d DType) int {
	size, ok := elementSizes[d]
	if !ok {
		panic(fmt.Sprintf("dtype: %s has no fixed element size", d))
	}
	return size
}

// NBytes returns the number of bytes needed to hold a tensor of the given shape and
// dtype (§4.A nbytes): product(shape) * elementSize(dtype).
func NBytes(shape []int, d DType) int {
	size := ElementSize(d)
	for _, dim := range shape {
		size *= dim
	}
	return size
}

// Float16ToFloat32 decodes a little-endian float16 byte pair using the same third-party
// half-precision representation the teacher uses for device interop.
func Float16ToFloat32(lo, hi byte) float32 {
	bits := uint16(lo) | uint16(hi)<<8
	return float16.Frombits(bits).Float32()
}

// Float32ToFloat16Bytes encodes v as little-endian float16 bytes.
func Float32ToFloat16Bytes(v float32) (lo, hi byte) {
	bits := float16.Fromfloat32(v).Bits()
	return byte(bits), byte(bits >> 8)
}
