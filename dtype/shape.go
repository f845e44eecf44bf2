package dtype

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Shape is the ordered, non-negative extent list of a Tensor, plus its element type.
// Mirrors shapes.Shape in the teacher, trimmed of the Tuple variant: the IR has no
// tuple-valued tensors (§3 Tensor is always a single dense array).
type Shape struct {
	DType      DType
	Dimensions []int
}

// Make builds a Shape, validating every dimension is non-negative (a zero extent is
// allowed -- an empty tensor -- but negative extents never are).
func Make(d DType, dimensions ...int) (Shape, error) {
	for _, dim := range dimensions {
		if dim < 0 {
			return Shape{}, errors.Errorf("dtype: shape dimensions must be non-negative, got %v", dimensions)
		}
	}
	dims := make([]int, len(dimensions))
	copy(dims, dimensions)
	return Shape{DType: d, Dimensions: dims}, nil
}

// Scalar returns the shape of a 0-rank value of dtype d.
func Scalar(d DType) Shape { return Shape{DType: d} }

// Rank is the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar reports whether s has no axes.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the extent at axis, where a negative axis counts from the end (-1 is the
// last axis), matching the teacher's Shape.Dim.
func (s Shape) Dim(axis int) int {
	if axis < 0 {
		axis += s.Rank()
	}
	return s.Dimensions[axis]
}

// Size is the total element count: the product of every dimension (1 for a scalar).
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return size
}

// Eq compares dtype and dimensions for equality.
func (s Shape) Eq(o Shape) bool {
	if s.DType != o.DType || len(s.Dimensions) != len(o.Dimensions) {
		return false
	}
	for i, d := range s.Dimensions {
		if o.Dimensions[i] != d {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, so mutating the result never aliases s.
func (s Shape) Clone() Shape {
	dims := make([]int, len(s.Dimensions))
	copy(dims, s.Dimensions)
	return Shape{DType: s.DType, Dimensions: dims}
}

// String implements fmt.Stringer, e.g. "(float32)[2 3]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for i, d := range s.Dimensions {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}

// ShapeMismatchError is raised by NPBroadcastShape when two shapes cannot be
// broadcast together. Kept as a distinct type (as opposed to a plain errors.Errorf)
// so callers one layer up can map it to the ir.ShapeMismatch error kind without string
// matching.
type ShapeMismatchError struct {
	S0, S1 Shape
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("cannot broadcast shapes %s and %s", e.S0, e.S1)
}

// NPBroadcastShape implements numpy-style broadcasting (§4.A npBroadcastShape): the two
// dimension lists are right-aligned, the shorter is padded with leading 1s, and then for
// every axis the result takes max(d0, d1) provided d0 == d1 or one of them is 1.
//
// The result's DType is s0's; callers that broadcast across two different dtypes resolve
// the result dtype themselves before calling this (the rule here is extent-only).
func NPBroadcastShape(s0, s1 Shape) (Shape, error) {
	rank := s0.Rank()
	if s1.Rank() > rank {
		rank = s1.Rank()
	}
	dims := make([]int, rank)
	for i := 0; i < rank; i++ {
		d0 := dimFromEnd(s0, i)
		d1 := dimFromEnd(s1, i)
		switch {
		case d0 == d1:
			dims[rank-1-i] = d0
		case d0 == 1:
			dims[rank-1-i] = d1
		case d1 == 1:
			dims[rank-1-i] = d0
		default:
			return Shape{}, &ShapeMismatchError{S0: s0, S1: s1}
		}
	}
	return Shape{DType: s0.DType, Dimensions: dims}, nil
}

// dimFromEnd returns the extent of s at "i axes from the last axis", treating any axis
// before the start of s.Dimensions as an implicit leading 1 -- this is the "pad the
// shorter shape with leading 1s" step of numpy broadcasting.
func dimFromEnd(s Shape, i int) int {
	axis := s.Rank() - 1 - i
	if axis < 0 {
		return 1
	}
	return s.Dimensions[axis]
}

// NPReductionAxes returns the sorted axes that must be summed to convert a tensor of
// shape outShape (a broadcast result) back down to inShape (§4.A npReductionAxes). This
// is exactly the set of axes that autodiff must ReduceSum over when pushing a gradient
// back through a broadcasting op: any axis inShape didn't have at all (it was padded with
// a leading 1), and any axis where inShape had dimension 1 but outShape does not.
func NPReductionAxes(inShape, outShape Shape) []int {
	var axes []int
	rank := outShape.Rank()
	offset := rank - inShape.Rank()
	for axis := 0; axis < rank; axis++ {
		if axis < offset {
			// inShape had no such axis at all: fully broadcast-introduced.
			axes = append(axes, axis)
			continue
		}
		inDim := inShape.Dimensions[axis-offset]
		if inDim == 1 && outShape.Dimensions[axis] != 1 {
			axes = append(axes, axis)
		}
	}
	return axes
}

// ReduceDimensions applies NPReductionAxes' axes to shape, collapsing each reduced axis
// to extent 1 (keepdims=true semantics) -- the "round-trip law" of §8 property 6 is that
// ReduceDimensions(outShape, NPReductionAxes(inShape, outShape)) is broadcast-compatible
// back to inShape.
func ReduceDimensions(shape Shape, axes []int) Shape {
	out := shape.Clone()
	for _, axis := range axes {
		out.Dimensions[axis] = 1
	}
	return out
}
