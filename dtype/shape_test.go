package dtype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	scalar := Scalar(Float64)
	require.True(t, scalar.IsScalar())
	require.Equal(t, 0, scalar.Rank())
	require.Equal(t, 1, scalar.Size())

	s, err := Make(Float32, 4, 3, 2)
	require.NoError(t, err)
	require.False(t, s.IsScalar())
	require.Equal(t, 3, s.Rank())
	require.Equal(t, 4*3*2, s.Size())
	require.Equal(t, 4, s.Dim(0))
	require.Equal(t, 2, s.Dim(-1))

	_, err = Make(Int32, -1)
	require.Error(t, err)
}

func TestNBytes(t *testing.T) {
	require.Equal(t, 4*5*4, NBytes([]int{4, 5}, Int32))
	require.Equal(t, 8, NBytes(nil, Float64))
}

func TestFromString(t *testing.T) {
	d, err := FromString("float32")
	require.NoError(t, err)
	require.Equal(t, Float32, d)
	require.Equal(t, "float32", d.String())

	_, err = FromString("not-a-type")
	require.Error(t, err)
}

// TestNPBroadcastShape covers the well-known numpy right-align-and-pad rule (§4.A),
// including the case from S1 in spec.md §8 where an incompatible trailing axis fails.
func TestNPBroadcastShape(t *testing.T) {
	cases := []struct {
		name     string
		d0, d1   []int
		want     []int
		wantFail bool
	}{
		{"scalar-and-vector", []int{}, []int{5}, []int{5}, false},
		{"same-shape", []int{2, 5}, []int{2, 5}, []int{2, 5}, false},
		{"row-broadcast", []int{2, 5}, []int{1, 5}, []int{2, 5}, false},
		{"leading-pad", []int{5}, []int{2, 5}, []int{2, 5}, false},
		{"incompatible", []int{2, 5}, []int{2, 4}, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s0, _ := Make(Float32, c.d0...)
			s1, _ := Make(Float32, c.d1...)
			got, err := NPBroadcastShape(s0, s1)
			if c.wantFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.want, got.Dimensions)
		})
	}
}

// TestNPBroadcastShapeCommutative checks §8 property 5: the result is the same shape
// regardless of argument order, on non-failing inputs.
func TestNPBroadcastShapeCommutative(t *testing.T) {
	s0, _ := Make(Float32, 3, 1, 5)
	s1, _ := Make(Float32, 1, 4, 5)
	a, err := NPBroadcastShape(s0, s1)
	require.NoError(t, err)
	b, err := NPBroadcastShape(s1, s0)
	require.NoError(t, err)
	require.Equal(t, a.Dimensions, b.Dimensions)
}

// TestNPReductionAxesRoundTrip checks §8 property 6: reducing the broadcast result back
// down by the returned axes reproduces the original shape's dimensions (up to keepdims=1).
func TestNPReductionAxesRoundTrip(t *testing.T) {
	a, _ := Make(Float32, 1, 5)
	b, _ := Make(Float32, 3, 5)
	broadcast, err := NPBroadcastShape(a, b)
	require.NoError(t, err)
	require.Equal(t, []int{3, 5}, broadcast.Dimensions)

	axes := NPReductionAxes(a, broadcast)
	require.Equal(t, []int{0}, axes)
	reduced := ReduceDimensions(broadcast, axes)
	require.Equal(t, []int{1, 5}, reduced.Dimensions)

	// A fully leading-padded shape: inShape has fewer axes than outShape entirely.
	scalar := Scalar(Float32)
	axesAll := NPReductionAxes(scalar, broadcast)
	require.Equal(t, []int{0, 1}, axesAll)
}
