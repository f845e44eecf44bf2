package opcatalog

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
)

func f32Bytes(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

func TestCreateNodeFromProtoAddBroadcast(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Const, "x", dtype.Shape{DType: dtype.Float32, Dimensions: []int{2, 3}}, make([]byte, 4*2*3))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Const, "y", dtype.Shape{DType: dtype.Float32, Dimensions: []int{1, 3}}, make([]byte, 4*1*3))
	require.NoError(t, err)

	n, err := CreateNodeFromProto(onnxpb.NodeProto{OpType: "Add", Input: []string{"x", "y"}, Output: []string{"z"}}, 13, g)
	require.NoError(t, err)
	require.True(t, n.SetupCalled())

	z, ok := g.Tensor("z")
	require.True(t, ok)
	require.Equal(t, []int{2, 3}, z.Shape.Dimensions)
}

func TestCreateNodeFromProtoUnknownOp(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := CreateNodeFromProto(onnxpb.NodeProto{OpType: "NotARealOp", Output: []string{"z"}}, 13, g)
	require.Error(t, err)
	e, ok := ir.AsError(err)
	require.True(t, ok)
	require.Equal(t, ir.UnknownOperator, e.Kind)
}

func TestLookupOpsetResolution(t *testing.T) {
	Register(&Entry{OpId: ir.OpId{Name: "Widget", Version: 1}, Schema: Schema{NumOutputs: 1}, Impl: unaryOp{fn: func(x float64) float64 { return x }}})
	Register(&Entry{OpId: ir.OpId{Name: "Widget", Version: 5}, Schema: Schema{NumOutputs: 1}, Impl: unaryOp{fn: func(x float64) float64 { return x }}})

	e, ok := Lookup("", "Widget", 3)
	require.True(t, ok)
	require.Equal(t, 1, e.OpId.Version)

	e, ok = Lookup("", "Widget", 10)
	require.True(t, ok)
	require.Equal(t, 5, e.OpId.Version)

	_, ok = Lookup("", "Widget", 0)
	require.True(t, ok) // requestedVersion 0 means "any version" -- highest registered wins
}

func TestBinaryOpConstFold(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Const, "a", dtype.Scalar(dtype.Float32), f32Bytes(2))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Const, "b", dtype.Scalar(dtype.Float32), f32Bytes(3))
	require.NoError(t, err)

	n, err := CreateNodeFromProto(onnxpb.NodeProto{OpType: "Mul", Input: []string{"a", "b"}, Output: []string{"c"}}, 13, g)
	require.NoError(t, err)

	entry, ok := Lookup(n.OpId.Domain, n.OpId.Name, n.OpId.Version)
	require.True(t, ok)
	foldable, ok := entry.Impl.(ConstFoldable)
	require.True(t, ok)

	at, _ := g.Tensor("a")
	bt, _ := g.Tensor("b")
	out, ok := foldable.ConstFold(n, [][]byte{at.Buffer, bt.Buffer})
	require.True(t, ok)
	require.Equal(t, f32Bytes(6), out)
}
