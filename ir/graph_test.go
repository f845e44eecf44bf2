package ir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
)

func addOp(name string) *Node { return NewDetachedNode(OpId{Name: name, Version: 1}) }

func TestGraphWiring(t *testing.T) {
	g := NewRootGraph("test")

	_, err := g.AddTensorShape(Stream, "x", dtype.Shape{DType: dtype.Float32, Dimensions: []int{2, 3}})
	require.NoError(t, err)

	n := addOp("Identity")
	id, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	require.NotEqual(t, InvalidNodeId, id)

	require.NoError(t, g.ConnectInput(n, 0, "x"))
	_, err = g.CreateAndConnectOutput(n, 0, "y", dtype.Shape{DType: dtype.Float32, Dimensions: []int{2, 3}}, ActGrad)
	require.NoError(t, err)

	xt, ok := g.Tensor("x")
	require.True(t, ok)
	require.Equal(t, 1, xt.ConsumersTotal())

	yt, ok := g.Tensor("y")
	require.True(t, ok)
	require.True(t, yt.HasProducer())
	pid, idx := yt.Producer()
	require.Equal(t, n.Id(), pid)
	require.Equal(t, 0, idx)
}

func TestEraseNodeDisconnects(t *testing.T) {
	g := NewRootGraph("test")
	_, err := g.AddTensorShape(Stream, "x", dtype.Shape{DType: dtype.Float32})
	require.NoError(t, err)

	n := addOp("Identity")
	_, err = g.MoveIntoGraph(n)
	require.NoError(t, err)
	require.NoError(t, g.ConnectInput(n, 0, "x"))
	_, err = g.CreateAndConnectOutput(n, 0, "y", dtype.Shape{DType: dtype.Float32}, ActGrad)
	require.NoError(t, err)

	require.NoError(t, g.EraseNode(n.Id()))

	xt, _ := g.Tensor("x")
	require.Equal(t, 0, xt.ConsumersTotal())
	yt, _ := g.Tensor("y")
	require.False(t, yt.HasProducer())

	_, ok := g.Node(n.Id())
	require.False(t, ok)
}

func TestConstraintStoreRejectsCycle(t *testing.T) {
	g := NewRootGraph("test")
	a, _ := g.MoveIntoGraph(addOp("A"))
	b, _ := g.MoveIntoGraph(addOp("B"))

	require.NoError(t, g.AddConstraint(a, b))
	err := g.AddConstraint(b, a)
	require.Error(t, err)
	e, ok := AsError(err)
	require.True(t, ok)
	require.Equal(t, ConstraintConflict, e.Kind)
	require.True(t, g.MustPrecede(a, b))
}

func TestReplaceWithConst(t *testing.T) {
	g := NewRootGraph("test")
	n := addOp("Add")
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	_, err = g.CreateAndConnectOutput(n, 0, "sum", dtype.Shape{DType: dtype.Float32}, ActGrad)
	require.NoError(t, err)

	require.NoError(t, g.ReplaceWithConst("sum", []byte{0, 0, 0, 0}))
	sumT, _ := g.Tensor("sum")
	require.Equal(t, Const, sumT.Class)
	require.False(t, sumT.HasProducer())
}
