package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func mkNode(t *testing.T, g *ir.Graph, op ir.OpId, inputs []ir.TensorId, outId ir.TensorId) *ir.Node {
	n := ir.NewDetachedNode(op)
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	for i, in := range inputs {
		require.NoError(t, g.ConnectInput(n, i, in))
	}
	_, err = g.CreateAndConnectOutput(n, 0, outId, dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)
	return n
}

func TestPruneRemovesUnreachableAndKeepsAnchored(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)

	mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "kept")
	mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "dead")

	policy := ir.DataFlowPolicy{
		BatchesPerStep: 1,
		Anchors:        map[ir.TensorId]ir.AnchorSpec{"kept": {Kind: ir.AnchorFinal}},
	}

	require.NoError(t, Prune(g, policy))

	_, ok := g.Tensor("kept")
	require.True(t, ok)
	_, ok = g.Tensor("dead")
	require.False(t, ok)
}

func TestPruneKeepsVariableEvenWithoutAnchor(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Variable, "w", dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
	require.NoError(t, err)

	policy := ir.DataFlowPolicy{BatchesPerStep: 1, Anchors: map[ir.TensorId]ir.AnchorSpec{}}
	require.NoError(t, Prune(g, policy))

	_, ok := g.Tensor("w")
	require.True(t, ok)
}
