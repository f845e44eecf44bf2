package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
	"github.com/tileforge/airuntime/opcatalog"
)

func TestRunSequencesConstFoldAndPrune(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Const, "a", dtype.Scalar(dtype.Float32), f32Bytes(2))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Const, "b", dtype.Scalar(dtype.Float32), f32Bytes(3))
	require.NoError(t, err)
	_, err = opcatalog.CreateNodeFromProto(onnxpb.NodeProto{OpType: "Mul", Input: []string{"a", "b"}, Output: []string{"kept"}}, 13, g)
	require.NoError(t, err)
	mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"kept"}, "dead")

	model := ir.NewIR("test")
	model.Root = g
	model.DataFlow.Anchors = map[ir.TensorId]ir.AnchorSpec{"kept": {Kind: ir.AnchorFinal}}

	require.NoError(t, Run(model, Options{}))

	keptT, ok := g.Tensor("kept")
	require.True(t, ok)
	require.Equal(t, ir.Const, keptT.Class)

	_, ok = g.Tensor("dead")
	require.False(t, ok)
}
