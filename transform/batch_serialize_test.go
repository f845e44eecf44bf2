package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
	"github.com/tileforge/airuntime/opcatalog"
)

func TestBatchSerializeSplitsAndConcats(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Shape{DType: dtype.Float32, Dimensions: []int{4, 3}})
	require.NoError(t, err)
	_, err = g.AddTensorShape(ir.Stream, "bias", dtype.Shape{DType: dtype.Float32, Dimensions: []int{3}})
	require.NoError(t, err)

	_, err = opcatalog.CreateNodeFromProto(onnxpb.NodeProto{OpType: "Add", Input: []string{"x", "bias"}, Output: []string{"z"}}, 13, g)
	require.NoError(t, err)
	mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"z"}, "out")

	require.NoError(t, BatchSerialize(g, BatchSerializeConfig{Factor: 2}))

	var concat *ir.Node
	var phases []*ir.Node
	for _, n := range g.Nodes() {
		if n.OpId.Name == "Concat" {
			concat = n
		}
		if n.OpId.Name == "Add" && n.Settings.BatchSerializedPhase != nil {
			phases = append(phases, n)
		}
	}
	require.NotNil(t, concat)
	require.Len(t, phases, 2)

	outT, ok := g.Tensor("out")
	require.True(t, ok)
	require.True(t, outT.HasProducer())
	pid, _ := outT.Producer()
	outNode, ok := g.Node(pid)
	require.True(t, ok)
	inId, ok := outNode.Input(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("z___concat"), inId)

	zt, ok := g.Tensor("z")
	require.True(t, ok)
	require.False(t, zt.HasProducer())
	require.Equal(t, 0, zt.ConsumersTotal())

	require.True(t, g.MustPrecede(phases[0].Id(), phases[1].Id()))
}

func TestBatchSerializeNoopBelowFactorTwo(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Shape{DType: dtype.Float32, Dimensions: []int{4, 3}})
	require.NoError(t, err)
	_, err = g.AddTensorShape(ir.Stream, "bias", dtype.Shape{DType: dtype.Float32, Dimensions: []int{3}})
	require.NoError(t, err)
	_, err = opcatalog.CreateNodeFromProto(onnxpb.NodeProto{OpType: "Add", Input: []string{"x", "bias"}, Output: []string{"z"}}, 13, g)
	require.NoError(t, err)

	require.NoError(t, BatchSerialize(g, BatchSerializeConfig{Factor: 1}))

	_, ok := g.Tensor("z")
	require.True(t, ok)
}
