package compile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
)

func mulModel(outName string) onnxpb.ModelProto {
	return onnxpb.ModelProto{
		OpsetVersion: 13,
		Graph: onnxpb.GraphProto{
			Name: "test",
			Input: []onnxpb.ValueInfoProto{
				{Name: "x", ElemType: "float32", HasShape: true, Dimensions: []int64{}},
			},
			Initializer: []onnxpb.TensorProto{
				{Name: "w", DataType: "float32", Dims: []int64{}, RawBytes: []byte{0, 0, 128, 63}},
			},
			Node: []onnxpb.NodeProto{
				{OpType: "Mul", Input: []string{"x", "w"}, Output: []string{outName}},
			},
		},
	}
}

func TestFromProtoBuildsGraphWithVariableAndStream(t *testing.T) {
	model, err := FromProto("test", mulModel("y"), FromProtoOptions{
		VariableNames: map[string]bool{"w": true},
	})
	require.NoError(t, err)

	wt, ok := model.Root.Tensor("w")
	require.True(t, ok)
	require.Equal(t, ir.Variable, wt.Class)

	xt, ok := model.Root.Tensor("x")
	require.True(t, ok)
	require.Equal(t, ir.Stream, xt.Class)

	yt, ok := model.Root.Tensor("y")
	require.True(t, ok)
	require.True(t, yt.HasProducer())
}

func TestCompileInferenceOnlySchedulesEveryNode(t *testing.T) {
	model, err := FromProto("test", mulModel("y"), FromProtoOptions{
		VariableNames: map[string]bool{"w": true},
		DataFlow: ir.DataFlowPolicy{
			BatchesPerStep: 1,
			Anchors:        map[ir.TensorId]ir.AnchorSpec{"y": {Kind: ir.AnchorFinal}},
		},
	})
	require.NoError(t, err)

	res, err := Compile(model, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Order)
	require.Len(t, res.Order, len(model.Root.Nodes()))
	require.Len(t, res.LiveSets, len(res.Order))

	_, ok := model.Root.Tensor("y")
	require.True(t, ok)
}

func TestCompileWithLossRunsAutodiffAndSynthesizesUpdate(t *testing.T) {
	lossModel := mulModel("y")
	lossModel.Graph.Node = append(lossModel.Graph.Node, onnxpb.NodeProto{
		OpType: "L1Loss", Input: []string{"y"}, Output: []string{"loss"},
	})
	model, err := FromProto("test", lossModel, FromProtoOptions{
		VariableNames: map[string]bool{"w": true},
		Losses:        []ir.LossSpec{{OutputTensorId: "loss", Name: "loss", Scale: 1, Reduction: ir.Sum}},
		Optimizer: ir.OptimizerSpec{
			Variant:      ir.SGD0,
			LearningRate: ir.Scalar{Value: 0.1, IsConst: true},
			LossScaling:  ir.Scalar{Value: 1, IsConst: true},
		},
	})
	require.NoError(t, err)

	res, err := Compile(model, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Order)

	var foundUpdate bool
	for _, n := range model.Root.Nodes() {
		if n.OpId.Domain == "tileforge.accel" && n.OpId.Name == "SGD0VarUpdate" {
			foundUpdate = true
		}
	}
	require.True(t, foundUpdate)
}

func TestCompileManyRunsIndependentModelsConcurrently(t *testing.T) {
	anchored := ir.DataFlowPolicy{BatchesPerStep: 1, Anchors: map[ir.TensorId]ir.AnchorSpec{"y": {Kind: ir.AnchorFinal}}}
	m1, err := FromProto("m1", mulModel("y"), FromProtoOptions{VariableNames: map[string]bool{"w": true}, DataFlow: anchored})
	require.NoError(t, err)
	m2, err := FromProto("m2", mulModel("y"), FromProtoOptions{VariableNames: map[string]bool{"w": true}, DataFlow: anchored})
	require.NoError(t, err)

	results, err := CompileMany(context.Background(), []*ir.IR{m1, m2}, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NotEmpty(t, r.Order)
	}
}
