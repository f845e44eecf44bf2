package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func twoStageGraph(t *testing.T) (*ir.Graph, *ir.Node, *ir.Node) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)

	producer := mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "y")
	s0 := 0
	producer.Settings.PipelineStage = &s0

	consumer := mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"y"}, "z")
	s1 := 1
	consumer.Settings.PipelineStage = &s1

	return g, producer, consumer
}

func TestInsertPipelineStashesSplicesAcrossStages(t *testing.T) {
	g, _, consumer := twoStageGraph(t)

	model := ir.NewIR("test")
	model.Root = g
	model.Options.EnablePipelining = true
	model.DataFlow.BatchesPerStep = 3

	require.NoError(t, AssignPipelineStages(g, model.Options))
	require.NoError(t, InsertPipelineStashes(g, model))

	inId, ok := consumer.Input(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("y___restored"), inId)

	_, ok = g.Tensor("y___stashed")
	require.True(t, ok)

	var stash *ir.Node
	for _, n := range g.Nodes() {
		if n.OpId.Name == "Stash" {
			stash = n
		}
	}
	require.NotNil(t, stash)
	require.Equal(t, int64(3), stash.AttrOr("stashSize", ir.AttrValue{}).Int)
}

func TestInsertPipelineStashesRejectsInsufficientDepth(t *testing.T) {
	g, _, _ := twoStageGraph(t)

	model := ir.NewIR("test")
	model.Root = g
	model.Options.EnablePipelining = true
	model.DataFlow.BatchesPerStep = 1

	err := InsertPipelineStashes(g, model)
	require.Error(t, err)
	e, ok := ir.AsError(err)
	require.True(t, ok)
	require.Equal(t, ir.InsufficientPipelineDepth, e.Kind)
}

func TestInsertPipelineStashesRejectsMissingStage(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "y")

	model := ir.NewIR("test")
	model.Root = g
	model.Options.EnablePipelining = true
	model.DataFlow.BatchesPerStep = 10

	err = InsertPipelineStashes(g, model)
	require.Error(t, err)
	e, ok := ir.AsError(err)
	require.True(t, ok)
	require.Equal(t, ir.InsufficientPipelineDepth, e.Kind)
}
