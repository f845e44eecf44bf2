package autodiff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func mulNode(t *testing.T, g *ir.Graph, xId, wId, outId ir.TensorId) *ir.Node {
	n := ir.NewDetachedNode(ir.OpId{Name: "Mul", Version: 1})
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	require.NoError(t, g.ConnectInput(n, 0, xId))
	require.NoError(t, g.ConnectInput(n, 1, wId))
	_, err = g.CreateAndConnectOutput(n, 0, outId, dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)
	return n
}

func l1LossNode(t *testing.T, g *ir.Graph, inId, outId ir.TensorId) *ir.Node {
	n := ir.NewDetachedNode(ir.OpId{Name: "L1Loss", Version: 1})
	n.Attrs.Set("lambda", ir.FloatAttr(1))
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	require.NoError(t, g.ConnectInput(n, 0, inId))
	_, err = g.CreateAndConnectOutput(n, 0, outId, dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)
	return n
}

func TestBuildSGD0SingleVariable(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Variable, "w", dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
	require.NoError(t, err)

	mulN := mulNode(t, g, "x", "w", "y")
	l1LossNode(t, g, "y", "loss")

	model := ir.NewIR("test")
	model.Root = g
	model.Losses = []ir.LossSpec{{OutputTensorId: "loss", Name: "loss", Scale: 1, Reduction: ir.Sum}}
	model.Optimizer = ir.OptimizerSpec{
		Variant:      ir.SGD0,
		LearningRate: ir.Scalar{Value: 0.1, IsConst: true},
		LossScaling:  ir.Scalar{Value: 1, IsConst: true},
	}

	require.NoError(t, Build(model))

	require.True(t, mulN.PathToLoss)

	var update *ir.Node
	for _, n := range g.Nodes() {
		if n.OpId.Domain == accelDomainName && n.OpId.Name == "SGD0VarUpdate" {
			update = n
		}
	}
	require.NotNil(t, update)
	require.True(t, update.FromLoss)

	outId, ok := update.Output(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("w"), outId)

	wt, _ := g.Tensor("w")
	pid, _ := wt.Producer()
	require.Equal(t, update.Id(), pid)
}

func TestBuildRaisesNonDifferentiable(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	_, err = g.AddConstInit(ir.Variable, "w", dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
	require.NoError(t, err)

	mulNode(t, g, "x", "w", "y")

	sign := ir.NewDetachedNode(ir.OpId{Name: "Sign", Version: 1})
	_, err = g.MoveIntoGraph(sign)
	require.NoError(t, err)
	require.NoError(t, g.ConnectInput(sign, 0, "y"))
	_, err = g.CreateAndConnectOutput(sign, 0, "s", dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)

	l1LossNode(t, g, "s", "loss")

	model := ir.NewIR("test")
	model.Root = g
	model.Losses = []ir.LossSpec{{OutputTensorId: "loss", Name: "loss", Scale: 1}}

	err = Build(model)
	require.Error(t, err)
	e, ok := ir.AsError(err)
	require.True(t, ok)
	require.Equal(t, ir.NonDifferentiable, e.Kind)
}

func TestBuildRaisesUnreachableLoss(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Const, "c", dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
	require.NoError(t, err)
	n := ir.NewDetachedNode(ir.OpId{Name: "Identity", Version: 1})
	_, err = g.MoveIntoGraph(n)
	require.NoError(t, err)
	require.NoError(t, g.ConnectInput(n, 0, "c"))
	_, err = g.CreateAndConnectOutput(n, 0, "loss", dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)

	model := ir.NewIR("test")
	model.Root = g
	model.Losses = []ir.LossSpec{{OutputTensorId: "loss", Name: "loss", Scale: 1}}

	err = Build(model)
	require.Error(t, err)
	e, ok := ir.AsError(err)
	require.True(t, ok)
	require.Equal(t, ir.UnreachableLoss, e.Kind)
}
