package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func addNode(t *testing.T, g *ir.Graph, op ir.OpId, inputs []ir.TensorId, outId ir.TensorId) *ir.Node {
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

func TestIdentityElimination(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	addNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "y")
	addNode(t, g, ir.OpId{Name: "Neg", Version: 1}, []ir.TensorId{"y"}, "z")

	require.NoError(t, Run(g, PreAlias))

	zt, ok := g.Tensor("z")
	require.True(t, ok)
	pid, _ := zt.Producer()
	neg, ok := g.Node(pid)
	require.True(t, ok)
	inId, ok := neg.Input(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("x"), inId)

	_, ok = g.Tensor("y")
	require.False(t, ok)
}

func TestDoubleNegElimination(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	addNode(t, g, ir.OpId{Name: "Neg", Version: 1}, []ir.TensorId{"x"}, "a")
	addNode(t, g, ir.OpId{Name: "Neg", Version: 1}, []ir.TensorId{"a"}, "b")
	addNode(t, g, ir.OpId{Name: "Sign", Version: 1}, []ir.TensorId{"b"}, "c")

	require.NoError(t, Run(g, PreAlias))

	ct, ok := g.Tensor("c")
	require.True(t, ok)
	pid, _ := ct.Producer()
	consumer, ok := g.Node(pid)
	require.True(t, ok)
	inId, ok := consumer.Input(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("x"), inId)

	_, ok = g.Tensor("a")
	require.False(t, ok)
	_, ok = g.Tensor("b")
	require.False(t, ok)
}

func TestSoftmaxGradDirectFusion(t *testing.T) {
	g := ir.NewRootGraph("test")
	for _, id := range []ir.TensorId{"probs", "lossGrad", "label"} {
		_, err := g.AddTensorShape(ir.Stream, id, dtype.Scalar(dtype.Float32))
		require.NoError(t, err)
	}

	addNode(t, g, ir.OpId{Domain: accelDomainName, Name: "NLLGrad", Version: 1},
		[]ir.TensorId{"lossGrad", "probs", "label"}, "gradOut")
	addNode(t, g, ir.OpId{Domain: accelDomainName, Name: "SoftmaxGrad", Version: 1},
		[]ir.TensorId{"probs", "gradOut"}, "logitsGrad")

	require.NoError(t, Run(g, PreAlias))

	gt, ok := g.Tensor("logitsGrad")
	require.True(t, ok)
	pid, _ := gt.Producer()
	fused, ok := g.Node(pid)
	require.True(t, ok)
	require.Equal(t, "SoftmaxNLLGradDirect", fused.OpId.Name)

	in0, _ := fused.Input(0)
	in1, _ := fused.Input(1)
	in2, _ := fused.Input(2)
	require.Equal(t, ir.TensorId("probs"), in0)
	require.Equal(t, ir.TensorId("label"), in1)
	require.Equal(t, ir.TensorId("lossGrad"), in2)

	_, ok = g.Tensor("gradOut")
	require.False(t, ok)
}
