package transform

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// sgd0Node builds a detached SGD0VarUpdate node reading weightId/gradId, aliasing its
// output back onto weightId, mirroring autodiff/var_updates.go's synthesizeSGD0.
func sgd0Node(t *testing.T, g *ir.Graph, weightId, gradId ir.TensorId) *ir.Node {
	n := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "SGD0VarUpdate", Version: 1})
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	n.Attrs.Set("scaledLearningRate0", ir.FloatAttr(0.1))
	require.NoError(t, g.ConnectInput(n, 0, weightId))
	require.NoError(t, g.ConnectInput(n, 1, gradId))
	require.NoError(t, g.ConnectOutput(n, 0, weightId))
	return n
}

func countNodes(g *ir.Graph, domain, name string) int {
	count := 0
	for _, n := range g.Nodes() {
		if n.OpId.Domain == domain && n.OpId.Name == name {
			count++
		}
	}
	return count
}

func TestMergeVarUpdatesAllFusesMatchingNodes(t *testing.T) {
	g := ir.NewRootGraph("test")
	const n = 11
	for i := 0; i < n; i++ {
		wId := ir.TensorId(fmt.Sprintf("w%d", i))
		gId := ir.TensorId(fmt.Sprintf("g%d", i))
		_, err := g.AddConstInit(ir.Variable, wId, dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
		require.NoError(t, err)
		_, err = g.AddTensorShape(ir.ActGrad, gId, dtype.Scalar(dtype.Float32))
		require.NoError(t, err)
		sgd0Node(t, g, wId, gId)
	}

	require.NoError(t, MergeVarUpdates(g, ir.SessionOptions{MergeVarUpdate: ir.MergeVarUpdateAll}))

	require.Equal(t, 1, countNodes(g, "tileforge.accel", "SGD0VarUpdate"))
	require.Equal(t, 2*n, countNodes(g, "tileforge.accel", "FlattenInplace"))
	require.Equal(t, 2, countNodes(g, "tileforge.accel", "ConcatInplace"))
}

func TestMergeVarUpdatesNoneLeavesUngrouped(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddConstInit(ir.Variable, "w1", dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
	require.NoError(t, err)
	_, err = g.AddTensorShape(ir.ActGrad, "g1", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	n1 := sgd0Node(t, g, "w1", "g1")

	require.NoError(t, MergeVarUpdates(g, ir.SessionOptions{MergeVarUpdate: ir.MergeVarUpdateNone}))

	require.Equal(t, "", n1.Settings.Name)
	require.Equal(t, 1, countNodes(g, "tileforge.accel", "SGD0VarUpdate"))
	require.Equal(t, 0, countNodes(g, "tileforge.accel", "FlattenInplace"))
	require.Equal(t, 0, countNodes(g, "tileforge.accel", "ConcatInplace"))
}

func TestMergeVarUpdatesAutoTightProducesCeilGroups(t *testing.T) {
	g := ir.NewRootGraph("test")
	const n = 4
	for i := 0; i < n; i++ {
		wId := ir.TensorId(fmt.Sprintf("w%d", i))
		gId := ir.TensorId(fmt.Sprintf("g%d", i))
		_, err := g.AddConstInit(ir.Variable, wId, dtype.Scalar(dtype.Float32), []byte{0, 0, 0, 0})
		require.NoError(t, err)
		_, err = g.AddTensorShape(ir.ActGrad, gId, dtype.Scalar(dtype.Float32))
		require.NoError(t, err)
		sgd0Node(t, g, wId, gId)
	}
	// 4 weights * 4 bytes (float32 scalar) = 16 total bytes; threshold 8 bytes packs
	// exactly 2 weights per group, giving ceil(16/8) = 2 groups.
	require.NoError(t, MergeVarUpdates(g, ir.SessionOptions{MergeVarUpdate: ir.MergeVarUpdateAutoTight, MergeVarUpdateThreshold: 8}))

	require.Equal(t, 2, countNodes(g, "tileforge.accel", "SGD0VarUpdate"))
	require.Equal(t, 4, countNodes(g, "tileforge.accel", "ConcatInplace"))
}
