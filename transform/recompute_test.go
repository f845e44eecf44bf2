package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func TestTagRecomputeStandardTagsForwardOnly(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)

	fwd := mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "y")
	fwd.PathToLoss = true

	grad := mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"y"}, "g")
	grad.PathToLoss = true
	grad.FromLoss = true

	require.NoError(t, TagRecompute(g, ir.RecomputeStandard))

	require.Equal(t, ir.Recompute, fwd.Settings.Recompute)
	require.Equal(t, ir.Checkpoint, grad.Settings.Recompute)
}

func TestTagRecomputeOffLeavesEverythingAtCheckpoint(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	fwd := mkNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"x"}, "y")
	fwd.PathToLoss = true

	require.NoError(t, TagRecompute(g, ir.RecomputeOff))
	require.Equal(t, ir.Checkpoint, fwd.Settings.Recompute)
}
