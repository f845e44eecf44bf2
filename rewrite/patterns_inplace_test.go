package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func TestInplaceSelectionSplicesFlattenInplace(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Shape{DType: dtype.Float32, Dimensions: []int{2, 3}})
	require.NoError(t, err)

	n := addNode(t, g, ir.OpId{Name: "Flatten", Version: 1}, []ir.TensorId{"x"}, "y")
	addNode(t, g, ir.OpId{Name: "Identity", Version: 1}, []ir.TensorId{"y"}, "z")
	origId := n.Id()

	require.NoError(t, Run(g, AliasInplace))

	yt, ok := g.Tensor("y")
	require.True(t, ok)
	pid, idx := yt.Producer()
	require.Equal(t, 0, idx)

	spliced, ok := g.Node(pid)
	require.True(t, ok)
	require.Equal(t, "FlattenInplace", spliced.OpId.Name)
	require.Equal(t, "tileforge.accel", spliced.OpId.Domain)
	require.NotEqual(t, origId, spliced.Id())

	inId, ok := spliced.Input(0)
	require.True(t, ok)
	require.Equal(t, ir.TensorId("x"), inId)

	_, ok = g.Node(origId)
	require.False(t, ok)
}
