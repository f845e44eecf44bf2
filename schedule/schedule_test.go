package schedule

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func op(t *testing.T, g *ir.Graph, name string, inputs []ir.TensorId, outId ir.TensorId) *ir.Node {
	n := ir.NewDetachedNode(ir.OpId{Name: name, Version: 1})
	_, err := g.MoveIntoGraph(n)
	require.NoError(t, err)
	for i, in := range inputs {
		require.NoError(t, g.ConnectInput(n, i, in))
	}
	_, err = g.CreateAndConnectOutput(n, 0, outId, dtype.Scalar(dtype.Float32), ir.ActGrad)
	require.NoError(t, err)
	return n
}

func TestScheduleRespectsDependencyOrder(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)

	a := op(t, g, "Identity", []ir.TensorId{"x"}, "a")
	b := op(t, g, "Identity", []ir.TensorId{"a"}, "b")
	c := op(t, g, "Identity", []ir.TensorId{"b"}, "c")

	order, err := Schedule(g)
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[ir.NodeId]int)
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos[a.Id()], pos[b.Id()])
	require.Less(t, pos[b.Id()], pos[c.Id()])
}

func TestScheduleTieBreaksByStageThenPriorityThenId(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)

	hi := op(t, g, "Identity", []ir.TensorId{"x"}, "hi")
	lo := op(t, g, "Identity", []ir.TensorId{"x"}, "lo")
	hi.Settings.SchedulePriority = 1
	lo.Settings.SchedulePriority = 0

	order, err := Schedule(g)
	require.NoError(t, err)
	require.Equal(t, hi.Id(), order[0])
	require.Equal(t, lo.Id(), order[1])
}

func TestScheduleHonorsExplicitConstraint(t *testing.T) {
	g := ir.NewRootGraph("test")
	a := op(t, g, "Identity", nil, "a")
	b := op(t, g, "Identity", nil, "b")

	require.NoError(t, g.AddConstraint(b.Id(), a.Id()))

	order, err := Schedule(g)
	require.NoError(t, err)

	pos := make(map[ir.NodeId]int)
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos[b.Id()], pos[a.Id()])
}

func TestEdgeMapReturnsFullForwardReachability(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	a := op(t, g, "Identity", []ir.TensorId{"x"}, "y")
	b := op(t, g, "Identity", []ir.TensorId{"y"}, "z")

	got, err := EdgeMap(g)
	require.NoError(t, err)
	want := map[ir.NodeId]map[ir.NodeId]struct{}{
		a.Id(): {b.Id(): {}},
		b.Id(): {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EdgeMap mismatch (-want +got):\n%s", diff)
	}
}

func TestEdgeMapIncludesTransitiveDescendants(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	a := op(t, g, "Identity", []ir.TensorId{"x"}, "a")
	b := op(t, g, "Identity", []ir.TensorId{"a"}, "b")
	c := op(t, g, "Identity", []ir.TensorId{"b"}, "c")

	got, err := EdgeMap(g)
	require.NoError(t, err)

	_, direct := got[a.Id()][b.Id()]
	require.True(t, direct)
	_, transitive := got[a.Id()][c.Id()]
	require.True(t, transitive, "a's descendant set must include c, reachable only through b")
	require.Empty(t, got[c.Id()])
}

func TestLiveSetsDropTensorAfterLastConsumer(t *testing.T) {
	g := ir.NewRootGraph("test")
	_, err := g.AddTensorShape(ir.Stream, "x", dtype.Scalar(dtype.Float32))
	require.NoError(t, err)
	op(t, g, "Identity", []ir.TensorId{"x"}, "a")
	op(t, g, "Identity", []ir.TensorId{"a"}, "b")

	order, err := Schedule(g)
	require.NoError(t, err)
	live, err := LiveSets(g, order)
	require.NoError(t, err)
	require.Len(t, live, 2)

	_, aliveAtEnd := live[len(live)-1][ir.TensorId("a")]
	require.False(t, aliveAtEnd)
	_, aliveAtEnd2 := live[len(live)-1][ir.TensorId("b")]
	require.False(t, aliveAtEnd2)
}
