// Package schedule computes a deterministic, dependency-respecting execution order over
// a fully transformed graph (§4.G): the final stage the transform and rewrite pipelines
// feed into before hardware codegen (out of scope here). getOpSchedule, getEdgeMap and
// getLiveSets are implemented as Schedule, EdgeMap and LiveSets respectively.
package schedule

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/tileforge/airuntime/ir"
)

// Schedule is the deterministic op order §4.G describes: a topological sort of the
// dependency graph induced by tensor producer/consumer edges and explicit constraints,
// broken by (ascending pipeline stage, descending schedule priority, ascending node id)
// whenever more than one node is ready at once (§4.G's fixed tie-break, chosen so two
// runs of the same graph always produce byte-identical schedules).
func Schedule(g *ir.Graph) ([]ir.NodeId, error) {
	dg, nodes := buildDependencyGraph(g)
	byId := make(map[ir.NodeId]*ir.Node, len(nodes))
	for _, n := range nodes {
		byId[n.Id()] = n
	}

	// Kahn's algorithm over the gonum graph, but with a priority queue instead of gonum's
	// own topo.Sort so the §4.G tie-break applies at every step rather than leaving
	// ready-set ordering unspecified.
	indegree := make(map[ir.NodeId]int, len(nodes))
	for _, n := range nodes {
		indegree[n.Id()] = 0
	}
	it := dg.Edges()
	for it.Next() {
		e := it.Edge()
		indegree[ir.NodeId(e.To().ID())]++
	}

	ready := make([]ir.NodeId, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n.Id()] == 0 {
			ready = append(ready, n.Id())
		}
	}

	less := func(a, b ir.NodeId) bool {
		na, nb := byId[a], byId[b]
		sa, sb := stageOf(na), stageOf(nb)
		if sa != sb {
			return sa < sb
		}
		pa, pb := priorityOf(na), priorityOf(nb)
		if pa != pb {
			return pa > pb
		}
		return a < b
	}

	var order []ir.NodeId
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		succIt := dg.From(int64(next))
		var unlocked []ir.NodeId
		for succIt.Next() {
			succ := ir.NodeId(succIt.Node().ID())
			indegree[succ]--
			if indegree[succ] == 0 {
				unlocked = append(unlocked, succ)
			}
		}
		ready = append(ready, unlocked...)
	}

	if len(order) != len(nodes) {
		return nil, ir.Errorf(ir.Cycle, "graph %q has a cycle: %d of %d nodes are unorderable", "", len(nodes)-len(order), len(nodes))
	}
	// Confirm acyclicity with gonum's own checker too, belt-and-braces against the
	// hand-rolled Kahn loop above silently mis-scheduling rather than detecting a cycle
	// it should have caught (e.g. a constraint cycle introduced after indegree was built).
	if _, err := topo.Sort(dg); err != nil {
		return nil, ir.Errorf(ir.Cycle, "graph has a cycle: %v", err)
	}
	return order, nil
}

// buildDependencyGraph constructs the gonum directed graph induced by tensor
// producer/consumer edges and explicit constraints (§4.G) -- shared by Schedule and
// EdgeMap so both are computed over exactly the same edge set.
func buildDependencyGraph(g *ir.Graph) (*simple.DirectedGraph, []*ir.Node) {
	nodes := g.Nodes()
	dg := simple.NewDirectedGraph()
	for _, n := range nodes {
		dg.AddNode(simple.Node(n.Id()))
	}
	addEdge := func(before, after ir.NodeId) {
		if before == after {
			return
		}
		if dg.HasEdgeFromTo(int64(before), int64(after)) {
			return
		}
		dg.SetEdge(simple.Edge{F: simple.Node(before), T: simple.Node(after)})
	}
	for _, t := range g.Tensors() {
		if !t.HasProducer() {
			continue
		}
		pid, _ := t.Producer()
		for _, c := range t.Consumers() {
			addEdge(pid, c.Node)
		}
	}
	for _, c := range g.Constraints() {
		addEdge(c.Before, c.After)
	}
	return dg, nodes
}

func stageOf(n *ir.Node) int {
	if n == nil || n.Settings.PipelineStage == nil {
		return 0
	}
	return *n.Settings.PipelineStage
}

func priorityOf(n *ir.Node) float64 {
	if n == nil {
		return 0
	}
	return n.Settings.SchedulePriority
}

// EdgeMap returns, for every node, its full set of forward-reachable descendants: every
// node reachable by following tensor producer/consumer edges and explicit constraints
// transitively, not just immediate successors (§4.G getEdgeMap: "{ nodeId → set<nodeId> }
// ... the full forward-reachability map"). Built from the exact same dependency graph
// Schedule uses, so the two stay consistent by construction.
func EdgeMap(g *ir.Graph) (map[ir.NodeId]map[ir.NodeId]struct{}, error) {
	dg, nodes := buildDependencyGraph(g)
	ordered, err := topo.Sort(dg)
	if err != nil {
		return nil, ir.Errorf(ir.Cycle, "graph has a cycle: %v", err)
	}

	descendants := make(map[ir.NodeId]map[ir.NodeId]struct{}, len(nodes))
	for _, n := range nodes {
		descendants[n.Id()] = make(map[ir.NodeId]struct{})
	}
	// Reverse topological order: by the time a node is visited, every one of its direct
	// successors already has its full descendant set computed, so a single pass suffices.
	for i := len(ordered) - 1; i >= 0; i-- {
		id := ir.NodeId(ordered[i].ID())
		set := descendants[id]
		succIt := dg.From(int64(id))
		for succIt.Next() {
			succId := ir.NodeId(succIt.Node().ID())
			set[succId] = struct{}{}
			for d := range descendants[succId] {
				set[d] = struct{}{}
			}
		}
	}
	return descendants, nil
}

// LiveSets returns, for each position in order, the set of tensor ids that are live just
// after that op executes: produced by some op at or before this position and still
// consumed by some op strictly after it (§4.G getLiveSets). Index i of the result
// corresponds to order[i].
func LiveSets(g *ir.Graph, order []ir.NodeId) ([]map[ir.TensorId]struct{}, error) {
	pos := make(map[ir.NodeId]int, len(order))
	for i, id := range order {
		pos[id] = i
	}

	lastConsumerPos := make(map[ir.TensorId]int)
	for _, t := range g.Tensors() {
		last := -1
		for _, c := range t.Consumers() {
			if p, ok := pos[c.Node]; ok && p > last {
				last = p
			}
		}
		lastConsumerPos[t.Id] = last
	}

	live := make([]map[ir.TensorId]struct{}, len(order))
	alive := make(map[ir.TensorId]struct{})
	for i, id := range order {
		n, ok := g.Node(id)
		if !ok {
			return nil, ir.Errorf(ir.InternalLogicError, "schedule: order references unknown node #%d", id)
		}
		for o := 0; o < n.NumOutputs(); o++ {
			if tid, ok := n.Output(o); ok {
				alive[tid] = struct{}{}
			}
		}
		for tid := range alive {
			if lastConsumerPos[tid] <= i {
				delete(alive, tid)
			}
		}
		snapshot := make(map[ir.TensorId]struct{}, len(alive))
		for tid := range alive {
			snapshot[tid] = struct{}{}
		}
		live[i] = snapshot
	}
	return live, nil
}

var _ graph.Directed = (*simple.DirectedGraph)(nil)
