package transform

import "github.com/tileforge/airuntime/ir"

// Prune removes every node and tensor not reachable backward from an anchored tensor or
// from a Variable tensor's final producer (§4.F.2): the dead-code elimination pass that
// runs after constant folding has simplified the graph, seeded by
// ir.DataFlowPolicy.AnchorIds() in its deterministic sorted order.
func Prune(g *ir.Graph, policy ir.DataFlowPolicy) error {
	required := make(map[ir.TensorId]bool)
	neededNodes := make(map[ir.NodeId]bool)

	var walk func(tid ir.TensorId)
	walk = func(tid ir.TensorId) {
		if required[tid] {
			return
		}
		required[tid] = true
		t, ok := g.Tensor(tid)
		if !ok || !t.HasProducer() {
			return
		}
		pid, _ := t.Producer()
		if neededNodes[pid] {
			return
		}
		neededNodes[pid] = true
		pn, ok := g.Node(pid)
		if !ok {
			return
		}
		for i := 0; i < pn.NumInputs(); i++ {
			if in, ok := pn.Input(i); ok {
				walk(in)
			}
		}
	}

	for _, tid := range policy.AnchorIds() {
		walk(tid)
	}
	// A Variable's own persisted state must survive pruning even if it is never
	// explicitly anchored -- its final value is the whole point of training.
	for _, t := range g.Tensors() {
		if t.Class == ir.Variable || t.Class == ir.Momentum {
			walk(t.Id)
		}
	}

	for _, n := range g.Nodes() {
		if !neededNodes[n.Id()] {
			if err := g.EraseNode(n.Id()); err != nil {
				return err
			}
		}
	}
	for _, t := range g.Tensors() {
		if !required[t.Id] && t.ConsumersTotal() == 0 && !t.HasProducer() {
			if err := g.RemoveTensor(t.Id); err != nil {
				return err
			}
		}
	}
	return nil
}
