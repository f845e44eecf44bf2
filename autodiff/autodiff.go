// Package autodiff implements the reverse-mode automatic differentiation builder (§4.D):
// given a forward graph marked with loss declarations and an optimizer specification, it
// synthesizes the backward graph and the weight-update nodes.
package autodiff

import (
	"fmt"

	"github.com/tileforge/airuntime/ir"
)

// Build runs the full §4.D algorithm against model's root graph, mutating it in place:
// marking PathToLoss/FromLoss, wiring gradient nodes, and synthesizing var-update nodes
// for every Variable tensor reachable from a loss.
func Build(model *ir.IR) error {
	b := &builder{
		g:        model.Root,
		gradOf:   make(map[ir.TensorId][]ir.TensorId),
		doneGrad: make(map[ir.TensorId]ir.TensorId),
		seq:      0,
	}
	if err := b.markPathToLoss(model.Losses); err != nil {
		return err
	}
	if err := b.seedLossGradients(model.Losses); err != nil {
		return err
	}
	order, err := b.reverseTopoOrder()
	if err != nil {
		return err
	}
	for _, n := range order {
		if err := b.processNode(n); err != nil {
			return err
		}
	}
	if err := b.synthesizeVarUpdates(model.Optimizer); err != nil {
		return err
	}
	return nil
}

type builder struct {
	g *ir.Graph

	// gradOf accumulates, per forward tensor id, the partial gradient tensors
	// contributed so far by each of its consumers (§4.D step 4).
	gradOf map[ir.TensorId][]ir.TensorId

	// doneGrad holds the single, fully-summed gradient tensor for a forward tensor id,
	// once every partial has been collected.
	doneGrad map[ir.TensorId]ir.TensorId

	seq int
}

func (b *builder) nextId(prefix string) ir.TensorId {
	b.seq++
	return ir.TensorId(fmt.Sprintf("%s%d", prefix, b.seq))
}

// markPathToLoss computes P = PathToLoss (§4.D step 1): every tensor and node on a
// directed path ending at a loss output, found by walking backward along producer
// edges from each declared loss.
func (b *builder) markPathToLoss(losses []ir.LossSpec) error {
	for _, loss := range losses {
		t, ok := b.g.Tensor(loss.OutputTensorId)
		if !ok {
			return ir.Errorf(ir.UnreachableLoss, "loss %q: tensor %q does not exist", loss.Name, loss.OutputTensorId)
		}
		sawVariable := false
		visited := make(map[ir.TensorId]bool)
		stack := []ir.TensorId{t.Id}
		for len(stack) > 0 {
			tid := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[tid] {
				continue
			}
			visited[tid] = true
			tt, ok := b.g.Tensor(tid)
			if !ok {
				continue
			}
			if tt.Class == ir.Variable {
				sawVariable = true
			}
			if !tt.HasProducer() {
				continue
			}
			pid, _ := tt.Producer()
			pn, ok := b.g.Node(pid)
			if !ok {
				continue
			}
			pn.PathToLoss = true
			for i := 0; i < pn.NumInputs(); i++ {
				if in, ok := pn.Input(i); ok {
					stack = append(stack, in)
				}
			}
		}
		if !sawVariable {
			return ir.Errorf(ir.UnreachableLoss, "loss %q: tensor %q has no path from any Variable tensor", loss.Name, loss.OutputTensorId)
		}
	}
	return nil
}

// seedLossGradients instantiates each loss's gradient seed (dL/dloss = 1, scaled by the
// loss's scale factor) and records it as the sole partial gradient of the loss's output
// tensor (§4.D step 2).
func (b *builder) seedLossGradients(losses []ir.LossSpec) error {
	for _, loss := range losses {
		t, ok := b.g.Tensor(loss.OutputTensorId)
		if !ok {
			return ir.Errorf(ir.UnreachableLoss, "loss %q: tensor %q does not exist", loss.Name, loss.OutputTensorId)
		}
		seedId := b.nextId("LossSeed___" + loss.Name + "___")
		buf, ok := encodeScalarFloat(loss.Scale, t.DType())
		if !ok {
			return ir.Errorf(ir.InternalLogicError, "loss %q: cannot encode scale as dtype %s", loss.Name, t.DType())
		}
		if _, err := b.g.AddConstInit(ir.Const, seedId, t.Shape.Clone(), buf); err != nil {
			return err
		}
		b.gradOf[t.Id] = append(b.gradOf[t.Id], seedId)
	}
	return nil
}

// reverseTopoOrder returns every PathToLoss node in reverse topological order of the
// forward graph (§4.D step 3's "schedule grad-ops of later forward ops first"), computed
// by Kahn's algorithm restricted to the PathToLoss-marked node set.
func (b *builder) reverseTopoOrder() ([]*ir.Node, error) {
	inP := make(map[ir.NodeId]*ir.Node)
	for _, n := range b.g.Nodes() {
		if n.PathToLoss {
			inP[n.Id()] = n
		}
	}
	indegree := make(map[ir.NodeId]int, len(inP))
	consumers := make(map[ir.NodeId][]ir.NodeId, len(inP))
	for id, n := range inP {
		for i := 0; i < n.NumInputs(); i++ {
			tid, ok := n.Input(i)
			if !ok {
				continue
			}
			t, ok := b.g.Tensor(tid)
			if !ok || !t.HasProducer() {
				continue
			}
			pid, _ := t.Producer()
			if _, ok := inP[pid]; !ok {
				continue
			}
			indegree[id]++
			consumers[pid] = append(consumers[pid], id)
		}
	}
	var ready []ir.NodeId
	for id := range inP {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	var forward []*ir.Node
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		forward = append(forward, inP[id])
		for _, next := range consumers[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(forward) != len(inP) {
		return nil, ir.Errorf(ir.Cycle, "autodiff: forward graph restricted to PathToLoss has a cycle")
	}
	reversed := make([]*ir.Node, len(forward))
	for i, n := range forward {
		reversed[len(forward)-1-i] = n
	}
	return reversed, nil
}
