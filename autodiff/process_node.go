package autodiff

import (
	"fmt"

	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/opcatalog"
)

// sumPartials returns the single fully-summed gradient tensor for a forward tensor,
// materializing an explicit add-chain when more than one consumer contributed a partial
// (§4.D step 4 "fan-out gradient summation"). It fails with IncompleteGrad if tid never
// received any partial at all -- a node on the PathToLoss set whose every consumer's
// grad-op should have contributed one.
func (b *builder) sumPartials(tid ir.TensorId) (ir.TensorId, error) {
	if done, ok := b.doneGrad[tid]; ok {
		return done, nil
	}
	parts := b.gradOf[tid]
	if len(parts) == 0 {
		return "", ir.Errorf(ir.IncompleteGrad, "tensor %q is on the path to a loss but no consumer produced a partial gradient for it", tid)
	}
	acc := parts[0]
	for _, next := range parts[1:] {
		accTensor, ok := b.g.Tensor(acc)
		if !ok {
			return "", ir.Errorf(ir.InternalLogicError, "autodiff: dangling partial gradient tensor %q", acc)
		}
		sumNode := ir.NewDetachedNode(ir.OpId{Domain: "", Name: "Add", Version: 1})
		if _, err := b.g.MoveIntoGraph(sumNode); err != nil {
			return "", err
		}
		sumNode.FromLoss = true
		if err := b.g.ConnectInput(sumNode, 0, acc); err != nil {
			return "", err
		}
		if err := b.g.ConnectInput(sumNode, 1, next); err != nil {
			return "", err
		}
		outId := b.nextId("GradSum___")
		if _, err := b.g.CreateAndConnectOutput(sumNode, 0, outId, accTensor.Shape.Clone(), ir.ActGrad); err != nil {
			return "", err
		}
		acc = outId
	}
	b.doneGrad[tid] = acc
	return acc, nil
}

// processNode synthesizes every grad-node a single forward node needs (§4.D step 3): it
// first collapses the accumulated partials of each of the node's outputs into one
// gradient tensor each, then asks the node's catalog entry for its GradOps and wires each
// one in, recording the new partial each grad-node output contributes to its
// corresponding forward input.
func (b *builder) processNode(n *ir.Node) error {
	entry, ok := opcatalog.Lookup(n.OpId.Domain, n.OpId.Name, n.OpId.Version)
	if !ok {
		return ir.Errorf(ir.UnknownOperator, "autodiff: %s has no catalog entry", n)
	}
	diff, ok := entry.Impl.(opcatalog.Differentiable)
	if !ok {
		return ir.Errorf(ir.NonDifferentiable, "%s is on the path to a loss but its op has no registered gradient", n)
	}

	// Every output this node has that received at least one downstream partial must be
	// summed before GradOps runs, since GradOps pulls SourceGradOfOutput values by
	// forward output index.
	for i := 0; i < n.NumOutputs(); i++ {
		outId, ok := n.Output(i)
		if !ok {
			continue
		}
		if len(b.gradOf[outId]) == 0 {
			continue
		}
		if _, err := b.sumPartials(outId); err != nil {
			return err
		}
	}

	specs, err := diff.GradOps(n)
	if err != nil {
		return err
	}
	for specIdx, spec := range specs {
		gn := ir.NewDetachedNode(spec.OpId)
		for k, v := range spec.Attrs {
			gn.Attrs.Set(k, v)
		}
		if _, err := b.g.MoveIntoGraph(gn); err != nil {
			return err
		}
		gn.FromLoss = true

		for _, in := range spec.Inputs {
			var tid ir.TensorId
			switch in.Source {
			case opcatalog.SourceInput:
				v, ok := n.Input(in.ForwardIdx)
				if !ok {
					return ir.Errorf(ir.MissingProducer, "%s grad-op %d: forward input %d is not connected", n, specIdx, in.ForwardIdx)
				}
				tid = v
			case opcatalog.SourceOutput:
				v, ok := n.Output(in.ForwardIdx)
				if !ok {
					return ir.Errorf(ir.MissingProducer, "%s grad-op %d: forward output %d is not connected", n, specIdx, in.ForwardIdx)
				}
				tid = v
			case opcatalog.SourceGradOfOutput:
				outId, ok := n.Output(in.ForwardIdx)
				if !ok {
					return ir.Errorf(ir.IncompleteGrad, "%s grad-op %d: forward output %d is not connected", n, specIdx, in.ForwardIdx)
				}
				done, ok := b.doneGrad[outId]
				if !ok {
					return ir.Errorf(ir.IncompleteGrad, "%s grad-op %d: gradient of output %d was never produced", n, specIdx, in.ForwardIdx)
				}
				tid = done
			default:
				return ir.Errorf(ir.InternalLogicError, "%s grad-op %d: unknown grad source %d", n, specIdx, in.Source)
			}
			if err := b.g.ConnectInput(gn, in.GradInputIdx, tid); err != nil {
				return err
			}
		}

		for outIdx, fwdIdx := range spec.OutToForwardInput {
			fwdTensorId, ok := n.Input(fwdIdx)
			if !ok {
				return ir.Errorf(ir.InternalLogicError, "%s grad-op %d: OutToForwardInput references unconnected forward input %d", n, specIdx, fwdIdx)
			}
			fwdTensor, ok := b.g.Tensor(fwdTensorId)
			if !ok {
				return ir.Errorf(ir.InternalLogicError, "%s grad-op %d: dangling forward input tensor %q", n, specIdx, fwdTensorId)
			}
			gradId := b.nextId(fmt.Sprintf("Grad___%d___", gn.Id()))
			if _, err := b.g.CreateAndConnectOutput(gn, outIdx, gradId, fwdTensor.Shape.Clone(), ir.ActGrad); err != nil {
				return err
			}
			b.gradOf[fwdTensorId] = append(b.gradOf[fwdTensorId], gradId)
		}
	}
	return nil
}
