package autodiff

import "github.com/tileforge/airuntime/ir"

// synthesizeVarUpdates builds the weight-update node(s) for every Variable tensor that
// received at least one gradient partial (§4.D step 5 "optimizer var-update synthesis").
// SGD0 fuses weight decay and the learning-rate step into a single update node; SGD1
// splits it into a per-micro-batch in-loop accumulate and an out-of-loop step, each
// reading its compound scalars from §6's closed-form derivation.
func (b *builder) synthesizeVarUpdates(opt ir.OptimizerSpec) error {
	for _, t := range b.g.Tensors() {
		if t.Class != ir.Variable {
			continue
		}
		if len(b.gradOf[t.Id]) == 0 {
			continue
		}
		gradId, err := b.sumPartials(t.Id)
		if err != nil {
			return err
		}
		switch opt.Variant {
		case ir.SGD0:
			if err := b.synthesizeSGD0(t.Id, gradId, opt); err != nil {
				return err
			}
		case ir.SGD1:
			if err := b.synthesizeSGD1(t.Id, gradId, opt); err != nil {
				return err
			}
		default:
			return ir.Errorf(ir.InternalLogicError, "autodiff: unknown optimizer variant %s", opt.Variant)
		}
	}
	return nil
}

// synthesizeSGD0 emits the single fused SGD0VarUpdate node, aliasing its output back onto
// the weight's own tensor id since the update is a true in-place rewrite of the weight's
// buffer, not a fresh value (§6).
func (b *builder) synthesizeSGD0(weightId, gradId ir.TensorId, opt ir.OptimizerSpec) error {
	c := ir.SGD0CompoundScalars(opt)
	n := ir.NewDetachedNode(ir.OpId{Domain: accelDomainName, Name: "SGD0VarUpdate", Version: 1})
	if _, err := b.g.MoveIntoGraph(n); err != nil {
		return err
	}
	n.FromLoss = true
	n.Attrs.Set("weightDecayScaleFactor0", ir.FloatAttr(c.WeightDecayScaleFactor0))
	n.Attrs.Set("scaledLearningRate0", ir.FloatAttr(c.ScaledLearningRate0))
	if err := b.g.ConnectInput(n, 0, weightId); err != nil {
		return err
	}
	if err := b.g.ConnectInput(n, 1, gradId); err != nil {
		return err
	}
	return b.g.ConnectOutput(n, 0, weightId)
}

// synthesizeSGD1 emits the in-loop accumulate (velocity += dampeningScaleFactor1 * grad)
// and the out-of-loop step (w -= scaledLearningRate1*v; v = v*momentum1 +
// weightDecayScaleFactor1*w), both aliasing their outputs back onto the weight's and
// velocity's own tensor ids (§6). The velocity tensor is created on first use.
func (b *builder) synthesizeSGD1(weightId, gradId ir.TensorId, opt ir.OptimizerSpec) error {
	c := ir.SGD1CompoundScalars(opt)
	velocityId := ir.OptimizerStateId(weightId, "velocity")
	if _, ok := b.g.Tensor(velocityId); !ok {
		wt, ok := b.g.Tensor(weightId)
		if !ok {
			return ir.Errorf(ir.InternalLogicError, "autodiff: dangling weight tensor %q", weightId)
		}
		zeros := make([]byte, len(wt.Buffer))
		if len(zeros) == 0 {
			zeros = zerosFor(wt)
		}
		if _, err := b.g.AddConstInit(ir.Momentum, velocityId, wt.Shape.Clone(), zeros); err != nil {
			return err
		}
	}

	acc := ir.NewDetachedNode(ir.OpId{Domain: accelDomainName, Name: "SGD1Accumulate", Version: 1})
	if _, err := b.g.MoveIntoGraph(acc); err != nil {
		return err
	}
	acc.FromLoss = true
	acc.Attrs.Set("dampeningScaleFactor1", ir.FloatAttr(c.DampeningScaleFactor1))
	if err := b.g.ConnectInput(acc, 0, velocityId); err != nil {
		return err
	}
	if err := b.g.ConnectInput(acc, 1, gradId); err != nil {
		return err
	}
	if err := b.g.ConnectOutput(acc, 0, velocityId); err != nil {
		return err
	}

	step := ir.NewDetachedNode(ir.OpId{Domain: accelDomainName, Name: "SGD1VarUpdate", Version: 1})
	if _, err := b.g.MoveIntoGraph(step); err != nil {
		return err
	}
	step.FromLoss = true
	step.Attrs.Set("scaledLearningRate1", ir.FloatAttr(c.ScaledLearningRate1))
	step.Attrs.Set("weightDecayScaleFactor1", ir.FloatAttr(c.WeightDecayScaleFactor1))
	step.Attrs.Set("momentum1", ir.FloatAttr(c.Momentum1))
	if err := b.g.ConnectInput(step, 0, weightId); err != nil {
		return err
	}
	if err := b.g.ConnectInput(step, 1, velocityId); err != nil {
		return err
	}
	if err := b.g.ConnectOutput(step, 0, weightId); err != nil {
		return err
	}
	return b.g.ConnectOutput(step, 1, velocityId)
}
