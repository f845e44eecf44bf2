package opcatalog

import "github.com/tileforge/airuntime/ir"

// SGD0VarUpdate and the SGD1 pair implement the §6 weight-update equations. They are
// synthesized directly by the autodiff builder (§4.D step 5), never parsed off an ONNX
// node, but are registered here so the scheduler and transforms can look up their
// shape rule like any other accelerator-domain op.
func init() {
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "SGD0VarUpdate", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: varUpdateOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "SGD1Accumulate", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: varUpdateOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "SGD1VarUpdate", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 2}, Impl: sgd1StepOp{}})
}

// varUpdateOp covers the two single-output update kernels (SGD0's fused weight update,
// and SGD1's per-micro-batch velocity accumulation): output 0 takes input 0's shape,
// since a weight/velocity update never changes shape.
type varUpdateOp struct{}

func (varUpdateOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = s
	return nil
}

// sgd1StepOp is SGD1's out-of-loop step: inputs (weight, velocity) -> outputs (updated
// weight, updated velocity), both at the weight's shape (§6: "w ← w − slr1*v; v ← v*mm +
// wdsf1*w", computed after the cross-replica reduce and the v/rf scaling).
type sgd1StepOp struct{}

func (sgd1StepOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	for _, idx := range []int{0, 1} {
		out, err := outputTensor(n, idx)
		if err != nil {
			return err
		}
		out.Shape = s
	}
	return nil
}
