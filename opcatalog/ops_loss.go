package opcatalog

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func init() {
	Register(&Entry{OpId: ir.OpId{Name: "Scale", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: scaleOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "L1Loss", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: lossOp{kind: "L1"}})
	Register(&Entry{OpId: ir.OpId{Name: "NLLLoss", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: lossOp{kind: "NLL"}})
	Register(&Entry{OpId: ir.OpId{Name: "IdentityLoss", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: lossOp{kind: "Identity"}})
}

// scaleOp multiplies its single input by a constant "scale" float attribute -- the
// generic elementwise pre-scaling op S2's "scale(topk(X)^2, 3.0)" step names.
type scaleOp struct{}

func scaleFactor(n *ir.Node) float64 { return n.AttrOr("scale", ir.FloatAttr(1)).Float }

func (scaleOp) Setup(n *ir.Node) error {
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

func (scaleOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) {
	s, t, err := inputShape(n, 0)
	if err != nil {
		return nil, false
	}
	vals, ok := decodeFloat64(inputs[0], t.DType(), s.Size())
	if !ok {
		return nil, false
	}
	f := scaleFactor(n)
	for i := range vals {
		vals[i] *= f
	}
	buf, ok := encodeFloat64(vals, t.DType())
	return buf, ok
}

func (scaleOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	return []GradOpSpec{{
		OpId:              ir.OpId{Name: "Scale", Version: 1},
		Attrs:             map[string]ir.AttrValue{"scale": ir.FloatAttr(scaleFactor(n))},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

// reductionOf reads the "reduction" string attribute ("Sum"|"Mean"|"None"), defaulting
// to Sum to match §6's loss-spec default.
func reductionOf(n *ir.Node) ir.ReductionKind {
	switch n.AttrOr("reduction", ir.StringAttr("Sum")).Str {
	case "Mean":
		return ir.Mean
	case "None":
		return ir.None
	default:
		return ir.Sum
	}
}

// lossOp implements the three first-class losses §6 names: L1 (attribute "lambda"),
// NLL (second input is the integer class-label tensor), and Identity (passthrough sum).
// All three share the same reduction-to-shape rule, differing only in their GradOps.
type lossOp struct{ kind string }

func (o lossOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	switch reductionOf(n) {
	case ir.None:
		out.Shape = s
	default:
		out.Shape = dtype.Scalar(s.DType)
	}
	return nil
}

func (o lossOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	switch o.kind {
	case "L1":
		lambda := n.AttrOr("lambda", ir.FloatAttr(1)).Float
		return []GradOpSpec{{
			OpId:  ir.OpId{Domain: "tileforge.accel", Name: "L1Grad", Version: 1},
			Attrs: map[string]ir.AttrValue{"lambda": ir.FloatAttr(lambda)},
			Inputs: []GradInputInfo{
				{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
				{GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput},
			},
			OutToForwardInput: map[int]int{0: 0},
		}}, nil
	case "NLL":
		return []GradOpSpec{{
			OpId: ir.OpId{Domain: "tileforge.accel", Name: "NLLGrad", Version: 1},
			Inputs: []GradInputInfo{
				{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
				{GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput},
				{GradInputIdx: 2, ForwardIdx: 1, Source: SourceInput},
			},
			OutToForwardInput: map[int]int{0: 0},
		}}, nil
	case "Identity":
		return []GradOpSpec{{
			OpId:              ir.OpId{Name: "Identity", Version: 1},
			Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
			OutToForwardInput: map[int]int{0: 0},
		}}, nil
	default:
		return nil, ir.Errorf(ir.NonDifferentiable, "%s: unknown loss kind %q", n, o.kind)
	}
}
