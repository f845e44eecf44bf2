package opcatalog

import "github.com/tileforge/airuntime/ir"

func init() {
	Register(&Entry{OpId: ir.OpId{Name: "Softmax", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: softmaxOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "SoftmaxGrad", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: softmaxGradOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "SoftmaxNLLGradDirect", Version: 1}, Schema: Schema{MinInputs: 3, MaxInputs: 3, NumOutputs: 1}, Impl: softmaxNLLGradDirectOp{}})
}

// softmaxOp normalizes along the "axis" int attribute (default the last axis), shape
// preserving like every other normalization-family op.
type softmaxOp struct{}

func softmaxAxis(n *ir.Node, rank int) int {
	axis := int(n.AttrOr("axis", ir.IntAttr(-1)).Int)
	if axis < 0 {
		axis += rank
	}
	return axis
}

func (softmaxOp) Setup(n *ir.Node) error {
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

func (softmaxOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return nil, err
	}
	return []GradOpSpec{{
		OpId:  ir.OpId{Domain: accelDomain, Name: "SoftmaxGrad", Version: 1},
		Attrs: map[string]ir.AttrValue{"axis": ir.IntAttr(int64(softmaxAxis(n, s.Rank())))},
		Inputs: []GradInputInfo{
			{GradInputIdx: 0, ForwardIdx: 0, Source: SourceOutput},
			{GradInputIdx: 1, ForwardIdx: 0, Source: SourceGradOfOutput},
		},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

// softmaxGradOp is Softmax's general-case backward kernel: given the forward softmax
// output and the incoming output-gradient, produces the gradient wrt the pre-softmax
// logits. Registered standalone (not just as a GradOps return value) so the
// SoftmaxGradDirect rewrite pattern can type-switch on it by op-id when looking for the
// fusable Softmax-into-NLLLoss shape.
type softmaxGradOp struct{}

func (softmaxGradOp) Setup(n *ir.Node) error {
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

// softmaxNLLGradDirectOp is the fused replacement the SoftmaxGradDirect pattern (§4.E,
// supplemented from willow/src/patterns/softmaxgraddirect.cpp) splices in: given the
// forward softmax probabilities, the integer class labels and the loss's own output
// gradient, it computes the gradient wrt the pre-softmax logits directly as
// `(probs - onehot(label)) * gradOut`, skipping the separate SoftmaxGrad/NLLGrad matrix
// products the unfused two-op chain would otherwise run.
type softmaxNLLGradDirectOp struct{}

func (softmaxNLLGradDirectOp) Setup(n *ir.Node) error {
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
