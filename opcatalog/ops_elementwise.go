package opcatalog

import (
	"math"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func init() {
	registerBinary("Add", func(a, b float64) float64 { return a + b })
	registerBinary("Sub", func(a, b float64) float64 { return a - b })
	registerBinary("Mul", func(a, b float64) float64 { return a * b })
	registerBinary("Div", func(a, b float64) float64 { return a / b })

	Register(&Entry{
		OpId:   ir.OpId{Name: "Sign", Version: 1},
		Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1},
		Impl:   unaryOp{fn: func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			default:
				return 0
			}
		}},
	})
	Register(&Entry{
		OpId:   ir.OpId{Name: "Floor", Version: 1},
		Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1},
		Impl:   unaryOp{fn: floorF},
	})
	Register(&Entry{
		OpId:   ir.OpId{Name: "Atan", Version: 1},
		Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1},
		Impl:   atanOp{unaryOp{fn: atanF}},
	})
}

// binaryOp implements Shaped, Differentiable and ConstFoldable for a numpy-broadcasting
// elementwise binary arithmetic op (§4.A npBroadcastShape feeds Setup directly).
type binaryOp struct {
	name string
	fold func(a, b float64) float64
}

func registerBinary(name string, fold func(a, b float64) float64) {
	Register(&Entry{
		OpId:   ir.OpId{Name: name, Version: 1},
		Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1},
		Impl:   binaryOp{name: name, fold: fold},
	})
}

// BatchAxis reports axis 0 of the first input as the batch axis: elementwise ops
// broadcast, so splitting either operand along its leading axis (when present) is always
// safe regardless of which operand is actually batched.
func (o binaryOp) BatchAxis(n *ir.Node) (int, int, bool) {
	s0, _, err := inputShape(n, 0)
	if err != nil || len(s0.Dimensions) == 0 {
		return 0, 0, false
	}
	return 0, 0, true
}

func (o binaryOp) Setup(n *ir.Node) error {
	s0, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	s1, _, err := inputShape(n, 1)
	if err != nil {
		return err
	}
	out, err := dtype.NPBroadcastShape(s0, s1)
	if err != nil {
		return ir.Wrap(ir.ShapeMismatch, err, "%s: inputs %s and %s", n, s0, s1)
	}
	outT, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	outT.Shape = out
	return nil
}

func (o binaryOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) {
	s0, t0, err := inputShape(n, 0)
	if err != nil {
		return nil, false
	}
	s1, t1, err := inputShape(n, 1)
	if err != nil {
		return nil, false
	}
	out, err := dtype.NPBroadcastShape(s0, s1)
	if err != nil {
		return nil, false
	}
	a, ok := decodeFloat64(inputs[0], t0.DType(), s0.Size())
	if !ok {
		return nil, false
	}
	b, ok := decodeFloat64(inputs[1], t1.DType(), s1.Size())
	if !ok {
		return nil, false
	}
	result := make([]float64, out.Size())
	for i := range result {
		result[i] = o.fold(a[broadcastFlatIndex(out, s0, i)], b[broadcastFlatIndex(out, s1, i)])
	}
	buf, ok := encodeFloat64(result, out.DType)
	return buf, ok
}

// GradOps implements the standard chain rule for broadcasting binary arithmetic (§4.D
// step 3): the gradient w.r.t. each input is the output gradient, reduced back down by
// NPReductionAxes wherever that input was broadcast, with a sign flip for Sub's second
// operand and the quotient rule for Div.
func (o binaryOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	switch o.name {
	case "Add":
		return []GradOpSpec{reduceGradTo(n, 0), reduceGradTo(n, 1)}, nil
	case "Sub":
		// The subtrahend's gradient is -gradOut, reduced back down wherever it was
		// broadcast -- fused into one accelerator kernel rather than a Neg followed by a
		// second reduce, since a single GradOpSpec can only name one forward input.
		negReduce := GradOpSpec{
			OpId:              ir.OpId{Domain: "tileforge.accel", Name: "ReduceNegSumTo", Version: 1},
			Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
			OutToForwardInput: map[int]int{0: 1},
		}
		return []GradOpSpec{reduceGradTo(n, 0), negReduce}, nil
	case "Mul":
		g0 := GradOpSpec{
			OpId:              ir.OpId{Name: "Mul", Version: 1},
			Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}, {GradInputIdx: 1, ForwardIdx: 1, Source: SourceInput}},
			OutToForwardInput: map[int]int{0: 0},
		}
		g1 := GradOpSpec{
			OpId:              ir.OpId{Name: "Mul", Version: 1},
			Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}, {GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput}},
			OutToForwardInput: map[int]int{0: 1},
		}
		return []GradOpSpec{g0, g1}, nil
	case "Div":
		g0 := GradOpSpec{
			OpId:              ir.OpId{Name: "Div", Version: 1},
			Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}, {GradInputIdx: 1, ForwardIdx: 1, Source: SourceInput}},
			OutToForwardInput: map[int]int{0: 0},
		}
		// DivGradB is a fused accelerator-domain kernel computing -gradOut*a/(b*b) in
		// one op, rather than decomposing into Mul/Div/Neg grad-nodes.
		g1 := GradOpSpec{
			OpId: ir.OpId{Domain: "tileforge.accel", Name: "DivGradB", Version: 1},
			Inputs: []GradInputInfo{
				{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
				{GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput},
				{GradInputIdx: 2, ForwardIdx: 1, Source: SourceInput},
			},
			OutToForwardInput: map[int]int{0: 1},
		}
		return []GradOpSpec{g0, g1}, nil
	default:
		return nil, ir.Errorf(ir.NonDifferentiable, "%s: no gradient registered", n)
	}
}

// reduceGradTo builds the grad-op for one broadcasting input: it always pulls the
// gradient of the forward node's (sole) output 0 -- forwardIdx only selects which input
// the reduced result attaches to, via OutToForwardInput.
func reduceGradTo(n *ir.Node, forwardIdx int) GradOpSpec {
	return GradOpSpec{
		OpId:              ir.OpId{Domain: "tileforge.accel", Name: "ReduceSumTo", Version: 1},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: forwardIdx},
	}
}

// unaryOp implements Shaped (identity shape) and ConstFoldable for a pointwise unary
// function. It intentionally does not implement Differentiable: Sign and Floor have a
// zero or undefined derivative almost everywhere, so a node on the path to loss using
// one directly (rather than through a surrogate) correctly raises NonDifferentiable.
type unaryOp struct {
	fn func(float64) float64
}

// BatchAxis reports axis 0 as the batch axis, same rationale as binaryOp.
func (o unaryOp) BatchAxis(n *ir.Node) (int, int, bool) {
	s, _, err := inputShape(n, 0)
	if err != nil || len(s.Dimensions) == 0 {
		return 0, 0, false
	}
	return 0, 0, true
}

func (o unaryOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	outT, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	outT.Shape = s
	return nil
}

func (o unaryOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) {
	s, t, err := inputShape(n, 0)
	if err != nil {
		return nil, false
	}
	vals, ok := decodeFloat64(inputs[0], t.DType(), s.Size())
	if !ok {
		return nil, false
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = o.fn(v)
	}
	buf, ok := encodeFloat64(out, t.DType())
	return buf, ok
}

func floorF(x float64) float64 {
	i := int64(x)
	if x < 0 && float64(i) != x {
		i--
	}
	return float64(i)
}

func atanF(x float64) float64 { return math.Atan(x) }

// atanOp adds Differentiable on top of unaryOp's Shaped/ConstFoldable, via a fused
// accelerator-domain grad kernel (1/(1+x^2)) rather than decomposing into Mul/Add/Div.
type atanOp struct {
	unaryOp
}

func (atanOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	return []GradOpSpec{{
		OpId: ir.OpId{Domain: "tileforge.accel", Name: "AtanGrad", Version: 1},
		Inputs: []GradInputInfo{
			{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
			{GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput},
		},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}
