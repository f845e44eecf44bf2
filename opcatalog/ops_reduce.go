package opcatalog

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func init() {
	registerReduce("ReduceSum")
	registerReduce("ReduceMean")
	registerReduce("ReduceProd")
	Register(&Entry{OpId: ir.OpId{Name: "TopK", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 2}, Impl: topKOp{}})
}

// reduceOp implements Shaped (and Differentiable for Sum/Mean, the two reductions with
// a simple broadcast-back gradient) for ReduceSum/ReduceMean/ReduceProd, keyed by name
// since all three share the "collapse axes, keepdims optional" shape rule (§4.C groups
// them the way willow/src/op/reduce*.cpp share a ReduceOp base).
type reduceOp struct{ name string }

func registerReduce(name string) {
	Register(&Entry{OpId: ir.OpId{Name: name, Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: reduceOp{name: name}})
}

func reduceAxesAndKeepDims(n *ir.Node, rank int) ([]int, bool) {
	keepdims := n.AttrOr("keepdims", ir.IntAttr(1)).Int != 0
	attr := n.AttrOr("axes", ir.AttrValue{})
	if attr.Kind != ir.AttrInts {
		axes := make([]int, rank)
		for i := range axes {
			axes[i] = i
		}
		return axes, keepdims
	}
	axes := make([]int, len(attr.Ints))
	for i, v := range attr.Ints {
		a := int(v)
		if a < 0 {
			a += rank
		}
		axes[i] = a
	}
	return axes, keepdims
}

func (o reduceOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	axes, keepdims := reduceAxesAndKeepDims(n, s.Rank())
	reduced := make(map[int]bool, len(axes))
	for _, a := range axes {
		reduced[a] = true
	}
	var dims []int
	for i, d := range s.Dimensions {
		if reduced[i] {
			if keepdims {
				dims = append(dims, 1)
			}
			continue
		}
		dims = append(dims, d)
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}

// GradOps covers ReduceSum and ReduceMean: the gradient is the output gradient
// broadcast back across the reduced axes (scaled by 1/count for Mean). ReduceProd's
// gradient needs the forward input values (product-rule division), which isn't
// representable as a single fused accel op here, so it is deliberately left
// non-differentiable.
func (o reduceOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	if o.name == "ReduceProd" {
		return nil, ir.Errorf(ir.NonDifferentiable, "%s: ReduceProd has no registered gradient", n)
	}
	opName := "ReduceSumGradBroadcast"
	if o.name == "ReduceMean" {
		opName = "ReduceMeanGradBroadcast"
	}
	return []GradOpSpec{{
		OpId: ir.OpId{Domain: "tileforge.accel", Name: opName, Version: 1},
		Inputs: []GradInputInfo{
			{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
			{GradInputIdx: 1, ForwardIdx: 0, Source: SourceInput},
		},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

// topKOp implements §8 Scenario S2: TopK(X, axis, k) returns the top-k values and their
// indices along axis; GradOps scatters the output gradient back to the top-k positions
// and zero elsewhere via a fused accelerator kernel (matching how a real backend fuses
// the scatter rather than materializing a one-hot mask on host).
type topKOp struct{}

func topKAxisAndK(n *ir.Node) (axis, k int) {
	axis = int(n.AttrOr("axis", ir.IntAttr(-1)).Int)
	k = int(n.AttrOr("k", ir.IntAttr(1)).Int)
	return
}

func (topKOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	axis, k := topKAxisAndK(n)
	if axis < 0 {
		axis += s.Rank()
	}
	if axis < 0 || axis >= s.Rank() {
		return ir.Errorf(ir.InvalidPermutation, "%s: axis %d out of range for rank %d", n, axis, s.Rank())
	}
	if k < 0 || k > s.Dimensions[axis] {
		return ir.Errorf(ir.ShapeMismatch, "%s: k=%d exceeds extent %d on axis %d", n, k, s.Dimensions[axis], axis)
	}
	dims := make([]int, s.Rank())
	copy(dims, s.Dimensions)
	dims[axis] = k

	values, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	values.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}

	indices, err := outputTensor(n, 1)
	if err != nil {
		return err
	}
	indices.Shape = dtype.Shape{DType: dtype.Int64, Dimensions: dims}
	return nil
}

func (topKOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	return []GradOpSpec{{
		OpId: ir.OpId{Domain: "tileforge.accel", Name: "TopKGrad", Version: 1},
		Inputs: []GradInputInfo{
			{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput},
			{GradInputIdx: 1, ForwardIdx: 1, Source: SourceOutput}, // the indices output, re-read as a forward input
			{GradInputIdx: 2, ForwardIdx: 0, Source: SourceInput},
		},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}
