package opcatalog

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

func init() {
	Register(&Entry{OpId: ir.OpId{Name: "Transpose", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: transposeOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Reshape", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: reshapeOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Cast", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: castOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Flatten", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: flattenOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Slice", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: sliceOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Concat", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: -1, NumOutputs: 1}, Impl: concatOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Gather", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: gatherOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Pad", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: padOp{}})
	Register(&Entry{OpId: ir.OpId{Name: "Identity", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: identityOp{}})
}

type identityOp struct{}

func (identityOp) Setup(n *ir.Node) error {
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

func (identityOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) { return inputs[0], true }

func (identityOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	return []GradOpSpec{{
		OpId:              ir.OpId{Name: "Identity", Version: 1},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

// permOf reads the "perm" attribute, defaulting to the reverse of 0..rank-1 (ONNX
// Transpose's documented default) when absent.
func permOf(n *ir.Node, rank int) []int {
	attr := n.AttrOr("perm", ir.AttrValue{})
	if attr.Kind != ir.AttrInts {
		perm := make([]int, rank)
		for i := range perm {
			perm[i] = rank - 1 - i
		}
		return perm
	}
	perm := make([]int, len(attr.Ints))
	for i, v := range attr.Ints {
		perm[i] = int(v)
	}
	return perm
}

type transposeOp struct{}

func (transposeOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	perm := permOf(n, s.Rank())
	if len(perm) != s.Rank() {
		return ir.Errorf(ir.InvalidPermutation, "%s: perm has %d entries, input has rank %d", n, len(perm), s.Rank())
	}
	seen := make([]bool, s.Rank())
	dims := make([]int, s.Rank())
	for i, p := range perm {
		if p < 0 || p >= s.Rank() || seen[p] {
			return ir.Errorf(ir.InvalidPermutation, "%s: perm %v is not a permutation of 0..%d", n, perm, s.Rank()-1)
		}
		seen[p] = true
		dims[i] = s.Dimensions[p]
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}

func (transposeOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) {
	s, t, err := inputShape(n, 0)
	if err != nil {
		return nil, false
	}
	perm := permOf(n, s.Rank())
	if len(perm) != s.Rank() {
		return nil, false
	}
	elemSize := dtype.ElementSize(t.DType())
	outDims := make([]int, s.Rank())
	for i, p := range perm {
		outDims[i] = s.Dimensions[p]
	}
	out := dtype.Shape{DType: s.DType, Dimensions: outDims}
	buf := make([]byte, len(inputs[0]))
	for flat := 0; flat < out.Size(); flat++ {
		srcFlat := permutedIndex(out, s, perm, flat)
		copy(buf[flat*elemSize:(flat+1)*elemSize], inputs[0][srcFlat*elemSize:(srcFlat+1)*elemSize])
	}
	return buf, true
}

func (transposeOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return nil, err
	}
	perm := permOf(n, s.Rank())
	inverse := make([]int64, len(perm))
	for i, p := range perm {
		inverse[p] = int64(i)
	}
	return []GradOpSpec{{
		OpId:              ir.OpId{Name: "Transpose", Version: 1},
		Attrs:             map[string]ir.AttrValue{"perm": ir.IntsAttr(inverse)},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

// permutedIndex converts a flat index into the permuted (output) shape's coordinate
// space back to the flat index in the original (input) shape's coordinate space.
func permutedIndex(out, in dtype.Shape, perm []int, flat int) int {
	rank := out.Rank()
	coords := make([]int, rank)
	rem := flat
	for axis := rank - 1; axis >= 0; axis-- {
		coords[axis] = rem % out.Dimensions[axis]
		rem /= out.Dimensions[axis]
	}
	inCoords := make([]int, rank)
	for outAxis, inAxis := range perm {
		inCoords[inAxis] = coords[outAxis]
	}
	flatIn, stride := 0, 1
	for axis := rank - 1; axis >= 0; axis-- {
		flatIn += inCoords[axis] * stride
		stride *= in.Dimensions[axis]
	}
	return flatIn
}

// reshapeOp reads its target shape from a "shape" ints attribute -- the static-shape
// variant, matching willow's ReshapeOp constructor rather than ONNX's newer
// second-input-tensor variant (not modeled here since it would require resolving a
// runtime tensor's value at compile time for every caller).
type reshapeOp struct{}

func (reshapeOp) targetShape(n *ir.Node, in dtype.Shape) (dtype.Shape, error) {
	attr := n.AttrOr("shape", ir.AttrValue{})
	if attr.Kind != ir.AttrInts {
		return dtype.Shape{}, ir.Errorf(ir.UnknownAttribute, "%s: missing required \"shape\" attribute", n)
	}
	dims := make([]int, len(attr.Ints))
	total := 1
	inferAxis := -1
	for i, v := range attr.Ints {
		if v == -1 {
			inferAxis = i
			continue
		}
		dims[i] = int(v)
		total *= dims[i]
	}
	if inferAxis >= 0 {
		if total == 0 || in.Size()%total != 0 {
			return dtype.Shape{}, ir.Errorf(ir.ShapeMismatch, "%s: cannot infer -1 axis, input size %d not divisible by %d", n, in.Size(), total)
		}
		dims[inferAxis] = in.Size() / total
	} else if total != in.Size() {
		return dtype.Shape{}, ir.Errorf(ir.ShapeMismatch, "%s: target shape %v has %d elements, input has %d", n, dims, total, in.Size())
	}
	return dtype.Shape{DType: in.DType, Dimensions: dims}, nil
}

func (o reshapeOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	target, err := o.targetShape(n, s)
	if err != nil {
		return err
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = target
	return nil
}

func (reshapeOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) {
	return inputs[0], true // reshape never moves bytes, only relabels extents
}

func (reshapeOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return nil, err
	}
	dims := make([]int64, s.Rank())
	for i, d := range s.Dimensions {
		dims[i] = int64(d)
	}
	return []GradOpSpec{{
		OpId:              ir.OpId{Name: "Reshape", Version: 1},
		Attrs:             map[string]ir.AttrValue{"shape": ir.IntsAttr(dims)},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

type flattenOp struct{}

func flattenAxis(n *ir.Node) int {
	attr := n.AttrOr("axis", ir.IntAttr(1))
	return int(attr.Int)
}

func (flattenOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	axis := flattenAxis(n)
	lead, trail := 1, 1
	for i, d := range s.Dimensions {
		if i < axis {
			lead *= d
		} else {
			trail *= d
		}
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: []int{lead, trail}}
	return nil
}

func (flattenOp) ConstFold(n *ir.Node, inputs [][]byte) ([]byte, bool) { return inputs[0], true }

func (flattenOp) GradOps(n *ir.Node) ([]GradOpSpec, error) {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return nil, err
	}
	dims := make([]int64, s.Rank())
	for i, d := range s.Dimensions {
		dims[i] = int64(d)
	}
	return []GradOpSpec{{
		OpId:              ir.OpId{Name: "Reshape", Version: 1},
		Attrs:             map[string]ir.AttrValue{"shape": ir.IntsAttr(dims)},
		Inputs:            []GradInputInfo{{GradInputIdx: 0, ForwardIdx: 0, Source: SourceGradOfOutput}},
		OutToForwardInput: map[int]int{0: 0},
	}}, nil
}

type castOp struct{}

func (castOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	attr := n.AttrOr("to", ir.AttrValue{})
	if attr.Kind != ir.AttrString {
		return ir.Errorf(ir.UnknownAttribute, "%s: missing required \"to\" attribute", n)
	}
	d, err := dtype.FromString(attr.Str)
	if err != nil {
		return ir.Wrap(ir.TypeMismatch, err, "%s", n)
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: d, Dimensions: s.Dimensions}
	return nil
}

// sliceOp reads "starts", "ends" and "axes" ints attributes (the opset-9 style, which
// willow's SliceOp also uses, rather than ONNX's later tensor-input variant).
type sliceOp struct{}

func sliceBounds(n *ir.Node, rank int) (starts, ends []int, axes []int, err error) {
	sAttr := n.AttrOr("starts", ir.AttrValue{})
	eAttr := n.AttrOr("ends", ir.AttrValue{})
	if sAttr.Kind != ir.AttrInts || eAttr.Kind != ir.AttrInts || len(sAttr.Ints) != len(eAttr.Ints) {
		return nil, nil, nil, ir.Errorf(ir.UnknownAttribute, "%s: requires matching \"starts\"/\"ends\" ints attributes", n)
	}
	aAttr := n.AttrOr("axes", ir.AttrValue{})
	axes = make([]int, len(sAttr.Ints))
	if aAttr.Kind == ir.AttrInts && len(aAttr.Ints) == len(sAttr.Ints) {
		for i, v := range aAttr.Ints {
			axes[i] = int(v)
		}
	} else {
		for i := range axes {
			axes[i] = i
		}
	}
	starts = make([]int, len(sAttr.Ints))
	ends = make([]int, len(eAttr.Ints))
	for i := range starts {
		starts[i] = int(sAttr.Ints[i])
		ends[i] = int(eAttr.Ints[i])
	}
	return starts, ends, axes, nil
}

func (sliceOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	starts, ends, axes, err := sliceBounds(n, s.Rank())
	if err != nil {
		return err
	}
	dims := make([]int, s.Rank())
	copy(dims, s.Dimensions)
	for i, axis := range axes {
		lo, hi := clamp(starts[i], 0, s.Dimensions[axis]), clamp(ends[i], 0, s.Dimensions[axis])
		if hi < lo {
			hi = lo
		}
		dims[axis] = hi - lo
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type concatOp struct{}

func concatAxis(n *ir.Node) int { return int(n.AttrOr("axis", ir.IntAttr(0)).Int) }

func (concatOp) Setup(n *ir.Node) error {
	first, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	axis := concatAxis(n)
	dims := make([]int, first.Rank())
	copy(dims, first.Dimensions)
	total := first.Dimensions[axis]
	for i := 1; i < n.NumInputs(); i++ {
		s, _, err := inputShape(n, i)
		if err != nil {
			return err
		}
		for ax := range dims {
			if ax == axis {
				continue
			}
			if s.Dimensions[ax] != dims[ax] {
				return ir.Errorf(ir.ShapeMismatch, "%s: input %d shape %s disagrees with input 0 %s off-axis", n, i, s, first)
			}
		}
		total += s.Dimensions[axis]
	}
	dims[axis] = total
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: first.DType, Dimensions: dims}
	return nil
}

type gatherOp struct{}

func (gatherOp) Setup(n *ir.Node) error {
	data, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	idx, _, err := inputShape(n, 1)
	if err != nil {
		return err
	}
	axis := int(n.AttrOr("axis", ir.IntAttr(0)).Int)
	if axis < 0 {
		axis += data.Rank()
	}
	dims := append(append(append([]int{}, data.Dimensions[:axis]...), idx.Dimensions...), data.Dimensions[axis+1:]...)
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: data.DType, Dimensions: dims}
	return nil
}

// padOp reads a "pads" ints attribute of 2*rank entries: rank "before" values followed
// by rank "after" values, matching ONNX's opset-2 Pad attribute layout (and
// neuralnet/src/pad.cpp's constant-pad path).
type padOp struct{}

func (padOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	attr := n.AttrOr("pads", ir.AttrValue{})
	if attr.Kind != ir.AttrInts || len(attr.Ints) != 2*s.Rank() {
		return ir.Errorf(ir.UnknownAttribute, "%s: \"pads\" must have %d entries (2*rank), got %d", n, 2*s.Rank(), len(attr.Ints))
	}
	dims := make([]int, s.Rank())
	for i := range dims {
		dims[i] = s.Dimensions[i] + int(attr.Ints[i]) + int(attr.Ints[i+s.Rank()])
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}
