package opcatalog

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// accelDomain is the repository's own accelerator domain §6 reserves for Stash,
// Restore, Init, IpuCopy, DynamicSlice, DynamicUpdate, the *Inplace variants, SGD0/SGD1
// var-updates and loss gradients.
const accelDomain = "tileforge.accel"

func init() {
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "Stash", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: stashOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "Restore", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: restoreOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "Init", Version: 1}, Schema: Schema{MinInputs: 0, MaxInputs: 0, NumOutputs: 1}, Impl: initOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "IpuCopy", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: ipuCopyOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "DynamicSlice", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: 2, NumOutputs: 1}, Impl: dynamicSliceOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "DynamicUpdate", Version: 1}, Schema: Schema{MinInputs: 3, MaxInputs: 3, NumOutputs: 1}, Impl: dynamicUpdateOp{}})

	// The *Inplace variants share their out-of-place counterpart's shape rule exactly --
	// only the aliasing behavior differs, which is exercised through GetInplaceVariant
	// below rather than through a second Setup implementation.
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "FlattenInplace", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: flattenOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "ReshapeInplace", Version: 1}, Schema: Schema{MinInputs: 1, MaxInputs: 1, NumOutputs: 1}, Impl: reshapeOp{}})
	Register(&Entry{OpId: ir.OpId{Domain: accelDomain, Name: "ConcatInplace", Version: 1}, Schema: Schema{MinInputs: 2, MaxInputs: -1, NumOutputs: 1}, Impl: concatOp{}})
}

// stashOp grows a leading ring-buffer axis of size "stashSize" onto its input, used by
// the pipelining transform (§4.F.5) to hold activations across pipeline stages. Inserted
// directly by that transform, never by the autodiff builder, so it needs no gradient.
type stashOp struct{}

func (stashOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	size := int(n.AttrOr("stashSize", ir.IntAttr(1)).Int)
	dims := append([]int{size}, s.Dimensions...)
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}

// restoreOp is Stash's inverse: strips the leading ring-buffer axis back off.
type restoreOp struct{}

func (restoreOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	if s.Rank() == 0 {
		return ir.Errorf(ir.ShapeMismatch, "%s: cannot restore from a scalar stash", n)
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: s.Dimensions[1:]}
	return nil
}

// initOp creates a zero-initialized tensor from "shape" ints and "dtype" string
// attributes and takes no inputs -- used to seed accumulators and optimizer state.
type initOp struct{}

func (initOp) Setup(n *ir.Node) error {
	shapeAttr := n.AttrOr("shape", ir.AttrValue{})
	dtypeAttr := n.AttrOr("dtype", ir.AttrValue{})
	if shapeAttr.Kind != ir.AttrInts || dtypeAttr.Kind != ir.AttrString {
		return ir.Errorf(ir.UnknownAttribute, "%s: requires \"shape\" ints and \"dtype\" string attributes", n)
	}
	d, err := dtype.FromString(dtypeAttr.Str)
	if err != nil {
		return ir.Wrap(ir.TypeMismatch, err, "%s", n)
	}
	dims := make([]int, len(shapeAttr.Ints))
	for i, v := range shapeAttr.Ints {
		dims[i] = int(v)
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: d, Dimensions: dims}
	return nil
}

// ipuCopyOp moves a tensor to a different virtual graph (tile group); a pure identity
// on shape, carrying only a "destVirtualGraph" placement attribute.
type ipuCopyOp struct{}

func (ipuCopyOp) Setup(n *ir.Node) error {
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

// dynamicSliceOp reads a runtime-computed slice of "sizes" extent starting at the
// second input's offset, along "axes" -- used by batch-serialization's pass 1 dynamic
// slicing mode.
type dynamicSliceOp struct{}

func (dynamicSliceOp) Setup(n *ir.Node) error {
	s, _, err := inputShape(n, 0)
	if err != nil {
		return err
	}
	axesAttr := n.AttrOr("axes", ir.AttrValue{})
	sizesAttr := n.AttrOr("sizes", ir.AttrValue{})
	if axesAttr.Kind != ir.AttrInts || sizesAttr.Kind != ir.AttrInts || len(axesAttr.Ints) != len(sizesAttr.Ints) {
		return ir.Errorf(ir.UnknownAttribute, "%s: requires matching \"axes\"/\"sizes\" ints attributes", n)
	}
	dims := make([]int, s.Rank())
	copy(dims, s.Dimensions)
	for i, axis := range axesAttr.Ints {
		dims[axis] = int(sizesAttr.Ints[i])
	}
	out, err := outputTensor(n, 0)
	if err != nil {
		return err
	}
	out.Shape = dtype.Shape{DType: s.DType, Dimensions: dims}
	return nil
}

// dynamicUpdateOp writes its third input into the first at a runtime offset along
// "axes"; the output has the first input's full shape (the update is localized).
type dynamicUpdateOp struct{}

func (dynamicUpdateOp) Setup(n *ir.Node) error {
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

// Inplaceable implementations for the shape-only ops that have an *Inplace accelerator
// counterpart (§4.E Alias/Inplace tier): the out-of-place output tensor is replaced by
// an alias of input 0 rather than a freshly allocated one.

func (flattenOp) InplacePriorityDefault(n *ir.Node) []InplaceCandidate {
	return []InplaceCandidate{{Id: "FlattenInplace", Priority: 10}}
}
func (flattenOp) GetInplaceVariant(n *ir.Node, id string) (*ir.Node, error) {
	return inplaceVariantOf(n, accelDomain, "FlattenInplace")
}
func (flattenOp) Modifies(n *ir.Node, id string) []int        { return []int{0} }
func (flattenOp) Aliases(n *ir.Node, id string) map[int]int   { return map[int]int{0: 0} }

func (reshapeOp) InplacePriorityDefault(n *ir.Node) []InplaceCandidate {
	return []InplaceCandidate{{Id: "ReshapeInplace", Priority: 10}}
}
func (reshapeOp) GetInplaceVariant(n *ir.Node, id string) (*ir.Node, error) {
	return inplaceVariantOf(n, accelDomain, "ReshapeInplace")
}
func (reshapeOp) Modifies(n *ir.Node, id string) []int      { return []int{0} }
func (reshapeOp) Aliases(n *ir.Node, id string) map[int]int { return map[int]int{0: 0} }

func (concatOp) InplacePriorityDefault(n *ir.Node) []InplaceCandidate {
	return []InplaceCandidate{{Id: "ConcatInplace", Priority: 5}}
}
func (concatOp) GetInplaceVariant(n *ir.Node, id string) (*ir.Node, error) {
	return inplaceVariantOf(n, accelDomain, "ConcatInplace")
}
func (concatOp) Modifies(n *ir.Node, id string) []int      { return []int{0} }
func (concatOp) Aliases(n *ir.Node, id string) map[int]int { return map[int]int{0: 0} }

// inplaceVariantOf builds a detached clone of n under a new op-id in the accelerator
// domain, copying its attributes -- the rewrite driver is responsible for splicing it
// into the graph in n's place (§4.E apply()).
func inplaceVariantOf(n *ir.Node, domain, name string) (*ir.Node, error) {
	clone := ir.NewDetachedNode(ir.OpId{Domain: domain, Name: name, Version: n.OpId.Version})
	clone.Settings = n.Settings
	for pair := n.Attrs.Oldest(); pair != nil; pair = pair.Next() {
		clone.Attrs.Set(pair.Key, pair.Value)
	}
	return clone, nil
}
