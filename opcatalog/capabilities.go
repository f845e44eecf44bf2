package opcatalog

import "github.com/tileforge/airuntime/ir"

// Shaped computes and sets output tensor shapes from input shapes and attributes (§4.C
// setup()). Every catalog entry's Impl must implement Shaped.
type Shaped interface {
	Setup(n *ir.Node) error
}

// GradOpSpec is one grad-node the autodiff builder must instantiate for a forward node
// (§4.D step 3): the grad-node's own op-id and attributes, its input wiring
// (gradInputInfo), and which of its outputs attaches to which forward input
// (gradOutToNonGradIn).
type GradOpSpec struct {
	OpId  ir.OpId
	Attrs map[string]ir.AttrValue

	// Inputs lists, in grad-node input order, where each input comes from.
	Inputs []GradInputInfo

	// OutToForwardInput maps grad-node output index -> forward node input index that
	// output is the gradient of.
	OutToForwardInput map[int]int
}

// GradSource is the closed set of places a grad-node's input can be pulled from (§4.D
// "pulling from the original forward tensors, the forward outputs, or the already-
// produced gradient tensors").
type GradSource int

const (
	SourceInput GradSource = iota
	SourceOutput
	SourceGradOfOutput
)

// GradInputInfo is one triple (gradInputIdx, fwdIdx, source) from §4.D step 3.
type GradInputInfo struct {
	GradInputIdx int
	ForwardIdx   int
	Source       GradSource
}

// Differentiable enumerates the gradient node(s) needed to differentiate a forward node
// (§4.C getGradOps, §4.D step 3). A node on the PathToLoss set that does not implement
// this raises NonDifferentiable.
type Differentiable interface {
	GradOps(n *ir.Node) ([]GradOpSpec, error)
}

// InplaceCandidate is one (id, priority) pair a node offers for in-place rewriting
// (§4.C inplacePriorityDefault).
type InplaceCandidate struct {
	Id       string
	Priority float64
}

// Inplaceable offers in-place variants of a node, each of which modifies and/or aliases
// specific input regions (§4.C, §4.E Alias/Inplace tier).
type Inplaceable interface {
	InplacePriorityDefault(n *ir.Node) []InplaceCandidate
	GetInplaceVariant(n *ir.Node, id string) (*ir.Node, error)
	// Modifies and Aliases report, for the inplace variant named id, which input index
	// is mutated and which (input, output) index pair shares storage.
	Modifies(n *ir.Node, id string) []int
	Aliases(n *ir.Node, id string) map[int]int
}

// Shardable marks a node as safe to split along a batch axis into independent copies
// (§4.F.6 batch-serialization pass 1). BatchAxis names which input index carries the
// batch dimension and which of its own axes that is, so the splitter doesn't have to
// guess; a node with no Shardable capability is left untouched by batch-serialization.
type Shardable interface {
	BatchAxis(n *ir.Node) (inputIdx, axis int, ok bool)
}

// ConstFoldable evaluates a node at compile time given fully-const input byte buffers,
// returning the folded output buffer (§4.F.1 constant folding). ok is false for ops that
// must never be folded even with all-const inputs (e.g. RandomUniform: intentionally
// non-deterministic; Gelu: kept as a fused device primitive per the supplemented
// const-fold exclusion list).
type ConstFoldable interface {
	ConstFold(n *ir.Node, inputs [][]byte) (output []byte, ok bool)
}
