package ir

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NodeId is the stable numeric identity of a Node within its owning Graph (§3).
type NodeId int64

// InvalidNodeId is returned where a node lookup or construction failed.
const InvalidNodeId NodeId = -1

// OpId is the domain-qualified operator id §4.C registers constructors under:
// (domain, name, opset-version).
type OpId struct {
	Domain  string
	Name    string
	Version int
}

func (o OpId) String() string {
	domain := o.Domain
	if domain == "" {
		domain = "ai.onnx"
	}
	return fmt.Sprintf("%s.%s-%d", domain, o.Name, o.Version)
}

// RecomputeKind is the §4.F.3 per-node checkpoint/recompute flag.
type RecomputeKind int

const (
	Checkpoint RecomputeKind = iota
	Recompute
)

func (k RecomputeKind) String() string {
	if k == Recompute {
		return "Recompute"
	}
	return "Checkpoint"
}

// AttrKind tags the closed union of ONNX attribute value shapes a Node's static
// attribute dictionary can hold (§9 "Dynamic attribute maps").
type AttrKind int

const (
	AttrInt AttrKind = iota
	AttrFloat
	AttrInts
	AttrFloats
	AttrString
	AttrGraph
)

// AttrValue is one entry of a Node's attribute dictionary: a closed tagged union, never
// a bare `any`. Unknown attribute values are rejected per-op at setup() time (§9), not
// here -- this type only constrains what *shape* a value can take.
type AttrValue struct {
	Kind   AttrKind
	Int    int64
	Float  float64
	Ints   []int64
	Floats []float64
	Str    string
	Graph  *Graph
}

func IntAttr(v int64) AttrValue        { return AttrValue{Kind: AttrInt, Int: v} }
func FloatAttr(v float64) AttrValue    { return AttrValue{Kind: AttrFloat, Float: v} }
func IntsAttr(v []int64) AttrValue     { return AttrValue{Kind: AttrInts, Ints: v} }
func FloatsAttr(v []float64) AttrValue { return AttrValue{Kind: AttrFloats, Floats: v} }
func StringAttr(v string) AttrValue    { return AttrValue{Kind: AttrString, Str: v} }
func GraphAttr(v *Graph) AttrValue     { return AttrValue{Kind: AttrGraph, Graph: v} }

// Settings are the per-node scheduling/placement knobs §3 names: a human name, and
// optional virtual-graph/pipeline-stage/execution-phase/batch-serialized-phase labels
// that start unset and get filled in by the transform pipeline.
type Settings struct {
	Name string

	VirtualGraphId       *int
	PipelineStage        *int
	ExecutionPhase       *int
	BatchSerializedPhase *int

	Recompute       RecomputeKind
	SchedulePriority float64
}

// Node is a typed operation with ordered, index-addressed input and output tensors
// (§3). Capability interfaces (Shaped, Differentiable, Inplaceable, ConstFoldable,
// defined in opcatalog) are looked up by OpId through the catalog rather than through
// Go's type system on Node itself -- this is the "single node value with an op-id tag
// and a small set of capability interfaces" re-architecture of §9.
type Node struct {
	graph *Graph
	id    NodeId
	OpId  OpId

	Inputs  *orderedmap.OrderedMap[int, TensorId]
	Outputs *orderedmap.OrderedMap[int, TensorId]
	Attrs   *orderedmap.OrderedMap[string, AttrValue]

	Settings Settings

	// PathToLoss and FromLoss are set by the autodiff builder (§4.D steps 1 and 6).
	PathToLoss bool
	FromLoss   bool

	// setupCalled records whether shape inference has run at least once since the
	// node's inputs were last (re)connected -- part of the §3 Node freeze invariant.
	setupCalled bool
}

// NewDetachedNode allocates a node not yet owned by any graph; Graph.MoveIntoGraph
// stamps its id and takes ownership. Used by opcatalog constructors, which build a node
// before the graph has a slot for it.
func NewDetachedNode(opId OpId) *Node { return newNode(opId) }

// newNode allocates a detached node (no graph id yet); Graph.MoveIntoGraph stamps the id
// and owns it from then on.
func newNode(opId OpId) *Node {
	return &Node{
		id:      InvalidNodeId,
		OpId:    opId,
		Inputs:  orderedmap.New[int, TensorId](),
		Outputs: orderedmap.New[int, TensorId](),
		Attrs:   orderedmap.New[string, AttrValue](),
	}
}

// Id is the node's stable numeric identity within its graph.
func (n *Node) Id() NodeId { return n.id }

// Graph returns the owning graph.
func (n *Node) Graph() *Graph { return n.graph }

// Input returns the tensor id wired at input index idx, and whether one is connected.
func (n *Node) Input(idx int) (TensorId, bool) { return n.Inputs.Get(idx) }

// Output returns the tensor id wired at output index idx, and whether one is connected.
func (n *Node) Output(idx int) (TensorId, bool) { return n.Outputs.Get(idx) }

// NumInputs and NumOutputs report the highest connected index + 1 -- not the count of
// entries, since a node may not have every index populated until createAndConnectOutput
// and connectInput calls complete during construction.
func (n *Node) NumInputs() int  { return orderedMapSpan(n.Inputs) }
func (n *Node) NumOutputs() int { return orderedMapSpan(n.Outputs) }

func orderedMapSpan(m *orderedmap.OrderedMap[int, TensorId]) int {
	max := -1
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key > max {
			max = pair.Key
		}
	}
	return max + 1
}

// AttrOr returns the attribute value at key, or def if unset. Mirrors the
// context.GetParamOr pattern the teacher uses for optional hyperparameters.
func (n *Node) AttrOr(key string, def AttrValue) AttrValue {
	if v, ok := n.Attrs.Get(key); ok {
		return v
	}
	return def
}

// SetupCalled reports whether setup() (shape inference) has run since the inputs were
// last connected. Graph.Freeze does not check it.
func (n *Node) SetupCalled() bool { return n.setupCalled }

// MarkSetupCalled is invoked by opcatalog.CreateNodeFromProto once the node's
// catalog-registered Shaped.Setup has successfully computed output shapes.
func (n *Node) MarkSetupCalled() { n.setupCalled = true }

func (n *Node) String() string {
	return fmt.Sprintf("#%d %s %q", n.id, n.OpId, n.Settings.Name)
}
