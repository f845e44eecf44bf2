// Package ir implements the tensor & graph store (§4.B) and the IR container (§3):
// nodes, tensors, producer/consumer edges, the topological-constraints store, and the
// handle-based ownership model of §9 ("arena + integer handles"). The Graph is the
// arena; NodeId and TensorId are the handles; every reference stored *between* entities
// is a handle, translated back to a concrete pointer only by the graph's own methods.
package ir

import (
	"fmt"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/tileforge/airuntime/dtype"
)

// GraphId identifies a Graph (root or nested) within a compilation.
type GraphId uuid.UUID

func newGraphId() GraphId { return GraphId(uuid.New()) }

// idCounter is the monotonic op-id counter §3 says the IR container owns. It is shared
// by a root graph and every sub-graph nested under it, so node ids stay unique across
// the whole tree.
type idCounter struct {
	next int64
}

func (c *idCounter) allocate() NodeId {
	id := NodeId(c.next)
	c.next++
	return id
}

// Graph owns a set of nodes and tensors plus the topological-constraint store (§3). A
// root Graph may own nested sub-graphs referenced by control-flow nodes (e.g. the body
// of an ONNX If/Loop); frozen is set once a schedule has been produced from this graph,
// after which every mutating method refuses with InternalLogicError.
type Graph struct {
	id     GraphId
	name   string
	parent *Graph
	root   *Graph
	counter *idCounter

	nodes     map[NodeId]*Node
	nodeOrder []NodeId

	tensors     map[TensorId]*Tensor
	tensorOrder []TensorId

	// captured marks tensor ids in `tensors` that were brought in via
	// AddInputFromHigherScope rather than produced locally -- the one exception to the
	// "producer lives in the same graph" invariant of §3.
	captured map[TensorId]bool

	constraints *constraintStore

	children []*Graph
	frozen   bool
}

// NewRootGraph creates a new, unparented Graph with a fresh op-id counter.
func NewRootGraph(name string) *Graph {
	g := &Graph{
		id:          newGraphId(),
		name:        name,
		counter:     &idCounter{},
		nodes:       make(map[NodeId]*Node),
		tensors:     make(map[TensorId]*Tensor),
		captured:    make(map[TensorId]bool),
		constraints: newConstraintStore(),
	}
	g.root = g
	return g
}

// NewSubGraph creates a nested Graph under parent, sharing parent's root and op-id
// counter, used for control-flow node bodies (ONNX If/Loop).
func (g *Graph) NewSubGraph(name string) *Graph {
	sub := &Graph{
		id:          newGraphId(),
		name:        name,
		parent:      g,
		root:        g.root,
		counter:     g.counter,
		nodes:       make(map[NodeId]*Node),
		tensors:     make(map[TensorId]*Tensor),
		captured:    make(map[TensorId]bool),
		constraints: newConstraintStore(),
	}
	g.children = append(g.children, sub)
	return sub
}

// Id, Name, Parent, Root, IsRoot accessors.
func (g *Graph) Id() GraphId     { return g.id }
func (g *Graph) Name() string    { return g.name }
func (g *Graph) Parent() *Graph  { return g.parent }
func (g *Graph) Root() *Graph    { return g.root }
func (g *Graph) IsRoot() bool    { return g.parent == nil }
func (g *Graph) IsFrozen() bool  { return g.frozen }

// Freeze marks the graph (and, since the schedule covers the whole tree, every
// descendant sub-graph) as no longer mutable -- the §3 lifecycle boundary once a
// schedule has been produced.
func (g *Graph) Freeze() {
	g.frozen = true
	for _, c := range g.children {
		c.Freeze()
	}
}

func (g *Graph) checkMutable() error {
	if g.frozen {
		return Errorf(InternalLogicError, "graph %q is frozen: no further mutations are permitted after scheduling", g.name)
	}
	return nil
}

// Node looks up a node by handle.
func (g *Graph) Node(id NodeId) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Tensor looks up a tensor by handle.
func (g *Graph) Tensor(id TensorId) (*Tensor, bool) {
	t, ok := g.tensors[id]
	return t, ok
}

// Nodes returns every node in this graph in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Tensors returns every tensor in this graph in insertion order.
func (g *Graph) Tensors() []*Tensor {
	out := make([]*Tensor, 0, len(g.tensorOrder))
	for _, id := range g.tensorOrder {
		if t, ok := g.tensors[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// MoveIntoGraph transfers ownership of a detached node (built with a catalog
// constructor but not yet placed) into g, stamping a fresh node id (§4.B).
func (g *Graph) MoveIntoGraph(node *Node) (NodeId, error) {
	if err := g.checkMutable(); err != nil {
		return InvalidNodeId, err
	}
	if node.graph != nil {
		return InvalidNodeId, Errorf(InternalLogicError, "node already belongs to a graph")
	}
	id := g.counter.allocate()
	node.graph = g
	node.id = id
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	return id, nil
}

// CloneNode returns a deep structural clone of node with no connections (§4.B): same
// OpId, Settings and attributes, empty input/output maps, not yet placed in any graph.
func (g *Graph) CloneNode(node *Node) *Node {
	clone := newNode(node.OpId)
	clone.Settings = node.Settings
	for pair := node.Attrs.Oldest(); pair != nil; pair = pair.Next() {
		clone.Attrs.Set(pair.Key, pair.Value)
	}
	return clone
}

// AddTensorShape registers a new tensor of the given class and shape (§4.B addTensor).
// A Stream tensor registered this way correctly has no producer, per §3.
func (g *Graph) AddTensorShape(class TensorClass, id TensorId, shape dtype.Shape) (*Tensor, error) {
	if err := g.checkMutable(); err != nil {
		return nil, err
	}
	if _, exists := g.tensors[id]; exists {
		return nil, Errorf(DuplicateProducer, "tensor %q already registered in graph %q", id, g.name)
	}
	t := &Tensor{Id: id, Shape: shape.Clone(), Class: class}
	g.tensors[id] = t
	g.tensorOrder = append(g.tensorOrder, id)
	return t, nil
}

// AddConstInit registers a Const (or Variable, for initial weight values) tensor with an
// attached byte buffer (§4.B addConstInit). The buffer must be sized exactly
// product(shape)*bytesPerElement(dtype) (§3, §8 property 4).
func (g *Graph) AddConstInit(class TensorClass, id TensorId, shape dtype.Shape, buf []byte) (*Tensor, error) {
	want := dtype.NBytes(shape.Dimensions, shape.DType)
	if len(buf) != want {
		return nil, Errorf(ShapeMismatch, "tensor %q buffer is %d bytes, want %d for shape %s", id, len(buf), want, shape)
	}
	t, err := g.AddTensorShape(class, id, shape)
	if err != nil {
		return nil, err
	}
	t.Buffer = buf
	return t, nil
}

// ConnectInput wires tensorId as node's idx-th input, updating the tensor's consumer
// edges (§4.B connectInput). Rewiring an already-connected index first disconnects the
// old edge. Invalidates the node's setupCalled flag: shape inference must rerun.
func (g *Graph) ConnectInput(node *Node, idx int, tensorId TensorId) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if node.graph != g {
		return Errorf(InternalLogicError, "node %s does not belong to graph %q", node, g.name)
	}
	t, ok := g.tensors[tensorId]
	if !ok {
		return Errorf(MissingProducer, "graph %q has no tensor %q to connect as input %d of %s", g.name, tensorId, idx, node)
	}
	if old, existed := node.Inputs.Get(idx); existed {
		g.removeConsumerEdge(old, node.id, idx)
	}
	t.consumers = append(t.consumers, consumerEdge{node: node.id, index: idx})
	node.Inputs.Set(idx, tensorId)
	node.setupCalled = false
	return nil
}

func (g *Graph) removeConsumerEdge(tensorId TensorId, node NodeId, idx int) {
	t, ok := g.tensors[tensorId]
	if !ok {
		return
	}
	for i, e := range t.consumers {
		if e.node == node && e.index == idx {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			return
		}
	}
}

// ConnectOutput wires node as the producer of tensorId at output index idx (§4.B
// connectOutput). Fails with DuplicateProducer if tensorId already has a different
// producer.
func (g *Graph) ConnectOutput(node *Node, idx int, tensorId TensorId) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if node.graph != g {
		return Errorf(InternalLogicError, "node %s does not belong to graph %q", node, g.name)
	}
	t, ok := g.tensors[tensorId]
	if !ok {
		return Errorf(MissingProducer, "graph %q has no tensor %q to connect as output %d of %s", g.name, tensorId, idx, node)
	}
	if t.hasProducer && (t.producer != node.id || t.producerOutIdx != idx) {
		return Errorf(DuplicateProducer, "tensor %q already produced by node %d, cannot also be produced by %s", tensorId, t.producer, node)
	}
	t.hasProducer = true
	t.producer = node.id
	t.producerOutIdx = idx
	node.Outputs.Set(idx, tensorId)
	return nil
}

// CreateAndConnectOutput registers a fresh tensor and connects it as node's idx-th
// output in one step (§4.B createAndConnectOutput) -- the common case for a newly
// constructed node's outputs, where no prior AddTensorShape call is needed.
func (g *Graph) CreateAndConnectOutput(node *Node, idx int, id TensorId, shape dtype.Shape, class TensorClass) (*Tensor, error) {
	t, err := g.AddTensorShape(class, id, shape)
	if err != nil {
		return nil, err
	}
	if err := g.ConnectOutput(node, idx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// DisconnectAllInputs clears every input edge of node, removing the corresponding
// consumer edges from each input tensor.
func (g *Graph) DisconnectAllInputs(node *Node) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	for pair := node.Inputs.Oldest(); pair != nil; pair = pair.Next() {
		g.removeConsumerEdge(pair.Value, node.id, pair.Key)
	}
	node.Inputs = orderedmap.New[int, TensorId]()
	return nil
}

// DisconnectAllOutputs clears node's producer claim on every output tensor. It does not
// require the tensors to be unconsumed -- callers that need that guarantee check
// ConsumersTotal first (as transform.Prune does before erasing a node).
func (g *Graph) DisconnectAllOutputs(node *Node) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	for pair := node.Outputs.Oldest(); pair != nil; pair = pair.Next() {
		if t, ok := g.tensors[pair.Value]; ok && t.hasProducer && t.producer == node.id {
			t.hasProducer = false
		}
	}
	node.Outputs = orderedmap.New[int, TensorId]()
	return nil
}

// EraseNode removes node from the graph after disconnecting it from every input and
// output tensor (§3 "destroyed only via the graph's eraseOp/remove APIs which also
// update every back-pointer"). It does not remove the tensors the node produced; callers
// that want that (e.g. the pruning transform) call RemoveTensor explicitly once they've
// confirmed no consumers remain.
func (g *Graph) EraseNode(id NodeId) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	node, ok := g.nodes[id]
	if !ok {
		return Errorf(InternalLogicError, "graph %q has no node #%d to erase", g.name, id)
	}
	if err := g.DisconnectAllInputs(node); err != nil {
		return err
	}
	if err := g.DisconnectAllOutputs(node); err != nil {
		return err
	}
	g.constraints.removeNode(id)
	delete(g.nodes, id)
	for i, nid := range g.nodeOrder {
		if nid == id {
			g.nodeOrder = append(g.nodeOrder[:i], g.nodeOrder[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveTensor deletes a tensor that no longer has any consumers and whose producer (if
// any) has already been erased. Fails with DanglingConsumer if consumers remain.
func (g *Graph) RemoveTensor(id TensorId) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	t, ok := g.tensors[id]
	if !ok {
		return Errorf(InternalLogicError, "graph %q has no tensor %q to remove", g.name, id)
	}
	if t.ConsumersTotal() > 0 {
		return Errorf(DanglingConsumer, "tensor %q still has %d consumer(s), cannot remove", id, t.ConsumersTotal())
	}
	if t.hasProducer {
		if _, ok := g.nodes[t.producer]; ok {
			return Errorf(InternalLogicError, "tensor %q producer node #%d still exists, erase it first", id, t.producer)
		}
	}
	delete(g.tensors, id)
	delete(g.captured, id)
	for i, tid := range g.tensorOrder {
		if tid == id {
			g.tensorOrder = append(g.tensorOrder[:i], g.tensorOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ReplaceWithConst reclassifies an existing tensor as a compile-time Const literal,
// detaching any producer it had -- used by constant folding (§4.F.1), which computes the
// node's output bytes and then "replaces the node with a Const tensor".
func (g *Graph) ReplaceWithConst(id TensorId, buf []byte) error {
	t, ok := g.tensors[id]
	if !ok {
		return Errorf(InternalLogicError, "graph %q has no tensor %q to replace", g.name, id)
	}
	want := dtype.NBytes(t.Shape.Dimensions, t.Shape.DType)
	if len(buf) != want {
		return Errorf(ShapeMismatch, "const replacement for %q needs %d bytes, got %d", id, want, len(buf))
	}
	t.Class = Const
	t.Buffer = buf
	t.hasProducer = false
	return nil
}

// AddInputFromHigherScope captures a tensor declared in a strict ancestor scope into g,
// under the same id (§4.C.2 scope rule; S6 in spec.md §8). It fails with DanglingConsumer
// if name is not declared in any strict ancestor -- in particular a name declared only in
// a sibling or descendant scope is rejected, since only the ancestor chain is walked.
func (g *Graph) AddInputFromHigherScope(name string) error {
	tid := TensorId(name)
	for anc := g.parent; anc != nil; anc = anc.parent {
		if t, ok := anc.tensors[tid]; ok {
			g.tensors[tid] = t
			g.tensorOrder = append(g.tensorOrder, tid)
			g.captured[tid] = true
			return nil
		}
	}
	return Errorf(DanglingConsumer, "graph %q: %q is not declared in any strict ancestor scope", g.name, name)
}

// IsCaptured reports whether tensorId was brought into g via AddInputFromHigherScope.
func (g *Graph) IsCaptured(tensorId TensorId) bool { return g.captured[tensorId] }

// AddConstraint / MustPrecede / Constraints delegate to the topological-constraints store (§3).
func (g *Graph) AddConstraint(before, after NodeId) error { return g.constraints.add(before, after) }
func (g *Graph) MustPrecede(a, b NodeId) bool             { return g.constraints.mustPrecede(a, b) }
func (g *Graph) Constraints() []Constraint                { return g.constraints.all() }

func (g *Graph) String() string {
	return fmt.Sprintf("Graph(%q): %d nodes, %d tensors", g.name, len(g.nodes), len(g.tensors))
}
