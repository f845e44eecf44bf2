// Package onnxpb is a plain Go mirror of the ONNX proto subset the core consumes (§6
// "Input graph format"): ModelProto/GraphProto/NodeProto/AttributeProto/ValueInfoProto/
// TensorProto. It carries no wire-format (de)serialization code -- that belongs to the
// out-of-scope ONNX-builder facade (§1 Non-goals); compile.FromProto and
// opcatalog.CreateNodeFromProto consume these types, and are handed an
// already-deserialized tree.
package onnxpb

// ModelProto is the top-level input: a single graph plus whatever opset-version
// metadata the front-end already resolved.
type ModelProto struct {
	Graph        GraphProto
	OpsetVersion int
}

// GraphProto mirrors the standard fields §6 names: node, input, initializer, output.
type GraphProto struct {
	Name        string
	Node        []NodeProto
	Input       []ValueInfoProto
	Output      []ValueInfoProto
	Initializer []TensorProto
}

// NodeProto mirrors one graph.node entry: op_type, domain, attribute, and the ordered
// input/output tensor-id lists (by position, matching §3's index-addressed inputs).
type NodeProto struct {
	Name      string
	OpType    string
	Domain    string
	Input     []string
	Output    []string
	Attribute []AttributeProto
}

// AttributeKind is the closed tagged-union discriminant for AttributeProto, mirroring
// the ONNX AttributeProto.AttributeType enum restricted to the cases §9's "Dynamic
// attribute maps" design note allows: scalar/list int, scalar/list float, string, and a
// nested sub-graph (for control-flow node bodies).
type AttributeKind int

const (
	AttrKindInt AttributeKind = iota
	AttrKindFloat
	AttrKindInts
	AttrKindFloats
	AttrKindString
	AttrKindGraph
)

// AttributeProto is one node.attribute entry.
type AttributeProto struct {
	Name string
	Kind AttributeKind

	Int    int64
	Float  float64
	Ints   []int64
	Floats []float64
	Str    string
	Graph  *GraphProto
}

// ValueInfoProto mirrors a graph.input/graph.output entry: a name plus its declared
// element type and shape, both optional (ONNX allows unknown-shape inputs; §4.A's setup
// step is what actually pins down shapes during graph construction).
type ValueInfoProto struct {
	Name      string
	ElemType  string
	Dimensions []int64
	HasShape  bool
}

// TensorProto mirrors a graph.initializer entry: the Const/Variable initial value for a
// tensor, carried as raw little-endian bytes (§3 "an optional attached byte buffer").
type TensorProto struct {
	Name      string
	DataType  string
	Dims      []int64
	RawBytes  []byte
}
