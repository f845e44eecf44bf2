package compile

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
	"github.com/tileforge/airuntime/opcatalog"
)

// FromProtoOptions supplies everything §6's "ONNX / loss / optimizer / persisted-state"
// surface needs that an onnxpb.ModelProto itself has no field for: ONNX has no notion of
// a loss output, an optimizer, or which initializers are trainable versus frozen, so the
// front-end (out of scope here) is expected to have that information and pass it
// alongside the proto.
type FromProtoOptions struct {
	// VariableNames marks which GraphProto.Initializer entries are ir.Variable
	// (persistent, optimizer-updated) tensors rather than ir.Const (frozen literals).
	// An initializer not named here defaults to Const.
	VariableNames map[string]bool

	Losses    []ir.LossSpec
	Optimizer ir.OptimizerSpec
	DataFlow  ir.DataFlowPolicy
	Options   ir.SessionOptions
}

// FromProto builds a fresh IR by walking an already-deserialized ONNX proto tree (§4.C
// "ingests an ONNX proto → builds a strongly-typed dataflow graph"): every initializer
// becomes a Const or Variable tensor with its literal bytes attached, every declared graph
// input with no initializer becomes a Stream tensor shaped from its declared dims (rank 0
// when it declares none), and every node is constructed in the order
// the proto lists them via opcatalog.CreateNodeFromProto -- which requires that a node's
// inputs already exist as tensors, i.e. the proto must list nodes in a valid topological
// order, same as ONNX itself requires.
func FromProto(name string, model onnxpb.ModelProto, opts FromProtoOptions) (*ir.IR, error) {
	g := ir.NewRootGraph(name)

	for _, init := range model.Graph.Initializer {
		d, err := dtype.FromString(init.DataType)
		if err != nil {
			return nil, ir.Errorf(ir.TypeMismatch, "initializer %q: %v", init.Name, err)
		}
		dims := make([]int, len(init.Dims))
		for i, dim := range init.Dims {
			dims[i] = int(dim)
		}
		shape := dtype.Shape{DType: d, Dimensions: dims}
		class := ir.Const
		if opts.VariableNames[init.Name] {
			class = ir.Variable
		}
		if _, err := g.AddConstInit(class, ir.TensorId(init.Name), shape, init.RawBytes); err != nil {
			return nil, err
		}
	}

	hasInitializer := make(map[string]bool, len(model.Graph.Initializer))
	for _, init := range model.Graph.Initializer {
		hasInitializer[init.Name] = true
	}
	for _, in := range model.Graph.Input {
		if hasInitializer[in.Name] {
			continue // already registered as Const/Variable above
		}
		d, err := dtype.FromString(in.ElemType)
		if err != nil {
			return nil, ir.Errorf(ir.TypeMismatch, "graph input %q: %v", in.Name, err)
		}
		var dims []int
		if in.HasShape {
			dims = make([]int, len(in.Dimensions))
			for i, dim := range in.Dimensions {
				dims[i] = int(dim)
			}
		}
		if _, err := g.AddTensorShape(ir.Stream, ir.TensorId(in.Name), dtype.Shape{DType: d, Dimensions: dims}); err != nil {
			return nil, err
		}
	}

	for _, node := range model.Graph.Node {
		if _, err := opcatalog.CreateNodeFromProto(node, model.OpsetVersion, g); err != nil {
			return nil, err
		}
	}

	m := ir.NewIR(name)
	m.Root = g
	m.Losses = opts.Losses
	m.Optimizer = opts.Optimizer
	m.DataFlow = opts.DataFlow
	m.Options = opts.Options
	return m, nil
}
