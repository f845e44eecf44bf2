// Package opcatalog is the process-wide node catalog & factory (§4.C): a registry keyed
// by (domain, name, opset-version) that associates each op-id with a schema, a
// constructor, and the small set of capability interfaces (Shaped, Differentiable,
// Inplaceable, ConstFoldable) the rest of the core looks up through the catalog rather
// than through Go's type system on ir.Node itself -- the §9 "single node value with an
// op-id tag and a small set of capability interfaces" re-architecture.
package opcatalog

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/onnxpb"
)

// placeholderShape is the provisional rank-0 shape given to a node's outputs when they
// are first connected, before Setup has inferred their real shape.
var placeholderShape = dtype.Scalar(dtype.Invalid)

// Schema describes an op-id's arity and per-input element-type constraints (§4.C
// "a schema: allowed element types per input, number of inputs/outputs").
type Schema struct {
	MinInputs, MaxInputs   int
	NumOutputs             int
	AllowedDTypesPerInput  map[int][]string // ONNX type names; empty/absent means unconstrained
}

// Entry is one catalog registration: the schema, a constructor that builds a detached
// node with its static attributes parsed, and whichever capability values the op
// implements. At least Impl must implement Shaped -- every op must be able to size its
// own outputs.
type Entry struct {
	OpId   ir.OpId
	Schema Schema
	Impl   any
}

var (
	mu       sync.RWMutex
	registry = make(map[domainName]map[int]*Entry)
)

type domainName struct {
	domain string
	name   string
}

// Register adds e to the process-wide catalog. Intended to be called from package
// init() functions of the concrete op files in this package, mirroring how the teacher's
// ml/train/optimizers registers each optimizer constructor into KnownOptimizers at
// package init time.
func Register(e *Entry) {
	mu.Lock()
	defer mu.Unlock()
	key := domainName{domain: e.OpId.Domain, name: e.OpId.Name}
	if registry[key] == nil {
		registry[key] = make(map[int]*Entry)
	}
	registry[key][e.OpId.Version] = e
}

// Lookup finds the highest registered version of (domain, name) not exceeding
// requestedVersion (0 meaning "any version"), matching how ONNX opset resolution works:
// a model built against a later opset may still use an operator whose behavior hasn't
// changed since an earlier version.
func Lookup(domain, name string, requestedVersion int) (*Entry, bool) {
	mu.RLock()
	defer mu.RUnlock()
	versions, ok := registry[domainName{domain: domain, name: name}]
	if !ok || len(versions) == 0 {
		return nil, false
	}
	best := -1
	for v := range versions {
		if requestedVersion > 0 && v > requestedVersion {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best == -1 {
		return nil, false
	}
	return versions[best], true
}

// RegisteredOpIds returns one OpId per registered (domain, name, version), used by diagnostics and
// tests that want to enumerate the catalog -- mirroring the teacher's
// maps.Keys(optimizers.KnownOptimizers) idiom.
func RegisteredOpIds() []ir.OpId {
	mu.RLock()
	defer mu.RUnlock()
	keys := maps.Keys(registry)
	out := make([]ir.OpId, 0, len(keys))
	for _, k := range keys {
		for v := range registry[k] {
			out = append(out, ir.OpId{Domain: k.domain, Name: k.name, Version: v})
		}
	}
	return out
}

// CreateNodeFromProto implements §4.C's createNodeFromProto: select the constructor by
// op-id, parse attributes into the node's attribute dictionary, connect inputs by name,
// create placeholder outputs, and call setup() (shape inference). Unknown op-ids fail
// with UnknownOperator.
func CreateNodeFromProto(node onnxpb.NodeProto, opsetVersion int, g *ir.Graph) (*ir.Node, error) {
	entry, ok := Lookup(node.Domain, node.OpType, opsetVersion)
	if !ok {
		return nil, ir.Errorf(ir.UnknownOperator, "no registered op for domain=%q name=%q (opset<=%d)", node.Domain, node.OpType, opsetVersion)
	}
	n := ir.NewDetachedNode(entry.OpId)
	n.Settings.Name = node.Name

	for _, attr := range node.Attribute {
		v, err := convertAttr(attr)
		if err != nil {
			return nil, err
		}
		n.Attrs.Set(attr.Name, v)
	}

	if _, err := g.MoveIntoGraph(n); err != nil {
		return nil, err
	}

	for idx, name := range node.Input {
		if name == "" {
			continue // optional input left unset, as ONNX permits for trailing optional inputs
		}
		if err := g.ConnectInput(n, idx, ir.TensorId(name)); err != nil {
			return nil, err
		}
	}

	for idx, name := range node.Output {
		if name == "" {
			continue
		}
		// Outputs start as a rank-0 placeholder; Setup below overwrites the shape once
		// it has seen the input shapes and attributes.
		if _, err := g.CreateAndConnectOutput(n, idx, ir.TensorId(name), placeholderShape, ir.ActGrad); err != nil {
			return nil, err
		}
	}

	shaped, ok := entry.Impl.(Shaped)
	if !ok {
		return nil, ir.Errorf(ir.InternalLogicError, "catalog entry for %s does not implement Shaped", entry.OpId)
	}
	if err := shaped.Setup(n); err != nil {
		return nil, err
	}
	n.MarkSetupCalled()

	return n, nil
}

func convertAttr(a onnxpb.AttributeProto) (ir.AttrValue, error) {
	switch a.Kind {
	case onnxpb.AttrKindInt:
		return ir.IntAttr(a.Int), nil
	case onnxpb.AttrKindFloat:
		return ir.FloatAttr(a.Float), nil
	case onnxpb.AttrKindInts:
		return ir.IntsAttr(a.Ints), nil
	case onnxpb.AttrKindFloats:
		return ir.FloatsAttr(a.Floats), nil
	case onnxpb.AttrKindString:
		return ir.StringAttr(a.Str), nil
	case onnxpb.AttrKindGraph:
		return ir.AttrValue{}, ir.Errorf(ir.InternalLogicError, "attribute %q: sub-graph attributes are not supported by CreateNodeFromProto", a.Name)
	default:
		return ir.AttrValue{}, ir.Errorf(ir.UnknownAttribute, "attribute %q has unrecognized kind %d", a.Name, a.Kind)
	}
}
