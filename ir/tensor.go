package ir

import (
	"fmt"
	"strings"

	"github.com/tileforge/airuntime/dtype"
)

// TensorId is the stable identifier string of a Tensor (§3).
type TensorId string

// TensorClass is the closed set of tensor roles from §3.
type TensorClass int

const (
	// Stream is fed from host each step. A Stream tensor never has a producer.
	Stream TensorClass = iota
	// Variable is persistent trainable/updated state.
	Variable
	// Const is a compile-time literal; always carries a buffer.
	Const
	// ActGrad is a transient activation or gradient.
	ActGrad
	// Momentum is optimizer momentum/velocity state.
	Momentum
	// Cache is other specialized optimizer/runtime state.
	Cache
)

func (c TensorClass) String() string {
	switch c {
	case Stream:
		return "Stream"
	case Variable:
		return "Variable"
	case Const:
		return "Const"
	case ActGrad:
		return "ActGrad"
	case Momentum:
		return "Momentum"
	case Cache:
		return "Cache"
	default:
		return fmt.Sprintf("TensorClass(%d)", int(c))
	}
}

// consumerEdge records one occurrence of a tensor being consumed: the consuming node and
// the input index at which it consumes it. A tensor fanning out to the same node at two
// input indices (e.g. Add(x, x)) produces two edges, not one.
type consumerEdge struct {
	node  NodeId
	index int
}

// Tensor is an immutable-shape value with at most one producer (§3). The graph's wiring
// primitives are the only code allowed to mutate producer/consumers; everywhere else
// holds it read-only, matching the non-owning-pointer ownership model of §5.
type Tensor struct {
	Id    TensorId
	Shape dtype.Shape
	Class TensorClass

	// Buffer holds the compile-time literal bytes for Const and the initial value for
	// Variable tensors. nil for Stream/ActGrad/Momentum/Cache unless explicitly seeded.
	Buffer []byte

	producer       NodeId
	producerOutIdx int
	hasProducer    bool

	consumers []consumerEdge
}

// DType is a shortcut for t.Shape.DType.
func (t *Tensor) DType() dtype.DType { return t.Shape.DType }

// HasProducer reports whether the tensor has a producing node.
func (t *Tensor) HasProducer() bool { return t.hasProducer }

// Producer returns the id of the node producing this tensor and the output index it was
// produced at. Panics if called on a tensor with no producer (check HasProducer first).
func (t *Tensor) Producer() (NodeId, int) {
	if !t.hasProducer {
		panic(fmt.Sprintf("ir: tensor %q has no producer", t.Id))
	}
	return t.producer, t.producerOutIdx
}

// ConsumersTotal returns the number of input-edge occurrences of t, i.e. the sum over
// every consuming node of how many of its input indices are wired to t (§4.B invariant:
// "consumers.total(t) equals the number of input-edge occurrences of t").
func (t *Tensor) ConsumersTotal() int { return len(t.consumers) }

// Consumers returns the (node, input index) pairs that consume t, in the order the edges
// were wired.
func (t *Tensor) Consumers() []struct {
	Node  NodeId
	Index int
} {
	out := make([]struct {
		Node  NodeId
		Index int
	}, len(t.consumers))
	for i, e := range t.consumers {
		out[i] = struct {
			Node  NodeId
			Index int
		}{Node: e.node, Index: e.index}
	}
	return out
}

// Role is the reserved name-prefix protocol shared between the tensor store, the
// autodiff builder and the transforms (§4.B "id-derived role"): a tensor's id prefix
// advertises what kind of derived state it is, independent of its TensorClass.
type Role int

const (
	RoleNone Role = iota
	RoleAccumulator
	RoleOptimizerState
	RoleRandomSeed
	RoleRemoteArg
)

const (
	prefixAccumulator     = "Accl___"
	prefixOptimizerState  = "Optim___"
	prefixRandomSeed      = "Seed___"
	prefixRemoteArg       = "RemoteArg___"
)

// TensorRole derives the reserved role from id's prefix, per the protocol §4.B reserves
// between the store, the autodiff builder and the transforms.
func TensorRole(id TensorId) Role {
	s := string(id)
	switch {
	case strings.HasPrefix(s, prefixAccumulator):
		return RoleAccumulator
	case strings.HasPrefix(s, prefixOptimizerState):
		return RoleOptimizerState
	case strings.HasPrefix(s, prefixRandomSeed):
		return RoleRandomSeed
	case strings.HasPrefix(s, prefixRemoteArg):
		return RoleRemoteArg
	default:
		return RoleNone
	}
}

// AccumulatorId derives the reserved accumulator-tensor id for a weight tensor id. The
// autodiff builder's SGD1 accumulators use OptimizerStateId(weightId, "velocity") instead.
func AccumulatorId(weightId TensorId) TensorId {
	return TensorId(prefixAccumulator + string(weightId))
}

// OptimizerStateId derives the reserved optimizer-state tensor id (e.g. Adam moments) for
// a weight tensor id.
func OptimizerStateId(weightId TensorId, suffix string) TensorId {
	return TensorId(prefixOptimizerState + string(weightId) + "___" + suffix)
}
