package ir

import "fmt"

// ReductionKind is how a loss tensor's per-element values are combined (§6 loss spec).
type ReductionKind int

const (
	Sum ReductionKind = iota
	Mean
	None
)

func (r ReductionKind) String() string {
	switch r {
	case Sum:
		return "Sum"
	case Mean:
		return "Mean"
	case None:
		return "None"
	default:
		return fmt.Sprintf("ReductionKind(%d)", int(r))
	}
}

// LossSpec names one loss declaration (§6): a target tensor, how its elements are
// reduced, and a scale factor applied to the gradient seed. L1, NLL and Identity are the
// first-class losses the catalog supplies gradient ops for directly; any other loss
// tensor must already exist as pre-built nodes before it is declared here.
type LossSpec struct {
	OutputTensorId TensorId
	Name           string
	Scale          float64
	Reduction      ReductionKind
}

// OptimizerVariant is the closed set of supported weight-update algorithms (§6).
type OptimizerVariant int

const (
	SGD0 OptimizerVariant = iota
	SGD1
)

func (v OptimizerVariant) String() string {
	if v == SGD1 {
		return "SGD1"
	}
	return "SGD0"
}

// Scalar is an optimizer atomic scalar: a value plus whether it is compile-time const
// (baked into the compound-scalar cache) or may be streamed in and changed between
// steps (§6 "Each value is a pair (float, isConst)").
type Scalar struct {
	Value   float64
	IsConst bool
}

// OptimizerSpec holds the seven atomic scalars and the chosen variant (§6). Compound
// scalars (weightDecayScaleFactor, scaledLearningRate, ...) are derived from these by
// SGD0CompoundScalars/SGD1CompoundScalars, not stored here -- they are cached per
// Variable by the autodiff builder, not by the spec.
type OptimizerSpec struct {
	Variant OptimizerVariant

	LearningRate     Scalar // lr
	WeightDecay      Scalar // wd
	Momentum         Scalar // mm
	Dampening        Scalar // dm
	VelocityScaling  Scalar // vs
	LossScaling      Scalar // ls
	ReplicationFactor Scalar // rf
}

// SGD0Compound holds the §6 SGD0 compound scalars, cached per Variable tensor by
// whatever built the var-update node.
type SGD0Compound struct {
	WeightDecayScaleFactor0 float64
	ScaledLearningRate0     float64
}

// SGD0CompoundScalars derives the SGD0 compound scalars (§6):
//
//	weightDecayScaleFactor0 = 1 - lr*(1-dm)*wd
//	scaledLearningRate0     = lr*(1-dm)/ls
func SGD0CompoundScalars(o OptimizerSpec) SGD0Compound {
	lr, dm, wd, ls := o.LearningRate.Value, o.Dampening.Value, o.WeightDecay.Value, o.LossScaling.Value
	return SGD0Compound{
		WeightDecayScaleFactor0: 1 - lr*(1-dm)*wd,
		ScaledLearningRate0:     lr * (1 - dm) / ls,
	}
}

// SGD1Compound holds the §6 SGD1 compound scalars.
type SGD1Compound struct {
	ScaledLearningRate1     float64
	WeightDecayScaleFactor1 float64
	DampeningScaleFactor1   float64
	Momentum1               float64
}

// SGD1CompoundScalars derives the SGD1 compound scalars (§6):
//
//	scaledLearningRate1     = lr/vs
//	weightDecayScaleFactor1 = (1-dm)*wd*vs
//	dampeningScaleFactor1   = (1-dm)*vs*rf/ls
//	momentum1               = mm
func SGD1CompoundScalars(o OptimizerSpec) SGD1Compound {
	lr, dm, wd, vs, rf, ls, mm := o.LearningRate.Value, o.Dampening.Value, o.WeightDecay.Value,
		o.VelocityScaling.Value, o.ReplicationFactor.Value, o.LossScaling.Value, o.Momentum.Value
	return SGD1Compound{
		ScaledLearningRate1:     lr / vs,
		WeightDecayScaleFactor1: (1 - dm) * wd * vs,
		DampeningScaleFactor1:   (1 - dm) * vs * rf / ls,
		Momentum1:               mm,
	}
}

// AnchorKind is the closed set of host-return cadences a data-flow policy can assign to
// an anchor tensor (§6).
type AnchorKind int

const (
	AnchorAll AnchorKind = iota
	AnchorFinal
	AnchorEveryN
	AnchorSum
)

func (k AnchorKind) String() string {
	switch k {
	case AnchorAll:
		return "All"
	case AnchorFinal:
		return "Final"
	case AnchorEveryN:
		return "EveryN"
	case AnchorSum:
		return "Sum"
	default:
		return fmt.Sprintf("AnchorKind(%d)", int(k))
	}
}

// AnchorSpec is one entry of the data-flow policy's anchor map: how often the named
// tensor is copied back to host. N is only meaningful for AnchorEveryN.
type AnchorSpec struct {
	Kind AnchorKind
	N    int
}

// DataFlowPolicy is §6's "batches-per-step integer and a map from tensor-id to
// anchor-return-type".
type DataFlowPolicy struct {
	BatchesPerStep int
	Anchors        map[TensorId]AnchorSpec
}

// AnchorIds returns the anchored tensor ids in a deterministic (sorted) order, used by
// the pruning transform (§4.F.2) to seed its required-set walk reproducibly.
func (p DataFlowPolicy) AnchorIds() []TensorId {
	ids := make([]TensorId, 0, len(p.Anchors))
	for id := range p.Anchors {
		ids = append(ids, id)
	}
	// Simple insertion sort: anchor maps are small (tens of entries at most) and this
	// keeps the package free of a sort-package dependency for a one-line concern.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// MergeVarUpdateMode is the §4.F.4 merge-var-updates transform's closed mode set.
type MergeVarUpdateMode int

const (
	MergeVarUpdateNone MergeVarUpdateMode = iota
	MergeVarUpdateAll
	MergeVarUpdateAutoTight
)

// RecomputeMode is the §4.F.3 recomputation-tagging transform's closed mode set.
type RecomputeMode int

const (
	RecomputeOff RecomputeMode = iota
	RecomputeStandard
	RecomputeNormOnly
)

// SessionOptions are the compile-time knobs the transform pipeline consults (§3, §4.F):
// pipelining, virtual-graph auto-assignment, merge-var-update mode, recomputation mode
// and the batch-serialization factor.
type SessionOptions struct {
	EnablePipelining        bool
	AutoVirtualGraph        bool
	MergeVarUpdate          MergeVarUpdateMode
	MergeVarUpdateThreshold int64
	Recompute               RecomputeMode
	BatchSerializationFactor int
}

// WeightsIO is the persisted-state boundary (§6 "Persisted state"): a host-provided
// source of initial/checkpointed Variable and optimizer-state buffers. The core consumes
// it read-only at compile time; writing updated weights back out is a runtime concern
// left to the collaborator that owns host-device streaming (out of scope here, §1).
type WeightsIO interface {
	// Contains reports whether the store holds a buffer for tensor id.
	Contains(id TensorId) bool
	// Weight returns the byte buffer and shape metadata backing tensor id. ok is false
	// if Contains(id) would have been false.
	Weight(id TensorId) (buf []byte, shape ShapeInfo, ok bool)
}

// ShapeInfo is the minimal shape description WeightsIO exchanges, kept independent of
// dtype.Shape so the interface has no import-time dependency on the shape package's
// internals beyond what a weight file format would naturally carry.
type ShapeInfo struct {
	DTypeName string
	Dimensions []int
}

// IR is the top-level container §3 describes: the root graph, the data-flow policy, the
// loss declarations, the optimizer specification, session options, and (via the root
// graph's own counter) the monotonic op-id counter.
type IR struct {
	Root      *Graph
	DataFlow  DataFlowPolicy
	Losses    []LossSpec
	Optimizer OptimizerSpec
	Options   SessionOptions
}

// NewIR creates an IR container with a fresh root graph named name.
func NewIR(name string) *IR {
	return &IR{
		Root:     NewRootGraph(name),
		DataFlow: DataFlowPolicy{BatchesPerStep: 1, Anchors: make(map[TensorId]AnchorSpec)},
	}
}
