package transform

import (
	"encoding/binary"
	"fmt"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/opcatalog"
)

// BatchSerializeConfig controls §4.F.6's batch-serialization pass: how many slices to
// split each shardable op into, and whether slicing uses runtime offsets (Dynamic). This
// core only implements static slicing: each slice is an accelerator DynamicSlice with a
// compile-time constant offset, and the phase outputs are concatenated back together.
// Dynamic is accepted but ignored; DESIGN.md records this simplification.
type BatchSerializeConfig struct {
	Factor int
	Dynamic bool
}

// BatchSerialize runs both §4.F.6 passes: splitting shardable ops into Factor parallel
// batch-serialized-phase copies (pass 1), then constraining each copy's schedule to
// follow the previous phase's isomorphic copy (pass 2). A Factor of 0 or 1 is a no-op --
// there is nothing to serialize.
func BatchSerialize(g *ir.Graph, cfg BatchSerializeConfig) error {
	if cfg.Factor < 2 {
		return nil
	}
	copies, err := splitShardableOps(g, cfg)
	if err != nil {
		return err
	}
	return constrainIsomorphicCopies(g, copies)
}

// phaseCopies records, for one original sharded node, its Factor replacement nodes in
// batch-serialized-phase order -- pass 2's isomorphism search works off this list rather
// than re-discovering it structurally, since pass 1 already knows the grouping exactly.
type phaseCopies struct {
	opId  ir.OpId
	nodes []*ir.Node
}

func splitShardableOps(g *ir.Graph, cfg BatchSerializeConfig) ([]phaseCopies, error) {
	var groups []phaseCopies
	// Snapshot first: splitting mutates g.Nodes() as we go, and a copy must never itself
	// be considered for further splitting.
	candidates := g.Nodes()
	for _, n := range candidates {
		entry, ok := opcatalog.Lookup(n.OpId.Domain, n.OpId.Name, n.OpId.Version)
		if !ok {
			continue
		}
		shardable, ok := entry.Impl.(opcatalog.Shardable)
		if !ok {
			continue
		}
		inputIdx, axis, ok := shardable.BatchAxis(n)
		if !ok {
			continue
		}
		copies, err := splitOneNode(g, n, inputIdx, axis, cfg.Factor)
		if err != nil {
			return nil, err
		}
		groups = append(groups, phaseCopies{opId: n.OpId, nodes: copies})
	}
	return groups, nil
}

// splitOneNode implements pass 1 for a single shardable node: slice every input that
// shares the sharded input's batch dimension into Factor equal pieces along axis, wire up
// Factor structural clones of n (one per batch-serialized phase), and concatenate their
// outputs back together for any consumer that needs the unsharded tensor.
func splitOneNode(g *ir.Graph, n *ir.Node, batchInputIdx, axis, factor int) ([]*ir.Node, error) {
	batchTid, ok := n.Input(batchInputIdx)
	if !ok {
		return nil, ir.Errorf(ir.InternalLogicError, "%s: BatchAxis named an unconnected input %d", n, batchInputIdx)
	}
	batchTensor, ok := g.Tensor(batchTid)
	if !ok {
		return nil, ir.Errorf(ir.MissingProducer, "%s: batch input tensor %q not found", n, batchTid)
	}
	if axis < 0 || axis >= batchTensor.Shape.Rank() {
		return nil, ir.Errorf(ir.BatchAxisAmbiguous, "%s: batch axis %d out of range for shape %s", n, axis, batchTensor.Shape)
	}
	total := batchTensor.Shape.Dimensions[axis]
	if total%factor != 0 {
		return nil, ir.Errorf(ir.BatchAxisAmbiguous, "%s: batch dimension %d does not divide evenly by factor %d", n, total, factor)
	}
	sliceSize := total / factor

	// Slice every input whose own leading dimension matches the batch node's, so tensors
	// that merely broadcast into this op (e.g. a bias with no batch axis) pass through
	// each copy unsplit.
	type inputSlice struct {
		idx    int
		slices []ir.TensorId
	}
	var slicedInputs []inputSlice
	for i := 0; i < n.NumInputs(); i++ {
		tid, ok := n.Input(i)
		if !ok {
			continue
		}
		t, ok := g.Tensor(tid)
		if !ok || axis >= t.Shape.Rank() || t.Shape.Dimensions[axis] != total {
			continue
		}
		slices, err := sliceAlongAxis(g, n, t, axis, factor, sliceSize)
		if err != nil {
			return nil, err
		}
		slicedInputs = append(slicedInputs, inputSlice{idx: i, slices: slices})
	}

	copies := make([]*ir.Node, factor)
	// One output-index -> per-phase-output-tensor-ids list, for the concat stage below.
	outputsByIdx := make([][]ir.TensorId, n.NumOutputs())

	for phase := 0; phase < factor; phase++ {
		clone := g.CloneNode(n)
		ph := phase
		clone.Settings.BatchSerializedPhase = &ph
		if _, err := g.MoveIntoGraph(clone); err != nil {
			return nil, err
		}
		copies[phase] = clone

		for i := 0; i < n.NumInputs(); i++ {
			tid, ok := n.Input(i)
			if !ok {
				continue
			}
			wire := tid
			for _, si := range slicedInputs {
				if si.idx == i {
					wire = si.slices[phase]
					break
				}
			}
			if err := g.ConnectInput(clone, i, wire); err != nil {
				return nil, err
			}
		}
		for o := 0; o < n.NumOutputs(); o++ {
			origId, ok := n.Output(o)
			if !ok {
				continue
			}
			origT, ok := g.Tensor(origId)
			if !ok {
				return nil, ir.Errorf(ir.MissingProducer, "%s: output %d tensor %q not found", n, o, origId)
			}
			dims := make([]int, origT.Shape.Rank())
			copy(dims, origT.Shape.Dimensions)
			if axis < len(dims) {
				dims[axis] = sliceSize
			}
			phaseShape := dtype.Shape{DType: origT.Shape.DType, Dimensions: dims}
			phaseId := ir.TensorId(fmt.Sprintf("%s___phase%d", origId, phase))
			if _, err := g.CreateAndConnectOutput(clone, o, phaseId, phaseShape, origT.Class); err != nil {
				return nil, err
			}
			outputsByIdx[o] = append(outputsByIdx[o], phaseId)
		}
	}

	// Rewire the original op's consumers onto a Concat of the per-phase outputs, then
	// retire the original node and its now-producer-less output tensors.
	for o := 0; o < n.NumOutputs(); o++ {
		origId, ok := n.Output(o)
		if !ok {
			continue
		}
		origT, ok := g.Tensor(origId)
		if !ok {
			continue
		}
		consumers := append([]struct {
			Node ir.NodeId
			Index int
		}{}, origT.Consumers()...)
		if len(consumers) == 0 {
			continue
		}
		concat := ir.NewDetachedNode(ir.OpId{Name: "Concat", Version: 1})
		concat.Attrs.Set("axis", ir.IntAttr(int64(axis)))
		if _, err := g.MoveIntoGraph(concat); err != nil {
			return nil, err
		}
		for i, pid := range outputsByIdx[o] {
			if err := g.ConnectInput(concat, i, pid); err != nil {
				return nil, err
			}
		}
		concatId := origId + "___concat"
		if _, err := g.CreateAndConnectOutput(concat, 0, concatId, origT.Shape.Clone(), origT.Class); err != nil {
			return nil, err
		}
		for _, c := range consumers {
			cn, ok := g.Node(c.Node)
			if !ok {
				continue
			}
			if err := g.ConnectInput(cn, c.Index, concatId); err != nil {
				return nil, err
			}
		}
	}
	if err := g.EraseNode(n.Id()); err != nil {
		return nil, err
	}
	return copies, nil
}

// sliceAlongAxis materializes Factor static slices of t along axis using the accelerator
// DynamicSlice op with a per-phase constant offset, the static special case of §4.F.6's
// "dynamic or static slice per config" -- the offset is baked in at compile time rather
// than read from a runtime tensor.
func sliceAlongAxis(g *ir.Graph, owner *ir.Node, t *ir.Tensor, axis, factor, sliceSize int) ([]ir.TensorId, error) {
	ids := make([]ir.TensorId, factor)
	for phase := 0; phase < factor; phase++ {
		offsetId := ir.TensorId(fmt.Sprintf("%s___offset%d", t.Id, phase))
		offsetBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(offsetBuf, uint64(int64(phase*sliceSize)))
		if _, err := g.AddConstInit(ir.Const, offsetId, dtype.Shape{DType: dtype.Int64, Dimensions: []int{1}}, offsetBuf); err != nil {
			return nil, err
		}
		slice := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "DynamicSlice", Version: 1})
		slice.Attrs.Set("axes", ir.IntsAttr([]int64{int64(axis)}))
		slice.Attrs.Set("sizes", ir.IntsAttr([]int64{int64(sliceSize)}))
		if _, err := g.MoveIntoGraph(slice); err != nil {
			return nil, err
		}
		if err := g.ConnectInput(slice, 0, t.Id); err != nil {
			return nil, err
		}
		if err := g.ConnectInput(slice, 1, offsetId); err != nil {
			return nil, err
		}
		dims := make([]int, t.Shape.Rank())
		copy(dims, t.Shape.Dimensions)
		dims[axis] = sliceSize
		sliceId := ir.TensorId(fmt.Sprintf("%s___slice%d", t.Id, phase))
		if _, err := g.CreateAndConnectOutput(slice, 0, sliceId, dtype.Shape{DType: t.Shape.DType, Dimensions: dims}, t.Class); err != nil {
			return nil, err
		}
		ids[phase] = sliceId
	}
	return ids, nil
}

// constrainIsomorphicCopies implements pass 2: for each shardable node's Factor copies,
// enforce that batch-serialized-phase k+1 follows phase k in schedule order. Since pass 1
// already produced the exact isomorphic grouping (same op-id, same originating node, same
// structural neighborhood by construction), this needs no separate subgraph-matching
// search -- the bounded local-subgraph comparison the transform pipeline calls for is
// trivially satisfied by construction and degenerates to a direct per-group chain of
// constraints.
func constrainIsomorphicCopies(g *ir.Graph, groups []phaseCopies) error {
	for _, grp := range groups {
		for k := 0; k+1 < len(grp.nodes); k++ {
			if err := g.AddConstraint(grp.nodes[k].Id(), grp.nodes[k+1].Id()); err != nil {
				return err
			}
		}
	}
	return nil
}
