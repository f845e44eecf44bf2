package transform

import (
	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// AssignPipelineStages fills in every node's Settings.PipelineStage from its
// VirtualGraphId when AutoVirtualGraph is set and a stage is still unset (§4.F.5
// "auto-assigned from virtual-graph id if missing"). A node with neither an explicit
// stage nor a virtual-graph id keeps a nil stage, which InsertPipelineStashes rejects.
func AssignPipelineStages(g *ir.Graph, opt ir.SessionOptions) error {
	if !opt.AutoVirtualGraph {
		return nil
	}
	for _, n := range g.Nodes() {
		if n.Settings.PipelineStage != nil {
			continue
		}
		if n.Settings.VirtualGraphId == nil {
			continue
		}
		stage := *n.Settings.VirtualGraphId
		n.Settings.PipelineStage = &stage
	}
	return nil
}

// InsertPipelineStashes implements §4.F.5's pipelining pass: every node must carry a
// pipeline-stage annotation; for each tensor whose producer's stage differs from a
// consumer's stage, a Stash node is spliced in at the producer's stage and a matching
// Restore at the consumer's stage, so the activation survives across the pipeline's
// in-flight micro-batches rather than needing to be held live for the whole step.
func InsertPipelineStashes(g *ir.Graph, model *ir.IR) error {
	opt := model.Options
	if !opt.EnablePipelining {
		return nil
	}
	maxStage := 0
	for _, n := range g.Nodes() {
		if n.Settings.PipelineStage == nil {
			return ir.Errorf(ir.InsufficientPipelineDepth, "%s has no pipeline-stage annotation", n)
		}
		if *n.Settings.PipelineStage > maxStage {
			maxStage = *n.Settings.PipelineStage
		}
	}
	// §4.F.5's depth check, with accumulationFactor fixed at 1 since this core doesn't
	// model gradient-accumulation microbatching separately from replication.
	replicationFactor := model.Optimizer.ReplicationFactor.Value
	if replicationFactor == 0 {
		replicationFactor = 1
	}
	depth := float64(model.DataFlow.BatchesPerStep) * replicationFactor
	minDepth := 2*float64(maxStage) + 1
	if len(model.Losses) == 0 {
		minDepth = float64(maxStage) + 1
	}
	if depth < minDepth {
		return ir.Errorf(ir.InsufficientPipelineDepth, "pipeline depth %.0f is below the minimum %.0f required for %d stage(s)", depth, minDepth, maxStage+1)
	}

	// Group consumers of each tensor by the pipeline stage they run in, since multiple
	// consumers at the same far stage should share one Restore of one Stash.
	type stashKey struct {
		tensor ir.TensorId
		stage  int
	}
	restored := make(map[stashKey]ir.TensorId)

	for _, t := range g.Tensors() {
		if !t.HasProducer() {
			continue
		}
		pid, _ := t.Producer()
		producerNode, ok := g.Node(pid)
		if !ok || producerNode.Settings.PipelineStage == nil {
			continue
		}
		producerStage := *producerNode.Settings.PipelineStage

		for _, c := range t.Consumers() {
			consumerNode, ok := g.Node(c.Node)
			if !ok || consumerNode.Settings.PipelineStage == nil {
				continue
			}
			consumerStage := *consumerNode.Settings.PipelineStage
			if consumerStage == producerStage {
				continue
			}
			key := stashKey{tensor: t.Id, stage: consumerStage}
			restoredId, ok := restored[key]
			if !ok {
				var err error
				restoredId, err = spliceStashRestore(g, t, producerStage, consumerStage)
				if err != nil {
					return err
				}
				restored[key] = restoredId
			}
			if err := g.ConnectInput(consumerNode, c.Index, restoredId); err != nil {
				return err
			}
		}
	}
	return nil
}

func spliceStashRestore(g *ir.Graph, t *ir.Tensor, producerStage, consumerStage int) (ir.TensorId, error) {
	stash := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "Stash", Version: 1})
	stage := producerStage
	stash.Settings.PipelineStage = &stage
	// Stash size = 2*(R-S)+1 (§4.F.5), enough ring-buffer depth to hold one in-flight
	// micro-batch's worth of activation per stage the value must survive across.
	stashSize := 2*(consumerStage-producerStage) + 1
	stash.Attrs.Set("stashSize", ir.IntAttr(int64(stashSize)))
	if _, err := g.MoveIntoGraph(stash); err != nil {
		return "", err
	}
	if err := g.ConnectInput(stash, 0, t.Id); err != nil {
		return "", err
	}
	stashed := t.Id + "___stashed"
	stashedDims := append([]int{stashSize}, t.Shape.Dimensions...)
	stashedShape := dtype.Shape{DType: t.Shape.DType, Dimensions: stashedDims}
	if _, err := g.CreateAndConnectOutput(stash, 0, stashed, stashedShape, ir.ActGrad); err != nil {
		return "", err
	}

	restore := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "Restore", Version: 1})
	cs := consumerStage
	restore.Settings.PipelineStage = &cs
	if _, err := g.MoveIntoGraph(restore); err != nil {
		return "", err
	}
	if err := g.ConnectInput(restore, 0, stashed); err != nil {
		return "", err
	}
	restoredId := t.Id + "___restored"
	if _, err := g.CreateAndConnectOutput(restore, 0, restoredId, t.Shape.Clone(), ir.ActGrad); err != nil {
		return "", err
	}
	return restoredId, nil
}
