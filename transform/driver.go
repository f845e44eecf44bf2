package transform

import (
	"k8s.io/klog/v2"

	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/rewrite"
)

// Options bundles the knobs the driver needs beyond what ir.IR.Options already carries --
// currently just the batch-serialization factor, since ir.SessionOptions only names a
// BatchSerializationFactor at the session level while the per-run driver also needs to
// decide whether dynamic or static slicing applies (§4.F.6's "per config").
type Options struct {
	BatchSerialize BatchSerializeConfig
}

// Run sequences every whole-graph pass in spec.md's fixed order (§4.F), re-running the
// Alias/Inplace pattern sweep after the passes that introduce new nodes worth revisiting
// (pipelining, batch-serialization) per the "E and F may run multiple times in a fixed
// order" note, plus once more at the very end as item 7.
func Run(model *ir.IR, opts Options) error {
	g := model.Root

	if err := ConstFold(g); err != nil {
		return err
	}
	if err := Prune(g, model.DataFlow); err != nil {
		return err
	}
	if err := TagRecompute(g, model.Options.Recompute); err != nil {
		return err
	}
	if err := MergeVarUpdates(g, model.Options); err != nil {
		return err
	}

	if err := AssignPipelineStages(g, model.Options); err != nil {
		return err
	}
	if err := InsertPipelineStashes(g, model); err != nil {
		return err
	}
	if model.Options.EnablePipelining {
		klog.V(2).InfoS("transform: rewriting after pipelining")
		if err := rewrite.RunToFixpoint(g); err != nil {
			return err
		}
	}

	if err := BatchSerialize(g, opts.BatchSerialize); err != nil {
		return err
	}
	if opts.BatchSerialize.Factor >= 2 {
		klog.V(2).InfoS("transform: rewriting after batch-serialization")
		if err := rewrite.RunToFixpoint(g); err != nil {
			return err
		}
	}

	// Item 7: the final post-transform Alias/Inplace sweep, unconditionally.
	return rewrite.Run(g, rewrite.AliasInplace)
}
