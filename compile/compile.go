// Package compile wires the core's stages together in §2's fixed dataflow order:
// catalog lookups feed node construction (opcatalog, ir), autodiff differentiates
// (autodiff), the transform pipeline and pattern rewriter simplify and lower the graph
// (transform, which itself calls rewrite between passes), and the scheduler produces the
// final deterministic op order (schedule). Hardware codegen consuming Result is out of
// scope (§1).
package compile

import (
	"context"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/exceptions"

	"github.com/tileforge/airuntime/autodiff"
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/schedule"
	"github.com/tileforge/airuntime/transform"
)

// Options bundles every compile-time knob the core exposes above what ir.IR already
// carries as part of the model itself.
type Options struct {
	Transform transform.Options
}

// Result is what a completed compilation hands to the (out-of-scope) hardware emitter:
// the final transformed IR plus its deterministic schedule and liveness map.
type Result struct {
	IR       *ir.IR
	Order    []ir.NodeId
	LiveSets []map[ir.TensorId]struct{}
}

// Compile runs autodiff, the transform pipeline and the scheduler over a single IR,
// mutating model.Root in place and returning the resulting schedule (§2's full pipeline
// for one graph). If model.Losses is empty, autodiff.Build is skipped: an inference-only
// IR goes straight to the transform pipeline and the scheduler.
func Compile(model *ir.IR, opts Options) (res Result, err error) {
	defer func() {
		// ir's own Kind-tagged errors are the expected failure mode; anything else
		// escaping as a bare panic (a nil-map write, an out-of-range index the schema
		// checks upstream should have caught) is an invariant violation, not a
		// compile-time diagnostic, so it's promoted into gomlx/exceptions' panic
		// convention instead of being silently turned into a generic error value.
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				if _, isIR := ir.AsError(e); isIR {
					err = e
					return
				}
			}
			exceptions.Panicf("compile: invariant violation: %v", r)
		}
	}()

	if len(model.Losses) > 0 {
		if err := autodiff.Build(model); err != nil {
			return Result{}, err
		}
	}

	if err := transform.Run(model, opts.Transform); err != nil {
		return Result{}, err
	}

	order, err := schedule.Schedule(model.Root)
	if err != nil {
		return Result{}, err
	}
	live, err := schedule.LiveSets(model.Root, order)
	if err != nil {
		return Result{}, err
	}

	// §3: "After the schedule is produced, no further mutations are permitted" -- freeze
	// the root (and every sub-graph beneath it) so a caller mutating Result.IR.Root after
	// this point hits InternalLogicError instead of silently invalidating order/live.
	model.Root.Freeze()

	klog.V(1).InfoS("compile: finished", "graph", model.Root.Name(), "nodes", len(order))
	return Result{IR: model, Order: order, LiveSets: live}, nil
}

// CompileMany compiles independent IRs concurrently (§5: "the driver may run independent
// sub-graph compilations in parallel threads, but each thread owns its own IR and there
// is no shared mutable state across threads"). Each model.Root must not be reachable from
// any other model in the slice -- CompileMany does not itself check this, since ir.Graph
// offers no cheap way to test two graphs for shared ancestry; callers that build sibling
// IRs via the same ir.Graph.NewSubGraph parent must compile those serially instead.
// Once every compilation has finished, the first error is returned; Compile takes no
// context, so an error does not cancel the compilations still running.
func CompileMany(ctx context.Context, models []*ir.IR, opts Options) ([]Result, error) {
	results := make([]Result, len(models))
	g, _ := errgroup.WithContext(ctx)
	for i, model := range models {
		i, model := i, model
		g.Go(func() error {
			res, err := Compile(model, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
