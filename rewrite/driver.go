package rewrite

import (
	"k8s.io/klog/v2"

	"github.com/tileforge/airuntime/ir"
)

// Run drives tier's registered patterns to quiescence (§4.E "iterate over a queue of
// candidate nodes until no pattern matches"): every node starts in the work-list; each
// round picks the node at the front, finds the highest-priority pattern that matches it
// (among patterns of equal priority, the one registered first wins), applies it,
// and re-queues only the nodes Touches names. The pass ends once the queue drains.
func Run(g *ir.Graph, tier Tier) error {
	patterns := PatternsFor(tier)
	if len(patterns) == 0 {
		return nil
	}

	queue := make([]ir.NodeId, 0, len(g.Nodes()))
	queued := make(map[ir.NodeId]bool)
	for _, n := range g.Nodes() {
		queue = append(queue, n.Id())
		queued[n.Id()] = true
	}

	rounds := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		queued[id] = false

		n, ok := g.Node(id)
		if !ok {
			continue
		}

		var best Pattern
		for _, p := range patterns {
			if !p.Matches(g, n) {
				continue
			}
			if best == nil || p.Priority() > best.Priority() {
				best = p
			}
		}
		if best == nil {
			continue
		}

		touched := best.Touches(g, n)
		ok2, err := best.Apply(g, n)
		if err != nil {
			return err
		}
		if !ok2 {
			return ir.Errorf(ir.InternalLogicError, "pattern %q aborted the rewrite pass on %s", best.Name(), n)
		}
		rounds++
		klog.V(2).InfoS("rewrite: applied pattern", "pattern", best.Name(), "node", n.String())

		for _, tid := range touched {
			if _, stillExists := g.Node(tid); !stillExists {
				continue
			}
			if !queued[tid] {
				queue = append(queue, tid)
				queued[tid] = true
			}
		}
	}
	klog.V(3).InfoS("rewrite: tier quiescent", "tier", tier, "appliedCount", rounds)
	return nil
}

// RunToFixpoint runs both tiers in the §4.E precedence order (PreAlias before
// Alias/Inplace), matching spec.md's "E and F may run multiple times in a fixed order"
// note for the single rewrite stage itself.
func RunToFixpoint(g *ir.Graph) error {
	if err := Run(g, PreAlias); err != nil {
		return err
	}
	return Run(g, AliasInplace)
}
