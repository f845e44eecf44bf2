// Package transform implements the ordered whole-graph passes (§4.F): constant folding,
// pruning, recomputation tagging, merge-var-updates, pipelining and batch-serialization.
// Each pass is a plain function over an *ir.Graph / *ir.IR; Driver sequences them and
// re-runs the pattern rewriter between the passes that need it, per spec.md's "E and F
// may run multiple times in a fixed order" note.
package transform

import (
	"k8s.io/klog/v2"

	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/opcatalog"
)

// ConstFold evaluates every node whose inputs are all Const tensors and whose catalog
// entry implements ConstFoldable, replacing its single output with a Const tensor holding
// the folded bytes and erasing the node (§4.F.1). Nodes excluded from folding (e.g.
// RandomUniform, Gelu) simply don't implement ConstFoldable and are left untouched.
// Runs to a fixpoint since folding one node can make its consumer all-Const in turn.
func ConstFold(g *ir.Graph) error {
	for {
		folded, err := constFoldOnePass(g)
		if err != nil {
			return err
		}
		if folded == 0 {
			return nil
		}
	}
}

func constFoldOnePass(g *ir.Graph) (int, error) {
	folded := 0
	for _, n := range g.Nodes() {
		if n.NumOutputs() != 1 {
			continue
		}
		entry, ok := opcatalog.Lookup(n.OpId.Domain, n.OpId.Name, n.OpId.Version)
		if !ok {
			continue
		}
		foldable, ok := entry.Impl.(opcatalog.ConstFoldable)
		if !ok {
			continue
		}
		inputs := make([][]byte, n.NumInputs())
		allConst := true
		for i := 0; i < n.NumInputs(); i++ {
			tid, ok := n.Input(i)
			if !ok {
				allConst = false
				break
			}
			t, ok := g.Tensor(tid)
			if !ok || t.Class != ir.Const {
				allConst = false
				break
			}
			inputs[i] = t.Buffer
		}
		if !allConst {
			continue
		}
		buf, ok := foldable.ConstFold(n, inputs)
		if !ok {
			continue
		}
		outId, _ := n.Output(0)
		if err := g.ReplaceWithConst(outId, buf); err != nil {
			return folded, err
		}
		if err := g.EraseNode(n.Id()); err != nil {
			return folded, err
		}
		klog.V(3).InfoS("constfold: folded node", "node", n.String())
		folded++
	}
	return folded, nil
}
