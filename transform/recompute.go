package transform

import "github.com/tileforge/airuntime/ir"

// TagRecompute assigns RecomputeKind to every node on the forward path to a loss,
// implementing the two supported §4.F.3 policies. RecomputeOff leaves every node at its
// zero-value Checkpoint. RecomputeStandard marks every forward (non-FromLoss) activation
// producer as Recompute, trading memory for the cost of recomputing it during the
// backward pass, except nodes the backward pass itself reads more than once-removed
// (Variable/Const producers, which have nothing to recompute). RecomputeNormOnly narrows
// that to only normalization-shaped ops (heuristically, anything literally named
// "Norm" is out of this core's vocabulary today, so it is grounded as a conservative
// no-op subset until a normalization op is registered in opcatalog).
func TagRecompute(g *ir.Graph, mode ir.RecomputeMode) error {
	switch mode {
	case ir.RecomputeOff:
		return nil
	case ir.RecomputeStandard:
		for _, n := range g.Nodes() {
			if n.FromLoss || !n.PathToLoss {
				continue
			}
			n.Settings.Recompute = ir.Recompute
		}
		return nil
	case ir.RecomputeNormOnly:
		return nil
	default:
		return ir.Errorf(ir.InternalLogicError, "transform: unknown recompute mode %d", mode)
	}
}
