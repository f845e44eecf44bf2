package rewrite

import (
	"github.com/tileforge/airuntime/ir"
	"github.com/tileforge/airuntime/opcatalog"
)

func init() {
	Register(AliasInplace, inplaceSelection{})
}

// inplaceSelection is the generic Alias/Inplace-tier pattern (§4.E): any node whose
// catalog entry implements opcatalog.Inplaceable offers one or more named in-place
// variants; this pattern splices in the highest-priority one, preserving every input and
// output tensor id exactly (the in-place variant is purely an op-id substitution at the
// IR level -- actual buffer aliasing is a hardware-codegen concern per §1's out-of-scope
// collaborator boundary; Modifies/Aliases exist so that collaborator has the information
// it needs, not so this pass simulates storage reuse itself).
type inplaceSelection struct{}

func (inplaceSelection) Name() string      { return "InplaceSelection" }
func (inplaceSelection) Priority() float64 { return 1 }

func (inplaceSelection) lookup(n *ir.Node) (opcatalog.Inplaceable, bool) {
	entry, ok := opcatalog.Lookup(n.OpId.Domain, n.OpId.Name, n.OpId.Version)
	if !ok {
		return nil, false
	}
	impl, ok := entry.Impl.(opcatalog.Inplaceable)
	return impl, ok
}

func (pat inplaceSelection) Matches(g *ir.Graph, n *ir.Node) bool {
	impl, ok := pat.lookup(n)
	return ok && len(impl.InplacePriorityDefault(n)) > 0
}

func (pat inplaceSelection) Touches(g *ir.Graph, n *ir.Node) []ir.NodeId {
	var ids []ir.NodeId
	for i := 0; i < n.NumOutputs(); i++ {
		outId, ok := n.Output(i)
		if !ok {
			continue
		}
		t, ok := g.Tensor(outId)
		if !ok {
			continue
		}
		for _, c := range t.Consumers() {
			ids = append(ids, c.Node)
		}
	}
	return ids
}

func (pat inplaceSelection) Apply(g *ir.Graph, n *ir.Node) (bool, error) {
	impl, ok := pat.lookup(n)
	if !ok {
		return false, ir.Errorf(ir.InternalLogicError, "%s: lost its Inplaceable capability between Matches and Apply", n)
	}
	candidates := impl.InplacePriorityDefault(n)
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
		}
	}
	variant, err := impl.GetInplaceVariant(n, best.Id)
	if err != nil {
		return false, err
	}

	type edge struct {
		idx int
		tid ir.TensorId
	}
	var inputs, outputs []edge
	for i := 0; i < n.NumInputs(); i++ {
		if tid, ok := n.Input(i); ok {
			inputs = append(inputs, edge{i, tid})
		}
	}
	for i := 0; i < n.NumOutputs(); i++ {
		if tid, ok := n.Output(i); ok {
			outputs = append(outputs, edge{i, tid})
		}
	}

	if _, err := g.MoveIntoGraph(variant); err != nil {
		return false, err
	}
	if err := g.EraseNode(n.Id()); err != nil {
		return false, err
	}
	for _, e := range inputs {
		if err := g.ConnectInput(variant, e.idx, e.tid); err != nil {
			return false, err
		}
	}
	for _, e := range outputs {
		if err := g.ConnectOutput(variant, e.idx, e.tid); err != nil {
			return false, err
		}
	}
	return true, nil
}
