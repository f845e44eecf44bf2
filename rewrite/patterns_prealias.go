package rewrite

import "github.com/tileforge/airuntime/ir"

// accelDomainName restates opcatalog's unexported accelDomain literal locally: this
// package never imports opcatalog's internals, only ir and its own pattern contract, so
// the two packages share the domain string by convention rather than by importing a
// constant across a would-be cycle (opcatalog doesn't depend on rewrite, but rewrite
// deliberately doesn't reach back into opcatalog beyond the Inplaceable/Shardable
// capability lookups the generic patterns already need).
const accelDomainName = "tileforge.accel"

func init() {
	Register(PreAlias, identityElimination{})
	Register(PreAlias, doubleNegElimination{})
	Register(PreAlias, softmaxGradDirect{})
}

// identityElimination removes a plain "Identity" node by rewiring every consumer of its
// output directly onto its input, grounded on willow/src/patterns/preunirepl.cpp's
// "replace a unary identity-like op with its input" rewrite.
type identityElimination struct{}

func (identityElimination) Name() string     { return "IdentityElimination" }
func (identityElimination) Priority() float64 { return 10 }

func (identityElimination) Matches(g *ir.Graph, n *ir.Node) bool {
	return n.OpId.Domain == "" && n.OpId.Name == "Identity" && n.NumInputs() == 1 && n.NumOutputs() == 1
}

func (identityElimination) Touches(g *ir.Graph, n *ir.Node) []ir.NodeId {
	outId, ok := n.Output(0)
	if !ok {
		return nil
	}
	outT, ok := g.Tensor(outId)
	if !ok {
		return nil
	}
	var ids []ir.NodeId
	for _, c := range outT.Consumers() {
		ids = append(ids, c.Node)
	}
	return ids
}

func (identityElimination) Apply(g *ir.Graph, n *ir.Node) (bool, error) {
	inId, _ := n.Input(0)
	outId, _ := n.Output(0)
	outT, ok := g.Tensor(outId)
	if !ok {
		return false, ir.Errorf(ir.InternalLogicError, "%s: output tensor missing", n)
	}
	for _, c := range outT.Consumers() {
		consumer, ok := g.Node(c.Node)
		if !ok {
			continue
		}
		if err := g.ConnectInput(consumer, c.Index, inId); err != nil {
			return false, err
		}
	}
	if err := g.EraseNode(n.Id()); err != nil {
		return false, err
	}
	if err := g.RemoveTensor(outId); err != nil {
		return false, err
	}
	return true, nil
}

// doubleNegElimination folds Neg(Neg(x)) into x, the canonical algebraic-simplification
// pattern willow/src/patterns/patterns.cpp groups under its PreAlias level. It matches
// nodes named Neg; no catalog op or gradient rule produces one (Sub's gradient uses the
// fused ReduceNegSumTo), so it fires only on Neg nodes built directly into a graph.
type doubleNegElimination struct{}

func (doubleNegElimination) Name() string      { return "DoubleNegElimination" }
func (doubleNegElimination) Priority() float64 { return 10 }

func (doubleNegElimination) producerNeg(g *ir.Graph, n *ir.Node) (*ir.Node, bool) {
	if n.OpId.Name != "Neg" || n.NumInputs() != 1 {
		return nil, false
	}
	inId, ok := n.Input(0)
	if !ok {
		return nil, false
	}
	t, ok := g.Tensor(inId)
	if !ok || !t.HasProducer() {
		return nil, false
	}
	if t.ConsumersTotal() != 1 {
		return nil, false // producer's output feeds something else too; folding it away would orphan that edge
	}
	pid, _ := t.Producer()
	p, ok := g.Node(pid)
	if !ok || p.OpId.Name != "Neg" || p.NumInputs() != 1 {
		return nil, false
	}
	return p, true
}

func (pat doubleNegElimination) Matches(g *ir.Graph, n *ir.Node) bool {
	_, ok := pat.producerNeg(g, n)
	return ok
}

func (pat doubleNegElimination) Touches(g *ir.Graph, n *ir.Node) []ir.NodeId {
	outId, ok := n.Output(0)
	if !ok {
		return nil
	}
	outT, ok := g.Tensor(outId)
	if !ok {
		return nil
	}
	var ids []ir.NodeId
	for _, c := range outT.Consumers() {
		ids = append(ids, c.Node)
	}
	return ids
}

func (pat doubleNegElimination) Apply(g *ir.Graph, n *ir.Node) (bool, error) {
	producer, ok := pat.producerNeg(g, n)
	if !ok {
		return false, ir.Errorf(ir.InternalLogicError, "%s: producer is no longer a matching Neg", n)
	}
	grandInId, _ := producer.Input(0)
	outId, _ := n.Output(0)
	outT, ok := g.Tensor(outId)
	if !ok {
		return false, ir.Errorf(ir.InternalLogicError, "%s: output tensor missing", n)
	}
	for _, c := range outT.Consumers() {
		consumer, ok := g.Node(c.Node)
		if !ok {
			continue
		}
		if err := g.ConnectInput(consumer, c.Index, grandInId); err != nil {
			return false, err
		}
	}
	producerOutId, _ := producer.Output(0)
	if err := g.EraseNode(n.Id()); err != nil {
		return false, err
	}
	if err := g.RemoveTensor(outId); err != nil {
		return false, err
	}
	if err := g.EraseNode(producer.Id()); err != nil {
		return false, err
	}
	if err := g.RemoveTensor(producerOutId); err != nil {
		return false, err
	}
	return true, nil
}

// softmaxGradDirect fuses a SoftmaxGrad node fed by an NLLGrad node's output, when both
// consume the same forward probs tensor, into one SoftmaxNLLGradDirect node -- grounded
// on willow/src/patterns/softmaxgraddirect.cpp, which recognizes exactly this shape (a
// softmax whose output feeds an NLL loss) and replaces the two-op backward chain with a
// single direct kernel rather than materializing the full softmax Jacobian-vector
// product. Autodiff always synthesizes the unfused pair first (§4.D processes each
// forward node independently); this pattern only ever has a chance to fire once both
// grad nodes exist, i.e. in the PreAlias sweep that runs after autodiff.
type softmaxGradDirect struct{}

func (softmaxGradDirect) Name() string      { return "SoftmaxGradDirect" }
func (softmaxGradDirect) Priority() float64 { return 20 }

func (softmaxGradDirect) nllGradFeeding(g *ir.Graph, n *ir.Node) (*ir.Node, bool) {
	if n.OpId.Domain != accelDomainName || n.OpId.Name != "SoftmaxGrad" {
		return nil, false
	}
	probsId, ok := n.Input(0)
	if !ok {
		return nil, false
	}
	gradOutId, ok := n.Input(1)
	if !ok {
		return nil, false
	}
	t, ok := g.Tensor(gradOutId)
	if !ok || !t.HasProducer() || t.ConsumersTotal() != 1 {
		return nil, false
	}
	pid, _ := t.Producer()
	nllGrad, ok := g.Node(pid)
	if !ok || nllGrad.OpId.Domain != accelDomainName || nllGrad.OpId.Name != "NLLGrad" {
		return nil, false
	}
	nllProbsId, ok := nllGrad.Input(1)
	if !ok || nllProbsId != probsId {
		return nil, false
	}
	return nllGrad, true
}

func (pat softmaxGradDirect) Matches(g *ir.Graph, n *ir.Node) bool {
	_, ok := pat.nllGradFeeding(g, n)
	return ok
}

func (pat softmaxGradDirect) Touches(g *ir.Graph, n *ir.Node) []ir.NodeId {
	outId, ok := n.Output(0)
	if !ok {
		return nil
	}
	outT, ok := g.Tensor(outId)
	if !ok {
		return nil
	}
	var ids []ir.NodeId
	for _, c := range outT.Consumers() {
		ids = append(ids, c.Node)
	}
	return ids
}

func (pat softmaxGradDirect) Apply(g *ir.Graph, n *ir.Node) (bool, error) {
	nllGrad, ok := pat.nllGradFeeding(g, n)
	if !ok {
		return false, ir.Errorf(ir.InternalLogicError, "%s: feeding NLLGrad is no longer present", n)
	}
	probsId, _ := n.Input(0)
	labelId, _ := nllGrad.Input(2)
	lossGradId, _ := nllGrad.Input(0)
	outId, _ := n.Output(0)
	nllOutId, _ := nllGrad.Output(0)

	if err := g.EraseNode(n.Id()); err != nil {
		return false, err
	}
	if err := g.EraseNode(nllGrad.Id()); err != nil {
		return false, err
	}
	if err := g.RemoveTensor(nllOutId); err != nil {
		return false, err
	}

	fused := ir.NewDetachedNode(ir.OpId{Domain: accelDomainName, Name: "SoftmaxNLLGradDirect", Version: 1})
	if _, err := g.MoveIntoGraph(fused); err != nil {
		return false, err
	}
	if err := g.ConnectInput(fused, 0, probsId); err != nil {
		return false, err
	}
	if err := g.ConnectInput(fused, 1, labelId); err != nil {
		return false, err
	}
	if err := g.ConnectInput(fused, 2, lossGradId); err != nil {
		return false, err
	}
	if err := g.ConnectOutput(fused, 0, outId); err != nil {
		return false, err
	}
	return true, nil
}
