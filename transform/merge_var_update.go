package transform

import (
	"fmt"

	"github.com/tileforge/airuntime/dtype"
	"github.com/tileforge/airuntime/ir"
)

// varUpdateOpNames is the closed set of op-ids the merge-var-update transform considers
// (§4.F.4): the three accelerator-domain update kernels autodiff synthesizes.
var varUpdateOpNames = map[string]bool{
	"SGD0VarUpdate":  true,
	"SGD1Accumulate": true,
	"SGD1VarUpdate":  true,
}

// mergeableOpNames is the subset of varUpdateOpNames this pass actually knows how to
// fuse: a two-input (weight-like at 0, gradient-like at 1), single-output,
// output-aliased-onto-input-0 shape -- SGD0VarUpdate's and SGD1Accumulate's shape
// (autodiff/var_updates.go). SGD1VarUpdate's two-input-two-output weight+velocity shape
// is not modeled here; its nodes are grouped for accounting but never physically fused
// (see DESIGN.md).
var mergeableOpNames = map[string]bool{
	"SGD0VarUpdate":  true,
	"SGD1Accumulate": true,
}

// MergeVarUpdates implements §4.F.4: weight-update nodes that share an op-id and an
// identical hyperparameter attribute set are grouped, and every group of two or more is
// physically fused -- every weight tensor and every gradient tensor in the group is
// flattened in place (FlattenInplace), the flattened weights are concatenated in place
// (ConcatInplace) into one buffer, likewise for the flattened gradients, and the
// per-node originals are replaced by a single update node consuming the two concatenated
// buffers. MergeVarUpdateNone leaves every node untouched. MergeVarUpdateAll puts every
// matching node into one group regardless of where in the graph it sits.
// MergeVarUpdateAutoTight instead walks matching nodes in graph order and starts a new
// group every time the running total of weight bytes would exceed
// opts.MergeVarUpdateThreshold. That gives ceil(totalWeightBytes/threshold) groups when
// every weight has the same byte size and the threshold is a multiple of it; otherwise
// the count is whatever the greedy packing yields, and can differ from that ceiling.
func MergeVarUpdates(g *ir.Graph, opts ir.SessionOptions) error {
	if opts.MergeVarUpdate == ir.MergeVarUpdateNone {
		return nil
	}

	byKey := make(map[string][]*ir.Node)
	var order []string
	for _, n := range g.Nodes() {
		if n.OpId.Domain != "tileforge.accel" || !varUpdateOpNames[n.OpId.Name] {
			continue
		}
		key := attrKey(n)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], n)
	}

	for _, key := range order {
		nodes := byKey[key]
		groups := [][]*ir.Node{nodes}
		if opts.MergeVarUpdate == ir.MergeVarUpdateAutoTight {
			var err error
			groups, err = splitByByteThreshold(g, nodes, opts.MergeVarUpdateThreshold)
			if err != nil {
				return err
			}
		}
		for _, group := range groups {
			if len(group) < 2 || !mergeableOpNames[group[0].OpId.Name] {
				continue
			}
			if err := fuseGroup(g, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// attrKey identifies nodes that share an op-id and an identical attribute set --
// §4.F.4's "identical scalar hyperparameters" condition. Values are included, not just
// attribute names: two SGD0VarUpdate nodes with different learning rates must never end
// up in the same fused group, since fusing them would not be bit-identical to running
// them separately.
func attrKey(n *ir.Node) string {
	key := n.OpId.String()
	for pair := n.Attrs.Oldest(); pair != nil; pair = pair.Next() {
		v := pair.Value
		key += fmt.Sprintf(",%s=%d:%g:%v:%v:%q", pair.Key, v.Int, v.Float, v.Ints, v.Floats, v.Str)
	}
	return key
}

// splitByByteThreshold walks nodes (already sharing one hyperparameter key) in graph
// order, accumulating each node's weight-tensor byte size, and starts a new group the
// moment the running total would exceed threshold bytes. A non-positive threshold
// disables splitting, matching MergeVarUpdateAll's single-group behavior.
func splitByByteThreshold(g *ir.Graph, nodes []*ir.Node, threshold int64) ([][]*ir.Node, error) {
	if threshold <= 0 {
		return [][]*ir.Node{nodes}, nil
	}
	var groups [][]*ir.Node
	var current []*ir.Node
	var currentBytes int64
	for _, n := range nodes {
		wBytes, err := weightBytes(g, n)
		if err != nil {
			return nil, err
		}
		if len(current) > 0 && currentBytes+wBytes > threshold {
			groups = append(groups, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, n)
		currentBytes += wBytes
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups, nil
}

func weightBytes(g *ir.Graph, n *ir.Node) (int64, error) {
	wId, ok := n.Input(0)
	if !ok {
		return 0, ir.Errorf(ir.InternalLogicError, "%s: missing weight input", n)
	}
	t, ok := g.Tensor(wId)
	if !ok {
		return 0, ir.Errorf(ir.InternalLogicError, "%s: weight tensor %q not found", n, wId)
	}
	return int64(t.Shape.Size()) * int64(dtype.ElementSize(t.Shape.DType)), nil
}

// fuseGroup replaces group (two or more matching var-update nodes) with one update node
// over concatenated weight/gradient buffers (§4.F.4). Unlike a lone SGD0VarUpdate, whose
// output is its own weight tensor id (autodiff/var_updates.go's synthesizeSGD0), the
// replacement node writes a fresh "<groupTag>___updated" tensor, since the concatenated
// weight tensor is already produced by its ConcatInplace node -- the
// Flatten/Concat steps feeding it are themselves in-place (zero-copy) aliases of the
// original per-weight buffers, so the fused write lands in the same physical storage the
// unmerged updates would have written, without this core needing to re-wire any
// downstream consumer of the original weight tensor ids.
func fuseGroup(g *ir.Graph, group []*ir.Node) error {
	groupTag := fmt.Sprintf("%s_%d", group[0].OpId.Name, group[0].Id())
	attrs := group[0].Attrs
	fromLoss := group[0].FromLoss
	opName, opVersion := group[0].OpId.Name, group[0].OpId.Version

	var weightIds, gradIds []ir.TensorId
	for _, n := range group {
		wId, ok := n.Input(0)
		if !ok {
			return ir.Errorf(ir.InternalLogicError, "%s: missing weight input", n)
		}
		gId, ok := n.Input(1)
		if !ok {
			return ir.Errorf(ir.InternalLogicError, "%s: missing gradient input", n)
		}
		weightIds = append(weightIds, wId)
		gradIds = append(gradIds, gId)
	}

	var flatWeights, flatGrads []ir.TensorId
	for _, wId := range weightIds {
		flatId, err := flattenInplace(g, wId)
		if err != nil {
			return err
		}
		flatWeights = append(flatWeights, flatId)
	}
	for _, gId := range gradIds {
		flatId, err := flattenInplace(g, gId)
		if err != nil {
			return err
		}
		flatGrads = append(flatGrads, flatId)
	}

	weightConcatId, err := concatInplace(g, flatWeights, ir.TensorId(groupTag+"___weightConcat"), ir.Variable)
	if err != nil {
		return err
	}
	gradConcatId, err := concatInplace(g, flatGrads, ir.TensorId(groupTag+"___gradConcat"), ir.ActGrad)
	if err != nil {
		return err
	}

	for _, n := range group {
		if err := g.EraseNode(n.Id()); err != nil {
			return err
		}
	}

	fused := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: opName, Version: opVersion})
	if _, err := g.MoveIntoGraph(fused); err != nil {
		return err
	}
	for pair := attrs.Oldest(); pair != nil; pair = pair.Next() {
		fused.Attrs.Set(pair.Key, pair.Value)
	}
	fused.FromLoss = fromLoss
	fused.Settings.Name = groupTag
	if err := g.ConnectInput(fused, 0, weightConcatId); err != nil {
		return err
	}
	if err := g.ConnectInput(fused, 1, gradConcatId); err != nil {
		return err
	}
	wc, ok := g.Tensor(weightConcatId)
	if !ok {
		return ir.Errorf(ir.InternalLogicError, "merge-var-update: tensor %q not found", weightConcatId)
	}
	_, err = g.CreateAndConnectOutput(fused, 0, ir.TensorId(groupTag+"___updated"), wc.Shape.Clone(), ir.Variable)
	return err
}

// flattenInplace splices a FlattenInplace node over srcId, producing a fresh
// "<srcId>___flat" tensor shaped [1, totalElements] (axis=0, matching
// opcatalog's flattenOp.Setup rule of lead=1 when axis==0).
func flattenInplace(g *ir.Graph, srcId ir.TensorId) (ir.TensorId, error) {
	src, ok := g.Tensor(srcId)
	if !ok {
		return "", ir.Errorf(ir.InternalLogicError, "merge-var-update: tensor %q not found", srcId)
	}
	n := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "FlattenInplace", Version: 1})
	if _, err := g.MoveIntoGraph(n); err != nil {
		return "", err
	}
	n.Attrs.Set("axis", ir.IntAttr(0))
	if err := g.ConnectInput(n, 0, srcId); err != nil {
		return "", err
	}
	flatId := srcId + "___flat"
	flatShape := dtype.Shape{DType: src.Shape.DType, Dimensions: []int{1, src.Shape.Size()}}
	if _, err := g.CreateAndConnectOutput(n, 0, flatId, flatShape, src.Class); err != nil {
		return "", err
	}
	return flatId, nil
}

// concatInplace splices a ConcatInplace node (axis=1) over srcIds, each already shaped
// [1, n] by flattenInplace, producing a fresh [1, sum(n)] tensor under id with the given
// tensor class.
func concatInplace(g *ir.Graph, srcIds []ir.TensorId, id ir.TensorId, class ir.TensorClass) (ir.TensorId, error) {
	n := ir.NewDetachedNode(ir.OpId{Domain: "tileforge.accel", Name: "ConcatInplace", Version: 1})
	if _, err := g.MoveIntoGraph(n); err != nil {
		return "", err
	}
	n.Attrs.Set("axis", ir.IntAttr(1))
	var d dtype.DType
	total := 0
	for i, srcId := range srcIds {
		t, ok := g.Tensor(srcId)
		if !ok {
			return "", ir.Errorf(ir.InternalLogicError, "merge-var-update: tensor %q not found", srcId)
		}
		if err := g.ConnectInput(n, i, srcId); err != nil {
			return "", err
		}
		d = t.Shape.DType
		total += t.Shape.Dimensions[1]
	}
	concatShape := dtype.Shape{DType: d, Dimensions: []int{1, total}}
	if _, err := g.CreateAndConnectOutput(n, 0, id, concatShape, class); err != nil {
		return "", err
	}
	return id, nil
}
