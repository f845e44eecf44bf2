// Package rewrite implements the local peephole pattern rewriter (§4.E): a
// (matches, touches, apply) contract run by a priority-ordered driver loop, split into
// the PreAlias tier (algebraic simplifications and other rewrites safe before in-place
// analysis) and the Alias/Inplace tier (in-place variant selection honoring each op's
// modifies/aliases regions), grounded on willow/src/patterns/patterns.cpp's
// PatternsLevel/inplaceEnabled split.
package rewrite

import "github.com/tileforge/airuntime/ir"

// Pattern is one rewrite rule. Matches reports whether the rule fires on n; Touches names
// the nodes whose enablement may have changed once Apply runs (so the driver re-queues
// exactly those, not the whole graph); Apply performs the rewrite and returns false to
// abort the whole pass (§4.E "a pattern that returns false from apply aborts the pass").
type Pattern interface {
	Name() string
	Priority() float64
	Matches(g *ir.Graph, n *ir.Node) bool
	Touches(g *ir.Graph, n *ir.Node) []ir.NodeId
	Apply(g *ir.Graph, n *ir.Node) (bool, error)
}

// Tier is the closed two-level ordering §4.E assigns each pattern to.
type Tier int

const (
	PreAlias Tier = iota
	AliasInplace
)

var (
	preAliasPatterns    []Pattern
	aliasInplacePatterns []Pattern
)

// Register adds p to tier's registry, intended to be called from this package's own
// init() functions (mirroring opcatalog.Register's init-time registration idiom).
func Register(tier Tier, p Pattern) {
	switch tier {
	case PreAlias:
		preAliasPatterns = append(preAliasPatterns, p)
	case AliasInplace:
		aliasInplacePatterns = append(aliasInplacePatterns, p)
	}
}

// PatternsFor returns the registered patterns for tier, in registration order.
func PatternsFor(tier Tier) []Pattern {
	switch tier {
	case PreAlias:
		return preAliasPatterns
	case AliasInplace:
		return aliasInplacePatterns
	default:
		return nil
	}
}
