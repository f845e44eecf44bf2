package opcatalog

import "github.com/tileforge/airuntime/ir"

// HardwareEmitter lowers one node to whatever the accelerator's code generator needs --
// the out-of-scope collaborator §1 names ("the hardware-specific code emitters that map
// each node to accelerator primitives"). This core never calls Emit itself; the type
// exists so that boundary has a name and out-of-scope codegen has something concrete to
// implement against, matching how willow/include/popart/popx/op/*.hpp declare a codegen
// interface the willow core itself never implements.
type HardwareEmitter interface {
	Emit(n *ir.Node) error
}

// HardwareEmitterRegistry is a separate registry from the op catalog's own gradient-op
// registry (§4.C: "A parallel registry holds per-op gradient-op factories and,
// separately, hardware-emitter factories; the core owns only the first two"). It is
// populated by the out-of-scope codegen layer, not by this package's init() functions.
type HardwareEmitterRegistry struct {
	emitters map[ir.OpId]HardwareEmitter
}

// NewHardwareEmitterRegistry returns an empty registry ready for a codegen layer to
// populate via Register.
func NewHardwareEmitterRegistry() *HardwareEmitterRegistry {
	return &HardwareEmitterRegistry{emitters: make(map[ir.OpId]HardwareEmitter)}
}

// Register associates a HardwareEmitter with an op-id.
func (r *HardwareEmitterRegistry) Register(opId ir.OpId, e HardwareEmitter) {
	r.emitters[opId] = e
}

// Lookup returns the registered emitter for opId, if any.
func (r *HardwareEmitterRegistry) Lookup(opId ir.OpId) (HardwareEmitter, bool) {
	e, ok := r.emitters[opId]
	return e, ok
}
