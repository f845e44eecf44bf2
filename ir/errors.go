package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of failure categories the core reports (§7). Every raise site
// picks exactly one; there is no "Other" escape hatch.
type Kind int

const (
	// InternalLogicError is reserved for invariant violations -- the core's own bugs,
	// not a caller mistake.
	InternalLogicError Kind = iota

	ShapeMismatch
	TypeMismatch
	UnknownOperator
	UnknownAttribute
	InvalidPermutation

	MissingProducer
	DuplicateProducer
	DanglingConsumer

	NonDifferentiable
	UnreachableLoss
	IncompleteGrad

	Cycle
	ConstraintConflict

	InsufficientPipelineDepth
	BatchAxisAmbiguous
	UnshardableOp
)

var kindNames = map[Kind]string{
	InternalLogicError:        "InternalLogicError",
	ShapeMismatch:             "ShapeMismatch",
	TypeMismatch:              "TypeMismatch",
	UnknownOperator:           "UnknownOperator",
	UnknownAttribute:          "UnknownAttribute",
	InvalidPermutation:        "InvalidPermutation",
	MissingProducer:           "MissingProducer",
	DuplicateProducer:         "DuplicateProducer",
	DanglingConsumer:          "DanglingConsumer",
	NonDifferentiable:         "NonDifferentiable",
	UnreachableLoss:           "UnreachableLoss",
	IncompleteGrad:            "IncompleteGrad",
	Cycle:                     "Cycle",
	ConstraintConflict:        "ConstraintConflict",
	InsufficientPipelineDepth: "InsufficientPipelineDepth",
	BatchAxisAmbiguous:        "BatchAxisAmbiguous",
	UnshardableOp:             "UnshardableOp",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single exception type the core raises (§6 "Error surface"): a closed kind
// tag plus a human message, with a stack trace attached the same way graph.Graph's
// deferred-error methods attach one via github.com/pkg/errors.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Errorf builds a *Error of the given kind with a stack trace, mirroring
// Graph.SetErrorf's errors.WithStack(fmt.Errorf(...)) pattern.
func Errorf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Wrap attaches kind and a message to an existing error, keeping it as the Unwrap cause.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause})
}

// AsError extracts the *Error from err (looking through any wrapping), returning
// ok=false if err was never constructed through Errorf/Wrap.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
