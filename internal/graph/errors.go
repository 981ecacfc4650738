package graph

import "errors"

var (
	// ErrNodeNotFound is returned when a referenced node id does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDerivedNode is returned when editing the expression of a derived
	// node; its expression is rebuilt from its parents instead.
	ErrDerivedNode = errors.New("derived node expressions cannot be edited")

	// ErrAmbiguousID is returned by Resolve when a prefix matches several ids.
	ErrAmbiguousID = errors.New("ambiguous node id prefix")

	// ErrUnknownOperator is returned for operators outside Operators.
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrNoPendingCombination is returned by CombinePending when no pair is waiting.
	ErrNoPendingCombination = errors.New("no pending combination")

	// ErrDuplicateID is returned by Load when two nodes share an id.
	ErrDuplicateID = errors.New("duplicate node id")

	// ErrCycle is returned by Load when the parent relation contains a cycle.
	ErrCycle = errors.New("parent relation contains a cycle")
)
