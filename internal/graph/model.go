// Package graph provides the calculation graph for calcgraph.
//
// It defines the calculation node and provenance edge types, and the Canvas
// that owns the node list: creation of root nodes, combination of two nodes
// into a derived node, cascading recomputation of descendants after an edit,
// cascading deletion, and automatic placement of new nodes.
package graph

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Operator is a binary arithmetic operator used to combine two nodes.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "*"
	OpDivide   Operator = "/"
)

// Operators lists the supported operators in recovery order.
var Operators = []Operator{OpAdd, OpSubtract, OpMultiply, OpDivide}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	return slices.Contains(Operators, op)
}

// Color is an ARGB connection color. Zero means no color.
type Color uint32

// DefaultPalette holds the contrasting connection colors, reused cyclically.
var DefaultPalette = []Color{
	0xFF00D9FF, // electric blue
	0xFFFF00FF, // magenta
	0xFF00FF00, // bright green
	0xFFFF6B00, // orange
	0xFFFF00AA, // pink
	0xFF00FFFF, // cyan
	0xFFFFD700, // gold
	0xFFFF1493, // deep pink
	0xFF00CED1, // dark turquoise
	0xFFFF4500, // orange red
}

// Position is a canvas coordinate. It has no bearing on graph semantics.
type Position struct {
	X float64
	Y float64
}

// Node represents a calculation on the canvas.
type Node struct {
	// ID is the unique identifier for the node. It never changes.
	ID string

	// Expression is the arithmetic input that produced this node. For derived
	// nodes it is the parents' results joined by an operator.
	Expression string

	// Result is the evaluated value of Expression as of the last update.
	Result decimal.Decimal

	// Position is where the node is drawn.
	Position Position

	// ParentIDs lists the nodes this node was combined from, in order.
	ParentIDs []string

	// Operator is the operator a derived node was combined with. Empty for
	// root nodes and for derived nodes restored from data that predates it.
	Operator Operator

	// ConnectionColor is the color of this node's provenance edges.
	ConnectionColor Color

	Name        string
	Description string
}

// IsDerived returns true if the node was produced by combining other nodes.
func (n *Node) IsDerived() bool {
	return len(n.ParentIDs) > 0
}

// HasParent returns true if id is one of the node's parents.
func (n *Node) HasParent(id string) bool {
	return slices.Contains(n.ParentIDs, id)
}

// Clone returns a copy that shares no mutable state with n.
func (n *Node) Clone() *Node {
	c := *n
	c.ParentIDs = slices.Clone(n.ParentIDs)
	return &c
}

// Edge is a provenance edge from a parent to the derived node it produced.
type Edge struct {
	FromID string
	ToID   string
	Color  Color
}
