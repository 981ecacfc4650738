package graph

import "math"

// Layout holds the placement constants for new nodes.
type Layout struct {
	// InitialX is the x of the root column.
	InitialX float64 `yaml:"initial_x"`

	// InitialY is the y of the first node in an empty root column.
	InitialY float64 `yaml:"initial_y"`

	// Spacing is the approximate node height plus margin. It is used both as
	// the vertical gap in the root column and as the horizontal offset of a
	// derived node from its rightmost parent.
	Spacing float64 `yaml:"spacing"`

	// ColumnTolerance is how far from InitialX a node may sit and still
	// count as part of the root column.
	ColumnTolerance float64 `yaml:"column_tolerance"`
}

// DefaultLayout returns the stock placement constants.
func DefaultLayout() Layout {
	return Layout{
		InitialX:        150,
		InitialY:        150,
		Spacing:         150,
		ColumnTolerance: 20,
	}
}

// placeRoot stacks a new root node below the lowest node in the root column.
func (l Layout) placeRoot(nodes []*Node) Position {
	y := l.InitialY
	found := false
	for _, n := range nodes {
		if math.Abs(n.Position.X-l.InitialX) > l.ColumnTolerance {
			continue
		}
		if !found || n.Position.Y+l.Spacing > y {
			y = n.Position.Y + l.Spacing
			found = true
		}
	}
	return Position{X: l.InitialX, Y: y}
}

// placeDerived puts a combination result right of the rightmost parent, at
// the parents' vertical midpoint.
func (l Layout) placeDerived(source, target *Node) Position {
	rightmost := target
	if source.Position.X > target.Position.X {
		rightmost = source
	}
	return Position{
		X: rightmost.Position.X + l.Spacing,
		Y: (source.Position.Y + target.Position.Y) / 2,
	}
}
