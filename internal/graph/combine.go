package graph

import (
	"fmt"
)

type pendingCombination struct {
	sourceID string
	targetID string
}

// SetPendingCombination remembers a dropped pair while the user picks an
// operator. Any previously pending pair is discarded.
func (c *Canvas) SetPendingCombination(sourceID, targetID string) {
	c.pending = &pendingCombination{sourceID: sourceID, targetID: targetID}
}

// PendingCombination returns the pair awaiting an operator, if any.
func (c *Canvas) PendingCombination() (sourceID, targetID string, ok bool) {
	if c.pending == nil {
		return "", "", false
	}
	return c.pending.sourceID, c.pending.targetID, true
}

// CombinePending combines the pending pair with op. The pending pair is
// cleared whether or not the combination succeeds.
func (c *Canvas) CombinePending(op Operator) (string, error) {
	p := c.pending
	c.pending = nil
	if p == nil {
		return "", ErrNoPendingCombination
	}
	return c.Combine(p.sourceID, p.targetID, op)
}

// Combine creates a derived node whose expression joins the current results
// of source and target with op. On any failure, including evaluation errors
// such as a division by zero, nothing changes and no color is consumed.
//
// The new node is placed one spacing unit right of the rightmost parent, at
// the parents' vertical midpoint.
func (c *Canvas) Combine(sourceID, targetID string, op Operator) (string, error) {
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
	source, ok := c.byID[sourceID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, sourceID)
	}
	target, ok := c.byID[targetID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, targetID)
	}

	expression := joinResults(op, source, target)
	result, err := c.eval.Evaluate(expression)
	if err != nil {
		c.logger.Debug("combination failed",
			"source", sourceID, "target", targetID, "expression", expression, "error", err)
		return "", fmt.Errorf("evaluating %q: %w", expression, err)
	}

	return c.AddNode(expression, result,
		WithParents(sourceID, targetID),
		WithOperator(op),
		WithConnectionColor(c.nextColor()),
		WithPosition(c.layout.placeDerived(source, target)),
	), nil
}

// nextColor hands out palette colors cyclically. The index only advances on
// successful combinations and is unaffected by deletions.
func (c *Canvas) nextColor() Color {
	color := c.palette[c.colorIndex]
	c.colorIndex = (c.colorIndex + 1) % len(c.palette)
	return color
}

// joinResults renders the parents' results around op, e.g. "4+5".
func joinResults(op Operator, parents ...*Node) string {
	s := ""
	for i, p := range parents {
		if i > 0 {
			s += string(op)
		}
		s += p.Result.String()
	}
	return s
}
