package graph

import (
	"strings"
)

// table is an owned working copy of the node list used by a single
// propagation pass. It is committed back to the canvas in one step.
type table struct {
	nodes []*Node
	byID  map[string]*Node
}

func (c *Canvas) snapshot() *table {
	t := &table{
		nodes: make([]*Node, len(c.nodes)),
		byID:  make(map[string]*Node, len(c.nodes)),
	}
	for i, n := range c.nodes {
		clone := n.Clone()
		t.nodes[i] = clone
		t.byID[clone.ID] = clone
	}
	return t
}

// children returns the direct children of id in list order.
func (t *table) children(id string) []*Node {
	var out []*Node
	for _, n := range t.nodes {
		if n.HasParent(id) {
			out = append(out, n)
		}
	}
	return out
}

// Propagate recomputes every descendant of changedID from its parents'
// current results, one generation at a time, and returns the number of node
// updates applied.
//
// A child whose parents are missing, or whose new expression fails to
// evaluate, is left unchanged and its own descendants are not visited
// through it. Other branches carry on.
func (c *Canvas) Propagate(changedID string) int {
	if _, ok := c.byID[changedID]; !ok {
		return 0
	}

	work := c.snapshot()
	updates := 0
	queue := []string{changedID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, child := range work.children(id) {
			rebuilt, ok := c.rebuild(child, work)
			if !ok {
				continue
			}
			*child = *rebuilt
			updates++
			queue = append(queue, child.ID)
		}
	}

	if updates > 0 {
		c.nodes = work.nodes
		c.byID = work.byID
		c.version++
	}
	return updates
}

// rebuild derives a child's expression and result from its parents' current
// results. It returns false if the child must be left as is.
func (c *Canvas) rebuild(child *Node, work *table) (*Node, bool) {
	parents := make([]*Node, 0, len(child.ParentIDs))
	for _, pid := range child.ParentIDs {
		p, ok := work.byID[pid]
		if !ok {
			c.logger.Debug("skipping child with missing parent", "node", child.ID, "parent", pid)
			return nil, false
		}
		parents = append(parents, p)
	}

	out := child.Clone()
	switch len(parents) {
	case 1:
		out.Expression = parents[0].Result.String()
		out.Result = parents[0].Result
		return out, true
	case 2:
	default:
		c.logger.Debug("skipping child with unsupported parent count", "node", child.ID, "parents", len(parents))
		return nil, false
	}

	op := child.Operator
	if !op.Valid() {
		var found bool
		if op, found = recoverOperator(child.Expression); !found {
			return c.guessOperator(child, parents)
		}
	}

	expression := joinResults(op, parents...)
	result, err := c.eval.Evaluate(expression)
	if err != nil {
		c.logger.Debug("cascade stopped at node", "node", child.ID, "expression", expression, "error", err)
		return nil, false
	}
	out.Expression = expression
	out.Result = result
	out.Operator = op
	return out, true
}

// recoverOperator finds the first operator in expr, ignoring a leading sign
// and a trailing character.
func recoverOperator(expr string) (Operator, bool) {
	for i := 1; i < len(expr)-1; i++ {
		if strings.IndexByte("+-*/", expr[i]) >= 0 {
			return Operator(expr[i : i+1]), true
		}
	}
	return "", false
}

// guessOperator tries every operator on the parents' results and keeps the
// first whose value matches the child's stored result within tolerance,
// falling back to addition.
func (c *Canvas) guessOperator(child *Node, parents []*Node) (*Node, bool) {
	out := child.Clone()
	for _, op := range Operators {
		expression := joinResults(op, parents...)
		result, err := c.eval.Evaluate(expression)
		if err != nil {
			continue
		}
		if result.Sub(child.Result).Abs().LessThan(c.tolerance) {
			out.Expression = expression
			out.Result = result
			out.Operator = op
			return out, true
		}
	}

	expression := joinResults(OpAdd, parents...)
	result, err := c.eval.Evaluate(expression)
	if err != nil {
		c.logger.Debug("cascade stopped at node", "node", child.ID, "expression", expression, "error", err)
		return nil, false
	}
	out.Expression = expression
	out.Result = result
	out.Operator = OpAdd
	return out, true
}
