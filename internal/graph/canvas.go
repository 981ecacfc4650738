package graph

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Benny93/calcgraph-go/internal/evaluator"
)

// DefaultMatchTolerance is the largest difference between a recomputed and a
// stored result for which an operator guess is accepted.
var DefaultMatchTolerance = decimal.New(1, -4)

// Canvas owns the ordered list of calculation nodes.
//
// Every exported method runs to completion, including any cascading
// recomputation, before it returns. A Canvas has no internal locking: callers
// that share one across goroutines must serialize access themselves.
//
// Failed mutations never change state. They return an error so that callers
// can tell the user; ignoring the error gives the "nothing happened" behavior.
type Canvas struct {
	eval      evaluator.Evaluator
	layout    Layout
	palette   []Color
	tolerance decimal.Decimal
	newID     func() string
	logger    *slog.Logger

	nodes   []*Node
	byID    map[string]*Node
	version uint64

	colorIndex int
	pending    *pendingCombination
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithLayout sets the placement constants for new nodes.
func WithLayout(l Layout) Option {
	return func(c *Canvas) { c.layout = l }
}

// WithPalette sets the connection colors handed out to derived nodes.
func WithPalette(p []Color) Option {
	return func(c *Canvas) {
		if len(p) > 0 {
			c.palette = append([]Color(nil), p...)
		}
	}
}

// WithMatchTolerance sets the tolerance used when guessing a lost operator.
func WithMatchTolerance(t decimal.Decimal) Option {
	return func(c *Canvas) { c.tolerance = t }
}

// WithIDGenerator replaces the random UUID generator.
func WithIDGenerator(f func() string) Option {
	return func(c *Canvas) { c.newID = f }
}

// WithLogger sets the logger for swallowed failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Canvas) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty canvas that evaluates expressions with eval.
func New(eval evaluator.Evaluator, opts ...Option) *Canvas {
	c := &Canvas{
		eval:      eval,
		layout:    DefaultLayout(),
		palette:   DefaultPalette,
		tolerance: DefaultMatchTolerance,
		newID:     uuid.NewString,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		byID:      make(map[string]*Node),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the number of nodes.
func (c *Canvas) Len() int {
	return len(c.nodes)
}

// Version is incremented by every successful mutation.
func (c *Canvas) Version() uint64 {
	return c.version
}

// Nodes returns a copy of the node list in creation order.
func (c *Canvas) Nodes() []Node {
	out := make([]Node, len(c.nodes))
	for i, n := range c.nodes {
		out[i] = *n.Clone()
	}
	return out
}

// Node returns a copy of the node with the given id.
func (c *Canvas) Node(id string) (Node, bool) {
	n, ok := c.byID[id]
	if !ok {
		return Node{}, false
	}
	return *n.Clone(), true
}

// Resolve maps ref to a node id. ref is either a full id or a prefix that
// matches exactly one id.
func (c *Canvas) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrNodeNotFound)
	}
	if _, ok := c.byID[ref]; ok {
		return ref, nil
	}

	var match string
	for _, n := range c.nodes {
		if !strings.HasPrefix(n.ID, ref) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("%w: %s", ErrAmbiguousID, ref)
		}
		match = n.ID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNodeNotFound, ref)
	}
	return match, nil
}

// NodeOption customizes a node created by AddNode.
type NodeOption func(*Node)

// WithParents records the nodes the new node was derived from.
func WithParents(ids ...string) NodeOption {
	return func(n *Node) { n.ParentIDs = append([]string(nil), ids...) }
}

// WithConnectionColor sets the color of the new node's provenance edges.
func WithConnectionColor(color Color) NodeOption {
	return func(n *Node) { n.ConnectionColor = color }
}

// WithOperator records the operator a derived node was combined with.
func WithOperator(op Operator) NodeOption {
	return func(n *Node) { n.Operator = op }
}

// WithPosition places the node explicitly instead of in the root column.
func WithPosition(p Position) NodeOption {
	return func(n *Node) { n.Position = p }
}

// AddNode appends a node and returns its id. The expression is not
// evaluated; result is stored as given. Without WithPosition the node is
// placed at the bottom of the root column.
func (c *Canvas) AddNode(expression string, result decimal.Decimal, opts ...NodeOption) string {
	n := &Node{
		ID:         c.newID(),
		Expression: expression,
		Result:     result,
		Position:   c.layout.placeRoot(c.nodes),
	}
	for _, opt := range opts {
		opt(n)
	}

	c.nodes = append(c.nodes, n)
	c.byID[n.ID] = n
	c.version++
	return n.ID
}

// Evaluate runs text through the canvas evaluator and adds it as a root node.
func (c *Canvas) Evaluate(text string) (string, error) {
	result, err := c.eval.Evaluate(text)
	if err != nil {
		return "", fmt.Errorf("evaluating %q: %w", text, err)
	}
	return c.AddNode(text, result), nil
}

// UpdatePosition moves a node. Returns false if the node does not exist.
func (c *Canvas) UpdatePosition(id string, x, y float64) bool {
	return c.mutate(id, func(n *Node) { n.Position = Position{X: x, Y: y} })
}

// UpdateName renames a node. Returns false if the node does not exist.
func (c *Canvas) UpdateName(id, name string) bool {
	return c.mutate(id, func(n *Node) { n.Name = name })
}

// UpdateDescription sets a node's description. Returns false if the node does not exist.
func (c *Canvas) UpdateDescription(id, description string) bool {
	return c.mutate(id, func(n *Node) { n.Description = description })
}

// UpdateExpression re-evaluates a root node with new text and cascades the
// new result through every descendant.
//
// Derived nodes are rejected with ErrDerivedNode. If evaluation fails the
// node keeps its previous expression and result.
func (c *Canvas) UpdateExpression(id, text string) error {
	n, ok := c.byID[id]
	if !ok {
		c.logger.Debug("expression edit on missing node", "node", id)
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	if n.IsDerived() {
		return fmt.Errorf("%w: %s", ErrDerivedNode, id)
	}

	result, err := c.eval.Evaluate(text)
	if err != nil {
		c.logger.Debug("expression edit rejected", "node", id, "expression", text, "error", err)
		return fmt.Errorf("evaluating %q: %w", text, err)
	}

	n.Expression = text
	n.Result = result
	c.version++

	c.Propagate(id)
	return nil
}

// DeleteNode removes a node together with every node derived from it,
// directly or transitively. Returns the number of nodes removed.
func (c *Canvas) DeleteNode(id string) int {
	if _, ok := c.byID[id]; !ok {
		c.logger.Debug("delete of missing node", "node", id)
		return 0
	}

	doomed := map[string]bool{id: true}
	for changed := true; changed; {
		changed = false
		for _, n := range c.nodes {
			if doomed[n.ID] {
				continue
			}
			for _, pid := range n.ParentIDs {
				if doomed[pid] {
					doomed[n.ID] = true
					changed = true
					break
				}
			}
		}
	}

	kept := make([]*Node, 0, len(c.nodes)-len(doomed))
	for _, n := range c.nodes {
		if doomed[n.ID] {
			delete(c.byID, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	c.nodes = kept
	c.version++
	return len(doomed)
}

// Edges derives the provenance edges from the node list: one per parent of
// every derived node that has a connection color.
func (c *Canvas) Edges() []Edge {
	var edges []Edge
	for _, n := range c.nodes {
		if !n.IsDerived() || n.ConnectionColor == 0 {
			continue
		}
		for _, pid := range n.ParentIDs {
			edges = append(edges, Edge{FromID: pid, ToID: n.ID, Color: n.ConnectionColor})
		}
	}
	return edges
}

// ColorIndex returns the palette position of the next connection color.
func (c *Canvas) ColorIndex() int {
	return c.colorIndex
}

// SetColorIndex moves the color sequence to i, wrapped into the palette.
func (c *Canvas) SetColorIndex(i int) {
	n := len(c.palette)
	c.colorIndex = ((i % n) + n) % n
}

// Load replaces the canvas contents with nodes, e.g. after a restore.
// Any pending combination is dropped. The color sequence continues after the
// colored derived nodes in the list; callers that saved the exact index
// restore it with SetColorIndex.
func (c *Canvas) Load(nodes []Node) error {
	byID := make(map[string]*Node, len(nodes))
	list := make([]*Node, 0, len(nodes))
	for i := range nodes {
		n := nodes[i].Clone()
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
		}
		byID[n.ID] = n
		list = append(list, n)
	}
	if id, ok := findCycle(list, byID); ok {
		return fmt.Errorf("%w: through %s", ErrCycle, id)
	}

	colored := 0
	for _, n := range list {
		if n.IsDerived() && n.ConnectionColor != 0 {
			colored++
		}
	}

	c.nodes = list
	c.byID = byID
	c.colorIndex = colored % len(c.palette)
	c.pending = nil
	c.version++
	return nil
}

// Reset removes every node.
func (c *Canvas) Reset() {
	_ = c.Load(nil)
}

// Repair returns the nodes Load would accept. The first node with a given id
// wins and later copies are dropped, as is every node that is its own
// ancestor. dropped counts the removed nodes.
func Repair(nodes []Node) (kept []Node, dropped int) {
	seen := make(map[string]bool, len(nodes))
	byID := make(map[string]*Node, len(nodes))
	unique := make([]*Node, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if seen[n.ID] {
			dropped++
			continue
		}
		seen[n.ID] = true
		byID[n.ID] = n
		unique = append(unique, n)
	}

	kept = make([]Node, 0, len(unique))
	for _, n := range unique {
		if reachesSelf(n.ID, byID) {
			dropped++
			continue
		}
		kept = append(kept, *n)
	}
	return kept, dropped
}

// reachesSelf reports whether id is among its own ancestors.
func reachesSelf(id string, byID map[string]*Node) bool {
	visited := make(map[string]bool)
	stack := append([]string(nil), byID[id].ParentIDs...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == id {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if n, ok := byID[cur]; ok {
			stack = append(stack, n.ParentIDs...)
		}
	}
	return false
}

func (c *Canvas) mutate(id string, fn func(*Node)) bool {
	n, ok := c.byID[id]
	if !ok {
		c.logger.Debug("update of missing node", "node", id)
		return false
	}
	fn(n)
	c.version++
	return true
}

// findCycle reports a node that is its own ancestor, if any.
func findCycle(nodes []*Node, byID map[string]*Node) (string, bool) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		if n, ok := byID[id]; ok {
			for _, pid := range n.ParentIDs {
				if visit(pid) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, n := range nodes {
		if visit(n.ID) {
			return n.ID, true
		}
	}
	return "", false
}
