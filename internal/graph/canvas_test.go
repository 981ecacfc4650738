package graph

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/calcgraph-go/internal/evaluator"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func newTestCanvas(opts ...Option) *Canvas {
	opts = append([]Option{WithIDGenerator(sequentialIDs())}, opts...)
	return New(evaluator.New(evaluator.Options{}), opts...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustNode(t *testing.T, c *Canvas, id string) Node {
	t.Helper()
	n, ok := c.Node(id)
	require.True(t, ok, "node %s missing", id)
	return n
}

func TestNew(t *testing.T) {
	t.Parallel()

	c := New(evaluator.New(evaluator.Options{}))

	assert.NotNil(t, c)
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Nodes())
	assert.Empty(t, c.Edges())
	assert.Equal(t, uint64(0), c.Version())
}

func TestCanvas_AddNode(t *testing.T) {
	t.Parallel()

	t.Run("RootColumn", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()

		a := c.AddNode("2+2", dec("4"))
		b := c.AddNode("10/2", dec("5"))

		assert.Equal(t, Position{X: 150, Y: 150}, mustNode(t, c, a).Position)
		assert.Equal(t, Position{X: 150, Y: 300}, mustNode(t, c, b).Position)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("DoesNotEvaluate", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()

		id := c.AddNode("not an expression", dec("7"))

		n := mustNode(t, c, id)
		assert.Equal(t, "not an expression", n.Expression)
		assert.True(t, dec("7").Equal(n.Result))
	})

	t.Run("WithOptions", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()

		id := c.AddNode("1+1", dec("2"),
			WithParents("x", "y"),
			WithConnectionColor(0xFF00FF00),
			WithOperator(OpAdd),
			WithPosition(Position{X: 10, Y: 20}),
		)

		n := mustNode(t, c, id)
		assert.Equal(t, []string{"x", "y"}, n.ParentIDs)
		assert.Equal(t, Color(0xFF00FF00), n.ConnectionColor)
		assert.Equal(t, OpAdd, n.Operator)
		assert.Equal(t, Position{X: 10, Y: 20}, n.Position)
		assert.True(t, n.IsDerived())
	})

	t.Run("UniqueRandomIDs", func(t *testing.T) {
		t.Parallel()
		c := New(evaluator.New(evaluator.Options{}))

		a := c.AddNode("1", dec("1"))
		b := c.AddNode("1", dec("1"))

		assert.NotEmpty(t, a)
		assert.NotEqual(t, a, b)
	})
}

func TestCanvas_Evaluate(t *testing.T) {
	t.Parallel()

	c := newTestCanvas()

	id, err := c.Evaluate("6*7")
	require.NoError(t, err)
	assert.True(t, dec("42").Equal(mustNode(t, c, id).Result))

	_, err = c.Evaluate("6/0")
	assert.ErrorIs(t, err, evaluator.ErrNonFinite)
	assert.Equal(t, 1, c.Len())
}

func TestCanvas_Metadata(t *testing.T) {
	t.Parallel()

	c := newTestCanvas()
	id := c.AddNode("1", dec("1"))

	assert.True(t, c.UpdateName(id, "rent"))
	assert.True(t, c.UpdateDescription(id, "monthly"))
	assert.True(t, c.UpdatePosition(id, 400, 500))

	n := mustNode(t, c, id)
	assert.Equal(t, "rent", n.Name)
	assert.Equal(t, "monthly", n.Description)
	assert.Equal(t, Position{X: 400, Y: 500}, n.Position)

	assert.False(t, c.UpdateName("missing", "x"))
	assert.False(t, c.UpdateDescription("missing", "x"))
	assert.False(t, c.UpdatePosition("missing", 1, 1))
}

func TestCanvas_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	c := newTestCanvas()
	a := c.AddNode("1", dec("1"))
	b := c.AddNode("2", dec("2"))
	d, err := c.Combine(a, b, OpAdd)
	require.NoError(t, err)

	nodes := c.Nodes()
	nodes[2].ParentIDs[0] = "tampered"
	nodes[2].Expression = "tampered"

	n := mustNode(t, c, d)
	assert.Equal(t, []string{a, b}, n.ParentIDs)
	assert.Equal(t, "1+2", n.Expression)
}

func TestCanvas_UpdateExpression(t *testing.T) {
	t.Parallel()

	t.Run("Root", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		id := c.AddNode("2+2", dec("4"))

		require.NoError(t, c.UpdateExpression(id, "2+3"))

		n := mustNode(t, c, id)
		assert.Equal(t, "2+3", n.Expression)
		assert.True(t, dec("5").Equal(n.Result))
	})

	t.Run("InvalidLeavesNodeUnchanged", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		id := c.AddNode("2+2", dec("4"))
		before := c.Version()

		err := c.UpdateExpression(id, "2+")
		assert.ErrorIs(t, err, evaluator.ErrSyntax)

		n := mustNode(t, c, id)
		assert.Equal(t, "2+2", n.Expression)
		assert.True(t, dec("4").Equal(n.Result))
		assert.Equal(t, before, c.Version())
	})

	t.Run("DerivedRejected", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		a := c.AddNode("1", dec("1"))
		b := c.AddNode("2", dec("2"))
		d, err := c.Combine(a, b, OpAdd)
		require.NoError(t, err)

		err = c.UpdateExpression(d, "100")
		assert.ErrorIs(t, err, ErrDerivedNode)
		assert.Equal(t, "1+2", mustNode(t, c, d).Expression)
	})

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		assert.ErrorIs(t, c.UpdateExpression("missing", "1"), ErrNodeNotFound)
	})
}

func TestCanvas_DeleteNode(t *testing.T) {
	t.Parallel()

	t.Run("CascadesToDescendants", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		a := c.AddNode("1", dec("1"))
		b := c.AddNode("2", dec("2"))
		x := c.AddNode("3", dec("3"))
		ab, err := c.Combine(a, b, OpAdd)
		require.NoError(t, err)
		abx, err := c.Combine(ab, x, OpMultiply)
		require.NoError(t, err)
		bx, err := c.Combine(b, x, OpSubtract)
		require.NoError(t, err)

		removed := c.DeleteNode(a)

		assert.Equal(t, 3, removed)
		assert.Equal(t, 3, c.Len())
		for _, id := range []string{a, ab, abx} {
			_, ok := c.Node(id)
			assert.False(t, ok, "node %s should be deleted", id)
		}
		for _, id := range []string{b, x, bx} {
			_, ok := c.Node(id)
			assert.True(t, ok, "node %s should survive", id)
		}
	})

	t.Run("Leaf", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		a := c.AddNode("1", dec("1"))
		b := c.AddNode("2", dec("2"))

		assert.Equal(t, 1, c.DeleteNode(b))
		assert.Equal(t, 1, c.Len())
		_, ok := c.Node(a)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		c.AddNode("1", dec("1"))
		before := c.Version()

		assert.Equal(t, 0, c.DeleteNode("missing"))
		assert.Equal(t, 1, c.Len())
		assert.Equal(t, before, c.Version())
	})
}

func TestCanvas_Edges(t *testing.T) {
	t.Parallel()

	c := newTestCanvas()
	a := c.AddNode("1", dec("1"))
	b := c.AddNode("2", dec("2"))
	d, err := c.Combine(a, b, OpAdd)
	require.NoError(t, err)
	// Derived but colorless nodes draw no edges.
	c.AddNode("1+2", dec("3"), WithParents(a, b))

	edges := c.Edges()

	require.Len(t, edges, 2)
	assert.Equal(t, Edge{FromID: a, ToID: d, Color: DefaultPalette[0]}, edges[0])
	assert.Equal(t, Edge{FromID: b, ToID: d, Color: DefaultPalette[0]}, edges[1])
}

func TestCanvas_Load(t *testing.T) {
	t.Parallel()

	t.Run("ReplacesContents", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		c.AddNode("1", dec("1"))
		c.SetPendingCombination("a", "b")

		err := c.Load([]Node{
			{ID: "a", Expression: "2", Result: dec("2")},
			{ID: "b", Expression: "3", Result: dec("3")},
			{ID: "c", Expression: "2+3", Result: dec("5"), ParentIDs: []string{"a", "b"}, ConnectionColor: 1},
		})
		require.NoError(t, err)

		assert.Equal(t, 3, c.Len())
		_, _, pending := c.PendingCombination()
		assert.False(t, pending)
		assert.Len(t, c.Edges(), 2)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		c.AddNode("1", dec("1"))

		err := c.Load([]Node{{ID: "a"}, {ID: "a"}})

		assert.ErrorIs(t, err, ErrDuplicateID)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("Cycle", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()

		err := c.Load([]Node{
			{ID: "a", ParentIDs: []string{"c"}},
			{ID: "b", ParentIDs: []string{"a"}},
			{ID: "c", ParentIDs: []string{"b"}},
		})

		assert.ErrorIs(t, err, ErrCycle)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("SelfParent", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		assert.ErrorIs(t, c.Load([]Node{{ID: "a", ParentIDs: []string{"a"}}}), ErrCycle)
	})

	t.Run("ContinuesColorSequence", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()

		require.NoError(t, c.Load([]Node{
			{ID: "a", Expression: "2", Result: dec("2")},
			{ID: "b", Expression: "3", Result: dec("3")},
			{ID: "c", Expression: "2+3", Result: dec("5"), ParentIDs: []string{"a", "b"}, ConnectionColor: DefaultPalette[0]},
			{ID: "d", Expression: "2*3", Result: dec("6"), ParentIDs: []string{"a", "b"}},
		}))
		assert.Equal(t, 1, c.ColorIndex())

		id, err := c.Combine("a", "b", OpSubtract)
		require.NoError(t, err)
		assert.Equal(t, DefaultPalette[1], mustNode(t, c, id).ConnectionColor)

		c.SetColorIndex(-1)
		assert.Equal(t, len(DefaultPalette)-1, c.ColorIndex())
	})

	t.Run("Reset", func(t *testing.T) {
		t.Parallel()
		c := newTestCanvas()
		c.AddNode("1", dec("1"))

		c.Reset()

		assert.Equal(t, 0, c.Len())
	})
}

func TestRepair(t *testing.T) {
	t.Parallel()

	kept, dropped := Repair([]Node{
		{ID: "a", Expression: "1"},
		{ID: "a", Expression: "2"},
		{ID: "self", ParentIDs: []string{"self"}},
		{ID: "x", ParentIDs: []string{"z"}},
		{ID: "y", ParentIDs: []string{"x"}},
		{ID: "z", ParentIDs: []string{"y"}},
		{ID: "tail", ParentIDs: []string{"z", "a"}},
		{ID: "orphan", ParentIDs: []string{"gone", "a"}},
	})

	assert.Equal(t, 5, dropped)
	ids := make([]string, len(kept))
	for i, n := range kept {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"a", "tail", "orphan"}, ids)
	assert.Equal(t, "1", kept[0].Expression)

	c := newTestCanvas()
	assert.NoError(t, c.Load(kept))
}

func TestCanvas_Resolve(t *testing.T) {
	t.Parallel()

	c := New(evaluator.New(evaluator.Options{}), WithIDGenerator(func() func() string {
		ids := []string{"abc1", "abc2", "xyz"}
		i := 0
		return func() string { i++; return ids[i-1] }
	}()))
	c.AddNode("1", dec("1"))
	c.AddNode("2", dec("2"))
	c.AddNode("3", dec("3"))

	tests := []struct {
		ref  string
		want string
		err  error
	}{
		{"abc1", "abc1", nil},
		{"x", "xyz", nil},
		{"abc", "", ErrAmbiguousID},
		{"q", "", ErrNodeNotFound},
		{"", "", ErrNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := c.Resolve(tt.ref)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
