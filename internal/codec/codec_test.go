package codec

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/calcgraph-go/internal/graph"
)

// assertSameNodes compares field for field, treating decimals by value.
func assertSameNodes(t *testing.T, want, got []graph.Node) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		assert.True(t, w.Result.Equal(g.Result), "node %d result: want %s, got %s", i, w.Result, g.Result)
		w.Result, g.Result = decimal.Zero, decimal.Zero
		assert.Equal(t, w, g, "node %d", i)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	nodes := []graph.Node{
		{ID: "a", Expression: "2+2", Result: decimal.NewFromInt(4), Position: graph.Position{X: 150, Y: 150}},
		{ID: "b", Expression: "10/2", Result: decimal.NewFromInt(5), Position: graph.Position{X: 150, Y: 300}, Name: "half"},
		{
			ID:              "c",
			Expression:      "4+5",
			Result:          decimal.NewFromInt(9),
			Position:        graph.Position{X: 300, Y: 225},
			ParentIDs:       []string{"a", "b"},
			Operator:        graph.OpAdd,
			ConnectionColor: graph.DefaultPalette[0],
			Description:     "line one\nline \"two\"\twith \\ and\r",
		},
	}

	text, err := Encode(nodes)
	require.NoError(t, err)

	got, report := Decode(text)
	assert.Equal(t, Report{Records: 3}, report)
	assertSameNodes(t, nodes, got)
}

func TestEncode_Format(t *testing.T) {
	t.Parallel()

	text, err := Encode([]graph.Node{{ID: "a", Expression: "1<2", Result: decimal.RequireFromString("-2.5")}})
	require.NoError(t, err)

	assert.Equal(t,
		`[{"id":"a","expression":"1<2","result":"-2.5","positionX":0,"positionY":0,"parentNodeIds":[],"connectionColor":0,"name":"","description":""}]`,
		text)
}

func TestDecode_Empty(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "  \n", "[]"} {
		nodes, report := Decode(in)
		assert.Empty(t, nodes, "input %q", in)
		assert.Equal(t, 0, report.Dropped)
	}

	text, err := Encode(nil)
	require.NoError(t, err)
	nodes, _ := Decode(text)
	assert.Empty(t, nodes)
}

func TestDecode_DropsBadRecords(t *testing.T) {
	t.Parallel()

	text := `[
		{"id":"ok","expression":"1","result":"1","parentNodeIds":[]},
		{"expression":"1","result":"1"},
		{"id":"","expression":"1","result":"1"},
		{"id":"noexpr","result":"1"},
		{"id":"noresult","expression":"1"},
		{"id":"badresult","expression":"1","result":"one"},
		{"id":"badtype","expression":"1","result":"1","positionX":"left"},
		42,
		{"id":"ok2","expression":"2","result":"2"}
	]`

	nodes, report := Decode(text)

	require.Len(t, nodes, 2)
	assert.Equal(t, "ok", nodes[0].ID)
	assert.Equal(t, "ok2", nodes[1].ID)
	assert.Equal(t, Report{Records: 9, Dropped: 7}, report)
}

func TestDecode_DamagedArray(t *testing.T) {
	t.Parallel()

	text := `[{"id":"a","expression":"{1}","result":"1"},{"id":"b","expression":"x\"}","result":"2"},{"id":"c","expr`

	nodes, report := Decode(text)

	require.Len(t, nodes, 2)
	assert.Equal(t, "{1}", nodes[0].Expression)
	assert.Equal(t, `x"}`, nodes[1].Expression)
	assert.Equal(t, 0, report.Dropped)
}

func TestDecode_LegacySignedColor(t *testing.T) {
	t.Parallel()

	nodes, _ := Decode(`[{"id":"a","expression":"1+1","result":"2.0","parentNodeIds":["x","y"],"connectionColor":-16721409}]`)

	require.Len(t, nodes, 1)
	assert.Equal(t, graph.Color(0xFF00D9FF), nodes[0].ConnectionColor)
	assert.Equal(t, []string{"x", "y"}, nodes[0].ParentIDs)
	assert.Equal(t, graph.Operator(""), nodes[0].Operator)
}

func TestRoundTrip_Generated(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	specials := []string{"\"", "\\", "\n", "\t", "\r", "{", "}", "[", "]", ",", ":", "é", "<&>"}
	randText := func() string {
		s := ""
		for i := rng.Intn(6); i > 0; i-- {
			if rng.Intn(2) == 0 {
				s += specials[rng.Intn(len(specials))]
			} else {
				s += string(rune('a' + rng.Intn(26)))
			}
		}
		return s
	}

	for round := 0; round < 25; round++ {
		count := rng.Intn(51)
		nodes := make([]graph.Node, count)
		for i := range nodes {
			n := graph.Node{
				ID:          fmt.Sprintf("%x-%d", rng.Int63(), i),
				Expression:  randText(),
				Result:      decimal.New(rng.Int63n(2_000_000)-1_000_000, -int32(rng.Intn(8))),
				Position:    graph.Position{X: rng.Float64() * 1000, Y: rng.NormFloat64() * 500},
				Name:        randText(),
				Description: randText(),
			}
			if i > 0 && rng.Intn(2) == 0 {
				n.ParentIDs = []string{nodes[rng.Intn(i)].ID, nodes[rng.Intn(i)].ID}
				n.Operator = graph.Operators[rng.Intn(len(graph.Operators))]
				n.ConnectionColor = graph.DefaultPalette[rng.Intn(len(graph.DefaultPalette))]
			}
			nodes[i] = n
		}

		text, err := Encode(nodes)
		require.NoError(t, err)
		got, report := Decode(text)

		assert.Equal(t, 0, report.Dropped)
		assertSameNodes(t, nodes, got)
	}
}
