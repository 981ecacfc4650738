// Package codec serializes the canvas node list to a flat text blob and back.
//
// The blob is a JSON array with one object per node. Decoding is lenient:
// a record that lacks an id or expression, or whose result is not a valid
// decimal, is dropped without affecting the others.
package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Benny93/calcgraph-go/internal/graph"
)

// record is the persisted form of a node. Field names are kept stable so
// that existing saved canvases keep loading.
type record struct {
	ID              *string  `json:"id"`
	Expression      *string  `json:"expression"`
	Result          *string  `json:"result"`
	PositionX       float64  `json:"positionX"`
	PositionY       float64  `json:"positionY"`
	ParentNodeIDs   []string `json:"parentNodeIds"`
	ConnectionColor int64    `json:"connectionColor"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Operator        string   `json:"operator,omitempty"`
}

// Report describes the outcome of a Decode.
type Report struct {
	// Records is the number of records found in the input.
	Records int

	// Dropped is the number of records that failed to parse.
	Dropped int
}

// Encode renders nodes as a JSON array, one object per node.
func Encode(nodes []graph.Node) (string, error) {
	records := make([]record, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		id, expr, result := n.ID, n.Expression, n.Result.String()
		parents := n.ParentIDs
		if parents == nil {
			parents = []string{}
		}
		records[i] = record{
			ID:              &id,
			Expression:      &expr,
			Result:          &result,
			PositionX:       n.Position.X,
			PositionY:       n.Position.Y,
			ParentNodeIDs:   parents,
			ConnectionColor: int64(n.ConnectionColor),
			Name:            n.Name,
			Description:     n.Description,
			Operator:        string(n.Operator),
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Decode parses text produced by Encode. Empty input yields no nodes.
// Malformed records are skipped; if the array itself is damaged, every
// complete object that can still be found is tried on its own.
func Decode(text string) ([]graph.Node, Report) {
	var report Report
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, report
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		raw = scanObjects(text)
	}

	nodes := make([]graph.Node, 0, len(raw))
	for _, msg := range raw {
		report.Records++
		n, ok := decodeRecord(msg)
		if !ok {
			report.Dropped++
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, report
}

func decodeRecord(msg json.RawMessage) (graph.Node, bool) {
	var r record
	if err := json.Unmarshal(msg, &r); err != nil {
		return graph.Node{}, false
	}
	if r.ID == nil || *r.ID == "" || r.Expression == nil || r.Result == nil {
		return graph.Node{}, false
	}
	result, err := decimal.NewFromString(*r.Result)
	if err != nil {
		return graph.Node{}, false
	}

	var parents []string
	if len(r.ParentNodeIDs) > 0 {
		parents = r.ParentNodeIDs
	}
	return graph.Node{
		ID:         *r.ID,
		Expression: *r.Expression,
		Result:     result,
		Position:   graph.Position{X: r.PositionX, Y: r.PositionY},
		ParentIDs:  parents,
		Operator:   graph.Operator(r.Operator),
		// Older saves stored colors as signed 32-bit ARGB.
		ConnectionColor: graph.Color(uint32(r.ConnectionColor)),
		Name:            r.Name,
		Description:     r.Description,
	}, true
}

// scanObjects extracts the top-level {...} objects from a damaged array,
// honoring string literals so that braces inside text do not confuse it.
func scanObjects(text string) []json.RawMessage {
	var (
		out      []json.RawMessage
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, json.RawMessage(text[start:i+1]))
				start = -1
			}
		}
	}
	return out
}
