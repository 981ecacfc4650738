// Package mcp provides the MCP (Model Context Protocol) server for calcgraph.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/calcgraph-go/internal/codec"
	"github.com/Benny93/calcgraph-go/internal/graph"
	"github.com/Benny93/calcgraph-go/internal/storage"
)

const (
	serverName    = "calcgraph-go"
	serverVersion = "0.1.0"
)

// Server exposes a canvas to MCP clients. Tool calls are serialized; the
// canvas is saved to the backend after every successful mutation.
type Server struct {
	mu     sync.Mutex
	canvas *graph.Canvas
	store  storage.Backend
	logger *slog.Logger
	server *mcp.Server
}

// Tool represents an MCP tool.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// Resource represents an MCP resource.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// NewServer creates a server for canvas. store may be nil, in which case
// changes live only as long as the process.
func NewServer(canvas *graph.Canvas, store storage.Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		canvas: canvas,
		store:  store,
		logger: logger,
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s.registerTools()
	s.registerResources()

	return s
}

func nodeArg(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []Tool {
	ref := "Node id or unique id prefix"
	return []Tool{
		{
			Name:        "calc_add",
			Description: "Evaluate an arithmetic expression and add it to the canvas as a new root node.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"expression": {Type: "string", Description: "Expression such as 2+2 or (1+2)*3"},
				},
				Required: []string{"expression"},
			},
		},
		{
			Name:        "calc_combine",
			Description: "Combine the results of two nodes with an operator. The new node updates whenever either parent changes.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"source": nodeArg("Left operand node"),
					"target": nodeArg("Right operand node"),
					"operator": {
						Type:        "string",
						Description: "One of + - * /",
						Enum:        []any{"+", "-", "*", "/"},
					},
				},
				Required: []string{"source", "target", "operator"},
			},
		},
		{
			Name:        "calc_edit",
			Description: "Replace the expression of a root node and recompute every node derived from it.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node":       nodeArg(ref),
					"expression": {Type: "string", Description: "New expression"},
				},
				Required: []string{"node", "expression"},
			},
		},
		{
			Name:        "calc_rename",
			Description: "Set the display name of a node.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node": nodeArg(ref),
					"name": {Type: "string", Description: "New name, empty to clear"},
				},
				Required: []string{"node", "name"},
			},
		},
		{
			Name:        "calc_describe",
			Description: "Set the free-text description of a node.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node":        nodeArg(ref),
					"description": {Type: "string", Description: "New description, empty to clear"},
				},
				Required: []string{"node", "description"},
			},
		},
		{
			Name:        "calc_move",
			Description: "Move a node on the canvas.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node": nodeArg(ref),
					"x":    {Type: "number", Description: "Canvas x"},
					"y":    {Type: "number", Description: "Canvas y"},
				},
				Required: []string{"node", "x", "y"},
			},
		},
		{
			Name:        "calc_delete",
			Description: "Delete a node and every node derived from it.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"node": nodeArg(ref),
				},
				Required: []string{"node"},
			},
		},
		{
			Name:        "calc_list",
			Description: "List every node with its expression, result and parents.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
		{
			Name:        "calc_edges",
			Description: "List the provenance edges between nodes.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []Resource {
	return []Resource{
		{
			URI:         "calc://nodes",
			Name:        "Canvas Nodes",
			Description: "The persisted form of every node, as a JSON array",
			MimeType:    "application/json",
		},
		{
			URI:         "calc://overview",
			Name:        "Canvas Overview",
			Description: "Node and edge counts with a short listing",
			MimeType:    "text/plain",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.canvas.Version()
	out, err := s.callTool(name, args)
	if err != nil {
		s.logger.Debug("tool call failed", "tool", name, "error", err)
		return "", err
	}

	if s.store != nil && s.canvas.Version() != before {
		if err := storage.Save(ctx, s.store, s.canvas); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (s *Server) callTool(name string, args map[string]any) (string, error) {
	switch name {
	case "calc_add":
		expression, _ := args["expression"].(string)
		id, err := s.canvas.Evaluate(expression)
		if err != nil {
			return "", err
		}
		return "Added " + s.describe(id), nil

	case "calc_combine":
		source, err := s.resolve(args, "source")
		if err != nil {
			return "", err
		}
		target, err := s.resolve(args, "target")
		if err != nil {
			return "", err
		}
		op, _ := args["operator"].(string)
		id, err := s.canvas.Combine(source, target, graph.Operator(op))
		if err != nil {
			return "", err
		}
		return "Combined into " + s.describe(id), nil

	case "calc_edit":
		id, err := s.resolve(args, "node")
		if err != nil {
			return "", err
		}
		expression, _ := args["expression"].(string)
		if err := s.canvas.UpdateExpression(id, expression); err != nil {
			return "", err
		}
		return "Updated " + s.describe(id), nil

	case "calc_rename":
		id, err := s.resolve(args, "node")
		if err != nil {
			return "", err
		}
		name, _ := args["name"].(string)
		s.canvas.UpdateName(id, name)
		return "Renamed " + s.describe(id), nil

	case "calc_describe":
		id, err := s.resolve(args, "node")
		if err != nil {
			return "", err
		}
		description, _ := args["description"].(string)
		s.canvas.UpdateDescription(id, description)
		return "Described " + s.describe(id), nil

	case "calc_move":
		id, err := s.resolve(args, "node")
		if err != nil {
			return "", err
		}
		x, _ := args["x"].(float64)
		y, _ := args["y"].(float64)
		s.canvas.UpdatePosition(id, x, y)
		return fmt.Sprintf("Moved %s to (%g, %g)", id, x, y), nil

	case "calc_delete":
		id, err := s.resolve(args, "node")
		if err != nil {
			return "", err
		}
		removed := s.canvas.DeleteNode(id)
		return fmt.Sprintf("Deleted %s (%d node(s) removed)", id, removed), nil

	case "calc_list":
		return s.listNodes(), nil

	case "calc_edges":
		return s.listEdges(), nil

	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (s *Server) resolve(args map[string]any, key string) (string, error) {
	ref, _ := args[key].(string)
	return s.canvas.Resolve(ref)
}

// describe renders one node on a single line.
func (s *Server) describe(id string) string {
	n, ok := s.canvas.Node(id)
	if !ok {
		return id
	}
	line := fmt.Sprintf("`%s` %s = %s", n.ID, n.Expression, n.Result.String())
	if n.Name != "" {
		line += fmt.Sprintf(" (%s)", n.Name)
	}
	return line
}

func (s *Server) listNodes() string {
	nodes := s.canvas.Nodes()
	if len(nodes) == 0 {
		return "The canvas is empty. Use `calc_add` to evaluate an expression."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Nodes (%d)\n\n", len(nodes)))
	for i, n := range nodes {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, s.describe(n.ID)))
		if n.IsDerived() {
			sb.WriteString(fmt.Sprintf("   Parents: %s\n", strings.Join(n.ParentIDs, ", ")))
		}
		if n.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", n.Description))
		}
	}
	return sb.String()
}

func (s *Server) listEdges() string {
	edges := s.canvas.Edges()
	if len(edges) == 0 {
		return "No edges. Use `calc_combine` to derive a node from two others."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Edges (%d)\n\n", len(edges)))
	for _, e := range edges {
		sb.WriteString(fmt.Sprintf("- %s -> %s (#%08X)\n", e.FromID, e.ToID, uint32(e.Color)))
	}
	return sb.String()
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch uri {
	case "calc://nodes":
		return codec.Encode(s.canvas.Nodes())
	case "calc://overview":
		return s.overview(), nil
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func (s *Server) overview() string {
	var sb strings.Builder
	sb.WriteString("# Canvas Overview\n\n")

	roots := 0
	for _, n := range s.canvas.Nodes() {
		if !n.IsDerived() {
			roots++
		}
	}
	sb.WriteString(fmt.Sprintf("**Nodes:** %d (%d root, %d derived)\n", s.canvas.Len(), roots, s.canvas.Len()-roots))
	sb.WriteString(fmt.Sprintf("**Edges:** %d\n", len(s.canvas.Edges())))
	if src, tgt, ok := s.canvas.PendingCombination(); ok {
		sb.WriteString(fmt.Sprintf("**Pending combination:** %s with %s\n", src, tgt))
	}
	sb.WriteString("\n")
	sb.WriteString(s.listNodes())
	return sb.String()
}

// Serve runs the SDK server on transport until the client disconnects.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// registerTools mirrors ListTools onto the SDK server.
func (s *Server) registerTools() {
	for _, tool := range s.ListTools() {
		name := tool.Name
		s.server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args map[string]any
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decoding arguments: %w", err)
				}
			}
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: text}},
			}, nil
		})
	}
}

// registerResources mirrors ListResources onto the SDK server.
func (s *Server) registerResources() {
	for _, res := range s.ListResources() {
		mimeType := res.MimeType
		s.server.AddResource(&mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: req.Params.URI, MIMEType: mimeType, Text: text},
				},
			}, nil
		})
	}
}
