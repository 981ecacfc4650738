// Package cmd provides CLI command implementations for calcgraph.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/calcgraph-go/internal/codec"
	"github.com/Benny93/calcgraph-go/internal/config"
	"github.com/Benny93/calcgraph-go/internal/evaluator"
	"github.com/Benny93/calcgraph-go/internal/graph"
	"github.com/Benny93/calcgraph-go/internal/storage"
	"github.com/Benny93/calcgraph-go/internal/worksheet"
	"github.com/Benny93/calcgraph-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App carries the resolved configuration into every command.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Out        io.Writer
}

func (a *App) evaluator() *evaluator.HCL {
	return evaluator.New(a.Config.EvaluatorOptions())
}

func (a *App) newCanvas() (*graph.Canvas, error) {
	opts, err := a.Config.CanvasOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, graph.WithLogger(a.Logger))
	return graph.New(a.evaluator(), opts...), nil
}

// session is a canvas restored from the configured backend.
type session struct {
	canvas *graph.Canvas
	store  storage.Backend
}

func (a *App) openStore() (storage.Backend, error) {
	st := a.Config.Storage
	if st.Backend != storage.KindMemory {
		if err := os.MkdirAll(st.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return storage.Open(st.Backend, st.DataDir, false)
}

func (a *App) openSession(ctx context.Context) (*session, error) {
	canvas, err := a.newCanvas()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	report, err := storage.Restore(ctx, store, canvas)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if report.Dropped > 0 {
		a.Logger.Warn("dropped unreadable nodes from saved canvas", "dropped", report.Dropped, "records", report.Records)
	}
	return &session{canvas: canvas, store: store}, nil
}

func (s *session) save(ctx context.Context) error {
	return storage.Save(ctx, s.store, s.canvas)
}

func (s *session) close() {
	_ = s.store.Close()
}

// mutate restores the canvas, applies fn and saves the result.
func (a *App) mutate(fn func(c *graph.Canvas) error) error {
	ctx := context.Background()
	s, err := a.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if err := fn(s.canvas); err != nil {
		return err
	}
	return s.save(ctx)
}

// inspect restores the canvas and hands it to fn without saving.
func (a *App) inspect(fn func(c *graph.Canvas) error) error {
	s, err := a.openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s.canvas)
}

// EvalCmd evaluates an expression without touching the canvas.
type EvalCmd struct {
	Expression string `arg:"" help:"Arithmetic expression"`
}

// Run executes the eval command.
func (c *EvalCmd) Run(app *App) error {
	result, err := app.evaluator().Evaluate(c.Expression)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, result.String())
	return nil
}

// AddCmd evaluates an expression and stores it as a root node.
type AddCmd struct {
	Expression string `arg:"" help:"Arithmetic expression"`
	Name       string `short:"n" help:"Display name"`
}

// Run executes the add command.
func (c *AddCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Evaluate(c.Expression)
		if err != nil {
			return err
		}
		if c.Name != "" {
			canvas.UpdateName(id, c.Name)
		}
		printAdded(app.Out, canvas, id)
		return nil
	})
}

// CombineCmd derives a node from two others.
type CombineCmd struct {
	Source   string `arg:"" help:"Left operand node"`
	Operator string `arg:"" enum:"+,-,*,/" help:"Operator (+, -, *, /)"`
	Target   string `arg:"" help:"Right operand node"`
	Name     string `short:"n" help:"Display name"`
}

// Run executes the combine command.
func (c *CombineCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		source, err := canvas.Resolve(c.Source)
		if err != nil {
			return err
		}
		target, err := canvas.Resolve(c.Target)
		if err != nil {
			return err
		}

		// Route through the pending slot, as a drop followed by an operator pick.
		canvas.SetPendingCombination(source, target)
		id, err := canvas.CombinePending(graph.Operator(c.Operator))
		if err != nil {
			return err
		}
		if c.Name != "" {
			canvas.UpdateName(id, c.Name)
		}
		printAdded(app.Out, canvas, id)
		return nil
	})
}

// EditCmd replaces the expression of a root node.
type EditCmd struct {
	Node       string `arg:"" help:"Node id or unique prefix"`
	Expression string `arg:"" help:"New expression"`
}

// Run executes the edit command.
func (c *EditCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Resolve(c.Node)
		if err != nil {
			return err
		}
		before := canvas.Nodes()
		if err := canvas.UpdateExpression(id, c.Expression); err != nil {
			return err
		}

		changed := 0
		for _, old := range before {
			n, ok := canvas.Node(old.ID)
			if ok && n.ID != id && n.Expression != old.Expression {
				changed++
			}
		}
		n, _ := canvas.Node(id)
		color.New(color.FgGreen).Fprintf(app.Out, "Updated %s\n", shortID(id))
		fmt.Fprintf(app.Out, "  %s = %s\n", n.Expression, n.Result.String())
		fmt.Fprintf(app.Out, "  Recomputed %d dependent node(s)\n", changed)
		return nil
	})
}

// RenameCmd sets a node's display name.
type RenameCmd struct {
	Node string `arg:"" help:"Node id or unique prefix"`
	Name string `arg:"" help:"New name (empty to clear)"`
}

// Run executes the rename command.
func (c *RenameCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Resolve(c.Node)
		if err != nil {
			return err
		}
		canvas.UpdateName(id, c.Name)
		fmt.Fprintf(app.Out, "Renamed %s to %q\n", shortID(id), c.Name)
		return nil
	})
}

// DescribeCmd sets a node's description.
type DescribeCmd struct {
	Node        string `arg:"" help:"Node id or unique prefix"`
	Description string `arg:"" help:"New description (empty to clear)"`
}

// Run executes the describe command.
func (c *DescribeCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Resolve(c.Node)
		if err != nil {
			return err
		}
		canvas.UpdateDescription(id, c.Description)
		fmt.Fprintf(app.Out, "Described %s\n", shortID(id))
		return nil
	})
}

// MoveCmd moves a node on the canvas.
type MoveCmd struct {
	Node string  `arg:"" help:"Node id or unique prefix"`
	X    float64 `arg:"" help:"Canvas x"`
	Y    float64 `arg:"" help:"Canvas y"`
}

// Run executes the move command.
func (c *MoveCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Resolve(c.Node)
		if err != nil {
			return err
		}
		canvas.UpdatePosition(id, c.X, c.Y)
		fmt.Fprintf(app.Out, "Moved %s to (%g, %g)\n", shortID(id), c.X, c.Y)
		return nil
	})
}

// DeleteCmd removes a node and its descendants.
type DeleteCmd struct {
	Node string `arg:"" help:"Node id or unique prefix"`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(app *App) error {
	return app.mutate(func(canvas *graph.Canvas) error {
		id, err := canvas.Resolve(c.Node)
		if err != nil {
			return err
		}
		removed := canvas.DeleteNode(id)
		color.New(color.FgYellow).Fprintf(app.Out, "Deleted %s (%d node(s) removed)\n", shortID(id), removed)
		return nil
	})
}

// ListCmd prints every node.
type ListCmd struct {
	Full bool `help:"Show full ids and positions"`
}

// Run executes the list command.
func (c *ListCmd) Run(app *App) error {
	return app.inspect(func(canvas *graph.Canvas) error {
		nodes := canvas.Nodes()
		if len(nodes) == 0 {
			fmt.Fprintln(app.Out, "Canvas is empty. Add a node with `calcgraph add <expression>`.")
			return nil
		}

		for i, n := range nodes {
			id := shortID(n.ID)
			if c.Full {
				id = n.ID
			}
			fmt.Fprintf(app.Out, "%d. %s  %s = %s", i+1, color.CyanString(id), n.Expression, color.New(color.Bold).Sprint(n.Result.String()))
			if n.Name != "" {
				fmt.Fprintf(app.Out, "  (%s)", n.Name)
			}
			fmt.Fprintln(app.Out)

			if n.IsDerived() {
				parents := make([]string, len(n.ParentIDs))
				for j, p := range n.ParentIDs {
					parents[j] = shortID(p)
					if c.Full {
						parents[j] = p
					}
				}
				fmt.Fprintf(app.Out, "   Parents: %s\n", strings.Join(parents, ", "))
			}
			if n.Description != "" {
				fmt.Fprintf(app.Out, "   %s\n", n.Description)
			}
			if c.Full {
				fmt.Fprintf(app.Out, "   Position: (%g, %g)\n", n.Position.X, n.Position.Y)
			}
		}
		return nil
	})
}

// EdgesCmd prints the provenance edges.
type EdgesCmd struct{}

// Run executes the edges command.
func (c *EdgesCmd) Run(app *App) error {
	return app.inspect(func(canvas *graph.Canvas) error {
		edges := canvas.Edges()
		if len(edges) == 0 {
			fmt.Fprintln(app.Out, "No edges")
			return nil
		}
		for _, e := range edges {
			fmt.Fprintf(app.Out, "%s -> %s  #%08X\n", shortID(e.FromID), shortID(e.ToID), uint32(e.Color))
		}
		return nil
	})
}

// ExportCmd writes the canvas in its persisted form.
type ExportCmd struct {
	Output string `short:"o" help:"Write to file instead of stdout"`
}

// Run executes the export command.
func (c *ExportCmd) Run(app *App) error {
	return app.inspect(func(canvas *graph.Canvas) error {
		text, err := codec.Encode(canvas.Nodes())
		if err != nil {
			return err
		}
		if c.Output == "" {
			fmt.Fprintln(app.Out, text)
			return nil
		}
		if err := os.WriteFile(c.Output, []byte(text), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", c.Output, err)
		}
		fmt.Fprintf(app.Out, "Exported %d node(s) to %s\n", canvas.Len(), c.Output)
		return nil
	})
}

// ImportCmd replaces the canvas with an exported file.
type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"Exported canvas file"`
}

// Run executes the import command.
func (c *ImportCmd) Run(app *App) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.File, err)
	}
	nodes, report := codec.Decode(string(data))
	nodes, dropped := graph.Repair(nodes)
	report.Dropped += dropped

	return app.mutate(func(canvas *graph.Canvas) error {
		if err := canvas.Load(nodes); err != nil {
			return err
		}
		color.New(color.FgGreen).Fprintf(app.Out, "Imported %d node(s)\n", canvas.Len())
		if report.Dropped > 0 {
			color.New(color.FgYellow).Fprintf(app.Out, "  Skipped %d unreadable record(s)\n", report.Dropped)
		}
		return nil
	})
}

// ClearCmd deletes the saved canvas without restoring it first.
type ClearCmd struct{}

// Run executes the clear command.
func (c *ClearCmd) Run(app *App) error {
	ctx := context.Background()
	store, err := app.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	count, err := storage.Count(ctx, store)
	if err != nil {
		return err
	}
	if err := storage.Clear(ctx, store); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Cleared %d node(s)\n", count)
	return nil
}

// RunCmd applies a worksheet to the saved canvas.
type RunCmd struct {
	File   string `arg:"" type:"existingfile" help:"Worksheet YAML file"`
	DryRun bool   `help:"Apply to a copy and do not save"`
}

// Run executes the run command.
func (c *RunCmd) Run(app *App) error {
	ws, err := worksheet.ParseFile(c.File)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	report := worksheet.Run(s.canvas, ws, app.Logger)
	printReport(app.Out, s.canvas, report)

	if c.DryRun {
		return nil
	}
	return s.save(ctx)
}

// WatchCmd re-runs a worksheet on a scratch canvas whenever it changes.
type WatchCmd struct {
	File string `arg:"" type:"existingfile" help:"Worksheet YAML file"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rerun := func() {
		ws, err := worksheet.ParseFile(c.File)
		if err != nil {
			color.New(color.FgRed).Fprintf(app.Out, "%v\n", err)
			return
		}
		canvas, err := app.newCanvas()
		if err != nil {
			color.New(color.FgRed).Fprintf(app.Out, "%v\n", err)
			return
		}
		report := worksheet.Run(canvas, ws, app.Logger)
		printReport(app.Out, canvas, report)
	}

	rerun()
	fmt.Fprintf(app.Out, "Watching %s for changes (Ctrl+C to stop)\n", c.File)

	err := worksheet.Watch(ctx, c.File, worksheet.DefaultDebounce, app.Logger, func() {
		fmt.Fprintln(app.Out)
		rerun()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(app *App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := app.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	server := mcp.NewServer(s.canvas, s.store, app.Logger)

	// Nothing else may write to stdout while the server owns it.
	err = server.Serve(ctx, &sdk.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StatusCmd shows configuration and canvas statistics.
type StatusCmd struct{}

// Run executes the status command.
func (c *StatusCmd) Run(app *App) error {
	return app.inspect(func(canvas *graph.Canvas) error {
		cfgPath := app.ConfigPath
		if cfgPath == "" {
			cfgPath = "(defaults)"
		}

		derived := 0
		for _, n := range canvas.Nodes() {
			if n.IsDerived() {
				derived++
			}
		}

		color.New(color.Bold).Fprintln(app.Out, "calcgraph status")
		fmt.Fprintf(app.Out, "  Version:  %s\n", Version)
		fmt.Fprintf(app.Out, "  Config:   %s\n", cfgPath)
		fmt.Fprintf(app.Out, "  Backend:  %s\n", app.Config.Storage.Backend)
		fmt.Fprintf(app.Out, "  Data dir: %s\n", app.Config.Storage.DataDir)
		fmt.Fprintf(app.Out, "  Nodes:    %d (%d root, %d derived)\n", canvas.Len(), canvas.Len()-derived, derived)
		fmt.Fprintf(app.Out, "  Edges:    %d\n", len(canvas.Edges()))
		return nil
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printAdded(w io.Writer, canvas *graph.Canvas, id string) {
	n, _ := canvas.Node(id)
	color.New(color.FgGreen).Fprintf(w, "Added %s\n", shortID(id))
	fmt.Fprintf(w, "  %s = %s\n", n.Expression, n.Result.String())
}

func printReport(w io.Writer, canvas *graph.Canvas, report worksheet.Report) {
	for _, r := range report.Results {
		if r.Err != nil {
			color.New(color.FgRed).Fprintf(w, "✗ step %d (%s): %v\n", r.Index, r.Action, r.Err)
			continue
		}
		line := fmt.Sprintf("✓ step %d (%s)", r.Index, r.Action)
		if n, ok := canvas.Node(r.NodeID); ok {
			line += fmt.Sprintf("  %s = %s", n.Expression, n.Result.String())
		}
		if r.Removed > 0 {
			line += fmt.Sprintf("  removed %d", r.Removed)
		}
		fmt.Fprintln(w, line)
	}

	summary := fmt.Sprintf("%d step(s), %d failed, %d node(s) on canvas",
		len(report.Results), report.Failed(), canvas.Len())
	if report.Failed() > 0 {
		color.New(color.FgYellow).Fprintln(w, summary)
	} else {
		color.New(color.FgGreen).Fprintln(w, summary)
	}
}

// CLI is the root Kong command structure.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Verbose bool             `short:"v" help:"Enable verbose output"`
	Quiet   bool             `short:"q" help:"Suppress non-essential output"`
	Config  string           `help:"Config file path" type:"path"`
	DataDir string           `help:"Directory holding the saved canvas" type:"path"`
	Backend string           `help:"Storage backend (badger, sqlite, memory)"`

	// Commands
	Eval     EvalCmd     `cmd:"" help:"Evaluate an expression without saving it"`
	Add      AddCmd      `cmd:"" help:"Add a calculation to the canvas"`
	Combine  CombineCmd  `cmd:"" help:"Combine two nodes into a derived node"`
	Edit     EditCmd     `cmd:"" help:"Change a calculation and update its dependents"`
	Rename   RenameCmd   `cmd:"" help:"Set a node's name"`
	Describe DescribeCmd `cmd:"" help:"Set a node's description"`
	Move     MoveCmd     `cmd:"" help:"Move a node on the canvas"`
	Delete   DeleteCmd   `cmd:"" help:"Delete a node and everything derived from it"`
	List     ListCmd     `cmd:"" help:"List all nodes"`
	Edges    EdgesCmd    `cmd:"" help:"List provenance edges"`
	Export   ExportCmd   `cmd:"" help:"Export the canvas"`
	Import   ImportCmd   `cmd:"" help:"Replace the canvas with an exported file"`
	Clear    ClearCmd    `cmd:"" help:"Delete the saved canvas"`
	Run      RunCmd      `cmd:"" help:"Apply a worksheet to the canvas"`
	Watch    WatchCmd    `cmd:"" help:"Re-run a worksheet on every change"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
	Status   StatusCmd   `cmd:"" help:"Show configuration and canvas statistics"`

	out io.Writer `kong:"-"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{out: os.Stdout}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("calcgraph"),
		kong.Description("Calculator whose results form a live dependency graph"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	app, err := c.newApp()
	if err != nil {
		return err
	}
	return kongCtx.Run(app)
}

// newApp loads the config file and applies flag overrides.
func (c *CLI) newApp() (*App, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if c.Config != "" {
		cfg, path, err = config.LoadFromPath(c.Config)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if c.DataDir != "" {
		cfg.Storage.DataDir = c.DataDir
	}
	if c.Backend != "" {
		cfg.Storage.Backend = storage.Kind(c.Backend)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch {
	case c.Verbose:
		level = slog.LevelDebug
	case c.Quiet:
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	return &App{Config: cfg, ConfigPath: path, Logger: logger, Out: out}, nil
}
