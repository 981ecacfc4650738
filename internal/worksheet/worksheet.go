// Package worksheet replays scripted calculator sessions against a canvas.
//
// A worksheet is a YAML document with a list of steps:
//
//	steps:
//	  - add: "2+2"
//	    as: a
//	  - add: "10/2"
//	    as: b
//	  - combine: [a, b]
//	    op: "+"
//	    as: total
//	  - edit: a
//	    expression: "3+3"
//
// Node references are aliases bound with "as", full ids, or unique id prefixes.
package worksheet

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/calcgraph-go/internal/graph"
)

// ErrInvalidStep is returned by Parse for steps without exactly one action.
var ErrInvalidStep = errors.New("invalid worksheet step")

// Worksheet is a parsed step list.
type Worksheet struct {
	Steps []Step `yaml:"steps"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Add      string   `yaml:"add,omitempty"`
	Combine  []string `yaml:"combine,omitempty"`
	Edit     string   `yaml:"edit,omitempty"`
	Rename   string   `yaml:"rename,omitempty"`
	Describe string   `yaml:"describe,omitempty"`
	Move     string   `yaml:"move,omitempty"`
	Delete   string   `yaml:"delete,omitempty"`

	Op          string   `yaml:"op,omitempty"`
	Expression  string   `yaml:"expression,omitempty"`
	Name        string   `yaml:"name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	X           *float64 `yaml:"x,omitempty"`
	Y           *float64 `yaml:"y,omitempty"`

	// As binds the created node to an alias for later steps.
	As string `yaml:"as,omitempty"`
}

// Action names the step's action, or "" if none or several are set.
func (s Step) Action() string {
	var actions []string
	if s.Add != "" {
		actions = append(actions, "add")
	}
	if len(s.Combine) > 0 {
		actions = append(actions, "combine")
	}
	if s.Edit != "" {
		actions = append(actions, "edit")
	}
	if s.Rename != "" {
		actions = append(actions, "rename")
	}
	if s.Describe != "" {
		actions = append(actions, "describe")
	}
	if s.Move != "" {
		actions = append(actions, "move")
	}
	if s.Delete != "" {
		actions = append(actions, "delete")
	}
	if len(actions) != 1 {
		return ""
	}
	return actions[0]
}

func (s Step) validate() error {
	switch s.Action() {
	case "":
		return fmt.Errorf("%w: need exactly one action", ErrInvalidStep)
	case "combine":
		if len(s.Combine) != 2 {
			return fmt.Errorf("%w: combine takes two nodes, got %d", ErrInvalidStep, len(s.Combine))
		}
		if !graph.Operator(s.Op).Valid() {
			return fmt.Errorf("%w: %w %q", ErrInvalidStep, graph.ErrUnknownOperator, s.Op)
		}
	case "edit":
		if s.Expression == "" {
			return fmt.Errorf("%w: edit needs an expression", ErrInvalidStep)
		}
	case "move":
		if s.X == nil || s.Y == nil {
			return fmt.Errorf("%w: move needs x and y", ErrInvalidStep)
		}
	}
	return nil
}

// Parse decodes and validates a worksheet.
func Parse(data []byte) (*Worksheet, error) {
	var ws Worksheet
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse worksheet: %w", err)
	}
	for i, s := range ws.Steps {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &ws, nil
}

// ParseFile reads and parses the worksheet at path.
func ParseFile(path string) (*Worksheet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worksheet: %w", err)
	}
	return Parse(data)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index  int
	Action string

	// NodeID is the node the step created or touched.
	NodeID string

	// Removed counts the nodes removed by a delete step.
	Removed int

	Err error
}

// Report collects the outcome of a run.
type Report struct {
	Results []StepResult
	Aliases map[string]string
}

// Failed returns the number of steps that did not apply.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Run applies the steps to c in order. A failing step leaves the canvas
// unchanged, is recorded in the report, and the run continues.
func Run(c *graph.Canvas, ws *Worksheet, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}

	r := runner{canvas: c, aliases: make(map[string]string)}
	report := Report{Aliases: r.aliases}
	for i, s := range ws.Steps {
		res := r.apply(s)
		res.Index = i + 1
		res.Action = s.Action()
		if res.Err != nil {
			logger.Warn("worksheet step failed", "step", res.Index, "action", res.Action, "error", res.Err)
		} else if s.As != "" && res.NodeID != "" {
			r.aliases[s.As] = res.NodeID
		}
		report.Results = append(report.Results, res)
	}
	return report
}

type runner struct {
	canvas  *graph.Canvas
	aliases map[string]string
}

func (r *runner) resolve(ref string) (string, error) {
	if id, ok := r.aliases[ref]; ok {
		return r.canvas.Resolve(id)
	}
	return r.canvas.Resolve(ref)
}

func (r *runner) apply(s Step) StepResult {
	switch s.Action() {
	case "add":
		id, err := r.canvas.Evaluate(s.Add)
		return StepResult{NodeID: id, Err: err}

	case "combine":
		src, err := r.resolve(s.Combine[0])
		if err != nil {
			return StepResult{Err: err}
		}
		tgt, err := r.resolve(s.Combine[1])
		if err != nil {
			return StepResult{Err: err}
		}
		id, err := r.canvas.Combine(src, tgt, graph.Operator(s.Op))
		return StepResult{NodeID: id, Err: err}

	case "edit":
		id, err := r.resolve(s.Edit)
		if err != nil {
			return StepResult{Err: err}
		}
		return StepResult{NodeID: id, Err: r.canvas.UpdateExpression(id, s.Expression)}

	case "rename":
		return r.update(s.Rename, func(id string) bool { return r.canvas.UpdateName(id, s.Name) })

	case "describe":
		return r.update(s.Describe, func(id string) bool { return r.canvas.UpdateDescription(id, s.Description) })

	case "move":
		return r.update(s.Move, func(id string) bool { return r.canvas.UpdatePosition(id, *s.X, *s.Y) })

	case "delete":
		id, err := r.resolve(s.Delete)
		if err != nil {
			return StepResult{Err: err}
		}
		return StepResult{NodeID: id, Removed: r.canvas.DeleteNode(id)}
	}
	return StepResult{Err: ErrInvalidStep}
}

func (r *runner) update(ref string, fn func(id string) bool) StepResult {
	id, err := r.resolve(ref)
	if err != nil {
		return StepResult{Err: err}
	}
	if !fn(id) {
		return StepResult{NodeID: id, Err: fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)}
	}
	return StepResult{NodeID: id}
}
