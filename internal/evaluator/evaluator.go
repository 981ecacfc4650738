// Package evaluator turns calculator input into exact decimal results.
//
// The canvas treats evaluation as an opaque capability: it hands over an
// expression string and receives either a decimal or an error. The default
// implementation parses the text as an HCL arithmetic expression and computes
// it with cty's arbitrary-precision numbers.
package evaluator

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrEmptyExpression is returned for blank input.
	ErrEmptyExpression = errors.New("expression is empty")

	// ErrSyntax is returned when the input is not a valid arithmetic expression.
	ErrSyntax = errors.New("invalid expression syntax")

	// ErrNonFinite is returned when the result is NaN or infinite,
	// e.g. for a division by zero.
	ErrNonFinite = errors.New("invalid result: NaN or Infinity")

	// ErrNotANumber is returned when the expression evaluates to a non-numeric value.
	ErrNotANumber = errors.New("expression does not evaluate to a number")
)

// DefaultPrecision is the number of significant digits kept from a result.
// Results with more digits are rounded, so arithmetic is exact only up to
// this many digits.
const DefaultPrecision = 50

// Evaluator computes the value of an arithmetic expression.
type Evaluator interface {
	Evaluate(expression string) (decimal.Decimal, error)
}

// Func adapts a plain function to the Evaluator interface.
type Func func(expression string) (decimal.Decimal, error)

// Evaluate implements Evaluator.
func (f Func) Evaluate(expression string) (decimal.Decimal, error) {
	return f(expression)
}

// Options controls input normalization and output precision.
type Options struct {
	// GroupingSeparator is stripped from the input before parsing (e.g. ",").
	GroupingSeparator string

	// DecimalSeparator is replaced by "." before parsing. Empty means ".".
	DecimalSeparator string

	// Precision is the number of significant digits kept from a result.
	// Zero means DefaultPrecision.
	Precision int
}

// HCL evaluates expressions using the HCL native syntax expression grammar.
type HCL struct {
	opts Options
}

// New creates an HCL-backed evaluator.
func New(opts Options) *HCL {
	if opts.DecimalSeparator == "" {
		opts.DecimalSeparator = "."
	}
	if opts.Precision <= 0 {
		opts.Precision = DefaultPrecision
	}
	return &HCL{opts: opts}
}

// Evaluate implements Evaluator.
func (e *HCL) Evaluate(expression string) (decimal.Decimal, error) {
	src := e.normalize(expression)
	if src == "" {
		return decimal.Decimal{}, ErrEmptyExpression
	}

	expr, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrSyntax, diags.Error())
	}

	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		// cty refuses 0/0 and Inf/Inf instead of returning NaN.
		if indeterminateDivision(expr) {
			return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNonFinite, diags.Error())
		}
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrSyntax, diags.Error())
	}

	if val.IsNull() || !val.IsKnown() || !val.Type().Equals(cty.Number) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrNotANumber, expression)
	}

	bf := val.AsBigFloat()
	if bf.IsInf() {
		return decimal.Decimal{}, ErrNonFinite
	}

	d, err := decimal.NewFromString(bf.Text('g', e.opts.Precision))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("converting result: %w", err)
	}
	return d, nil
}

// indeterminateDivision reports whether expr divides zero by zero or an
// infinity by an infinity anywhere in its tree.
func indeterminateDivision(expr hclsyntax.Expression) bool {
	found := false
	hclsyntax.VisitAll(expr, func(node hclsyntax.Node) hcl.Diagnostics {
		op, ok := node.(*hclsyntax.BinaryOpExpr)
		if found || !ok || op.Op != hclsyntax.OpDivide {
			return nil
		}
		lhs, lok := numberValue(op.LHS)
		rhs, rok := numberValue(op.RHS)
		if lok && rok {
			found = (lhs.Sign() == 0 && rhs.Sign() == 0) || (lhs.IsInf() && rhs.IsInf())
		}
		return nil
	})
	return found
}

func numberValue(expr hclsyntax.Expression) (*big.Float, bool) {
	val, diags := expr.Value(nil)
	if diags.HasErrors() || val.IsNull() || !val.IsKnown() || !val.Type().Equals(cty.Number) {
		return nil, false
	}
	return val.AsBigFloat(), true
}

// normalize maps display glyphs and locale separators onto the HCL grammar.
func (e *HCL) normalize(expression string) string {
	s := strings.TrimSpace(expression)
	if e.opts.GroupingSeparator != "" {
		s = strings.ReplaceAll(s, e.opts.GroupingSeparator, "")
	}
	if e.opts.DecimalSeparator != "." {
		s = strings.ReplaceAll(s, e.opts.DecimalSeparator, ".")
	}
	return strings.NewReplacer("×", "*", "÷", "/", "−", "-").Replace(s)
}
