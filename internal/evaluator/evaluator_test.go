package evaluator

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHCL_Evaluate(t *testing.T) {
	t.Parallel()

	e := New(Options{})

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"Addition", "2+2", "4"},
		{"Division", "10/2", "5"},
		{"Fraction", "5/2", "2.5"},
		{"Precedence", "2+3*4", "14"},
		{"Parentheses", "(2+3)*4", "20"},
		{"NegativeOperand", "5+-3", "2"},
		{"DoubleMinus", "5--3", "8"},
		{"LeadingNegative", "-4*2", "-8"},
		{"DecimalOperands", "0.1+0.2", "0.3"},
		{"Whitespace", "  7 - 2 ", "5"},
		{"DisplayGlyphs", "6×2÷3−1", "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := e.Evaluate(tt.expr)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestHCL_EvaluateErrors(t *testing.T) {
	t.Parallel()

	e := New(Options{})

	tests := []struct {
		name string
		expr string
		want error
	}{
		{"Empty", "", ErrEmptyExpression},
		{"Blank", "   ", ErrEmptyExpression},
		{"DivideByZero", "4/0", ErrNonFinite},
		{"ZeroByZero", "0/0", ErrNonFinite},
		{"NestedZeroByZero", "1+(2-2)/(3*0)", ErrNonFinite},
		{"InfinityByInfinity", "(1/0)/(2/0)", ErrNonFinite},
		{"Garbage", "2+*", ErrSyntax},
		{"Variable", "x+1", ErrSyntax},
		{"String", `"abc"`, ErrNotANumber},
		{"Bool", "true", ErrNotANumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Evaluate(tt.expr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHCL_Separators(t *testing.T) {
	t.Parallel()

	e := New(Options{GroupingSeparator: ".", DecimalSeparator: ","})

	got, err := e.Evaluate("1.000,5+0,5")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1001).Equal(got))
}

func TestHCL_Precision(t *testing.T) {
	t.Parallel()

	got, err := New(Options{Precision: 5}).Evaluate("1/3")
	require.NoError(t, err)
	assert.Equal(t, "0.33333", got.String())

	got, err = New(Options{}).Evaluate("99999999999999999999999999999999*10")
	require.NoError(t, err)
	assert.Equal(t, "999999999999999999999999999999990", got.String())

	// Beyond DefaultPrecision digits the result is rounded.
	got, err = New(Options{}).Evaluate("1/3")
	require.NoError(t, err)
	assert.Equal(t, "0."+strings.Repeat("3", DefaultPrecision), got.String())
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var seen string
	f := Func(func(expression string) (decimal.Decimal, error) {
		seen = expression
		return decimal.NewFromInt(42), nil
	})

	got, err := f.Evaluate("anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", seen)
	assert.True(t, decimal.NewFromInt(42).Equal(got))
}
