package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ape-lang/ape/internal/ast"
)

func TestDisabledByDefaultReturnsNil(t *testing.T) {
	p := New(false)
	expr := &ast.InfixExpression{
		Left:     &ast.NumberLiteral{Value: 1, IsInt: true},
		Operator: "+",
		Right:    &ast.NumberLiteral{Value: 2, IsInt: true},
	}
	require.Nil(t, p.Fold(expr))
}

func TestFoldsNumericInfix(t *testing.T) {
	p := New(true)
	expr := &ast.InfixExpression{
		Left:     &ast.NumberLiteral{Value: 1, IsInt: true},
		Operator: "+",
		Right:    &ast.NumberLiteral{Value: 2, IsInt: true},
	}
	got := p.Fold(expr)
	require.NotNil(t, got)
	num, ok := got.(*ast.NumberLiteral)
	require.True(t, ok)
	require.Equal(t, float64(3), num.Value)
}

func TestFoldsStringConcat(t *testing.T) {
	p := New(true)
	expr := &ast.InfixExpression{
		Left:     &ast.StringLiteral{Value: "a"},
		Operator: "+",
		Right:    &ast.StringLiteral{Value: "b"},
	}
	got := p.Fold(expr)
	str, ok := got.(*ast.StringLiteral)
	require.True(t, ok)
	require.Equal(t, "ab", str.Value)
}

func TestFoldsNestedChildrenFirst(t *testing.T) {
	p := New(true)
	inner := &ast.InfixExpression{
		Left:     &ast.NumberLiteral{Value: 2, IsInt: true},
		Operator: "*",
		Right:    &ast.NumberLiteral{Value: 3, IsInt: true},
	}
	outer := &ast.InfixExpression{
		Left:     &ast.NumberLiteral{Value: 1, IsInt: true},
		Operator: "+",
		Right:    inner,
	}
	got := p.Fold(outer)
	num, ok := got.(*ast.NumberLiteral)
	require.True(t, ok)
	require.Equal(t, float64(7), num.Value)
}

func TestIdempotent(t *testing.T) {
	p := New(true)
	// A second fold of an already-folded literal is a no-op: re-running the
	// pass on the result must report "no change".
	once := p.Fold(&ast.PrefixExpression{Operator: "-", Right: &ast.NumberLiteral{Value: 5, IsInt: true}})
	require.Nil(t, p.Fold(once))
}
