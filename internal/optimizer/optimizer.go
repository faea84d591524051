// Package optimizer implements the pure constant-folding peephole pass over
// an AST (spec.md §4.3).
//
// Fold returns a freshly allocated literal node when it can simplify expr,
// or nil to mean "no change" — the same two-outcome contract spec.md's
// source describes. Per spec.md §9's open question, the pass is fully
// implemented but the source "short-circuits and returns nothing before
// the dispatch", so the pass is gated behind an explicit flag held by
// [Pass]: a disabled Pass returns nil from every Fold call. See DESIGN.md.
package optimizer

import (
	"github.com/ape-lang/ape/internal/ast"
)

// Enabled mirrors the source's observed behavior: the optimizer ships
// fully implemented but disabled by default (spec.md §9 Open Questions).
// The value a [Pass] actually uses is the one passed to [New]
// (ape.Config.OptimizerEnabled); this constant only records the default.
const Enabled = false

// Pass runs the constant folder. Fold does nothing unless enabled is true;
// the zero-value Pass behaves as disabled.
type Pass struct {
	enabled bool
}

// New creates a Pass. enabled should come from ape.Config.OptimizerEnabled.
func New(enabled bool) *Pass {
	return &Pass{enabled: enabled}
}

// Fold recursively constant-folds expr's children first, then the node
// itself, returning a new node if it simplified or nil otherwise. When the
// pass is disabled it always returns nil, matching the source's
// short-circuit (spec.md §9).
func (p *Pass) Fold(expr ast.Expression) ast.Expression {
	if !p.enabled || expr == nil {
		return nil
	}
	return fold(expr)
}

func fold(expr ast.Expression) ast.Expression {
	switch n := expr.(type) {
	case *ast.PrefixExpression:
		right := n.Right
		if folded := fold(right); folded != nil {
			right = folded
		}
		return foldPrefix(n, right)

	case *ast.InfixExpression:
		left, rright := n.Left, n.Right
		if folded := fold(left); folded != nil {
			left = folded
		}
		if folded := fold(rright); folded != nil {
			rright = folded
		}
		return foldInfix(n, left, rright)

	default:
		return nil
	}
}

func foldPrefix(n *ast.PrefixExpression, right ast.Expression) ast.Expression {
	switch n.Operator {
	case "-":
		if num, ok := right.(*ast.NumberLiteral); ok {
			return &ast.NumberLiteral{Base: n.Base, Value: -num.Value, IsInt: num.IsInt}
		}
	case "!":
		if b, ok := right.(*ast.BoolLiteral); ok {
			return &ast.BoolLiteral{Base: n.Base, Value: !b.Value}
		}
	}
	return nil
}

func foldInfix(n *ast.InfixExpression, left, right ast.Expression) ast.Expression {
	if ls, ok := left.(*ast.StringLiteral); ok && n.Operator == "+" {
		if rs, ok := right.(*ast.StringLiteral); ok {
			return &ast.StringLiteral{Base: n.Base, Value: ls.Value + rs.Value}
		}
		return nil
	}

	ln, ok := left.(*ast.NumberLiteral)
	if !ok {
		return nil
	}
	rn, ok := right.(*ast.NumberLiteral)
	if !ok {
		return nil
	}

	isInt := ln.IsInt && rn.IsInt
	switch n.Operator {
	case "+":
		return numLit(n, ln.Value+rn.Value, isInt)
	case "-":
		return numLit(n, ln.Value-rn.Value, isInt)
	case "*":
		return numLit(n, ln.Value*rn.Value, isInt)
	case "/":
		if rn.Value == 0 {
			return nil
		}
		return numLit(n, ln.Value/rn.Value, false)
	case "%":
		if int64(rn.Value) == 0 {
			return nil
		}
		return numLit(n, float64(int64(ln.Value)%int64(rn.Value)), true)
	case "&":
		return numLit(n, float64(int64(ln.Value)&int64(rn.Value)), true)
	case "|":
		return numLit(n, float64(int64(ln.Value)|int64(rn.Value)), true)
	case "^":
		return numLit(n, float64(int64(ln.Value)^int64(rn.Value)), true)
	case "<<":
		return numLit(n, float64(int64(ln.Value)<<uint64(int64(rn.Value))), true)
	case ">>":
		return numLit(n, float64(int64(ln.Value)>>uint64(int64(rn.Value))), true)
	case ">":
		return &ast.BoolLiteral{Base: n.Base, Value: ln.Value > rn.Value}
	case ">=":
		return &ast.BoolLiteral{Base: n.Base, Value: ln.Value >= rn.Value}
	case "==":
		return &ast.BoolLiteral{Base: n.Base, Value: ln.Value == rn.Value}
	case "!=":
		return &ast.BoolLiteral{Base: n.Base, Value: ln.Value != rn.Value}
	}
	return nil
}

func numLit(n *ast.InfixExpression, v float64, isInt bool) *ast.NumberLiteral {
	return &ast.NumberLiteral{Base: n.Base, Value: v, IsInt: isInt}
}
