package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ape-lang/ape/internal/apeerr"
	"github.com/ape-lang/ape/internal/ast"
	"github.com/ape-lang/ape/internal/lexer"
)

func parseProgram(t *testing.T, input string) *ast.Program {
	t.Helper()
	errs := &apeerr.List{}
	l := lexer.New(input, nil)
	p := New(l, errs)
	prog := p.ParseProgram()
	require.Falsef(t, errs.HasErrors(), "unexpected parse errors: %v", errs.Errors())
	require.NotNil(t, prog)
	return prog
}

func TestDefineStatements(t *testing.T) {
	prog := parseProgram(t, `var x = 5; const y = 10;`)
	require.Len(t, prog.Statements, 2)

	def, ok := prog.Statements[0].(*ast.DefineStatement)
	require.True(t, ok)
	require.Equal(t, "x", def.Name.Value)
	require.True(t, def.Assignable)

	def2, ok := prog.Statements[1].(*ast.DefineStatement)
	require.True(t, ok)
	require.False(t, def2.Assignable)
}

func TestIfElseIfChain(t *testing.T) {
	prog := parseProgram(t, `if (a) { 1; } else if (b) { 2; } else { 3; }`)
	stmt, ok := prog.Statements[0].(*ast.IfStatement)
	require.True(t, ok)
	require.Len(t, stmt.Cases, 2)
	require.NotNil(t, stmt.Else)
}

func TestForCStyle(t *testing.T) {
	prog := parseProgram(t, `for (var i = 0; i < 10; i += 1) { i; }`)
	stmt, ok := prog.Statements[0].(*ast.ForStatement)
	require.True(t, ok)
	require.NotNil(t, stmt.Init)
	require.NotNil(t, stmt.Test)
	require.NotNil(t, stmt.Update)
}

func TestForEach(t *testing.T) {
	prog := parseProgram(t, `for (item in arr) { item; }`)
	stmt, ok := prog.Statements[0].(*ast.ForEachStatement)
	require.True(t, ok)
	require.Equal(t, "item", stmt.Ident.Value)
}

func TestTernary(t *testing.T) {
	prog := parseProgram(t, `a ? b : c;`)
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	ternary, ok := stmt.Expr.(*ast.TernaryExpression)
	require.True(t, ok)
	require.Equal(t, "b", ternary.Then.String())
}

func TestCompoundAssignDesugars(t *testing.T) {
	prog := parseProgram(t, `x += 1;`)
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	assign, ok := stmt.Expr.(*ast.AssignmentExpression)
	require.True(t, ok)
	infix, ok := assign.Source.(*ast.InfixExpression)
	require.True(t, ok)
	require.Equal(t, "+", infix.Operator)
}

func TestPostfixIncrement(t *testing.T) {
	prog := parseProgram(t, `x++;`)
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	assign, ok := stmt.Expr.(*ast.AssignmentExpression)
	require.True(t, ok)
	require.True(t, assign.IsPostfix)
}

func TestLessThanLowersToSwappedGreaterThan(t *testing.T) {
	prog := parseProgram(t, `a < b;`)
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	infix, ok := stmt.Expr.(*ast.InfixExpression)
	require.True(t, ok)
	require.Equal(t, ">", infix.Operator)
	require.Equal(t, "b", infix.Left.String())
	require.Equal(t, "a", infix.Right.String())
}

func TestFunctionStatementSugar(t *testing.T) {
	prog := parseProgram(t, `function add(a, b) { return a + b; }`)
	def, ok := prog.Statements[0].(*ast.DefineStatement)
	require.True(t, ok)
	require.Equal(t, "add", def.Name.Value)
	fn, ok := def.Value.(*ast.FunctionLiteral)
	require.True(t, ok)
	require.Len(t, fn.Params, 2)
}

func TestIncludeStatement(t *testing.T) {
	prog := parseProgram(t, `include "lib/util.ape";`)
	inc, ok := prog.Statements[0].(*ast.IncludeStatement)
	require.True(t, ok)
	require.Equal(t, "lib/util.ape", inc.Path)
}

func TestRecoverStatement(t *testing.T) {
	prog := parseProgram(t, `recover (err) { return err; }`)
	rec, ok := prog.Statements[0].(*ast.RecoverStatement)
	require.True(t, ok)
	require.Equal(t, "err", rec.ErrName.Value)
}

func TestTemplateStringLowersToConcatenation(t *testing.T) {
	prog := parseProgram(t, "`hi ${name}!`;")
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	// (("hi " + tostring(name)) + "!")
	outer, ok := stmt.Expr.(*ast.InfixExpression)
	require.True(t, ok)
	require.Equal(t, "+", outer.Operator)
	require.Equal(t, "\"!\"", outer.Right.String())

	inner, ok := outer.Left.(*ast.InfixExpression)
	require.True(t, ok)
	call, ok := inner.Right.(*ast.CallExpression)
	require.True(t, ok)
	require.Equal(t, "tostring", call.Callee.String())
}

func TestArrayAndMapLiterals(t *testing.T) {
	prog := parseProgram(t, `[1, 2, 3]; {"a": 1, "b": 2};`)
	arr, ok := prog.Statements[0].(*ast.ExpressionStatement).Expr.(*ast.ArrayLiteral)
	require.True(t, ok)
	require.Len(t, arr.Elements, 3)

	m, ok := prog.Statements[1].(*ast.ExpressionStatement).Expr.(*ast.MapLiteral)
	require.True(t, ok)
	require.Len(t, m.Keys, 2)
}

func TestDotAndIndexAssignment(t *testing.T) {
	prog := parseProgram(t, `obj.field = 1; arr[0] = 2;`)
	a1 := prog.Statements[0].(*ast.ExpressionStatement).Expr.(*ast.AssignmentExpression)
	_, ok := a1.Dest.(*ast.DotExpression)
	require.True(t, ok)

	a2 := prog.Statements[1].(*ast.ExpressionStatement).Expr.(*ast.AssignmentExpression)
	_, ok = a2.Dest.(*ast.IndexExpression)
	require.True(t, ok)
}

func TestLogicalOperators(t *testing.T) {
	prog := parseProgram(t, `a && b || c;`)
	stmt := prog.Statements[0].(*ast.ExpressionStatement)
	outer, ok := stmt.Expr.(*ast.LogicalExpression)
	require.True(t, ok)
	require.Equal(t, "||", outer.Operator)
}
