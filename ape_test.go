package ape_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ape-lang/ape"
	"github.com/ape-lang/ape/internal/object"
)

// The six literal end-to-end scenarios (spec.md §8).

func TestScenarioStringConcatLoop(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(`var s = ""; for (var i = 0; i < 3; i++) { s += i; } return s;`)
	require.NoError(t, err)
	str, ok := result.(*object.String)
	require.True(t, ok)
	require.Equal(t, "012", str.Value)
}

func TestScenarioClosureCapture(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(`function adder(x) { return function(y) { return x + y; }; } const f = adder(10); return f(5);`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(15), n.Value)
}

func TestScenarioMapForEachSum(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(`const m = {a:1, b:2}; var t = 0; for (k in m) { t += m[k]; } return t;`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(3), n.Value)
}

func TestScenarioRecoverFromDivisionByZero(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(`function f() { recover (e) { return e; } 1/0; } return f();`)
	require.NoError(t, err)
	errVal, ok := result.(*object.ErrorValue)
	require.True(t, ok)
	require.Contains(t, errVal.Message, "division by zero")
}

func TestScenarioTemplateStringLowering(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString("return `hi ${1+2}!`;")
	require.NoError(t, err)
	str, ok := result.(*object.String)
	require.True(t, ok)
	require.Equal(t, "hi 3!", str.Value)
}

func TestScenarioArraySetIndexPadsWithNull(t *testing.T) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(`var a = [1,2,3]; a[10] = 99; return a.length;`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(11), n.Value)
}

// Context persistence across Execute calls, the way the REPL relies on it.

func TestContextPersistsGlobalsAcrossExecuteCalls(t *testing.T) {
	ctx := ape.New(ape.Config{})
	_, err := ctx.ExecuteString(`var count = 1;`)
	require.NoError(t, err)

	result, err := ctx.ExecuteString(`count += 41; return count;`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(42), n.Value)
}

func TestInstallNativeIsCallableFromScript(t *testing.T) {
	ctx := ape.New(ape.Config{})
	err := ctx.InstallNative("double", func(args []object.Object) object.Object {
		n := args[0].(*object.Number)
		return &object.Number{Value: n.Value * 2}
	})
	require.NoError(t, err)

	result, err := ctx.ExecuteString(`return double(21);`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(42), n.Value)
}

func TestSetGlobalGetGlobal(t *testing.T) {
	ctx := ape.New(ape.Config{})
	ctx.SetGlobal("seed", &object.Number{Value: 7})

	result, err := ctx.ExecuteString(`return seed * 6;`)
	require.NoError(t, err)
	n, ok := result.(*object.Number)
	require.True(t, ok)
	require.Equal(t, float64(42), n.Value)

	v, ok := ctx.GetGlobal("seed")
	require.True(t, ok)
	require.Equal(t, float64(7), v.(*object.Number).Value)
}

func TestParseErrorSurfacedThroughErrors(t *testing.T) {
	ctx := ape.New(ape.Config{})
	_, err := ctx.ExecuteString(`var x = ;`)
	require.Error(t, err)
	require.NotEmpty(t, ctx.Errors())
	require.NotEmpty(t, ctx.RenderError(ctx.Errors()[0]))
}
