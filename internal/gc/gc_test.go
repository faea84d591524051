package gc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ape-lang/ape/internal/object"
)

func TestTrackStampsDebugID(t *testing.T) {
	c := New()
	s := c.NewString("hi")
	require.NotEmpty(t, s.DebugID())
	require.Equal(t, object.White, s.GCHeader().Color())
}

func TestCollectFreesUnreachable(t *testing.T) {
	c := New()
	reachable := c.NewString("kept")
	_ = c.NewString("garbage")

	c.Collect(Roots{Stack: []object.Object{reachable}})

	_, freed, live := c.Stats()
	require.Equal(t, 1, freed)
	require.Equal(t, 1, live)
}

func TestCollectTracesChildren(t *testing.T) {
	c := New()
	elem := c.NewString("inside")
	arr := c.NewArray([]object.Object{elem})

	c.Collect(Roots{Stack: []object.Object{arr}})

	_, freed, live := c.Stats()
	require.Equal(t, 0, freed)
	require.Equal(t, 2, live)
}

func TestRecycledObjectReusesShell(t *testing.T) {
	c := New()
	garbage := c.NewString("garbage")
	c.Collect(Roots{})

	recycled := c.NewString("fresh")
	require.Same(t, garbage, recycled)
	require.Equal(t, "fresh", recycled.Value)
}

func TestShouldCollectCrossesThreshold(t *testing.T) {
	c := New()
	c.SetThreshold(2)
	require.False(t, c.ShouldCollect())
	c.NewString("a")
	c.NewString("b")
	require.True(t, c.ShouldCollect())
}

func TestClosureKeepsFreeVarsAndFnAlive(t *testing.T) {
	c := New()
	fn := c.NewScriptFunction(object.ScriptFunction{Name: "f"})
	freeVar := c.NewString("captured")
	cl := c.NewClosure(fn, []object.Object{freeVar})

	c.Collect(Roots{Stack: []object.Object{cl}})

	_, freed, live := c.Stats()
	require.Equal(t, 0, freed)
	require.Equal(t, 3, live)
}
