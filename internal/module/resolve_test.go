package module

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveRelative(t *testing.T) {
	require.Equal(t, "/project/lib/util.ape", Resolve("/project", "lib/util"))
}

func TestResolveCollapsesDotSegments(t *testing.T) {
	require.Equal(t, "/project/util.ape", Resolve("/project/lib", "../util"))
	require.Equal(t, "/project/lib/util.ape", Resolve("/project", "./lib/util.ape"))
}

func TestResolveAbsolute(t *testing.T) {
	require.Equal(t, "/abs/util.ape", Resolve("/project", "/abs/util"))
}

func TestDir(t *testing.T) {
	require.Equal(t, "/project/lib", Dir("/project/lib/util.ape"))
}
