package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoleSetIntersectPreservesOrder(t *testing.T) {
	set := NewRoleSet("a", "c", "")
	require.Equal(t, []string{"a", "c"}, set.Intersect([]string{"a", "b", "c"}))
	require.Nil(t, set.Intersect([]string{"x", "y"}))
	require.False(t, set.Contains(""))
}

func TestAdded(t *testing.T) {
	require.Equal(t, []string{"c"}, Added([]string{"a", "b"}, []string{"a", "b", "c"}))
	require.Nil(t, Added([]string{"a"}, []string{"a"}))
	require.Equal(t, []string{"a"}, Added(nil, []string{"a"}))
}

func TestMissing(t *testing.T) {
	require.Equal(t, []string{"b"}, Missing([]string{"a", "b"}, []string{"a"}))
	require.Nil(t, Missing([]string{"a"}, []string{"a", "b"}))
}
