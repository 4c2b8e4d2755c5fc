package graph_test

import (
	"testing"

	"github.com/hotmeshio/hotmesh-go/graph"
	"github.com/stretchr/testify/require"
)

func TestGetExecutionOrder_RespectsDependencies(t *testing.T) {
	nodes := []graph.Node{
		{ID: "c", Requires: []string{"a", "b"}},
		{ID: "a"},
		{ID: "b", Requires: []string{"a"}},
	}

	order, err := graph.GetExecutionOrder(nodes)
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n.ID] = i
	}
	require.Less(t, pos["a"], pos["b"])
	require.Less(t, pos["b"], pos["c"])
}

func TestGetExecutionOrder_DetectsCycle(t *testing.T) {
	nodes := []graph.Node{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b", Requires: []string{"a"}},
	}
	_, err := graph.GetExecutionOrder(nodes)
	require.Error(t, err)
}

func TestValidateDAG_DetectsManualCycle(t *testing.T) {
	existing := []graph.Node{
		{ID: "a", Requires: []string{"b"}},
		{ID: "b"},
	}
	err := graph.ValidateDAG(nil, existing, graph.Node{ID: "b", Requires: []string{"a"}})
	require.Error(t, err)
}

func TestIsComplete_AllDependenciesSatisfied(t *testing.T) {
	node := graph.Node{ID: "c", Requires: []string{"a", "b"}}
	done := map[string]bool{"a": true, "b": true}

	ok, err := graph.IsComplete(node, func(id string) (bool, error) { return done[id], nil })
	require.NoError(t, err)
	require.True(t, ok)

	done["b"] = false
	ok, err = graph.IsComplete(node, func(id string) (bool, error) { return done[id], nil })
	require.NoError(t, err)
	require.False(t, ok)
}
