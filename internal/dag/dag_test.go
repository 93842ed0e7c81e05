package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrderDependenciesFirst(t *testing.T) {
	g := NewGraph()
	g.AddNode("wins")
	g.AddNode("losses")
	g.AddNode("ratio")
	g.AddNode("rank")
	require.NoError(t, g.AddEdge("wins", "ratio"))
	require.NoError(t, g.AddEdge("losses", "ratio"))
	require.NoError(t, g.AddEdge("ratio", "rank"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["wins"], pos["ratio"])
	assert.Less(t, pos["losses"], pos["ratio"])
	assert.Less(t, pos["ratio"], pos["rank"])
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	build := func() *Graph {
		g := NewGraph()
		for _, n := range []string{"c", "a", "b"} {
			g.AddNode(n)
		}
		return g
	}
	first, err := build().TopologicalOrder()
	require.NoError(t, err)
	second, err := build().TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b", "c"}, first)
}

func TestCycleDetection(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	g.AddNode("b")
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "a"))

	_, err := g.TopologicalOrder()
	require.Error(t, err)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Contains(t, err.Error(), "dependency cycle detected")
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestSelfLoopRejected(t *testing.T) {
	g := NewGraph()
	g.AddNode("x")
	err := g.AddEdge("x", "x")
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	require.Error(t, g.AddEdge("a", "ghost"))
	require.Error(t, g.AddEdge("ghost", "a"))
}

func TestDependenciesAndDependents(t *testing.T) {
	g := NewGraph()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	require.NoError(t, g.AddEdge("a", "c"))
	require.NoError(t, g.AddEdge("b", "c"))

	assert.Equal(t, []string{"a", "b"}, g.Dependencies("c"))
	assert.Equal(t, []string{"c"}, g.Dependents("a"))
	assert.Equal(t, 3, g.NodeCount())
}

func fieldGraphPayload(derived map[string]any) map[string]any {
	return map[string]any{
		"resources": map[string]any{
			"ranking": map[string]any{
				"kind":     "table",
				"selector": "table",
				"columns":  []any{"wins", "losses"},
			},
		},
		"derived": derived,
	}
}

func TestBuildFieldGraph(t *testing.T) {
	g, err := BuildFieldGraph(fieldGraphPayload(map[string]any{
		"ratio": "wins / (wins + losses)",
		"rank":  "ratio * 100",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"wins", "losses"}, g.Dependencies("ratio"))
	assert.Equal(t, []string{"ratio"}, g.Dependencies("rank"))

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["ratio"], pos["rank"])
}

func TestBuildFieldGraphCycle(t *testing.T) {
	_, err := BuildFieldGraph(fieldGraphPayload(map[string]any{
		"x": "y + 1",
		"y": "x + 1",
	}))
	require.Error(t, err)
	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
}

// Names that match no base or derived field never become edges.
func TestBuildFieldGraphIgnoresUnknownNames(t *testing.T) {
	g, err := BuildFieldGraph(fieldGraphPayload(map[string]any{
		"bonus": "wins + mystery",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"wins"}, g.Dependencies("bonus"))
}
