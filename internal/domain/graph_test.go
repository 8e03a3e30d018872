package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildGraphMentionsAreInDegree(t *testing.T) {
	userA := UserCompact{ID: 1, Username: "A"}
	userB := UserCompact{ID: 2, Username: "B"}

	// B cites A: the edge runs B -> A.
	graph := BuildGraph([]GraphEdge{{EdgeID: 10, Source: userB, Target: userA, Type: 1}})

	require.Len(t, graph.Nodes, 2)
	require.Equal(t, int64(1), graph.Nodes[0].ID)
	require.Equal(t, 1, graph.Nodes[0].Mentions)
	require.Equal(t, 0, graph.Nodes[0].InfluenceCount)
	require.Equal(t, int64(2), graph.Nodes[1].ID)
	require.Equal(t, 0, graph.Nodes[1].Mentions)
	require.Equal(t, 1, graph.Nodes[1].InfluenceCount)

	require.Len(t, graph.Links, 1)
	require.Equal(t, GraphLink{Source: 2, Target: 1, InfluenceType: 1}, graph.Links[0])
}

func TestBuildGraphDeterministic(t *testing.T) {
	edges := []GraphEdge{
		{EdgeID: 1, Source: UserCompact{ID: 2}, Target: UserCompact{ID: 1}, Type: 1},
		{EdgeID: 2, Source: UserCompact{ID: 3}, Target: UserCompact{ID: 1}, Type: 2},
		{EdgeID: 3, Source: UserCompact{ID: 3}, Target: UserCompact{ID: 2}, Type: 1},
	}

	first := BuildGraph(edges)
	second := BuildGraph(edges)
	require.Equal(t, first, second)
}

func TestBuildGraphOrdering(t *testing.T) {
	edges := []GraphEdge{
		{EdgeID: 1, Source: UserCompact{ID: 4}, Target: UserCompact{ID: 1}},
		{EdgeID: 2, Source: UserCompact{ID: 4}, Target: UserCompact{ID: 2}},
		{EdgeID: 3, Source: UserCompact{ID: 5}, Target: UserCompact{ID: 2}},
	}

	graph := BuildGraph(edges)
	// Mentions descending, id ascending on ties.
	ids := make([]int64, 0, len(graph.Nodes))
	for _, node := range graph.Nodes {
		ids = append(ids, node.ID)
	}
	require.Equal(t, []int64{2, 1, 4, 5}, ids)
}

func TestBuildGraphEmpty(t *testing.T) {
	graph := BuildGraph(nil)
	require.Empty(t, graph.Nodes)
	require.Empty(t, graph.Links)
}
