package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type graphRepoStub struct {
	Repository
	edges []GraphEdge
	calls int
}

func (s *graphRepoStub) GraphEdges(ctx context.Context) ([]GraphEdge, error) {
	s.calls++
	return s.edges, nil
}

func TestServiceGraphCache(t *testing.T) {
	repo := &graphRepoStub{edges: []GraphEdge{
		{EdgeID: 1, Source: UserCompact{ID: 2}, Target: UserCompact{ID: 1}, Type: 1},
	}}

	service := NewService(repo, Identity{Principal: "influence-backend"}, 5*time.Minute)

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	observed := 0
	service.observeGraph = func(time.Duration) { observed++ }

	first, err := service.Graph(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.Equal(t, 1, observed)
	require.Len(t, first.Nodes, 2)

	// Within the TTL the cached copy is served and no build is timed.
	now = now.Add(time.Minute)
	_, err = service.Graph(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
	require.Equal(t, 1, observed)

	// Past the TTL the edge set is re-read.
	now = now.Add(10 * time.Minute)
	repo.edges = append(repo.edges, GraphEdge{EdgeID: 2, Source: UserCompact{ID: 3}, Target: UserCompact{ID: 1}, Type: 1})
	refreshed, err := service.Graph(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
	require.Equal(t, 2, observed)
	require.Len(t, refreshed.Links, 2)
}
