//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mapper-influences/backend/internal/domain"
	"github.com/mapper-influences/backend/migrations"
)

var (
	once      sync.Once
	sharedDSN string
	initErr   error
)

var (
	trusted   = domain.Identity{Principal: "influence-backend"}
	untrusted = domain.Identity{Principal: "nightly-backfill"}
)

// setupRepo starts one shared Postgres container for the test run,
// applies the embedded migrations, and returns a fresh repository.
func setupRepo(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()

	once.Do(func() {
		sharedDSN, initErr = startContainerAndMigrate()
	})
	require.NoError(t, initErr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, sharedDSN)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	gate := domain.NewTrustGate("influence-backend")
	recorder := domain.NewRecorder(domain.NewEventFactory(gate))
	return NewRepository(pool, recorder, "influence.activity"), pool
}

func startContainerAndMigrate() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("influences"),
		postgrescontainer.WithUsername("influences"),
		postgrescontainer.WithPassword("influences"),
		postgrescontainer.BasicWaitStrategies(),
	)
	if err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("connection string: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return "", fmt.Errorf("sql.Open: %w", err)
	}
	defer db.Close()

	if err := migrations.Up(db); err != nil {
		return "", fmt.Errorf("goose up: %w", err)
	}
	return dsn, nil
}

func seedUser(t *testing.T, repo *Repository, id int64, username string, ranked bool) {
	t.Helper()
	err := repo.UpsertUser(context.Background(), domain.User{
		ID:           id,
		Username:     username,
		AvatarURL:    fmt.Sprintf("https://a.example/%d", id),
		RankedMapper: ranked,
	})
	require.NoError(t, err)
}

func countActivities(t *testing.T, pool *pgxpool.Pool, userID int64, eventType domain.EventType) int {
	t.Helper()
	var count int
	err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM activities WHERE user_id=$1 AND event_type=$2`, userID, eventType).Scan(&count)
	require.NoError(t, err)
	return count
}

func countOutbox(t *testing.T, pool *pgxpool.Pool, userID int64, eventType domain.EventType) int {
	t.Helper()
	var count int
	err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM outbox WHERE partition_key=$1 AND event_type=$2`,
		fmt.Sprintf("%d", userID), eventType).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestUpdateBioDerivesSingleEvent(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 101, "mapper-101", false)

	user, err := repo.UpdateBio(ctx, trusted, 101, "first bio")
	require.NoError(t, err)
	require.Equal(t, "first bio", user.Bio)
	require.Equal(t, 1, countActivities(t, pool, 101, domain.EventEditBio))
	require.Equal(t, 1, countOutbox(t, pool, 101, domain.EventEditBio))

	// Same value again: the write commits but nothing is derived.
	_, err = repo.UpdateBio(ctx, trusted, 101, "first bio")
	require.NoError(t, err)
	require.Equal(t, 1, countActivities(t, pool, 101, domain.EventEditBio))

	// An untrusted actor changes the row but the ledger stays silent.
	user, err = repo.UpdateBio(ctx, untrusted, 101, "backfilled bio")
	require.NoError(t, err)
	require.Equal(t, "backfilled bio", user.Bio)
	require.Equal(t, 1, countActivities(t, pool, 101, domain.EventEditBio))
}

func TestInfluenceLifecycle(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 201, "cited-201", true)
	seedUser(t, repo, 202, "citing-202", false)

	edge, err := repo.CreateInfluence(ctx, trusted, 202, 201, domain.InfluenceOptions{Type: 1, Description: "rhythm"})
	require.NoError(t, err)
	require.Equal(t, int64(202), edge.SourceID)
	require.Equal(t, int64(201), edge.TargetID)
	require.Equal(t, 1, countActivities(t, pool, 202, domain.EventAddInfluence))
	require.Equal(t, 1, countOutbox(t, pool, 202, domain.EventAddInfluence))

	// Re-creating the pair updates in place without a second event.
	edge, err = repo.CreateInfluence(ctx, trusted, 202, 201, domain.InfluenceOptions{Type: 4, Description: "structure"})
	require.NoError(t, err)
	require.Equal(t, 4, edge.Type)
	require.Equal(t, 1, countActivities(t, pool, 202, domain.EventAddInfluence))

	// A bulk attach yields a single representative event.
	edge, err = repo.AddInfluenceBeatmaps(ctx, trusted, 202, 201, []int64{10, 11, 12})
	require.NoError(t, err)
	require.Len(t, edge.Beatmaps, 3)
	require.Equal(t, 1, countActivities(t, pool, 202, domain.EventAddInfluenceBeatmap))

	// Removal is ledgered but muted by the default preferences.
	_, err = repo.DeleteInfluence(ctx, trusted, 202, 201)
	require.NoError(t, err)
	require.Equal(t, 1, countActivities(t, pool, 202, domain.EventRemoveInfluence))
	require.Equal(t, 0, countOutbox(t, pool, 202, domain.EventRemoveInfluence))

	_, err = repo.DeleteInfluence(ctx, trusted, 202, 201)
	require.ErrorIs(t, err, domain.ErrInfluenceNotFound)
}

func TestGraphEdgesAndLeaderboard(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 301, "cited-301", true)
	seedUser(t, repo, 302, "citing-302", true)
	seedUser(t, repo, 303, "citing-303", false)

	_, err := repo.CreateInfluence(ctx, trusted, 302, 301, domain.InfluenceOptions{Type: 1})
	require.NoError(t, err)
	_, err = repo.CreateInfluence(ctx, trusted, 303, 301, domain.InfluenceOptions{Type: 2})
	require.NoError(t, err)

	edges, err := repo.GraphEdges(ctx)
	require.NoError(t, err)

	var mentions int
	for _, edge := range edges {
		if edge.Target.ID == 301 {
			mentions++
			require.NotEmpty(t, edge.Source.Username)
		}
	}
	require.Equal(t, 2, mentions)

	rows, err := repo.Leaderboard(ctx, domain.LeaderboardFilter{Limit: 50})
	require.NoError(t, err)
	found := false
	for _, row := range rows {
		if row.ID == 301 {
			found = true
			require.GreaterOrEqual(t, row.Mentions, 2)
		}
	}
	require.True(t, found, "cited user missing from leaderboard")

	// Ranked-only counting drops the citation from the unranked mapper.
	rows, err = repo.Leaderboard(ctx, domain.LeaderboardFilter{RankedOnly: true, Limit: 50})
	require.NoError(t, err)
	for _, row := range rows {
		if row.ID == 301 {
			require.Equal(t, 1, row.Mentions)
		}
	}
}

func TestListActivitiesPagination(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 401, "mapper-401", false)

	for i := 0; i < 3; i++ {
		_, err := repo.UpdateBio(ctx, trusted, 401, fmt.Sprintf("bio %d", i))
		require.NoError(t, err)
	}

	first, cursor, err := repo.ListActivities(ctx, 401, nil, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotNil(t, cursor)
	require.Equal(t, domain.BioPayload{Bio: "bio 2"}, first[0].Payload)

	rest, _, err := repo.ListActivities(ctx, 401, cursor, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, domain.BioPayload{Bio: "bio 0"}, rest[0].Payload)
}

func TestListActivitiesSkipsUnknownEventTypes(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 701, "mapper-701", false)

	_, err := repo.UpdateBio(ctx, trusted, 701, "known entry")
	require.NoError(t, err)

	// A newer deploy writes a type this binary does not know about.
	_, err = pool.Exec(ctx,
		`INSERT INTO activities (activity_id, user_id, event_type, payload, created_at)
		 VALUES (gen_random_uuid(), $1, 'SOMETHING_NEW', '{}', now())`, 701)
	require.NoError(t, err)

	feed, _, err := repo.ListActivities(ctx, 701, nil, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	require.Equal(t, domain.EventEditBio, feed[0].Type)
}

func TestPreferenceSuppressesOutboxOnly(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 501, "mapper-501", false)

	require.NoError(t, repo.UpdatePreferences(ctx, 501, map[domain.EventType]bool{
		domain.EventEditBio: false,
	}))

	_, err := repo.UpdateBio(ctx, trusted, 501, "quiet edit")
	require.NoError(t, err)

	// The ledger records it; the notification boundary does not.
	require.Equal(t, 1, countActivities(t, pool, 501, domain.EventEditBio))
	require.Equal(t, 0, countOutbox(t, pool, 501, domain.EventEditBio))
}

func TestBulkUserBeatmapTagging(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedUser(t, repo, 601, "mapper-601", false)

	for _, id := range []int64{10, 11, 12} {
		_, err := repo.AddUserBeatmap(ctx, trusted, 601, id)
		require.NoError(t, err)
	}
	require.Equal(t, 3, countActivities(t, pool, 601, domain.EventAddUserBeatmap))

	// Adding an already-tagged beatmap is a no-op.
	_, err := repo.AddUserBeatmap(ctx, trusted, 601, 10)
	require.NoError(t, err)
	require.Equal(t, 3, countActivities(t, pool, 601, domain.EventAddUserBeatmap))

	user, err := repo.RemoveUserBeatmap(ctx, trusted, 601, 11)
	require.NoError(t, err)
	require.Equal(t, []int64{10, 12}, user.Beatmaps)
	require.Equal(t, 1, countActivities(t, pool, 601, domain.EventRemoveUserBeatmap))
}
