package domain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mapper-influences/backend/internal/observability"
)

// InfluenceView is an edge joined with the user on its far end, for
// the influence and mention listing endpoints.
type InfluenceView struct {
	User          UserCompact `json:"user"`
	InfluenceType int         `json:"influence_type"`
	Description   string      `json:"description"`
	Beatmaps      []int64     `json:"beatmaps"`
	Mentions      int         `json:"mentions"`
}

// LeaderboardRow is one entry of the mention-count leaderboard.
type LeaderboardRow struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url"`
	CountryCode string `json:"country_code"`
	Mentions    int    `json:"mentions"`
}

// LeaderboardFilter narrows the leaderboard query.
type LeaderboardFilter struct {
	CountryCode string
	RankedOnly  bool
	Limit       int
	Start       int
}

// InfluenceOptions are the caller-supplied fields of a new edge.
type InfluenceOptions struct {
	Type        int
	Description string
	Beatmaps    []int64
}

// Repository is the persistence boundary. Mutation methods run the
// diff-and-emit hook inside the same transaction as the write they
// describe, attributed to the given actor.
type Repository interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	UpsertUser(ctx context.Context, user User) error
	RecordLogin(ctx context.Context, actor Identity, userID int64) error

	UpdateBio(ctx context.Context, actor Identity, userID int64, bio string) (*User, error)
	AddUserBeatmap(ctx context.Context, actor Identity, userID, beatmapID int64) (*User, error)
	RemoveUserBeatmap(ctx context.Context, actor Identity, userID, beatmapID int64) (*User, error)

	CreateInfluence(ctx context.Context, actor Identity, sourceID, targetID int64, opts InfluenceOptions) (*InfluenceEdge, error)
	DeleteInfluence(ctx context.Context, actor Identity, sourceID, targetID int64) (*InfluenceEdge, error)
	AddInfluenceBeatmaps(ctx context.Context, actor Identity, sourceID, targetID int64, beatmapIDs []int64) (*InfluenceEdge, error)
	RemoveInfluenceBeatmap(ctx context.Context, actor Identity, sourceID, targetID, beatmapID int64) (*InfluenceEdge, error)
	UpdateInfluenceType(ctx context.Context, actor Identity, sourceID, targetID int64, influenceType int) (*InfluenceEdge, error)
	UpdateInfluenceDescription(ctx context.Context, actor Identity, sourceID, targetID int64, description string) (*InfluenceEdge, error)

	SetInfluenceOrder(ctx context.Context, userID int64, orderedTargets []int64) error
	UpdatePreferences(ctx context.Context, userID int64, overrides map[EventType]bool) error

	ListActivities(ctx context.Context, userID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	GraphEdges(ctx context.Context) ([]GraphEdge, error)
	Influences(ctx context.Context, userID int64, start, limit int) ([]InfluenceView, error)
	Mentions(ctx context.Context, userID int64, start, limit int) ([]InfluenceView, error)
	Leaderboard(ctx context.Context, filter LeaderboardFilter) ([]LeaderboardRow, error)
}

// Service orchestrates the domain workflows on top of the repository.
type Service struct {
	repo  Repository
	actor Identity

	graphMu      sync.Mutex
	graphCached  *Graph
	graphFetched time.Time
	graphTTL     time.Duration
	now          func() time.Time
	observeGraph func(time.Duration)
}

// NewService constructs a Service. All mutations initiated through it
// are attributed to the given service identity.
func NewService(repo Repository, serviceIdentity Identity, graphTTL time.Duration) *Service {
	return &Service{
		repo:         repo,
		actor:        serviceIdentity,
		graphTTL:     graphTTL,
		now:          func() time.Time { return time.Now().UTC() },
		observeGraph: observability.ObserveGraphBuild,
	}
}

// GetUser fetches a full user profile.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// Login refreshes the profile from the identity provider payload and
// records the LOGIN activity.
func (s *Service) Login(ctx context.Context, user User) error {
	user.Authenticated = true
	if err := s.repo.UpsertUser(ctx, user); err != nil {
		return err
	}
	return s.repo.RecordLogin(ctx, s.actor, user.ID)
}

// UpdateBio replaces the user's bio.
func (s *Service) UpdateBio(ctx context.Context, userID int64, bio string) (*User, error) {
	return s.repo.UpdateBio(ctx, s.actor, userID, strings.TrimSpace(bio))
}

// AddUserBeatmap tags a beatmap on the user's profile.
func (s *Service) AddUserBeatmap(ctx context.Context, userID, beatmapID int64) (*User, error) {
	return s.repo.AddUserBeatmap(ctx, s.actor, userID, beatmapID)
}

// RemoveUserBeatmap untags a beatmap from the user's profile.
func (s *Service) RemoveUserBeatmap(ctx context.Context, userID, beatmapID int64) (*User, error) {
	return s.repo.RemoveUserBeatmap(ctx, s.actor, userID, beatmapID)
}

// CreateInfluence records that sourceID cites targetID as an
// influence. Re-creating an existing pair updates the edge in place.
func (s *Service) CreateInfluence(ctx context.Context, sourceID, targetID int64, opts InfluenceOptions) (*InfluenceEdge, error) {
	return s.repo.CreateInfluence(ctx, s.actor, sourceID, targetID, opts)
}

// DeleteInfluence removes the (source, target) edge.
func (s *Service) DeleteInfluence(ctx context.Context, sourceID, targetID int64) (*InfluenceEdge, error) {
	return s.repo.DeleteInfluence(ctx, s.actor, sourceID, targetID)
}

// AddInfluenceBeatmaps attaches evidence beatmaps to an edge.
func (s *Service) AddInfluenceBeatmaps(ctx context.Context, sourceID, targetID int64, beatmapIDs []int64) (*InfluenceEdge, error) {
	return s.repo.AddInfluenceBeatmaps(ctx, s.actor, sourceID, targetID, beatmapIDs)
}

// RemoveInfluenceBeatmap detaches one evidence beatmap from an edge.
func (s *Service) RemoveInfluenceBeatmap(ctx context.Context, sourceID, targetID, beatmapID int64) (*InfluenceEdge, error) {
	return s.repo.RemoveInfluenceBeatmap(ctx, s.actor, sourceID, targetID, beatmapID)
}

// UpdateInfluenceType reclassifies an edge.
func (s *Service) UpdateInfluenceType(ctx context.Context, sourceID, targetID int64, influenceType int) (*InfluenceEdge, error) {
	return s.repo.UpdateInfluenceType(ctx, s.actor, sourceID, targetID, influenceType)
}

// UpdateInfluenceDescription rewrites an edge's free-text description.
func (s *Service) UpdateInfluenceDescription(ctx context.Context, sourceID, targetID int64, description string) (*InfluenceEdge, error) {
	return s.repo.UpdateInfluenceDescription(ctx, s.actor, sourceID, targetID, description)
}

// SetInfluenceOrder stores the user's manual ordering of their
// influence list. Ordering changes never emit activity.
func (s *Service) SetInfluenceOrder(ctx context.Context, userID int64, orderedTargets []int64) error {
	return s.repo.SetInfluenceOrder(ctx, userID, orderedTargets)
}

// UpdatePreferences stores per-user notification overrides.
func (s *Service) UpdatePreferences(ctx context.Context, userID int64, overrides map[EventType]bool) error {
	return s.repo.UpdatePreferences(ctx, userID, overrides)
}

// ListActivities returns the user's feed, newest first. Preference
// filtering never applies here; the ledger read is complete.
func (s *Service) ListActivities(ctx context.Context, userID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListActivities(ctx, userID, cursor, limit)
}

// Influences lists who the user cites, in their manual order.
func (s *Service) Influences(ctx context.Context, userID int64, start, limit int) ([]InfluenceView, error) {
	return s.repo.Influences(ctx, userID, start, limit)
}

// Mentions lists who cites the user.
func (s *Service) Mentions(ctx context.Context, userID int64, start, limit int) ([]InfluenceView, error) {
	return s.repo.Mentions(ctx, userID, start, limit)
}

// Leaderboard returns the mention-count leaderboard.
func (s *Service) Leaderboard(ctx context.Context, filter LeaderboardFilter) ([]LeaderboardRow, error) {
	return s.repo.Leaderboard(ctx, filter)
}

// Graph returns the influence graph, recomputing it from the current
// edge set when the cached copy has expired. The cache only trades
// freshness for load; the aggregation itself is always derivable from
// scratch.
func (s *Service) Graph(ctx context.Context) (Graph, error) {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	if s.graphCached != nil && s.now().Sub(s.graphFetched) < s.graphTTL {
		return *s.graphCached, nil
	}

	start := time.Now()
	edges, err := s.repo.GraphEdges(ctx)
	if err != nil {
		return Graph{}, err
	}
	graph := BuildGraph(edges)
	s.observeGraph(time.Since(start))
	s.graphCached = &graph
	s.graphFetched = s.now()
	return graph, nil
}
