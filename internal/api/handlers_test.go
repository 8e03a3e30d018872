package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mapper-influences/backend/internal/auth"
	"github.com/mapper-influences/backend/internal/domain"
)

type fakeRepo struct {
	users      map[int64]*domain.User
	activities []domain.Activity
	nextCursor *domain.Cursor
	edges      []domain.GraphEdge

	createdSource int64
	createdTarget int64
	createdOpts   domain.InfluenceOptions
	updatedBio    string
}

func (f *fakeRepo) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepo) UpsertUser(ctx context.Context, user domain.User) error {
	if f.users == nil {
		f.users = map[int64]*domain.User{}
	}
	f.users[user.ID] = &user
	return nil
}

func (f *fakeRepo) RecordLogin(ctx context.Context, actor domain.Identity, userID int64) error {
	return nil
}

func (f *fakeRepo) UpdateBio(ctx context.Context, actor domain.Identity, userID int64, bio string) (*domain.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	f.updatedBio = bio
	updated := *user
	updated.Bio = bio
	return &updated, nil
}

func (f *fakeRepo) AddUserBeatmap(ctx context.Context, actor domain.Identity, userID, beatmapID int64) (*domain.User, error) {
	return f.GetUser(ctx, userID)
}

func (f *fakeRepo) RemoveUserBeatmap(ctx context.Context, actor domain.Identity, userID, beatmapID int64) (*domain.User, error) {
	return f.GetUser(ctx, userID)
}

func (f *fakeRepo) CreateInfluence(ctx context.Context, actor domain.Identity, sourceID, targetID int64, opts domain.InfluenceOptions) (*domain.InfluenceEdge, error) {
	if _, ok := f.users[targetID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	f.createdSource = sourceID
	f.createdTarget = targetID
	f.createdOpts = opts
	return &domain.InfluenceEdge{
		ID:          1,
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        opts.Type,
		Description: opts.Description,
		Beatmaps:    opts.Beatmaps,
	}, nil
}

func (f *fakeRepo) DeleteInfluence(ctx context.Context, actor domain.Identity, sourceID, targetID int64) (*domain.InfluenceEdge, error) {
	return nil, domain.ErrInfluenceNotFound
}

func (f *fakeRepo) AddInfluenceBeatmaps(ctx context.Context, actor domain.Identity, sourceID, targetID int64, beatmapIDs []int64) (*domain.InfluenceEdge, error) {
	return nil, domain.ErrInfluenceNotFound
}

func (f *fakeRepo) RemoveInfluenceBeatmap(ctx context.Context, actor domain.Identity, sourceID, targetID, beatmapID int64) (*domain.InfluenceEdge, error) {
	return nil, domain.ErrInfluenceNotFound
}

func (f *fakeRepo) UpdateInfluenceType(ctx context.Context, actor domain.Identity, sourceID, targetID int64, influenceType int) (*domain.InfluenceEdge, error) {
	return nil, domain.ErrInfluenceNotFound
}

func (f *fakeRepo) UpdateInfluenceDescription(ctx context.Context, actor domain.Identity, sourceID, targetID int64, description string) (*domain.InfluenceEdge, error) {
	return nil, domain.ErrInfluenceNotFound
}

func (f *fakeRepo) SetInfluenceOrder(ctx context.Context, userID int64, orderedTargets []int64) error {
	return nil
}

func (f *fakeRepo) UpdatePreferences(ctx context.Context, userID int64, overrides map[domain.EventType]bool) error {
	return nil
}

func (f *fakeRepo) ListActivities(ctx context.Context, userID int64, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	return f.activities, f.nextCursor, nil
}

func (f *fakeRepo) GraphEdges(ctx context.Context) ([]domain.GraphEdge, error) {
	return f.edges, nil
}

func (f *fakeRepo) Influences(ctx context.Context, userID int64, start, limit int) ([]domain.InfluenceView, error) {
	return nil, nil
}

func (f *fakeRepo) Mentions(ctx context.Context, userID int64, start, limit int) ([]domain.InfluenceView, error) {
	return nil, nil
}

func (f *fakeRepo) Leaderboard(ctx context.Context, filter domain.LeaderboardFilter) ([]domain.LeaderboardRow, error) {
	return nil, nil
}

func newTestHandler(repo *fakeRepo) (*Handler, *http.ServeMux) {
	service := domain.NewService(repo, domain.Identity{Principal: "influence-backend"}, time.Minute)
	handler := NewHandler(service, 20)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, mux
}

func withClaims(req *http.Request, userID int64) *http.Request {
	claims := &auth.Claims{
		UserID:    userID,
		Username:  "tester",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestListActivities(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		activities: []domain.Activity{
			{ID: "a-2", UserID: 2, CreatedAt: now, Type: domain.EventEditBio, Payload: domain.BioPayload{Bio: "new"}},
			{ID: "a-1", UserID: 2, CreatedAt: now.Add(-time.Hour), Type: domain.EventLogin},
		},
		nextCursor: &domain.Cursor{CreatedAt: now.Add(-time.Hour), ID: "a-1"},
	}
	_, mux := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/activity?user=2&limit=2", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(resp.Items))
	}
	if resp.Items[0].Type != domain.EventEditBio {
		t.Fatalf("unexpected first event type %s", resp.Items[0].Type)
	}
	if resp.NextCursor == "" {
		t.Fatal("expected next cursor")
	}
}

func TestListActivitiesRejectsBadCursor(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/v1/activity?cursor=%21%21", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestGraphEndpoint(t *testing.T) {
	repo := &fakeRepo{
		edges: []domain.GraphEdge{
			{EdgeID: 1, Source: domain.UserCompact{ID: 2, Username: "B"}, Target: domain.UserCompact{ID: 1, Username: "A"}, Type: 1},
		},
	}
	_, mux := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/graph", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var graph domain.Graph
	if err := json.Unmarshal(rr.Body.Bytes(), &graph); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(graph.Nodes) != 2 || len(graph.Links) != 1 {
		t.Fatalf("unexpected graph shape: %+v", graph)
	}
	if graph.Nodes[0].ID != 1 || graph.Nodes[0].Mentions != 1 {
		t.Fatalf("expected cited user first with one mention, got %+v", graph.Nodes[0])
	}
}

func TestCreateInfluenceRequiresAuth(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{})

	req := httptest.NewRequest(http.MethodPost, "/v1/influences", strings.NewReader(`{"target_id":1,"influence_type":1}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestCreateInfluenceRejectsSelfCitation(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{users: map[int64]*domain.User{2: {ID: 2}}})

	req := httptest.NewRequest(http.MethodPost, "/v1/influences", strings.NewReader(`{"target_id":2,"influence_type":1}`))
	req = withClaims(req, 2)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateInfluence(t *testing.T) {
	repo := &fakeRepo{users: map[int64]*domain.User{1: {ID: 1, Username: "A"}}}
	_, mux := newTestHandler(repo)

	body := `{"target_id":1,"influence_type":3,"description":"rhythm","beatmaps":[10,11]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/influences", strings.NewReader(body))
	req = withClaims(req, 2)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.createdSource != 2 || repo.createdTarget != 1 {
		t.Fatalf("unexpected edge endpoints: source=%d target=%d", repo.createdSource, repo.createdTarget)
	}
	if repo.createdOpts.Type != 3 || len(repo.createdOpts.Beatmaps) != 2 {
		t.Fatalf("unexpected options: %+v", repo.createdOpts)
	}
}

func TestCreateInfluenceUnknownTarget(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{users: map[int64]*domain.User{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/influences", strings.NewReader(`{"target_id":99,"influence_type":1}`))
	req = withClaims(req, 2)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestGetUserNotFound(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/123", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if payload["type"] != "not_found" {
		t.Fatalf("unexpected error type %q", payload["type"])
	}
}

func TestUpdateBio(t *testing.T) {
	repo := &fakeRepo{users: map[int64]*domain.User{2: {ID: 2, Username: "B", Bio: "old"}}}
	_, mux := newTestHandler(repo)

	req := httptest.NewRequest(http.MethodPost, "/v1/users/me/bio", strings.NewReader(`{"bio":"  new bio  "}`))
	req = withClaims(req, 2)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.updatedBio != "new bio" {
		t.Fatalf("expected trimmed bio, got %q", repo.updatedBio)
	}

	var view UserView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Bio != "new bio" {
		t.Fatalf("unexpected bio %q", view.Bio)
	}
}

func TestDeleteInfluenceNotFound(t *testing.T) {
	_, mux := newTestHandler(&fakeRepo{})

	req := httptest.NewRequest(http.MethodDelete, "/v1/influences/42", nil)
	req = withClaims(req, 2)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}
