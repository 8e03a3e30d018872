// Package api exposes the HTTP surface of the influence backend.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mapper-influences/backend/internal/auth"
	"github.com/mapper-influences/backend/internal/domain"
	"github.com/mapper-influences/backend/internal/persistence"
)

const maxPageSize = 100

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service  *domain.Service
	pageSize int
}

// NewHandler builds a Handler. pageSize is the default feed page size.
func NewHandler(service *domain.Service, pageSize int) *Handler {
	return &Handler{service: service, pageSize: pageSize}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activity", h.activity)
	mux.HandleFunc("/v1/graph", h.graph)
	mux.HandleFunc("/v1/leaderboard", h.leaderboard)
	mux.HandleFunc("/v1/users/", h.users)
	mux.HandleFunc("/v1/influences", h.influences)
	mux.HandleFunc("/v1/influences/", h.influenceByTarget)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	var userID int64
	if raw := r.URL.Query().Get("user"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid user parameter")
			return
		}
		userID = parsed
	}

	limit := h.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxPageSize {
				parsed = maxPageSize
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), userID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      activities,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) graph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	graph, err := h.service.Graph(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	filter := domain.LeaderboardFilter{
		CountryCode: r.URL.Query().Get("country"),
		RankedOnly:  r.URL.Query().Get("ranked") == "true",
		Limit:       h.pageSize,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxPageSize {
				parsed = maxPageSize
			}
			filter.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Start = parsed
		}
	}

	rows, err := h.service.Leaderboard(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{Items: rows})
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}

	if parts[0] == "me" {
		h.currentUser(w, r, parts[1:])
		return
	}

	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid user id")
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	switch {
	case len(parts) == 1:
		h.getUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "influences":
		h.listInfluences(w, r, userID)
	case len(parts) == 2 && parts[1] == "mentions":
		h.listMentions(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request, parts []string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.getUser(w, r, claims.UserID)
		case http.MethodPost:
			h.login(w, r, claims)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
	case len(parts) == 1 && parts[0] == "bio" && r.Method == http.MethodPost:
		h.updateBio(w, r, claims.UserID)
	case len(parts) == 1 && parts[0] == "influence-order" && r.Method == http.MethodPost:
		h.setInfluenceOrder(w, r, claims.UserID)
	case len(parts) == 1 && parts[0] == "preferences" && r.Method == http.MethodPost:
		h.updatePreferences(w, r, claims.UserID)
	case len(parts) == 2 && parts[0] == "beatmaps":
		beatmapID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || beatmapID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid beatmap id")
			return
		}
		switch r.Method {
		case http.MethodPost:
			h.addUserBeatmap(w, r, claims.UserID, beatmapID)
		case http.MethodDelete:
			h.removeUserBeatmap(w, r, claims.UserID, beatmapID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request, userID int64) {
	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user := req.toUser(claims.UserID)
	if err := h.service.Login(r.Context(), user); err != nil {
		writeServiceError(w, err)
		return
	}

	refreshed, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*refreshed))
}

func (h *Handler) updateBio(w http.ResponseWriter, r *http.Request, userID int64) {
	var req UpdateBioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, err := h.service.UpdateBio(r.Context(), userID, req.Bio)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) addUserBeatmap(w http.ResponseWriter, r *http.Request, userID, beatmapID int64) {
	user, err := h.service.AddUserBeatmap(r.Context(), userID, beatmapID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) removeUserBeatmap(w http.ResponseWriter, r *http.Request, userID, beatmapID int64) {
	user, err := h.service.RemoveUserBeatmap(r.Context(), userID, beatmapID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserView(*user))
}

func (h *Handler) setInfluenceOrder(w http.ResponseWriter, r *http.Request, userID int64) {
	var req InfluenceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Order) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "order is required")
		return
	}

	if err := h.service.SetInfluenceOrder(r.Context(), userID, req.Order); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request, userID int64) {
	var req map[domain.EventType]bool
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := h.service.UpdatePreferences(r.Context(), userID, req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInfluences(w http.ResponseWriter, r *http.Request, userID int64) {
	start, limit := h.offsetParams(r)
	views, err := h.service.Influences(r.Context(), userID, start, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InfluenceListResponse{Items: views})
}

func (h *Handler) listMentions(w http.ResponseWriter, r *http.Request, userID int64) {
	start, limit := h.offsetParams(r)
	views, err := h.service.Mentions(r.Context(), userID, start, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InfluenceListResponse{Items: views})
}

func (h *Handler) influences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	var req CreateInfluenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(claims.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	edge, err := h.service.CreateInfluence(r.Context(), claims.UserID, req.TargetID, domain.InfluenceOptions{
		Type:        req.InfluenceType,
		Description: req.Description,
		Beatmaps:    req.Beatmaps,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEdgeView(*edge))
}

func (h *Handler) influenceByTarget(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/influences/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing target id")
		return
	}
	targetID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || targetID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid target id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.deleteInfluence(w, r, claims.UserID, targetID)
	case len(parts) == 2 && parts[1] == "beatmaps" && r.Method == http.MethodPost:
		h.addInfluenceBeatmaps(w, r, claims.UserID, targetID)
	case len(parts) == 3 && parts[1] == "beatmaps" && r.Method == http.MethodDelete:
		beatmapID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || beatmapID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid beatmap id")
			return
		}
		h.removeInfluenceBeatmap(w, r, claims.UserID, targetID, beatmapID)
	case len(parts) == 2 && parts[1] == "type" && r.Method == http.MethodPost:
		h.updateInfluenceType(w, r, claims.UserID, targetID)
	case len(parts) == 2 && parts[1] == "description" && r.Method == http.MethodPost:
		h.updateInfluenceDescription(w, r, claims.UserID, targetID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
	}
}

func (h *Handler) deleteInfluence(w http.ResponseWriter, r *http.Request, sourceID, targetID int64) {
	edge, err := h.service.DeleteInfluence(r.Context(), sourceID, targetID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeView(*edge))
}

func (h *Handler) addInfluenceBeatmaps(w http.ResponseWriter, r *http.Request, sourceID, targetID int64) {
	var req InfluenceBeatmapsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if len(req.Beatmaps) == 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "beatmaps is required")
		return
	}

	edge, err := h.service.AddInfluenceBeatmaps(r.Context(), sourceID, targetID, req.Beatmaps)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeView(*edge))
}

func (h *Handler) removeInfluenceBeatmap(w http.ResponseWriter, r *http.Request, sourceID, targetID, beatmapID int64) {
	edge, err := h.service.RemoveInfluenceBeatmap(r.Context(), sourceID, targetID, beatmapID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeView(*edge))
}

func (h *Handler) updateInfluenceType(w http.ResponseWriter, r *http.Request, sourceID, targetID int64) {
	var req InfluenceTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	edge, err := h.service.UpdateInfluenceType(r.Context(), sourceID, targetID, req.InfluenceType)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeView(*edge))
}

func (h *Handler) updateInfluenceDescription(w http.ResponseWriter, r *http.Request, sourceID, targetID int64) {
	var req InfluenceDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	edge, err := h.service.UpdateInfluenceDescription(r.Context(), sourceID, targetID, req.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEdgeView(*edge))
}

func (h *Handler) offsetParams(r *http.Request) (start, limit int) {
	limit = h.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > maxPageSize {
				parsed = maxPageSize
			}
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("start"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			start = parsed
		}
	}
	return start, limit
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
	case errors.Is(err, domain.ErrInfluenceNotFound):
		writeError(w, http.StatusNotFound, "not_found", "influence not found")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
