package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mapper-influences/backend/internal/domain"
)

// LoginRequest carries the profile snapshot obtained from the identity
// provider during OAuth completion.
type LoginRequest struct {
	Username          string            `json:"username"`
	AvatarURL         string            `json:"avatar_url"`
	RankedMapper      bool              `json:"ranked_mapper"`
	CountryCode       string            `json:"country_code"`
	CountryName       string            `json:"country_name"`
	Groups            []json.RawMessage `json:"groups"`
	PreviousUsernames []string          `json:"previous_usernames"`

	RankedAndApprovedBeatmapsetCount int `json:"ranked_and_approved_beatmapset_count"`
	RankedBeatmapsetCount            int `json:"ranked_beatmapset_count"`
	NominatedBeatmapsetCount         int `json:"nominated_beatmapset_count"`
	GuestBeatmapsetCount             int `json:"guest_beatmapset_count"`
	LovedBeatmapsetCount             int `json:"loved_beatmapset_count"`
	GraveyardBeatmapsetCount         int `json:"graveyard_beatmapset_count"`
	PendingBeatmapsetCount           int `json:"pending_beatmapset_count"`
}

func (r LoginRequest) toUser(userID int64) domain.User {
	return domain.User{
		ID:                userID,
		Username:          r.Username,
		AvatarURL:         r.AvatarURL,
		RankedMapper:      r.RankedMapper,
		CountryCode:       r.CountryCode,
		CountryName:       r.CountryName,
		Groups:            r.Groups,
		PreviousUsernames: r.PreviousUsernames,

		RankedAndApprovedBeatmapsetCount: r.RankedAndApprovedBeatmapsetCount,
		RankedBeatmapsetCount:            r.RankedBeatmapsetCount,
		NominatedBeatmapsetCount:         r.NominatedBeatmapsetCount,
		GuestBeatmapsetCount:             r.GuestBeatmapsetCount,
		LovedBeatmapsetCount:             r.LovedBeatmapsetCount,
		GraveyardBeatmapsetCount:         r.GraveyardBeatmapsetCount,
		PendingBeatmapsetCount:           r.PendingBeatmapsetCount,
	}
}

// UpdateBioRequest is the payload for POST /v1/users/me/bio.
type UpdateBioRequest struct {
	Bio string `json:"bio"`
}

// InfluenceOrderRequest is the payload for POST /v1/users/me/influence-order.
type InfluenceOrderRequest struct {
	Order []int64 `json:"order"`
}

// CreateInfluenceRequest is the payload for POST /v1/influences.
type CreateInfluenceRequest struct {
	TargetID      int64   `json:"target_id"`
	InfluenceType int     `json:"influence_type"`
	Description   string  `json:"description"`
	Beatmaps      []int64 `json:"beatmaps"`
}

// Validate ensures request correctness.
func (r CreateInfluenceRequest) Validate(sourceID int64) error {
	if r.TargetID <= 0 {
		return errors.New("target_id is required")
	}
	if r.TargetID == sourceID {
		return errors.New("cannot cite yourself as an influence")
	}
	if r.InfluenceType <= 0 {
		return errors.New("influence_type must be > 0")
	}
	return nil
}

// InfluenceBeatmapsRequest is the payload for attaching evidence beatmaps.
type InfluenceBeatmapsRequest struct {
	Beatmaps []int64 `json:"beatmaps"`
}

// InfluenceTypeRequest is the payload for reclassifying an edge.
type InfluenceTypeRequest struct {
	InfluenceType int `json:"influence_type"`
}

// InfluenceDescriptionRequest is the payload for rewriting an edge description.
type InfluenceDescriptionRequest struct {
	Description string `json:"description"`
}

// UserView exposes a full profile.
type UserView struct {
	ID                int64             `json:"id"`
	Username          string            `json:"username"`
	AvatarURL         string            `json:"avatar_url"`
	Bio               string            `json:"bio"`
	RankedMapper      bool              `json:"ranked_mapper"`
	Authenticated     bool              `json:"authenticated"`
	Beatmaps          []int64           `json:"beatmaps"`
	CountryCode       string            `json:"country_code"`
	CountryName       string            `json:"country_name"`
	Groups            []json.RawMessage `json:"groups"`
	PreviousUsernames []string          `json:"previous_usernames"`

	RankedAndApprovedBeatmapsetCount int `json:"ranked_and_approved_beatmapset_count"`
	RankedBeatmapsetCount            int `json:"ranked_beatmapset_count"`
	NominatedBeatmapsetCount         int `json:"nominated_beatmapset_count"`
	GuestBeatmapsetCount             int `json:"guest_beatmapset_count"`
	LovedBeatmapsetCount             int `json:"loved_beatmapset_count"`
	GraveyardBeatmapsetCount         int `json:"graveyard_beatmapset_count"`
	PendingBeatmapsetCount           int `json:"pending_beatmapset_count"`

	ActivityPreferences map[domain.EventType]bool `json:"activity_preferences"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EdgeView exposes one influence edge.
type EdgeView struct {
	ID            int64     `json:"id"`
	SourceID      int64     `json:"source_id"`
	TargetID      int64     `json:"target_id"`
	InfluenceType int       `json:"influence_type"`
	Description   string    `json:"description"`
	Beatmaps      []int64   `json:"beatmaps"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListActivitiesResponse packages feed results.
type ListActivitiesResponse struct {
	Items      []domain.Activity `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// LeaderboardResponse packages leaderboard rows.
type LeaderboardResponse struct {
	Items []domain.LeaderboardRow `json:"items"`
}

// InfluenceListResponse packages influence or mention listings.
type InfluenceListResponse struct {
	Items []domain.InfluenceView `json:"items"`
}

func toUserView(user domain.User) UserView {
	prefs := domain.MergePreferences(user.ActivityPreferences)
	return UserView{
		ID:                user.ID,
		Username:          user.Username,
		AvatarURL:         user.AvatarURL,
		Bio:               user.Bio,
		RankedMapper:      user.RankedMapper,
		Authenticated:     user.Authenticated,
		Beatmaps:          user.Beatmaps,
		CountryCode:       user.CountryCode,
		CountryName:       user.CountryName,
		Groups:            user.Groups,
		PreviousUsernames: user.PreviousUsernames,

		RankedAndApprovedBeatmapsetCount: user.RankedAndApprovedBeatmapsetCount,
		RankedBeatmapsetCount:            user.RankedBeatmapsetCount,
		NominatedBeatmapsetCount:         user.NominatedBeatmapsetCount,
		GuestBeatmapsetCount:             user.GuestBeatmapsetCount,
		LovedBeatmapsetCount:             user.LovedBeatmapsetCount,
		GraveyardBeatmapsetCount:         user.GraveyardBeatmapsetCount,
		PendingBeatmapsetCount:           user.PendingBeatmapsetCount,

		ActivityPreferences: prefs,

		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func toEdgeView(edge domain.InfluenceEdge) EdgeView {
	return EdgeView{
		ID:            edge.ID,
		SourceID:      edge.SourceID,
		TargetID:      edge.TargetID,
		InfluenceType: edge.Type,
		Description:   edge.Description,
		Beatmaps:      edge.Beatmaps,
		CreatedAt:     edge.CreatedAt,
	}
}
