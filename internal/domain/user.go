package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when a user is not in the database.
	ErrUserNotFound = errors.New("user not found")
	// ErrInfluenceNotFound is returned when no edge exists for a (source, target) pair.
	ErrInfluenceNotFound = errors.New("influence not found")
)

// User is the canonical mapper profile stored in PostgreSQL.
type User struct {
	ID                int64
	Username          string
	AvatarURL         string
	Bio               string
	RankedMapper      bool
	Authenticated     bool
	Beatmaps          []int64
	CountryCode       string
	CountryName       string
	Groups            []json.RawMessage
	PreviousUsernames []string

	RankedAndApprovedBeatmapsetCount int
	RankedBeatmapsetCount            int
	NominatedBeatmapsetCount         int
	GuestBeatmapsetCount             int
	LovedBeatmapsetCount             int
	GraveyardBeatmapsetCount         int
	PendingBeatmapsetCount           int

	// ActivityPreferences holds per-user overrides over
	// DefaultPreferences. It gates notification fan-out only, never
	// ledger admission.
	ActivityPreferences map[EventType]bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserCompact is the minimal user reference carried by payloads.
type UserCompact struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// InfluenceEdge is a directed relationship record: the source user
// cites the target user as an influence. At most one edge exists per
// ordered (source, target) pair.
type InfluenceEdge struct {
	ID          int64
	SourceID    int64
	TargetID    int64
	Type        int
	Description string
	Beatmaps    []int64
	CreatedAt   time.Time
}
