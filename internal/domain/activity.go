package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownEventType marks an event type this build does not know.
// Readers skip such entries instead of failing; a newer writer may
// already be emitting types this binary predates.
var ErrUnknownEventType = errors.New("unknown event type")

// Activity is an immutable ledger entry describing one semantically
// meaningful change. It is created by the EventFactory and never
// mutated afterwards.
type Activity struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	Type      EventType
	Payload   ActivityPayload
}

// ActivityPayload is a closed union; exactly one concrete type exists
// per payload shape so consumer switches stay exhaustive. LOGIN
// activities carry a nil payload.
type ActivityPayload interface {
	activityPayload()
}

// BioPayload carries the new bio text for EDIT_BIO.
type BioPayload struct {
	Bio string `json:"bio"`
}

// BeatmapPayload carries the single representative beatmap for the
// four beatmap add/remove event types.
type BeatmapPayload struct {
	BeatmapID int64 `json:"beatmap_id"`
}

// InfluencePayload references an edge for ADD_INFLUENCE and
// REMOVE_INFLUENCE.
type InfluencePayload struct {
	EdgeID     int64       `json:"edge_id"`
	TargetUser UserCompact `json:"target_user"`
}

// InfluenceTypePayload carries the new classification for
// EDIT_INFLUENCE_TYPE.
type InfluenceTypePayload struct {
	InfluenceType int `json:"influence_type"`
}

// DescriptionPayload carries the new text for EDIT_INFLUENCE_DESC.
type DescriptionPayload struct {
	Description string `json:"description"`
}

func (BioPayload) activityPayload()           {}
func (BeatmapPayload) activityPayload()       {}
func (InfluencePayload) activityPayload()     {}
func (InfluenceTypePayload) activityPayload() {}
func (DescriptionPayload) activityPayload()   {}

// Validate checks that the payload shape matches the event type.
func (a Activity) Validate() error {
	var ok bool
	switch a.Type {
	case EventEditBio:
		_, ok = a.Payload.(BioPayload)
	case EventAddUserBeatmap, EventRemoveUserBeatmap, EventAddInfluenceBeatmap, EventRemoveInfluenceBeatmap:
		_, ok = a.Payload.(BeatmapPayload)
	case EventAddInfluence, EventRemoveInfluence:
		_, ok = a.Payload.(InfluencePayload)
	case EventEditInfluenceType:
		_, ok = a.Payload.(InfluenceTypePayload)
	case EventEditInfluenceDesc:
		_, ok = a.Payload.(DescriptionPayload)
	case EventLogin:
		ok = a.Payload == nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownEventType, a.Type)
	}
	if !ok {
		return fmt.Errorf("payload %T does not match event type %q", a.Payload, a.Type)
	}
	return nil
}

// activityEnvelope is the flat wire form: payload fields sit beside
// the envelope fields rather than under a nested key.
type activityEnvelope struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	EventType EventType `json:"event_type"`

	Bio           *string      `json:"bio,omitempty"`
	BeatmapID     *int64       `json:"beatmap_id,omitempty"`
	EdgeID        *int64       `json:"edge_id,omitempty"`
	TargetUser    *UserCompact `json:"target_user,omitempty"`
	InfluenceType *int         `json:"influence_type,omitempty"`
	Description   *string      `json:"description,omitempty"`
}

// MarshalJSON flattens the payload beside the envelope fields.
func (a Activity) MarshalJSON() ([]byte, error) {
	env := activityEnvelope{
		ID:        a.ID,
		UserID:    a.UserID,
		CreatedAt: a.CreatedAt,
		EventType: a.Type,
	}
	switch p := a.Payload.(type) {
	case BioPayload:
		env.Bio = &p.Bio
	case BeatmapPayload:
		env.BeatmapID = &p.BeatmapID
	case InfluencePayload:
		env.EdgeID = &p.EdgeID
		env.TargetUser = &p.TargetUser
	case InfluenceTypePayload:
		env.InfluenceType = &p.InfluenceType
	case DescriptionPayload:
		env.Description = &p.Description
	case nil:
	default:
		return nil, fmt.Errorf("unknown payload type %T", a.Payload)
	}
	return json.Marshal(env)
}

// UnmarshalJSON restores the tagged union from the flat wire form.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var env activityEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := payloadFromEnvelope(env)
	if err != nil {
		return err
	}
	a.ID = env.ID
	a.UserID = env.UserID
	a.CreatedAt = env.CreatedAt
	a.Type = env.EventType
	a.Payload = payload
	return nil
}

func payloadFromEnvelope(env activityEnvelope) (ActivityPayload, error) {
	switch env.EventType {
	case EventEditBio:
		if env.Bio == nil {
			return nil, fmt.Errorf("%s activity without bio field", env.EventType)
		}
		return BioPayload{Bio: *env.Bio}, nil
	case EventAddUserBeatmap, EventRemoveUserBeatmap, EventAddInfluenceBeatmap, EventRemoveInfluenceBeatmap:
		if env.BeatmapID == nil {
			return nil, fmt.Errorf("%s activity without beatmap_id field", env.EventType)
		}
		return BeatmapPayload{BeatmapID: *env.BeatmapID}, nil
	case EventAddInfluence, EventRemoveInfluence:
		if env.EdgeID == nil || env.TargetUser == nil {
			return nil, fmt.Errorf("%s activity without influence reference", env.EventType)
		}
		return InfluencePayload{EdgeID: *env.EdgeID, TargetUser: *env.TargetUser}, nil
	case EventEditInfluenceType:
		if env.InfluenceType == nil {
			return nil, fmt.Errorf("%s activity without influence_type field", env.EventType)
		}
		return InfluenceTypePayload{InfluenceType: *env.InfluenceType}, nil
	case EventEditInfluenceDesc:
		if env.Description == nil {
			return nil, fmt.Errorf("%s activity without description field", env.EventType)
		}
		return DescriptionPayload{Description: *env.Description}, nil
	case EventLogin:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEventType, env.EventType)
	}
}

// PayloadJSON serializes only the payload fields, for JSONB storage.
func (a Activity) PayloadJSON() ([]byte, error) {
	if a.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.Payload)
}

// DecodePayload parses stored payload fields back into the union
// variant dictated by the event type.
func DecodePayload(eventType EventType, data []byte) (ActivityPayload, error) {
	switch eventType {
	case EventEditBio:
		var p BioPayload
		return p, json.Unmarshal(data, &p)
	case EventAddUserBeatmap, EventRemoveUserBeatmap, EventAddInfluenceBeatmap, EventRemoveInfluenceBeatmap:
		var p BeatmapPayload
		return p, json.Unmarshal(data, &p)
	case EventAddInfluence, EventRemoveInfluence:
		var p InfluencePayload
		return p, json.Unmarshal(data, &p)
	case EventEditInfluenceType:
		var p InfluenceTypePayload
		return p, json.Unmarshal(data, &p)
	case EventEditInfluenceDesc:
		var p DescriptionPayload
		return p, json.Unmarshal(data, &p)
	case EventLogin:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEventType, eventType)
	}
}

// Cursor is the keyset pagination token for the activity feed.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
