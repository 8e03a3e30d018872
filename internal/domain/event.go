// Package domain holds the event derivation core: snapshot diffing,
// trust gating, activity construction, and graph aggregation.
package domain

// EventType identifies an activity on the wire. The enumeration is a
// stable contract; consumers ignore values they do not recognize.
type EventType string

const (
	EventAddInfluence           EventType = "ADD_INFLUENCE"
	EventRemoveInfluence        EventType = "REMOVE_INFLUENCE"
	EventAddInfluenceBeatmap    EventType = "ADD_INFLUENCE_BEATMAP"
	EventRemoveInfluenceBeatmap EventType = "REMOVE_INFLUENCE_BEATMAP"
	EventEditInfluenceType      EventType = "EDIT_INFLUENCE_TYPE"
	EventEditInfluenceDesc      EventType = "EDIT_INFLUENCE_DESC"
	EventEditBio                EventType = "EDIT_BIO"
	EventAddUserBeatmap         EventType = "ADD_USER_BEATMAP"
	EventRemoveUserBeatmap      EventType = "REMOVE_USER_BEATMAP"
	EventLogin                  EventType = "LOGIN"
)

// EventTypes lists every known event type in wire order.
func EventTypes() []EventType {
	return []EventType{
		EventAddInfluence,
		EventRemoveInfluence,
		EventAddInfluenceBeatmap,
		EventRemoveInfluenceBeatmap,
		EventEditInfluenceType,
		EventEditInfluenceDesc,
		EventEditBio,
		EventAddUserBeatmap,
		EventRemoveUserBeatmap,
		EventLogin,
	}
}

// DefaultPreferences returns the global notification defaults. Removal
// and login events are noisy, so they start muted.
func DefaultPreferences() map[EventType]bool {
	return map[EventType]bool{
		EventAddInfluence:           true,
		EventAddInfluenceBeatmap:    true,
		EventAddUserBeatmap:         true,
		EventEditBio:                true,
		EventEditInfluenceDesc:      true,
		EventEditInfluenceType:      true,
		EventLogin:                  false,
		EventRemoveInfluence:        false,
		EventRemoveInfluenceBeatmap: false,
		EventRemoveUserBeatmap:      false,
	}
}

// MergePreferences lays per-user overrides over the global defaults.
// Unknown keys in the override map are dropped.
func MergePreferences(overrides map[EventType]bool) map[EventType]bool {
	merged := DefaultPreferences()
	for eventType, enabled := range overrides {
		if _, known := merged[eventType]; known {
			merged[eventType] = enabled
		}
	}
	return merged
}
