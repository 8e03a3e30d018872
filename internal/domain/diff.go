package domain

// MutationKind names the family of record mutation being diffed. The
// write path passes it alongside the before/after snapshots so the
// differ never has to guess which field a write touched.
type MutationKind string

const (
	MutationUserBio              MutationKind = "user.bio"
	MutationUserBeatmaps         MutationKind = "user.beatmaps"
	MutationInfluenceCreate      MutationKind = "influence.create"
	MutationInfluenceDelete      MutationKind = "influence.delete"
	MutationInfluenceBeatmaps    MutationKind = "influence.beatmaps"
	MutationInfluenceType        MutationKind = "influence.type"
	MutationInfluenceDescription MutationKind = "influence.description"
)

// Mutation bundles the before/after snapshots of one committed write.
// Only the fields relevant to the Kind need to be set; Target is the
// cited user for influence mutations.
type Mutation struct {
	Kind MutationKind

	BeforeUser *User
	AfterUser  *User

	BeforeEdge *InfluenceEdge
	AfterEdge  *InfluenceEdge
	Target     *UserCompact
}

// Change describes what changed, before it is stamped into an
// Activity. A nil Change means the mutation was not semantically
// meaningful and nothing is emitted.
type Change struct {
	Type      EventType
	SubjectID int64
	Payload   ActivityPayload
}

// Diff compares the snapshots of a single committed mutation and
// produces at most one Change.
//
// Set-valued fields follow the one-representative rule: when a write
// adds or removes several elements at once, the first element of the
// asymmetric complement stands in for the whole batch and exactly one
// Change is produced. This mirrors the original trigger expression
// array::complement(after, before).at(0) and is a documented
// limitation, not an accident.
func Diff(m Mutation) *Change {
	switch m.Kind {
	case MutationUserBio:
		return diffUserBio(m.BeforeUser, m.AfterUser)
	case MutationUserBeatmaps:
		return diffUserBeatmaps(m.BeforeUser, m.AfterUser)
	case MutationInfluenceCreate:
		return influenceCreated(m.AfterEdge, m.Target)
	case MutationInfluenceDelete:
		return influenceDeleted(m.BeforeEdge, m.Target)
	case MutationInfluenceBeatmaps:
		return diffInfluenceBeatmaps(m.BeforeEdge, m.AfterEdge)
	case MutationInfluenceType:
		return diffInfluenceType(m.BeforeEdge, m.AfterEdge)
	case MutationInfluenceDescription:
		return diffInfluenceDescription(m.BeforeEdge, m.AfterEdge)
	default:
		return nil
	}
}

// LoginChange builds the Change for a successful login. Logins are not
// diffable, the event is emitted on every authentication.
func LoginChange(userID int64) *Change {
	return &Change{Type: EventLogin, SubjectID: userID}
}

func diffUserBio(before, after *User) *Change {
	if before == nil || after == nil || before.Bio == after.Bio {
		return nil
	}
	return &Change{
		Type:      EventEditBio,
		SubjectID: after.ID,
		Payload:   BioPayload{Bio: after.Bio},
	}
}

func diffUserBeatmaps(before, after *User) *Change {
	if before == nil || after == nil {
		return nil
	}
	switch {
	case len(after.Beatmaps) > len(before.Beatmaps):
		added, ok := firstComplement(after.Beatmaps, before.Beatmaps)
		if !ok {
			return nil
		}
		return &Change{
			Type:      EventAddUserBeatmap,
			SubjectID: after.ID,
			Payload:   BeatmapPayload{BeatmapID: added},
		}
	case len(before.Beatmaps) > len(after.Beatmaps):
		removed, ok := firstComplement(before.Beatmaps, after.Beatmaps)
		if !ok {
			return nil
		}
		return &Change{
			Type:      EventRemoveUserBeatmap,
			SubjectID: after.ID,
			Payload:   BeatmapPayload{BeatmapID: removed},
		}
	default:
		return nil
	}
}

func influenceCreated(edge *InfluenceEdge, target *UserCompact) *Change {
	if edge == nil || target == nil {
		return nil
	}
	return &Change{
		Type:      EventAddInfluence,
		SubjectID: edge.SourceID,
		Payload:   InfluencePayload{EdgeID: edge.ID, TargetUser: *target},
	}
}

func influenceDeleted(edge *InfluenceEdge, target *UserCompact) *Change {
	if edge == nil || target == nil {
		return nil
	}
	return &Change{
		Type:      EventRemoveInfluence,
		SubjectID: edge.SourceID,
		Payload:   InfluencePayload{EdgeID: edge.ID, TargetUser: *target},
	}
}

func diffInfluenceBeatmaps(before, after *InfluenceEdge) *Change {
	if before == nil || after == nil {
		return nil
	}
	switch {
	case len(after.Beatmaps) > len(before.Beatmaps):
		added, ok := firstComplement(after.Beatmaps, before.Beatmaps)
		if !ok {
			return nil
		}
		return &Change{
			Type:      EventAddInfluenceBeatmap,
			SubjectID: after.SourceID,
			Payload:   BeatmapPayload{BeatmapID: added},
		}
	case len(before.Beatmaps) > len(after.Beatmaps):
		removed, ok := firstComplement(before.Beatmaps, after.Beatmaps)
		if !ok {
			return nil
		}
		return &Change{
			Type:      EventRemoveInfluenceBeatmap,
			SubjectID: after.SourceID,
			Payload:   BeatmapPayload{BeatmapID: removed},
		}
	default:
		return nil
	}
}

func diffInfluenceType(before, after *InfluenceEdge) *Change {
	if before == nil || after == nil || before.Type == after.Type {
		return nil
	}
	return &Change{
		Type:      EventEditInfluenceType,
		SubjectID: after.SourceID,
		Payload:   InfluenceTypePayload{InfluenceType: after.Type},
	}
}

func diffInfluenceDescription(before, after *InfluenceEdge) *Change {
	if before == nil || after == nil || before.Description == after.Description {
		return nil
	}
	return &Change{
		Type:      EventEditInfluenceDesc,
		SubjectID: after.SourceID,
		Payload:   DescriptionPayload{Description: after.Description},
	}
}

// firstComplement returns the first element of a that is absent from
// b, in a's stored order.
func firstComplement(a, b []int64) (int64, bool) {
	seen := make(map[int64]struct{}, len(b))
	for _, id := range b {
		seen[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := seen[id]; !ok {
			return id, true
		}
	}
	return 0, false
}
