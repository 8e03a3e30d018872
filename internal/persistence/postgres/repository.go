// Package postgres implements the persistence boundary on pgx. Every
// mutation method runs the diff-and-emit hook inside the same
// transaction as the write it describes, so the ledger can never drift
// from the records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapper-influences/backend/internal/domain"
	"github.com/mapper-influences/backend/internal/observability"
)

// Repository provides Postgres-backed persistence for users, influence
// edges, the activity ledger, and the notification outbox.
type Repository struct {
	pool     *pgxpool.Pool
	recorder *domain.Recorder
	topic    string
}

// NewRepository constructs a Repository. Outbox rows are routed to the
// given Kafka topic.
func NewRepository(pool *pgxpool.Pool, recorder *domain.Recorder, topic string) *Repository {
	return &Repository{pool: pool, recorder: recorder, topic: topic}
}

const userColumns = `user_id, username, avatar_url, bio, ranked_mapper, authenticated, beatmaps,
        country_code, country_name, groups, previous_usernames,
        ranked_and_approved_beatmapset_count, ranked_beatmapset_count, nominated_beatmapset_count,
        guest_beatmapset_count, loved_beatmapset_count, graveyard_beatmapset_count, pending_beatmapset_count,
        activity_preferences, created_at, updated_at`

const edgeColumns = `influence_id, source_id, target_id, influence_type, description, beatmaps, created_at`

// GetUser returns the full profile for one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, id)
	return scanUser(row)
}

// UpsertUser refreshes the identity-provider fields of a profile.
// Locally-authored state (bio, beatmaps, preferences) is never
// overwritten by an upsert.
func (r *Repository) UpsertUser(ctx context.Context, user domain.User) error {
	groups, err := marshalGroups(user.Groups)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO users (user_id, username, avatar_url, ranked_mapper, authenticated,
            country_code, country_name, groups, previous_usernames,
            ranked_and_approved_beatmapset_count, ranked_beatmapset_count, nominated_beatmapset_count,
            guest_beatmapset_count, loved_beatmapset_count, graveyard_beatmapset_count, pending_beatmapset_count)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        ON CONFLICT (user_id) DO UPDATE SET
            username = EXCLUDED.username,
            avatar_url = EXCLUDED.avatar_url,
            ranked_mapper = EXCLUDED.ranked_mapper,
            authenticated = users.authenticated OR EXCLUDED.authenticated,
            country_code = EXCLUDED.country_code,
            country_name = EXCLUDED.country_name,
            groups = EXCLUDED.groups,
            previous_usernames = EXCLUDED.previous_usernames,
            ranked_and_approved_beatmapset_count = EXCLUDED.ranked_and_approved_beatmapset_count,
            ranked_beatmapset_count = EXCLUDED.ranked_beatmapset_count,
            nominated_beatmapset_count = EXCLUDED.nominated_beatmapset_count,
            guest_beatmapset_count = EXCLUDED.guest_beatmapset_count,
            loved_beatmapset_count = EXCLUDED.loved_beatmapset_count,
            graveyard_beatmapset_count = EXCLUDED.graveyard_beatmapset_count,
            pending_beatmapset_count = EXCLUDED.pending_beatmapset_count,
            updated_at = now()`

	_, err = r.pool.Exec(ctx, stmt,
		user.ID,
		user.Username,
		user.AvatarURL,
		user.RankedMapper,
		user.Authenticated,
		user.CountryCode,
		user.CountryName,
		groups,
		emptyStringsIfNil(user.PreviousUsernames),
		user.RankedAndApprovedBeatmapsetCount,
		user.RankedBeatmapsetCount,
		user.NominatedBeatmapsetCount,
		user.GuestBeatmapsetCount,
		user.LovedBeatmapsetCount,
		user.GraveyardBeatmapsetCount,
		user.PendingBeatmapsetCount,
	)
	return err
}

// RecordLogin appends the LOGIN activity for a successful
// authentication.
func (r *Repository) RecordLogin(ctx context.Context, actor domain.Identity, userID int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	activity, suppressed := r.recorder.RecordLogin(userID, actor)
	if err := r.appendActivity(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.finish(activity, suppressed)
	return nil
}

// UpdateBio replaces the user's bio and derives EDIT_BIO when the text
// actually changed.
func (r *Repository) UpdateBio(ctx context.Context, actor domain.Identity, userID int64, bio string) (*domain.User, error) {
	return r.mutateUser(ctx, actor, userID, domain.MutationUserBio, func(tx pgx.Tx, before *domain.User) (*domain.User, error) {
		if _, err := tx.Exec(ctx, `UPDATE users SET bio=$2, updated_at=now() WHERE user_id=$1`, userID, bio); err != nil {
			return nil, err
		}
		after := *before
		after.Bio = bio
		return &after, nil
	})
}

// AddUserBeatmap tags a beatmap on the user's profile.
func (r *Repository) AddUserBeatmap(ctx context.Context, actor domain.Identity, userID, beatmapID int64) (*domain.User, error) {
	return r.mutateUser(ctx, actor, userID, domain.MutationUserBeatmaps, func(tx pgx.Tx, before *domain.User) (*domain.User, error) {
		if containsID(before.Beatmaps, beatmapID) {
			return before, nil
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET beatmaps = array_append(beatmaps, $2), updated_at=now() WHERE user_id=$1`, userID, beatmapID); err != nil {
			return nil, err
		}
		after := *before
		after.Beatmaps = append(append([]int64{}, before.Beatmaps...), beatmapID)
		return &after, nil
	})
}

// RemoveUserBeatmap untags a beatmap from the user's profile.
func (r *Repository) RemoveUserBeatmap(ctx context.Context, actor domain.Identity, userID, beatmapID int64) (*domain.User, error) {
	return r.mutateUser(ctx, actor, userID, domain.MutationUserBeatmaps, func(tx pgx.Tx, before *domain.User) (*domain.User, error) {
		if !containsID(before.Beatmaps, beatmapID) {
			return before, nil
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET beatmaps = array_remove(beatmaps, $2), updated_at=now() WHERE user_id=$1`, userID, beatmapID); err != nil {
			return nil, err
		}
		after := *before
		after.Beatmaps = withoutID(before.Beatmaps, beatmapID)
		return &after, nil
	})
}

// CreateInfluence records that sourceID cites targetID. When the edge
// already exists the caller-supplied fields update it in place and no
// ADD_INFLUENCE is derived; only a genuinely new edge is an event.
func (r *Repository) CreateInfluence(ctx context.Context, actor domain.Identity, sourceID, targetID int64, opts domain.InfluenceOptions) (*domain.InfluenceEdge, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	target, err := userCompactTx(ctx, tx, targetID)
	if err != nil {
		return nil, err
	}

	existing, err := getEdgeTx(ctx, tx, sourceID, targetID, true)
	if err != nil && !errors.Is(err, domain.ErrInfluenceNotFound) {
		return nil, err
	}

	if existing != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE influences SET influence_type=$3, description=$4, beatmaps=$5 WHERE source_id=$1 AND target_id=$2`,
			sourceID, targetID, opts.Type, opts.Description, emptyIfNil(opts.Beatmaps)); err != nil {
			return nil, err
		}
		existing.Type = opts.Type
		existing.Description = opts.Description
		existing.Beatmaps = emptyIfNil(opts.Beatmaps)
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return existing, nil
	}

	edge := domain.InfluenceEdge{
		SourceID:    sourceID,
		TargetID:    targetID,
		Type:        opts.Type,
		Description: opts.Description,
		Beatmaps:    emptyIfNil(opts.Beatmaps),
	}
	row := tx.QueryRow(ctx,
		`INSERT INTO influences (source_id, target_id, influence_type, description, beatmaps, position)
         VALUES ($1,$2,$3,$4,$5, (SELECT COALESCE(MAX(position)+1, 0) FROM influences WHERE source_id=$1))
         RETURNING influence_id, created_at`,
		sourceID, targetID, opts.Type, opts.Description, edge.Beatmaps)
	if err := row.Scan(&edge.ID, &edge.CreatedAt); err != nil {
		return nil, err
	}

	activity, suppressed := r.recorder.Record(domain.Mutation{
		Kind:      domain.MutationInfluenceCreate,
		AfterEdge: &edge,
		Target:    target,
	}, actor)
	if err := r.appendActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.finish(activity, suppressed)
	return &edge, nil
}

// DeleteInfluence removes the (source, target) edge and derives
// REMOVE_INFLUENCE.
func (r *Repository) DeleteInfluence(ctx context.Context, actor domain.Identity, sourceID, targetID int64) (*domain.InfluenceEdge, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	edge, err := getEdgeTx(ctx, tx, sourceID, targetID, true)
	if err != nil {
		return nil, err
	}
	target, err := userCompactTx(ctx, tx, targetID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM influences WHERE source_id=$1 AND target_id=$2`, sourceID, targetID); err != nil {
		return nil, err
	}

	activity, suppressed := r.recorder.Record(domain.Mutation{
		Kind:       domain.MutationInfluenceDelete,
		BeforeEdge: edge,
		Target:     target,
	}, actor)
	if err := r.appendActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.finish(activity, suppressed)
	return edge, nil
}

// AddInfluenceBeatmaps attaches evidence beatmaps to an edge. A bulk
// attach still yields a single representative event.
func (r *Repository) AddInfluenceBeatmaps(ctx context.Context, actor domain.Identity, sourceID, targetID int64, beatmapIDs []int64) (*domain.InfluenceEdge, error) {
	return r.mutateEdge(ctx, actor, sourceID, targetID, domain.MutationInfluenceBeatmaps, func(tx pgx.Tx, before *domain.InfluenceEdge) (*domain.InfluenceEdge, error) {
		merged := append([]int64{}, before.Beatmaps...)
		for _, id := range beatmapIDs {
			if !containsID(merged, id) {
				merged = append(merged, id)
			}
		}
		if len(merged) == len(before.Beatmaps) {
			return before, nil
		}
		if _, err := tx.Exec(ctx, `UPDATE influences SET beatmaps=$3 WHERE source_id=$1 AND target_id=$2`, sourceID, targetID, merged); err != nil {
			return nil, err
		}
		after := *before
		after.Beatmaps = merged
		return &after, nil
	})
}

// RemoveInfluenceBeatmap detaches one evidence beatmap from an edge.
func (r *Repository) RemoveInfluenceBeatmap(ctx context.Context, actor domain.Identity, sourceID, targetID, beatmapID int64) (*domain.InfluenceEdge, error) {
	return r.mutateEdge(ctx, actor, sourceID, targetID, domain.MutationInfluenceBeatmaps, func(tx pgx.Tx, before *domain.InfluenceEdge) (*domain.InfluenceEdge, error) {
		if !containsID(before.Beatmaps, beatmapID) {
			return before, nil
		}
		trimmed := withoutID(before.Beatmaps, beatmapID)
		if _, err := tx.Exec(ctx, `UPDATE influences SET beatmaps=$3 WHERE source_id=$1 AND target_id=$2`, sourceID, targetID, trimmed); err != nil {
			return nil, err
		}
		after := *before
		after.Beatmaps = trimmed
		return &after, nil
	})
}

// UpdateInfluenceType reclassifies an edge.
func (r *Repository) UpdateInfluenceType(ctx context.Context, actor domain.Identity, sourceID, targetID int64, influenceType int) (*domain.InfluenceEdge, error) {
	return r.mutateEdge(ctx, actor, sourceID, targetID, domain.MutationInfluenceType, func(tx pgx.Tx, before *domain.InfluenceEdge) (*domain.InfluenceEdge, error) {
		if _, err := tx.Exec(ctx, `UPDATE influences SET influence_type=$3 WHERE source_id=$1 AND target_id=$2`, sourceID, targetID, influenceType); err != nil {
			return nil, err
		}
		after := *before
		after.Type = influenceType
		return &after, nil
	})
}

// UpdateInfluenceDescription rewrites an edge's free-text description.
func (r *Repository) UpdateInfluenceDescription(ctx context.Context, actor domain.Identity, sourceID, targetID int64, description string) (*domain.InfluenceEdge, error) {
	return r.mutateEdge(ctx, actor, sourceID, targetID, domain.MutationInfluenceDescription, func(tx pgx.Tx, before *domain.InfluenceEdge) (*domain.InfluenceEdge, error) {
		if _, err := tx.Exec(ctx, `UPDATE influences SET description=$3 WHERE source_id=$1 AND target_id=$2`, sourceID, targetID, description); err != nil {
			return nil, err
		}
		after := *before
		after.Description = description
		return &after, nil
	})
}

// SetInfluenceOrder persists the user's manual ordering of their
// influence list. Ordering never derives activity.
func (r *Repository) SetInfluenceOrder(ctx context.Context, userID int64, orderedTargets []int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for position, targetID := range orderedTargets {
		if _, err := tx.Exec(ctx, `UPDATE influences SET position=$3 WHERE source_id=$1 AND target_id=$2`, userID, targetID, position); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdatePreferences stores per-user notification overrides. Unknown
// event types are dropped before storage.
func (r *Repository) UpdatePreferences(ctx context.Context, userID int64, overrides map[domain.EventType]bool) error {
	known := domain.DefaultPreferences()
	filtered := make(map[domain.EventType]bool, len(overrides))
	for eventType, enabled := range overrides {
		if _, ok := known[eventType]; ok {
			filtered[eventType] = enabled
		}
	}
	body, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE users SET activity_preferences=$2, updated_at=now() WHERE user_id=$1`, userID, body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// ListActivities returns ledger entries newest first with keyset
// pagination. A non-positive userID means the global feed.
func (r *Repository) ListActivities(ctx context.Context, userID int64, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	query := `SELECT activity_id, user_id, event_type, payload, created_at FROM activities`
	args := []interface{}{}
	conditions := []string{}

	if userID > 0 {
		args = append(args, userID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		conditions = append(conditions, fmt.Sprintf("(created_at, activity_id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, activity_id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	scanned := 0
	var lastSeen domain.Cursor
	for rows.Next() {
		var (
			activity domain.Activity
			payload  []byte
		)
		if err := rows.Scan(&activity.ID, &activity.UserID, &activity.Type, &payload, &activity.CreatedAt); err != nil {
			return nil, nil, err
		}
		scanned++
		lastSeen = domain.Cursor{CreatedAt: activity.CreatedAt, ID: activity.ID}

		activity.Payload, err = domain.DecodePayload(activity.Type, payload)
		if err != nil {
			// Rows written by a newer deploy carry types this binary
			// does not know; the rest of the page is still servable.
			if errors.Is(err, domain.ErrUnknownEventType) {
				continue
			}
			return nil, nil, err
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if scanned == limit {
		nextCursor = &lastSeen
	}
	return results, nextCursor, nil
}

// GraphEdges reads the whole edge set joined with both endpoints in a
// single repeatable-read snapshot, so the aggregation never sees a
// half-applied mutation.
func (r *Repository) GraphEdges(ctx context.Context) ([]domain.GraphEdge, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT i.influence_id,
            s.user_id, s.username, s.avatar_url,
            t.user_id, t.username, t.avatar_url,
            i.influence_type
        FROM influences i
        JOIN users s ON s.user_id = i.source_id
        JOIN users t ON t.user_id = i.target_id
        ORDER BY i.influence_id`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.GraphEdge
	for rows.Next() {
		var edge domain.GraphEdge
		if err := rows.Scan(&edge.EdgeID,
			&edge.Source.ID, &edge.Source.Username, &edge.Source.AvatarURL,
			&edge.Target.ID, &edge.Target.Username, &edge.Target.AvatarURL,
			&edge.Type); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return edges, nil
}

// Influences lists who the user cites, in their manual order.
func (r *Repository) Influences(ctx context.Context, userID int64, start, limit int) ([]domain.InfluenceView, error) {
	const query = `SELECT u.user_id, u.username, u.avatar_url, i.influence_type, i.description, i.beatmaps,
            (SELECT COUNT(*) FROM influences m WHERE m.target_id = u.user_id) AS mentions
        FROM influences i
        JOIN users u ON u.user_id = i.target_id
        WHERE i.source_id = $1
        ORDER BY i.position ASC, i.created_at ASC
        LIMIT $2 OFFSET $3`
	return r.queryInfluenceViews(ctx, query, userID, limit, start)
}

// Mentions lists who cites the user, most recent first.
func (r *Repository) Mentions(ctx context.Context, userID int64, start, limit int) ([]domain.InfluenceView, error) {
	const query = `SELECT u.user_id, u.username, u.avatar_url, i.influence_type, i.description, i.beatmaps,
            (SELECT COUNT(*) FROM influences m WHERE m.target_id = u.user_id) AS mentions
        FROM influences i
        JOIN users u ON u.user_id = i.source_id
        WHERE i.target_id = $1
        ORDER BY i.created_at DESC
        LIMIT $2 OFFSET $3`
	return r.queryInfluenceViews(ctx, query, userID, limit, start)
}

// Leaderboard ranks users by mention count. The ranked variant only
// counts citations coming from ranked mappers.
func (r *Repository) Leaderboard(ctx context.Context, filter domain.LeaderboardFilter) ([]domain.LeaderboardRow, error) {
	builder := sq.Select(
		"u.user_id", "u.username", "u.avatar_url", "u.country_code",
		"COUNT(*) AS mentions",
	).
		From("influences i").
		Join("users u ON u.user_id = i.target_id").
		Join("users s ON s.user_id = i.source_id").
		GroupBy("u.user_id", "u.username", "u.avatar_url", "u.country_code").
		OrderBy("mentions DESC", "u.user_id ASC").
		PlaceholderFormat(sq.Dollar)

	if filter.CountryCode != "" {
		builder = builder.Where(sq.Eq{"u.country_code": strings.ToUpper(filter.CountryCode)})
	}
	if filter.RankedOnly {
		builder = builder.Where("s.ranked_mapper")
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Start > 0 {
		builder = builder.Offset(uint64(filter.Start))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		if err := rows.Scan(&row.ID, &row.Username, &row.AvatarURL, &row.CountryCode, &row.Mentions); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// mutateUser runs one user mutation under row lock: lock and read the
// before image, apply the write, diff the images, append the derived
// activity, commit.
func (r *Repository) mutateUser(ctx context.Context, actor domain.Identity, userID int64, kind domain.MutationKind, apply func(pgx.Tx, *domain.User) (*domain.User, error)) (*domain.User, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	before, err := getUserTx(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	after, err := apply(tx, before)
	if err != nil {
		return nil, err
	}

	activity, suppressed := r.recorder.Record(domain.Mutation{
		Kind:       kind,
		BeforeUser: before,
		AfterUser:  after,
	}, actor)
	if err := r.appendActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.finish(activity, suppressed)
	return after, nil
}

// mutateEdge is mutateUser for influence edges.
func (r *Repository) mutateEdge(ctx context.Context, actor domain.Identity, sourceID, targetID int64, kind domain.MutationKind, apply func(pgx.Tx, *domain.InfluenceEdge) (*domain.InfluenceEdge, error)) (*domain.InfluenceEdge, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	before, err := getEdgeTx(ctx, tx, sourceID, targetID, true)
	if err != nil {
		return nil, err
	}
	after, err := apply(tx, before)
	if err != nil {
		return nil, err
	}

	activity, suppressed := r.recorder.Record(domain.Mutation{
		Kind:       kind,
		BeforeEdge: before,
		AfterEdge:  after,
	}, actor)
	if err := r.appendActivity(ctx, tx, activity); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.finish(activity, suppressed)
	return after, nil
}

// appendActivity inserts the ledger row and, when the subject's merged
// preferences enable the event type, an outbox row for notification
// fan-out. Preference filtering applies here only; the ledger itself is
// never filtered.
func (r *Repository) appendActivity(ctx context.Context, tx pgx.Tx, activity *domain.Activity) error {
	if activity == nil {
		return nil
	}
	payload, err := activity.PayloadJSON()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO activities (activity_id, user_id, event_type, payload, created_at) VALUES ($1,$2,$3,$4,$5)`,
		activity.ID, activity.UserID, activity.Type, payload, activity.CreatedAt); err != nil {
		return err
	}

	var rawPrefs []byte
	err = tx.QueryRow(ctx, `SELECT activity_preferences FROM users WHERE user_id=$1`, activity.UserID).Scan(&rawPrefs)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	overrides := map[domain.EventType]bool{}
	if len(rawPrefs) > 0 {
		if err := json.Unmarshal(rawPrefs, &overrides); err != nil {
			return err
		}
	}
	if !domain.MergePreferences(overrides)[activity.Type] {
		return nil
	}

	envelope, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (activity_id, event_type, topic, partition_key, payload) VALUES ($1,$2,$3,$4,$5)`,
		activity.ID, activity.Type, r.topic, fmt.Sprintf("%d", activity.UserID), envelope)
	return err
}

// finish records the emit/suppress metrics after a successful commit.
func (r *Repository) finish(activity *domain.Activity, suppressed bool) {
	if activity != nil {
		observability.RecordActivityAppended(string(activity.Type), activity.CreatedAt)
	}
	if suppressed {
		observability.RecordActivitySuppressed()
	}
}

func (r *Repository) queryInfluenceViews(ctx context.Context, query string, args ...interface{}) ([]domain.InfluenceView, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.InfluenceView
	for rows.Next() {
		var view domain.InfluenceView
		if err := rows.Scan(&view.User.ID, &view.User.Username, &view.User.AvatarURL,
			&view.InfluenceType, &view.Description, &view.Beatmaps, &view.Mentions); err != nil {
			return nil, err
		}
		results = append(results, view)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user     domain.User
		groups   []byte
		rawPrefs []byte
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.AvatarURL, &user.Bio, &user.RankedMapper, &user.Authenticated, &user.Beatmaps,
		&user.CountryCode, &user.CountryName, &groups, &user.PreviousUsernames,
		&user.RankedAndApprovedBeatmapsetCount, &user.RankedBeatmapsetCount, &user.NominatedBeatmapsetCount,
		&user.GuestBeatmapsetCount, &user.LovedBeatmapsetCount, &user.GraveyardBeatmapsetCount, &user.PendingBeatmapsetCount,
		&rawPrefs, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &user.Groups); err != nil {
			return nil, err
		}
	}
	user.ActivityPreferences = map[domain.EventType]bool{}
	if len(rawPrefs) > 0 {
		if err := json.Unmarshal(rawPrefs, &user.ActivityPreferences); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func getUserTx(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanUser(tx.QueryRow(ctx, query, id))
}

func getEdgeTx(ctx context.Context, tx pgx.Tx, sourceID, targetID int64, forUpdate bool) (*domain.InfluenceEdge, error) {
	query := `SELECT ` + edgeColumns + ` FROM influences WHERE source_id=$1 AND target_id=$2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var edge domain.InfluenceEdge
	err := tx.QueryRow(ctx, query, sourceID, targetID).Scan(
		&edge.ID, &edge.SourceID, &edge.TargetID, &edge.Type, &edge.Description, &edge.Beatmaps, &edge.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInfluenceNotFound
		}
		return nil, err
	}
	return &edge, nil
}

func userCompactTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.UserCompact, error) {
	var compact domain.UserCompact
	err := tx.QueryRow(ctx, `SELECT user_id, username, avatar_url FROM users WHERE user_id=$1`, id).
		Scan(&compact.ID, &compact.Username, &compact.AvatarURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &compact, nil
}

func marshalGroups(groups []json.RawMessage) ([]byte, error) {
	if groups == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(groups)
}

func containsID(ids []int64, id int64) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func withoutID(ids []int64, id int64) []int64 {
	trimmed := make([]int64, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			trimmed = append(trimmed, existing)
		}
	}
	return trimmed
}

func emptyIfNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func emptyStringsIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
