package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stridehq/stride/internal/schema"
)

const activityColumns = `local_id, remote_id, owner_id, revision, synced, synced_at,
       goal_id, title, points, status, date, started_at, completed_at, duration_min,
       created_at, updated_at`

var activityFields = map[string]bool{
	"title":        true,
	"points":       true,
	"status":       true,
	"date":         true,
	"started_at":   true,
	"completed_at": true,
	"duration_min": true,
}

// Template is a distinct (title, points) pair derived from a goal's
// historical activities, used to regenerate a day's pending activities.
type Template struct {
	Title  string
	Points int
}

// CreateActivity inserts a new activity and returns its local ID. Sync
// metadata is initialized the same way as for goals.
func (s *Store) CreateActivity(ctx context.Context, a *schema.Activity) (string, error) {
	localID, err := s.createActivity(ctx, s.conn, a)
	if err != nil {
		return "", err
	}
	s.notify(Event{Kind: schema.KindActivity, Action: ActionCreated, LocalID: localID, OwnerID: a.OwnerID})
	return localID, nil
}

// BulkCreateActivities inserts a batch of activities in one transaction and
// returns their local IDs. Either all records are created or none are.
func (s *Store) BulkCreateActivities(ctx context.Context, batch []*schema.Activity) ([]string, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(batch))
	for _, a := range batch {
		id, err := s.createActivity(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bulk create: %w", err)
	}

	for i, a := range batch {
		s.notify(Event{Kind: schema.KindActivity, Action: ActionCreated, LocalID: ids[i], OwnerID: a.OwnerID})
	}
	return ids, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) createActivity(ctx context.Context, db execer, a *schema.Activity) (string, error) {
	if a.LocalID == "" {
		a.LocalID = uuid.NewString()
	}
	if a.RemoteID == "" {
		a.RemoteID = a.LocalID
	}
	if a.Revision == 0 {
		a.Revision = 1
	}
	a.Synced = false
	a.SyncedAt = nil
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return "", fmt.Errorf("invalid activity: %w", err)
	}

	_, err := db.ExecContext(ctx, `
	INSERT INTO activities (`+activityColumns+`)
	VALUES (?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.LocalID, a.RemoteID, a.OwnerID, a.Revision,
		a.GoalID, a.Title, a.Points, a.Status, a.Date,
		timeToNullString(a.StartedAt), timeToNullString(a.CompletedAt), a.DurationMin,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert activity: %w", err)
	}
	return a.LocalID, nil
}

// GetActivity retrieves an activity by local ID. Returns ErrNotFound if
// absent.
func (s *Store) GetActivity(ctx context.Context, localID string) (*schema.Activity, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE local_id = ?`, localID)
	return scanActivity(row)
}

// ActivityByRemoteID retrieves the owner's activity joined on the remote ID.
func (s *Store) ActivityByRemoteID(ctx context.Context, ownerID, remoteID string) (*schema.Activity, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE owner_id = ? AND remote_id = ?`, ownerID, remoteID)
	return scanActivity(row)
}

// UpdateActivity applies a partial field update and marks the activity
// unsynced.
func (s *Store) UpdateActivity(ctx context.Context, localID string, fields map[string]any) error {
	sets, args, err := buildSet(activityFields, fields)
	if err != nil {
		return fmt.Errorf("invalid activity update: %w", err)
	}
	sets = append(sets, "synced = 0", "updated_at = ?")
	args = append(args, time.Now().Format(time.RFC3339Nano), localID)

	res, err := s.conn.ExecContext(ctx,
		`UPDATE activities SET `+strings.Join(sets, ", ")+` WHERE local_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update activity %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.notify(Event{Kind: schema.KindActivity, Action: ActionUpdated, LocalID: localID})
	return nil
}

// DeleteActivity removes an activity. Idempotent.
func (s *Store) DeleteActivity(ctx context.Context, localID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM activities WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete activity %s: %w", localID, err)
	}
	s.notify(Event{Kind: schema.KindActivity, Action: ActionDeleted, LocalID: localID})
	return nil
}

// ActivitiesByOwnerGoalDate returns the owner's activities for a goal on a
// calendar date. Backed by the compound index.
func (s *Store) ActivitiesByOwnerGoalDate(ctx context.Context, ownerID, goalID, date string) ([]*schema.Activity, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE owner_id = ? AND goal_id = ? AND date = ? ORDER BY created_at ASC`,
		ownerID, goalID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities by goal and date: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ActivitiesByOwnerStatus returns the owner's activities with the given
// status.
func (s *Store) ActivitiesByOwnerStatus(ctx context.Context, ownerID, status string) ([]*schema.Activity, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities
		 WHERE owner_id = ? AND status = ? ORDER BY date ASC, created_at ASC`,
		ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities by status: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ActivitiesByGoal returns every activity under a goal.
func (s *Store) ActivitiesByGoal(ctx context.Context, goalID string) ([]*schema.Activity, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE goal_id = ? ORDER BY date ASC, created_at ASC`,
		goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities by goal: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// UnsyncedActivities returns activities pending upload. NULL-synced rows
// are excluded for the same reason as in UnsyncedGoals.
func (s *Store) UnsyncedActivities(ctx context.Context) ([]*schema.Activity, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE synced = 0 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced activities: %w", err)
	}
	defer rows.Close()
	return scanActivities(rows)
}

// ExpirePending marks every still-pending activity for the goal whose date
// differs from keepDate as expired, and returns the affected local IDs.
// The expired records become unsynced so the change uploads on the next
// cycle.
func (s *Store) ExpirePending(ctx context.Context, ownerID, goalID, keepDate string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT local_id FROM activities
		 WHERE owner_id = ? AND goal_id = ? AND status = ? AND date != ?`,
		ownerID, goalID, schema.ActivityPending, keepDate)
	if err != nil {
		return nil, fmt.Errorf("failed to find expirable activities: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan activity id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expirable activities: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now().Format(time.RFC3339Nano)
	_, err = s.conn.ExecContext(ctx,
		`UPDATE activities SET status = ?, synced = 0, updated_at = ?
		 WHERE owner_id = ? AND goal_id = ? AND status = ? AND date != ?`,
		schema.ActivityExpired, now, ownerID, goalID, schema.ActivityPending, keepDate)
	if err != nil {
		return nil, fmt.Errorf("failed to expire activities: %w", err)
	}

	for _, id := range ids {
		s.notify(Event{Kind: schema.KindActivity, Action: ActionUpdated, LocalID: id, OwnerID: ownerID})
	}
	return ids, nil
}

// ActivityTemplates derives the goal's regeneration template: one entry per
// distinct activity title ever recorded under the goal, with its point
// value. Ordered by title for determinism.
func (s *Store) ActivityTemplates(ctx context.Context, ownerID, goalID string) ([]Template, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT title, MAX(points) FROM activities
		 WHERE owner_id = ? AND goal_id = ?
		 GROUP BY title ORDER BY title ASC`,
		ownerID, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive activity templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.Title, &t.Points); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}
	return templates, nil
}

// MarkActivitySynced records a push acknowledgement for an activity.
func (s *Store) MarkActivitySynced(ctx context.Context, localID string, revision int64, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE activities SET revision = ?, synced = 1, synced_at = ? WHERE local_id = ?`,
		revision, at.Format(time.RFC3339Nano), localID)
	if err != nil {
		return fmt.Errorf("failed to mark activity %s synced: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(Event{Kind: schema.KindActivity, Action: ActionSynced, LocalID: localID})
	return nil
}

// PutActivityFromRemote overwrites the local activity wholesale with the
// remote copy, mirroring PutGoalFromRemote.
func (s *Store) PutActivityFromRemote(ctx context.Context, a *schema.Activity) error {
	existing, err := s.ActivityByRemoteID(ctx, a.OwnerID, a.RemoteID)
	switch {
	case err == nil:
		a.LocalID = existing.LocalID
	case errors.Is(err, ErrNotFound):
		if a.LocalID == "" {
			a.LocalID = a.RemoteID
		}
	default:
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO activities (`+activityColumns+`)
	VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = excluded.remote_id,
		owner_id = excluded.owner_id,
		revision = excluded.revision,
		synced = 1,
		synced_at = excluded.synced_at,
		goal_id = excluded.goal_id,
		title = excluded.title,
		points = excluded.points,
		status = excluded.status,
		date = excluded.date,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		duration_min = excluded.duration_min,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`,
		a.LocalID, a.RemoteID, a.OwnerID, a.Revision,
		timeToNullString(a.SyncedAt),
		a.GoalID, a.Title, a.Points, a.Status, a.Date,
		timeToNullString(a.StartedAt), timeToNullString(a.CompletedAt), a.DurationMin,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to apply remote activity %s: %w", a.RemoteID, err)
	}

	s.notify(Event{Kind: schema.KindActivity, Action: ActionSynced, LocalID: a.LocalID, OwnerID: a.OwnerID})
	return nil
}

// NormalizeActivityDates rewrites any activity date stored as a full
// timestamp down to the canonical calendar-date form, and returns the
// number of rewritten rows. Older schema generations stored timestamps.
func (s *Store) NormalizeActivityDates(ctx context.Context, normalize func(string) (string, bool)) (int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT local_id, date FROM activities WHERE date IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan activity dates: %w", err)
	}

	type fix struct{ id, date string }
	var fixes []fix
	for rows.Next() {
		var id string
		var date sql.NullString
		if err := rows.Scan(&id, &date); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan activity date: %w", err)
		}
		if !date.Valid {
			continue
		}
		if canonical, ok := normalize(date.String); ok && canonical != date.String {
			fixes = append(fixes, fix{id: id, date: canonical})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating activity dates: %w", err)
	}

	for _, f := range fixes {
		if _, err := s.conn.ExecContext(ctx,
			`UPDATE activities SET date = ? WHERE local_id = ?`, f.date, f.id); err != nil {
			return 0, fmt.Errorf("failed to normalize activity %s: %w", f.id, err)
		}
	}
	return len(fixes), nil
}

func scanActivity(row *sql.Row) (*schema.Activity, error) {
	a, err := scanActivityFields(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanActivities(rows *sql.Rows) ([]*schema.Activity, error) {
	var activities []*schema.Activity
	for rows.Next() {
		a, err := scanActivityFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

func scanActivityFields(scan func(...any) error) (*schema.Activity, error) {
	var a schema.Activity
	var remoteID sql.NullString
	var revision, synced sql.NullInt64
	var syncedAt, date, startedAt, completedAt sql.NullString
	var createdAt, updatedAt string

	err := scan(
		&a.LocalID, &remoteID, &a.OwnerID, &revision, &synced, &syncedAt,
		&a.GoalID, &a.Title, &a.Points, &a.Status, &date,
		&startedAt, &completedAt, &a.DurationMin,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RemoteID = remoteID.String
	a.Revision = revision.Int64
	a.Synced = synced.Valid && synced.Int64 != 0
	a.SyncedAt = nullStringToTime(syncedAt)
	a.Date = date.String
	a.StartedAt = nullStringToTime(startedAt)
	a.CompletedAt = nullStringToTime(completedAt)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}
