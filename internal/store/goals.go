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

const goalColumns = `local_id, remote_id, owner_id, revision, synced, synced_at,
       title, duration, frequency, weekly_days, status, start_date, end_date,
       created_at, updated_at`

// goalFields are the columns a partial update may touch. Sync metadata is
// owned by the sync engine and never writable through UpdateGoal.
var goalFields = map[string]bool{
	"title":       true,
	"duration":    true,
	"frequency":   true,
	"weekly_days": true,
	"status":      true,
	"start_date":  true,
	"end_date":    true,
}

// CreateGoal inserts a new goal and returns its local ID.
//
// The store assigns the local ID and initializes sync metadata: remote_id
// mirrors the local ID until the remote service overrides it, revision
// starts at 1 and the record is unsynced.
func (s *Store) CreateGoal(ctx context.Context, g *schema.Goal) (string, error) {
	if g.LocalID == "" {
		g.LocalID = uuid.NewString()
	}
	if g.RemoteID == "" {
		g.RemoteID = g.LocalID
	}
	if g.Revision == 0 {
		g.Revision = 1
	}
	g.Synced = false
	g.SyncedAt = nil
	now := time.Now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	if err := g.Validate(); err != nil {
		return "", fmt.Errorf("invalid goal: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO goals (`+goalColumns+`)
	VALUES (?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.LocalID, g.RemoteID, g.OwnerID, g.Revision,
		g.Title, g.Duration, g.Frequency, g.WeeklyDays, g.Status,
		g.StartDate, g.EndDate,
		g.CreatedAt.Format(time.RFC3339Nano), g.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert goal: %w", err)
	}

	s.notify(Event{Kind: schema.KindGoal, Action: ActionCreated, LocalID: g.LocalID, OwnerID: g.OwnerID})
	return g.LocalID, nil
}

// GetGoal retrieves a goal by local ID. Returns ErrNotFound if absent.
func (s *Store) GetGoal(ctx context.Context, localID string) (*schema.Goal, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE local_id = ?`, localID)
	return scanGoal(row)
}

// GoalByRemoteID retrieves the owner's goal joined on the remote ID.
func (s *Store) GoalByRemoteID(ctx context.Context, ownerID, remoteID string) (*schema.Goal, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? AND remote_id = ?`, ownerID, remoteID)
	return scanGoal(row)
}

// UpdateGoal applies a partial field update and marks the goal unsynced.
// Unknown field names are rejected. Returns ErrNotFound if the goal does
// not exist.
func (s *Store) UpdateGoal(ctx context.Context, localID string, fields map[string]any) error {
	sets, args, err := buildSet(goalFields, fields)
	if err != nil {
		return fmt.Errorf("invalid goal update: %w", err)
	}
	sets = append(sets, "synced = 0", "updated_at = ?")
	args = append(args, time.Now().Format(time.RFC3339Nano), localID)

	res, err := s.conn.ExecContext(ctx,
		`UPDATE goals SET `+strings.Join(sets, ", ")+` WHERE local_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update goal %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.notify(Event{Kind: schema.KindGoal, Action: ActionUpdated, LocalID: localID})
	return nil
}

// DeleteGoal removes a goal and every activity referencing it in a single
// transaction.
func (s *Store) DeleteGoal(ctx context.Context, localID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE goal_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete activities for goal %s: %w", localID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("failed to delete goal %s: %w", localID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit goal deletion: %w", err)
	}

	s.notify(Event{Kind: schema.KindGoal, Action: ActionDeleted, LocalID: localID})
	return nil
}

// GoalsByOwnerStatus returns the owner's goals with the given status.
func (s *Store) GoalsByOwnerStatus(ctx context.Context, ownerID, status string) ([]*schema.Goal, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? AND status = ? ORDER BY created_at ASC`,
		ownerID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals by status: %w", err)
	}
	defer rows.Close()
	return scanGoals(rows)
}

// ListGoals returns every goal owned by ownerID.
func (s *Store) ListGoals(ctx context.Context, ownerID string) ([]*schema.Goal, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? ORDER BY created_at ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()
	return scanGoals(rows)
}

// ActiveGoal resolves the owner's current active goal, or ErrNotFound.
func (s *Store) ActiveGoal(ctx context.Context, ownerID string) (*schema.Goal, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? AND status = ? ORDER BY created_at ASC LIMIT 1`,
		ownerID, schema.GoalActive)
	return scanGoal(row)
}

// UnsyncedGoals returns goals pending upload. Records whose synced column
// is still NULL predate sync support and are excluded; the repair pass
// back-fills them as already durable.
func (s *Store) UnsyncedGoals(ctx context.Context) ([]*schema.Goal, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE synced = 0 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced goals: %w", err)
	}
	defer rows.Close()
	return scanGoals(rows)
}

// MarkGoalSynced records a push acknowledgement: the server-assigned
// revision, synced = true and the acknowledgement time.
func (s *Store) MarkGoalSynced(ctx context.Context, localID string, revision int64, at time.Time) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE goals SET revision = ?, synced = 1, synced_at = ? WHERE local_id = ?`,
		revision, at.Format(time.RFC3339Nano), localID)
	if err != nil {
		return fmt.Errorf("failed to mark goal %s synced: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify(Event{Kind: schema.KindGoal, Action: ActionSynced, LocalID: localID})
	return nil
}

// PutGoalFromRemote overwrites the local goal wholesale with the remote
// copy. The local ID is preserved when a record with the same remote ID
// already exists; otherwise the remote ID becomes the local ID. The caller
// decides whether the remote revision wins.
func (s *Store) PutGoalFromRemote(ctx context.Context, g *schema.Goal) error {
	existing, err := s.GoalByRemoteID(ctx, g.OwnerID, g.RemoteID)
	switch {
	case err == nil:
		g.LocalID = existing.LocalID
	case errors.Is(err, ErrNotFound):
		if g.LocalID == "" {
			g.LocalID = g.RemoteID
		}
	default:
		return err
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO goals (`+goalColumns+`)
	VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = excluded.remote_id,
		owner_id = excluded.owner_id,
		revision = excluded.revision,
		synced = 1,
		synced_at = excluded.synced_at,
		title = excluded.title,
		duration = excluded.duration,
		frequency = excluded.frequency,
		weekly_days = excluded.weekly_days,
		status = excluded.status,
		start_date = excluded.start_date,
		end_date = excluded.end_date,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at`,
		g.LocalID, g.RemoteID, g.OwnerID, g.Revision,
		timeToNullString(g.SyncedAt),
		g.Title, g.Duration, g.Frequency, g.WeeklyDays, g.Status,
		g.StartDate, g.EndDate,
		g.CreatedAt.Format(time.RFC3339Nano), g.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to apply remote goal %s: %w", g.RemoteID, err)
	}

	s.notify(Event{Kind: schema.KindGoal, Action: ActionSynced, LocalID: g.LocalID, OwnerID: g.OwnerID})
	return nil
}

// buildSet converts a whitelisted partial-field map into SET fragments.
func buildSet(allowed map[string]bool, fields map[string]any) ([]string, []any, error) {
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("no fields to update")
	}
	var sets []string
	var args []any
	for name, value := range fields {
		if !allowed[name] {
			return nil, nil, fmt.Errorf("field %q is not updatable", name)
		}
		sets = append(sets, name+" = ?")
		if t, ok := value.(time.Time); ok {
			value = t.Format(time.RFC3339Nano)
		}
		if t, ok := value.(*time.Time); ok {
			value = timeToNullString(t)
		}
		args = append(args, value)
	}
	return sets, args, nil
}

func scanGoal(row *sql.Row) (*schema.Goal, error) {
	g, err := scanGoalFields(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func scanGoals(rows *sql.Rows) ([]*schema.Goal, error) {
	var goals []*schema.Goal
	for rows.Next() {
		g, err := scanGoalFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating goals: %w", err)
	}
	return goals, nil
}

func scanGoalFields(scan func(...any) error) (*schema.Goal, error) {
	var g schema.Goal
	var remoteID sql.NullString
	var revision, synced sql.NullInt64
	var syncedAt, frequency, startDate, endDate sql.NullString
	var createdAt, updatedAt string

	err := scan(
		&g.LocalID, &remoteID, &g.OwnerID, &revision, &synced, &syncedAt,
		&g.Title, &g.Duration, &frequency, &g.WeeklyDays, &g.Status,
		&startDate, &endDate, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.RemoteID = remoteID.String
	g.Revision = revision.Int64
	g.Synced = synced.Valid && synced.Int64 != 0
	g.SyncedAt = nullStringToTime(syncedAt)
	g.Frequency = frequency.String
	g.StartDate = startDate.String
	g.EndDate = endDate.String
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	return &g, nil
}
