// Package server implements the remote sync service: an HTTP API backed by
// its own embedded SQLite database, holding the authoritative copy of every
// account's records keyed by owner and remote ID.
package server

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/stridehq/stride/internal/protocol"
	"github.com/stridehq/stride/internal/schema"
)

// ErrNotFound is returned when a user or record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrEmailTaken is returned when signing up with an email already in use.
var ErrEmailTaken = errors.New("email already registered")

// Store is the service-side record store. Unlike the client store it has
// no sync metadata of its own: it IS the remote. Revisions are assigned
// here and nowhere else.
type Store struct {
	conn *sql.DB
}

// OpenStore opens (or creates) the service database at path.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// InitSchema creates the service tables. Safe to call on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			owner_id      TEXT NOT NULL,
			remote_id     TEXT NOT NULL,
			revision      INTEGER NOT NULL,
			title         TEXT NOT NULL,
			duration      INTEGER NOT NULL,
			frequency     TEXT NOT NULL DEFAULT '',
			weekly_days   INTEGER NOT NULL,
			status        TEXT NOT NULL,
			start_date    TEXT NOT NULL,
			end_date      TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY (owner_id, remote_id)
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			owner_id        TEXT NOT NULL,
			remote_id       TEXT NOT NULL,
			revision        INTEGER NOT NULL,
			goal_id         TEXT NOT NULL,
			title           TEXT NOT NULL,
			points          INTEGER NOT NULL,
			status          TEXT NOT NULL,
			date            TEXT NOT NULL,
			started_at_ms   INTEGER NOT NULL DEFAULT 0,
			completed_at_ms INTEGER NOT NULL DEFAULT 0,
			duration_min    INTEGER NOT NULL DEFAULT 0,
			created_at_ms   INTEGER NOT NULL,
			updated_at_ms   INTEGER NOT NULL,
			PRIMARY KEY (owner_id, remote_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_owner_updated
			ON goals(owner_id, updated_at_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_owner_updated
			ON activities(owner_id, updated_at_ms)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// HashPassword returns the stored form of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CreateUser registers a new account. The email is the unique key.
func (s *Store) CreateUser(ctx context.Context, name, email, password string) (*schema.Identity, error) {
	id := uuid.NewString()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, email, HashPassword(password), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		var exists int
		if s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE email = ?`, email).Scan(&exists) == nil && exists > 0 {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &schema.Identity{UserID: id, Email: email}, nil
}

// Authenticate verifies an email/password pair.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*schema.Identity, error) {
	var id, hash string
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = ?`, email).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if hash != HashPassword(password) {
		return nil, ErrNotFound
	}
	return &schema.Identity{UserID: id, Email: email}, nil
}

// UpsertGoal stores a pushed goal under the authenticated owner and
// assigns the new revision: one past the submitted revision, with a
// missing revision treated as 1. The new revision is returned to the
// client in the push acknowledgement.
func (s *Store) UpsertGoal(ctx context.Context, owner string, rec protocol.GoalRecord, now int64) (int64, error) {
	rev := rec.Revision
	if rev < 1 {
		rev = 1
	}
	newRev := rev + 1

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO goals (owner_id, remote_id, revision, title, duration, frequency,
			weekly_days, status, start_date, end_date, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, remote_id) DO UPDATE SET
			revision = excluded.revision,
			title = excluded.title,
			duration = excluded.duration,
			frequency = excluded.frequency,
			weekly_days = excluded.weekly_days,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at_ms = excluded.updated_at_ms`,
		owner, rec.RemoteID, newRev, rec.Title, rec.Duration, rec.Frequency,
		rec.WeeklyDays, rec.Status, rec.StartDate, rec.EndDate, rec.CreatedAt, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert goal: %w", err)
	}
	return newRev, nil
}

// UpsertActivity stores a pushed activity; revision handling matches
// UpsertGoal.
func (s *Store) UpsertActivity(ctx context.Context, owner string, rec protocol.ActivityRecord, now int64) (int64, error) {
	rev := rec.Revision
	if rev < 1 {
		rev = 1
	}
	newRev := rev + 1

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO activities (owner_id, remote_id, revision, goal_id, title, points,
			status, date, started_at_ms, completed_at_ms, duration_min, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, remote_id) DO UPDATE SET
			revision = excluded.revision,
			goal_id = excluded.goal_id,
			title = excluded.title,
			points = excluded.points,
			status = excluded.status,
			date = excluded.date,
			started_at_ms = excluded.started_at_ms,
			completed_at_ms = excluded.completed_at_ms,
			duration_min = excluded.duration_min,
			updated_at_ms = excluded.updated_at_ms`,
		owner, rec.RemoteID, newRev, rec.GoalID, rec.Title, rec.Points,
		rec.Status, rec.Date, rec.StartedAt, rec.CompletedAt, rec.DurationMin,
		rec.CreatedAt, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert activity: %w", err)
	}
	return newRev, nil
}

// GoalsSince returns the owner's goals changed strictly after the given
// epoch-millis watermark.
func (s *Store) GoalsSince(ctx context.Context, owner string, since int64) ([]protocol.GoalRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT remote_id, revision, title, duration, frequency, weekly_days,
			status, start_date, end_date, created_at_ms, updated_at_ms
		FROM goals WHERE owner_id = ? AND updated_at_ms > ?
		ORDER BY updated_at_ms`, owner, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}
	defer rows.Close()

	var out []protocol.GoalRecord
	for rows.Next() {
		rec := protocol.GoalRecord{OwnerID: owner}
		if err := rows.Scan(&rec.RemoteID, &rec.Revision, &rec.Title, &rec.Duration,
			&rec.Frequency, &rec.WeeklyDays, &rec.Status, &rec.StartDate,
			&rec.EndDate, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ActivitiesSince returns the owner's activities changed strictly after
// the given epoch-millis watermark.
func (s *Store) ActivitiesSince(ctx context.Context, owner string, since int64) ([]protocol.ActivityRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT remote_id, revision, goal_id, title, points, status, date,
			started_at_ms, completed_at_ms, duration_min, created_at_ms, updated_at_ms
		FROM activities WHERE owner_id = ? AND updated_at_ms > ?
		ORDER BY updated_at_ms`, owner, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []protocol.ActivityRecord
	for rows.Next() {
		rec := protocol.ActivityRecord{OwnerID: owner}
		if err := rows.Scan(&rec.RemoteID, &rec.Revision, &rec.GoalID, &rec.Title,
			&rec.Points, &rec.Status, &rec.Date, &rec.StartedAt, &rec.CompletedAt,
			&rec.DurationMin, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
