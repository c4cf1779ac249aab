package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stridehq/stride/internal/schema"
)

const userColumns = `local_id, remote_id, owner_id, revision, synced, synced_at,
       name, email, password_hash, created_at, updated_at`

// CreateUser inserts a local account and returns its local ID. A user
// record owns itself: owner_id equals the local ID.
func (s *Store) CreateUser(ctx context.Context, u *schema.User) (string, error) {
	if u.LocalID == "" {
		u.LocalID = uuid.NewString()
	}
	if u.RemoteID == "" {
		u.RemoteID = u.LocalID
	}
	if u.OwnerID == "" {
		u.OwnerID = u.LocalID
	}
	if u.Revision == 0 {
		u.Revision = 1
	}
	u.Synced = false
	u.SyncedAt = nil
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	if err := u.Validate(); err != nil {
		return "", fmt.Errorf("invalid user: %w", err)
	}

	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO users (`+userColumns+`)
	VALUES (?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?)`,
		u.LocalID, u.RemoteID, u.OwnerID, u.Revision,
		u.Name, u.Email, u.PasswordHash,
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to insert user: %w", err)
	}

	s.notify(Event{Kind: schema.KindUser, Action: ActionCreated, LocalID: u.LocalID, OwnerID: u.OwnerID})
	return u.LocalID, nil
}

// GetUser retrieves a user by local ID. Returns ErrNotFound if absent.
func (s *Store) GetUser(ctx context.Context, localID string) (*schema.User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE local_id = ?`, localID)
	return scanUser(row)
}

// UserByEmail retrieves a user by email. Returns ErrNotFound if absent.
func (s *Store) UserByEmail(ctx context.Context, email string) (*schema.User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*schema.User, error) {
	var u schema.User
	var remoteID sql.NullString
	var revision, synced sql.NullInt64
	var syncedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&u.LocalID, &remoteID, &u.OwnerID, &revision, &synced, &syncedAt,
		&u.Name, &u.Email, &u.PasswordHash, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.RemoteID = remoteID.String
	u.Revision = revision.Int64
	u.Synced = synced.Valid && synced.Int64 != 0
	u.SyncedAt = nullStringToTime(syncedAt)
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}
