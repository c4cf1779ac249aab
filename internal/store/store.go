// Package store provides the durable local record store for stride.
//
// The store is an embedded SQLite database opened in WAL mode. It holds the
// three record kinds (goals, activities, users) with their sync metadata,
// plus a meta table for the schema generation and the last-sync watermark.
//
// Every write is atomic per record: a single statement or a single
// transaction, so no partial-field state is ever observable. Compound
// lookups ("by owner and status", "by owner, goal and date") are backed by
// indexes created in InitSchema.
//
// The store is constructed explicitly and injected into its consumers; it
// owns local IDs and notifies registered observers after every committed
// change.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SchemaGeneration is the schema generation InitSchema produces. Generation
// 1 predates sync metadata; generation 2 added the remote_id / revision /
// synced / synced_at columns.
const SchemaGeneration = 2

// Meta keys used by the sync engine and the migration engine.
const (
	MetaSchemaVersion = "schema_version"
	MetaWatermark     = "last_sync_watermark"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Action describes what happened to a record in an observer event.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionSynced  Action = "synced"
)

// Event is delivered to observers after a committed change.
type Event struct {
	Kind    string
	Action  Action
	LocalID string
	OwnerID string
}

// Store wraps the SQLite connection with record-store functionality.
type Store struct {
	conn *sql.DB
	path string

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// Open creates a store at the given path, creating the parent directory if
// needed. The database is opened in embedded mode with WAL for concurrent
// reads. The caller must Close when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
		subs: make(map[int]func(Event)),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. The migration engine uses
// this for generation-specific DDL.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the current-generation schema if it doesn't exist.
// Idempotent. Fresh databases are stamped with SchemaGeneration; databases
// created by older generations keep their recorded version until the
// migration engine bumps it.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS goals (
		local_id   TEXT PRIMARY KEY,
		remote_id  TEXT,
		owner_id   TEXT NOT NULL,
		revision   INTEGER,
		synced     INTEGER,
		synced_at  TEXT,
		title      TEXT NOT NULL,
		duration   INTEGER NOT NULL DEFAULT 1,
		frequency  TEXT,
		weekly_days INTEGER NOT NULL DEFAULT 1,
		status     TEXT NOT NULL DEFAULT 'active',
		start_date TEXT,
		end_date   TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		local_id     TEXT PRIMARY KEY,
		remote_id    TEXT,
		owner_id     TEXT NOT NULL,
		revision     INTEGER,
		synced       INTEGER,
		synced_at    TEXT,
		goal_id      TEXT NOT NULL,
		title        TEXT NOT NULL,
		points       INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'pending',
		date         TEXT,
		started_at   TEXT,
		completed_at TEXT,
		duration_min INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		local_id      TEXT PRIMARY KEY,
		remote_id     TEXT,
		owner_id      TEXT NOT NULL,
		revision      INTEGER,
		synced        INTEGER,
		synced_at     TEXT,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Compound lookups required by the sync engine and daily regeneration
	CREATE INDEX IF NOT EXISTS idx_goals_owner_status ON goals(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_goals_synced ON goals(synced);
	CREATE INDEX IF NOT EXISTS idx_goals_remote ON goals(owner_id, remote_id);
	CREATE INDEX IF NOT EXISTS idx_activities_owner_goal_date ON activities(owner_id, goal_id, date);
	CREATE INDEX IF NOT EXISTS idx_activities_owner_status ON activities(owner_id, status);
	CREATE INDEX IF NOT EXISTS idx_activities_goal ON activities(goal_id);
	CREATE INDEX IF NOT EXISTS idx_activities_synced ON activities(synced);
	CREATE INDEX IF NOT EXISTS idx_activities_remote ON activities(owner_id, remote_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Stamp fresh databases with the current generation. An existing stamp
	// is left alone so the migration engine can see pre-sync databases.
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		MetaSchemaVersion, strconv.Itoa(SchemaGeneration))
	if err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	return nil
}

// GetMeta returns the value for a meta key, or ErrNotFound.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %q: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a meta key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %q: %w", key, err)
	}
	return nil
}

// SchemaVersion returns the recorded schema generation (0 if unset).
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	raw, err := s.GetMeta(ctx, MetaSchemaVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return v, nil
}

// SetSchemaVersion records the schema generation.
func (s *Store) SetSchemaVersion(ctx context.Context, v int) error {
	return s.SetMeta(ctx, MetaSchemaVersion, strconv.Itoa(v))
}

// Watermark returns the last successful sync watermark in epoch
// milliseconds. Zero means never synced.
func (s *Store) Watermark(ctx context.Context) (int64, error) {
	raw, err := s.GetMeta(ctx, MetaWatermark)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %q: %w", raw, err)
	}
	return ms, nil
}

// SetWatermark persists the last successful sync watermark.
func (s *Store) SetWatermark(ctx context.Context, ms int64) error {
	return s.SetMeta(ctx, MetaWatermark, strconv.FormatInt(ms, 10))
}

// Subscribe registers an observer called after every committed record
// change. The returned function unregisters it. Observers run on the
// mutating goroutine and must not block.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subs {
		fn(ev)
	}
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
