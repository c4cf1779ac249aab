// Package migrate upgrades the record store between schema generations.
//
// Generation 1 predates sync support: no remote_id, revision, synced or
// synced_at columns, and goals carried mixed legacy date field names
// (startDate vs start_date). Generation 2 added sync metadata to every
// record kind.
//
// Two passes exist:
//
//   - Apply runs the primary migration once, keyed off the recorded schema
//     generation. Data that predates sync support is assumed already
//     durable and is marked synced so it is never re-uploaded.
//   - Repair runs on every start and back-fills any record the primary
//     migration missed (for example, rows created through a path that
//     bypassed the version hook). It is idempotent: running it any number
//     of times yields the same final state.
//
// Failures in either pass are logged and reported but must not prevent
// application startup; Repair self-heals on the next start.
package migrate

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
)

// Engine applies schema-generation migrations to a record store.
type Engine struct {
	store  *store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a migration engine. If logger is nil, a default logger
// writing to stderr is used.
func New(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger, now: time.Now}
}

// SetClock overrides the engine's clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// syncedTables lists every record kind that carries sync metadata.
var syncedTables = []string{"goals", "activities", "users"}

// Apply runs the primary migration if the recorded schema generation is
// behind the current one. Safe to call on every start; it is a no-op once
// the generation is current.
func (e *Engine) Apply(ctx context.Context) error {
	version, err := e.store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= store.SchemaGeneration {
		return nil
	}

	e.logger.Printf("Migrating store from generation %d to %d", version, store.SchemaGeneration)

	if err := e.addSyncColumns(ctx); err != nil {
		return fmt.Errorf("failed to add sync columns: %w", err)
	}
	if err := e.backfillSyncMeta(ctx); err != nil {
		return fmt.Errorf("failed to backfill sync metadata: %w", err)
	}
	if err := e.NormalizeLegacyFields(ctx); err != nil {
		return fmt.Errorf("failed to normalize legacy fields: %w", err)
	}
	if err := e.store.SetSchemaVersion(ctx, store.SchemaGeneration); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	e.logger.Printf("Migration to generation %d complete", store.SchemaGeneration)
	return nil
}

// Repair back-fills sync metadata for any record still lacking it. Runs on
// every application start as the safety net behind Apply.
func (e *Engine) Repair(ctx context.Context) error {
	repaired := 0
	for _, table := range syncedTables {
		n, err := e.repairTable(ctx, table)
		if err != nil {
			return fmt.Errorf("repair pass failed on %s: %w", table, err)
		}
		repaired += n
	}
	if repaired > 0 {
		e.logger.Printf("Repair pass back-filled %d records", repaired)
	}
	return nil
}

// repairTable scans one table for rows missing the synced flag and
// back-fills them record by record, logging each.
func (e *Engine) repairTable(ctx context.Context, table string) (int, error) {
	db := e.store.RawDB()
	rows, err := db.QueryContext(ctx,
		`SELECT local_id FROM `+table+` WHERE synced IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", table, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating %s: %w", table, err)
	}

	now := e.now().Format(time.RFC3339Nano)
	for _, id := range ids {
		_, err := db.ExecContext(ctx, `
		UPDATE `+table+` SET
			synced = 1,
			synced_at = ?,
			revision = COALESCE(revision, 1),
			remote_id = COALESCE(remote_id, local_id)
		WHERE local_id = ? AND synced IS NULL`, now, id)
		if err != nil {
			return 0, fmt.Errorf("failed to backfill %s %s: %w", table, id, err)
		}
		e.logger.Printf("Back-filled sync metadata: %s %s", table, id)
	}
	return len(ids), nil
}

// addSyncColumns brings generation-1 tables up to the current shape.
// SQLite has no ADD COLUMN IF NOT EXISTS, so existing columns are checked
// through pragma_table_info first.
func (e *Engine) addSyncColumns(ctx context.Context) error {
	columns := []struct{ name, ddl string }{
		{"remote_id", "remote_id TEXT"},
		{"revision", "revision INTEGER"},
		{"synced", "synced INTEGER"},
		{"synced_at", "synced_at TEXT"},
	}
	for _, table := range syncedTables {
		for _, col := range columns {
			has, err := e.hasColumn(ctx, table, col.name)
			if err != nil {
				return err
			}
			if has {
				continue
			}
			if _, err := e.store.RawDB().ExecContext(ctx,
				`ALTER TABLE `+table+` ADD COLUMN `+col.ddl); err != nil {
				return fmt.Errorf("failed to add %s.%s: %w", table, col.name, err)
			}
		}
	}
	return nil
}

// backfillSyncMeta marks every pre-migration row synced exactly once.
func (e *Engine) backfillSyncMeta(ctx context.Context) error {
	now := e.now().Format(time.RFC3339Nano)
	for _, table := range syncedTables {
		_, err := e.store.RawDB().ExecContext(ctx, `
		UPDATE `+table+` SET
			synced = 1,
			synced_at = ?,
			revision = COALESCE(revision, 1),
			remote_id = COALESCE(remote_id, local_id)
		WHERE synced IS NULL`, now)
		if err != nil {
			return fmt.Errorf("failed to backfill %s: %w", table, err)
		}
	}
	return nil
}

// NormalizeLegacyFields canonicalizes mixed legacy field values in one
// place so business logic never sees them:
//
//   - activity dates stored as full timestamps become calendar dates
//   - goals missing start_date inherit it from the legacy startDate
//     column (when present) or from created_at
//   - goals missing end_date derive it from start_date + duration days
func (e *Engine) NormalizeLegacyFields(ctx context.Context) error {
	if n, err := e.store.NormalizeActivityDates(ctx, schema.NormalizeDate); err != nil {
		return err
	} else if n > 0 {
		e.logger.Printf("Normalized %d activity dates", n)
	}

	if err := e.backfillGoalDates(ctx); err != nil {
		return err
	}
	return nil
}

func (e *Engine) backfillGoalDates(ctx context.Context) error {
	db := e.store.RawDB()

	// Legacy generation-1 column, if this database ever had one.
	hasLegacy, err := e.hasColumn(ctx, "goals", "startDate")
	if err != nil {
		return err
	}
	if hasLegacy {
		if _, err := db.ExecContext(ctx, `
		UPDATE goals SET start_date = startDate
		WHERE (start_date IS NULL OR start_date = '')
		  AND startDate IS NOT NULL AND startDate != ''`); err != nil {
			return fmt.Errorf("failed to copy legacy startDate: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `
	SELECT local_id, start_date, end_date, duration, created_at FROM goals
	WHERE start_date IS NULL OR start_date = '' OR end_date IS NULL OR end_date = ''`)
	if err != nil {
		return fmt.Errorf("failed to scan goals for date backfill: %w", err)
	}

	type fix struct{ id, start, end string }
	var fixes []fix
	for rows.Next() {
		var id, createdAt string
		var start, end nullableString
		var duration int
		if err := rows.Scan(&id, &start, &end, &duration, &createdAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan goal dates: %w", err)
		}

		startVal := start.value
		if startVal == "" {
			if canonical, ok := schema.NormalizeDate(createdAt); ok {
				startVal = canonical
			} else {
				startVal = schema.DateString(e.now())
			}
		} else if canonical, ok := schema.NormalizeDate(startVal); ok {
			startVal = canonical
		}

		endVal := end.value
		if endVal == "" {
			if startTime, err := schema.ParseDate(startVal); err == nil {
				endVal = schema.DateString(startTime.AddDate(0, 0, duration))
			}
		}

		if startVal != start.value || endVal != end.value {
			fixes = append(fixes, fix{id: id, start: startVal, end: endVal})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating goals for date backfill: %w", err)
	}

	for _, f := range fixes {
		if _, err := db.ExecContext(ctx,
			`UPDATE goals SET start_date = ?, end_date = ? WHERE local_id = ?`,
			f.start, f.end, f.id); err != nil {
			return fmt.Errorf("failed to backfill goal %s dates: %w", f.id, err)
		}
		e.logger.Printf("Back-filled goal dates: %s (%s..%s)", f.id, f.start, f.end)
	}
	return nil
}

func (e *Engine) hasColumn(ctx context.Context, table, column string) (bool, error) {
	var count int
	err := e.store.RawDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s schema: %w", table, err)
	}
	return count > 0, nil
}

// nullableString scans TEXT columns that may be NULL into a plain string.
type nullableString struct {
	value string
}

func (n *nullableString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.value = ""
	case string:
		n.value = v
	case []byte:
		n.value = string(v)
	default:
		return fmt.Errorf("unsupported string scan type %T", src)
	}
	return nil
}
