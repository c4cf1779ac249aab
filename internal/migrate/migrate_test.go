package migrate

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "stride.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return st
}

func quietEngine(st *store.Store) *Engine {
	return New(st, log.New(io.Discard, "", 0))
}

// stripSyncMeta simulates rows written by a generation-1 database: the
// sync columns exist but are NULL.
func stripSyncMeta(t *testing.T, st *store.Store, table string) {
	t.Helper()
	_, err := st.RawDB().Exec(
		`UPDATE ` + table + ` SET remote_id = NULL, revision = NULL, synced = NULL, synced_at = NULL`)
	if err != nil {
		t.Fatalf("strip sync meta: %v", err)
	}
}

func TestApplyNoopWhenCurrent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := quietEngine(st).Apply(ctx); err != nil {
		t.Fatalf("Apply on current generation: %v", err)
	}
	version, _ := st.SchemaVersion(ctx)
	if version != store.SchemaGeneration {
		t.Errorf("version = %d", version)
	}
}

func TestApplyBackfillsLegacyRows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, err := st.CreateGoal(ctx, &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: "user-1"},
		Title:      "Legacy goal",
		Duration:   30,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-08-31",
	})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	stripSyncMeta(t, st, "goals")
	if err := st.SetSchemaVersion(ctx, 1); err != nil {
		t.Fatalf("SetSchemaVersion: %v", err)
	}

	if err := quietEngine(st).Apply(ctx); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	g, err := st.GetGoal(ctx, goalID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if !g.Synced {
		t.Error("pre-sync record must come out marked synced")
	}
	if g.Revision != 1 {
		t.Errorf("revision = %d, want 1", g.Revision)
	}
	if g.RemoteID != goalID {
		t.Errorf("remote_id = %q, want local id", g.RemoteID)
	}
	if g.SyncedAt == nil {
		t.Error("synced_at not set")
	}

	version, _ := st.SchemaVersion(ctx)
	if version != store.SchemaGeneration {
		t.Errorf("version after migration = %d", version)
	}

	// Migrated records must not be queued for push.
	unsynced, _ := st.UnsyncedGoals(ctx)
	if len(unsynced) != 0 {
		t.Errorf("migrated records queued for push: %d", len(unsynced))
	}
}

func TestRepairIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: "user-1"},
		Title:      "Goal",
		Duration:   30,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-08-31",
	})
	actID, _ := st.CreateActivity(ctx, &schema.Activity{
		SyncMeta: schema.SyncMeta{OwnerID: "user-1"},
		GoalID:   goalID,
		Title:    "Run",
		Points:   10,
		Status:   schema.ActivityPending,
		Date:     "2026-08-01",
	})
	stripSyncMeta(t, st, "goals")
	stripSyncMeta(t, st, "activities")

	engine := quietEngine(st)
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	clock := fixed
	engine.SetClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		if err := engine.Repair(ctx); err != nil {
			t.Fatalf("Repair run %d: %v", i+1, err)
		}
		clock = clock.Add(time.Hour)
	}

	g, _ := st.GetGoal(ctx, goalID)
	a, _ := st.GetActivity(ctx, actID)
	if !g.Synced || g.Revision != 1 || g.RemoteID != goalID {
		t.Errorf("goal not repaired: %+v", g.SyncMeta)
	}
	if !a.Synced || a.Revision != 1 || a.RemoteID != actID {
		t.Errorf("activity not repaired: %+v", a.SyncMeta)
	}
	if g.SyncedAt == nil || !g.SyncedAt.Equal(fixed) {
		t.Errorf("synced_at = %v, want first repair's time preserved", g.SyncedAt)
	}
}

func TestRepairLeavesDirtyRecordsAlone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	st.CreateGoal(ctx, &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: "user-1"},
		Title:      "Dirty goal",
		Duration:   30,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-08-31",
	})

	if err := quietEngine(st).Repair(ctx); err != nil {
		t.Fatalf("Repair: %v", err)
	}

	// A freshly created record has synced = 0, not NULL. Repair must not
	// flip it to synced and silently drop the pending push.
	unsynced, _ := st.UnsyncedGoals(ctx)
	if len(unsynced) != 1 {
		t.Errorf("unsynced goals = %d, want 1", len(unsynced))
	}
}

func TestNormalizeLegacyFields(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: "user-1"},
		Title:      "Goal",
		Duration:   30,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-08-31",
	})
	actID, _ := st.CreateActivity(ctx, &schema.Activity{
		SyncMeta: schema.SyncMeta{OwnerID: "user-1"},
		GoalID:   goalID,
		Title:    "Run",
		Points:   10,
		Status:   schema.ActivityPending,
		Date:     "2026-08-01",
	})

	// Legacy shapes: a timestamp-valued activity date and a goal with no
	// end date.
	if _, err := st.RawDB().Exec(
		`UPDATE activities SET date = '2026-08-05T07:30:00Z' WHERE local_id = ?`, actID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RawDB().Exec(
		`UPDATE goals SET end_date = '' WHERE local_id = ?`, goalID); err != nil {
		t.Fatal(err)
	}

	if err := quietEngine(st).NormalizeLegacyFields(ctx); err != nil {
		t.Fatalf("NormalizeLegacyFields: %v", err)
	}

	a, _ := st.GetActivity(ctx, actID)
	if a.Date != "2026-08-05" {
		t.Errorf("activity date = %q, want 2026-08-05", a.Date)
	}
	g, _ := st.GetGoal(ctx, goalID)
	if g.EndDate != "2026-08-31" {
		t.Errorf("end_date = %q, want start + duration", g.EndDate)
	}
}
