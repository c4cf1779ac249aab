package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "stride.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return st
}

func newTestGoal(owner string) *schema.Goal {
	return &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: owner},
		Title:      "75 Hard",
		Duration:   75,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-10-15",
	}
}

func newTestActivity(owner, goalID string) *schema.Activity {
	return &schema.Activity{
		SyncMeta: schema.SyncMeta{OwnerID: owner},
		GoalID:   goalID,
		Title:    "Morning run",
		Points:   10,
		Status:   schema.ActivityPending,
		Date:     "2026-08-01",
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("second InitSchema: %v", err)
	}

	version, err := st.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != SchemaGeneration {
		t.Errorf("fresh database stamped with generation %d, want %d", version, SchemaGeneration)
	}
}

func TestCreateGoalInitializesSyncMeta(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.CreateGoal(ctx, newTestGoal("user-1"))
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}

	g, err := st.GetGoal(ctx, id)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Revision != 1 {
		t.Errorf("revision = %d, want 1", g.Revision)
	}
	if g.RemoteID != g.LocalID {
		t.Errorf("remote_id = %q, want local id %q", g.RemoteID, g.LocalID)
	}
	if g.Synced {
		t.Error("new goal should be unsynced")
	}
}

func TestUpdateGoalMarksDirty(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	if err := st.MarkGoalSynced(ctx, id, 2, time.Now()); err != nil {
		t.Fatalf("MarkGoalSynced: %v", err)
	}

	if err := st.UpdateGoal(ctx, id, map[string]any{"title": "75 Soft"}); err != nil {
		t.Fatalf("UpdateGoal: %v", err)
	}

	g, _ := st.GetGoal(ctx, id)
	if g.Title != "75 Soft" {
		t.Errorf("title = %q", g.Title)
	}
	if g.Synced {
		t.Error("updated goal should be dirty again")
	}
	if g.Revision != 2 {
		t.Errorf("update must not touch revision, got %d", g.Revision)
	}
}

func TestUpdateGoalRejectsUnknownField(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	if err := st.UpdateGoal(ctx, id, map[string]any{"revision": 99}); err == nil {
		t.Fatal("expected error for sync-owned field")
	}
}

func TestDeleteGoalCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	actID, err := st.CreateActivity(ctx, newTestActivity("user-1", goalID))
	if err != nil {
		t.Fatalf("CreateActivity: %v", err)
	}

	if err := st.DeleteGoal(ctx, goalID); err != nil {
		t.Fatalf("DeleteGoal: %v", err)
	}

	if _, err := st.GetGoal(ctx, goalID); !errors.Is(err, ErrNotFound) {
		t.Errorf("goal still present after delete: %v", err)
	}
	if _, err := st.GetActivity(ctx, actID); !errors.Is(err, ErrNotFound) {
		t.Errorf("activity survived the cascade: %v", err)
	}
}

func TestUnsyncedQueries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	st.CreateActivity(ctx, newTestActivity("user-1", goalID))

	goals, err := st.UnsyncedGoals(ctx)
	if err != nil {
		t.Fatalf("UnsyncedGoals: %v", err)
	}
	if len(goals) != 1 {
		t.Fatalf("unsynced goals = %d, want 1", len(goals))
	}

	if err := st.MarkGoalSynced(ctx, goalID, 2, time.Now()); err != nil {
		t.Fatalf("MarkGoalSynced: %v", err)
	}
	goals, _ = st.UnsyncedGoals(ctx)
	if len(goals) != 0 {
		t.Errorf("unsynced goals after ack = %d, want 0", len(goals))
	}

	g, _ := st.GetGoal(ctx, goalID)
	if g.Revision != 2 || !g.Synced || g.SyncedAt == nil {
		t.Errorf("ack not recorded: rev=%d synced=%v syncedAt=%v", g.Revision, g.Synced, g.SyncedAt)
	}

	acts, err := st.UnsyncedActivities(ctx)
	if err != nil {
		t.Fatalf("UnsyncedActivities: %v", err)
	}
	if len(acts) != 1 {
		t.Errorf("unsynced activities = %d, want 1", len(acts))
	}
}

func TestPutGoalFromRemotePreservesLocalID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	local, _ := st.GetGoal(ctx, goalID)

	now := time.Now()
	remote := newTestGoal("user-1")
	remote.LocalID = "other-device-id"
	remote.RemoteID = local.RemoteID
	remote.Revision = 5
	remote.Title = "Renamed elsewhere"
	remote.Synced = true
	remote.SyncedAt = &now

	if err := st.PutGoalFromRemote(ctx, remote); err != nil {
		t.Fatalf("PutGoalFromRemote: %v", err)
	}

	g, err := st.GetGoal(ctx, goalID)
	if err != nil {
		t.Fatalf("local id was not preserved: %v", err)
	}
	if g.Title != "Renamed elsewhere" || g.Revision != 5 {
		t.Errorf("overwrite not applied: title=%q rev=%d", g.Title, g.Revision)
	}
	if !g.Synced {
		t.Error("pulled record must land synced")
	}

	goals, _ := st.UnsyncedGoals(ctx)
	if len(goals) != 0 {
		t.Error("pull overwrite must not mark the record dirty")
	}
}

func TestExpirePending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))

	stale := newTestActivity("user-1", goalID)
	stale.Date = "2026-08-01"
	staleID, _ := st.CreateActivity(ctx, stale)

	today := newTestActivity("user-1", goalID)
	today.Title = "Evening walk"
	today.Date = "2026-08-02"
	todayID, _ := st.CreateActivity(ctx, today)

	done := newTestActivity("user-1", goalID)
	done.Title = "Read"
	done.Date = "2026-08-01"
	done.Status = schema.ActivityDone
	doneID, _ := st.CreateActivity(ctx, done)

	expired, err := st.ExpirePending(ctx, "user-1", goalID, "2026-08-02")
	if err != nil {
		t.Fatalf("ExpirePending: %v", err)
	}
	if len(expired) != 1 || expired[0] != staleID {
		t.Fatalf("expired = %v, want [%s]", expired, staleID)
	}

	a, _ := st.GetActivity(ctx, staleID)
	if a.Status != schema.ActivityExpired {
		t.Errorf("stale status = %q", a.Status)
	}
	if a.Synced {
		t.Error("expiry must mark the record dirty for the next push")
	}

	a, _ = st.GetActivity(ctx, todayID)
	if a.Status != schema.ActivityPending {
		t.Errorf("today's activity was touched: %q", a.Status)
	}
	a, _ = st.GetActivity(ctx, doneID)
	if a.Status != schema.ActivityDone {
		t.Errorf("done activity was touched: %q", a.Status)
	}
}

func TestActivityTemplatesDistinct(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	for _, date := range []string{"2026-08-01", "2026-08-02", "2026-08-03"} {
		a := newTestActivity("user-1", goalID)
		a.Date = date
		if _, err := st.CreateActivity(ctx, a); err != nil {
			t.Fatalf("CreateActivity: %v", err)
		}
	}
	b := newTestActivity("user-1", goalID)
	b.Title = "Stretch"
	b.Points = 5
	st.CreateActivity(ctx, b)

	templates, err := st.ActivityTemplates(ctx, "user-1", goalID)
	if err != nil {
		t.Fatalf("ActivityTemplates: %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("templates = %d, want 2 distinct titles", len(templates))
	}
	if templates[0].Title != "Morning run" || templates[1].Title != "Stretch" {
		t.Errorf("unexpected template order: %+v", templates)
	}
}

func TestBulkCreateActivitiesAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))

	good := newTestActivity("user-1", goalID)
	bad := newTestActivity("user-1", goalID)
	bad.Title = "" // fails validation

	if _, err := st.BulkCreateActivities(ctx, []*schema.Activity{good, bad}); err == nil {
		t.Fatal("expected batch to fail")
	}

	acts, _ := st.ActivitiesByGoal(ctx, goalID)
	if len(acts) != 0 {
		t.Errorf("partial batch was committed: %d records", len(acts))
	}
}

func TestWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ms, err := st.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if ms != 0 {
		t.Errorf("initial watermark = %d, want 0", ms)
	}

	if err := st.SetWatermark(ctx, 1756600000000); err != nil {
		t.Fatalf("SetWatermark: %v", err)
	}
	ms, _ = st.Watermark(ctx)
	if ms != 1756600000000 {
		t.Errorf("watermark = %d", ms)
	}
}

func TestSubscribeDelivery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var events []Event
	unsubscribe := st.Subscribe(func(ev Event) { events = append(events, ev) })

	goalID, _ := st.CreateGoal(ctx, newTestGoal("user-1"))
	st.UpdateGoal(ctx, goalID, map[string]any{"title": "Renamed"})

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Action != ActionCreated || events[1].Action != ActionUpdated {
		t.Errorf("unexpected actions: %v %v", events[0].Action, events[1].Action)
	}

	unsubscribe()
	st.UpdateGoal(ctx, goalID, map[string]any{"title": "Again"})
	if len(events) != 2 {
		t.Error("event delivered after unsubscribe")
	}
}

func TestActiveGoal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.ActiveGoal(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	archived := newTestGoal("user-1")
	archived.Status = schema.GoalArchived
	st.CreateGoal(ctx, archived)

	active := newTestGoal("user-1")
	active.Title = "Current"
	st.CreateGoal(ctx, active)

	g, err := st.ActiveGoal(ctx, "user-1")
	if err != nil {
		t.Fatalf("ActiveGoal: %v", err)
	}
	if g.Title != "Current" {
		t.Errorf("active goal = %q", g.Title)
	}
}
