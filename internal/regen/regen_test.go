package regen

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

func newTestEngine(t *testing.T, st *store.Store, now time.Time) *Engine {
	t.Helper()
	e := New(st, log.New(io.Discard, "", 0))
	e.SetClock(func() time.Time { return now })
	return e
}

// seedGoal starts 2026-08-03 (a Monday) with 5 active days per week.
func seedGoal(t *testing.T, st *store.Store) *schema.Goal {
	t.Helper()
	g := &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: "user-1"},
		Title:      "75 Hard",
		Duration:   75,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-03",
		EndDate:    "2026-10-17",
	}
	if _, err := st.CreateGoal(context.Background(), g); err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	return g
}

func seedActivity(t *testing.T, st *store.Store, goalID, title, date, status string) string {
	t.Helper()
	id, err := st.CreateActivity(context.Background(), &schema.Activity{
		SyncMeta: schema.SyncMeta{OwnerID: "user-1"},
		GoalID:   goalID,
		Title:    title,
		Points:   10,
		Status:   status,
		Date:     date,
	})
	if err != nil {
		t.Fatalf("CreateActivity: %v", err)
	}
	return id
}

func TestRunGeneratesFromTemplates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	goal := seedGoal(t, st)

	// Two distinct templates across earlier days, one duplicated.
	seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-03", schema.ActivityDone)
	seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-04", schema.ActivityDone)
	seedActivity(t, st, goal.LocalID, "Read 10 pages", "2026-08-04", schema.ActivityDone)

	// Day 2 of the cycle, an active day.
	engine := newTestEngine(t, st, time.Date(2026, 8, 5, 8, 0, 0, 0, time.UTC))
	res, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want one per distinct template", res.Created)
	}

	acts, _ := st.ActivitiesByOwnerGoalDate(ctx, "user-1", goal.LocalID, "2026-08-05")
	if len(acts) != 2 {
		t.Fatalf("today's activities = %d", len(acts))
	}
	for _, a := range acts {
		if a.Status != schema.ActivityPending {
			t.Errorf("generated activity status = %q", a.Status)
		}
	}
}

func TestRunIsIdempotentPerDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	goal := seedGoal(t, st)
	seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-03", schema.ActivityDone)

	engine := newTestEngine(t, st, time.Date(2026, 8, 5, 8, 0, 0, 0, time.UTC))
	first, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.Created != 1 {
		t.Fatalf("first run created = %d", first.Created)
	}

	second, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !second.Skipped || second.Created != 0 {
		t.Errorf("second run must be a no-op: %+v", second)
	}

	acts, _ := st.ActivitiesByOwnerGoalDate(ctx, "user-1", goal.LocalID, "2026-08-05")
	if len(acts) != 1 {
		t.Errorf("duplicates created: %d", len(acts))
	}
}

func TestRunExpiresStalePending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	goal := seedGoal(t, st)
	staleID := seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-03", schema.ActivityPending)

	engine := newTestEngine(t, st, time.Date(2026, 8, 4, 8, 0, 0, 0, time.UTC))
	res, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Expired != 1 {
		t.Errorf("expired = %d, want 1", res.Expired)
	}

	a, _ := st.GetActivity(ctx, staleID)
	if a.Status != schema.ActivityExpired {
		t.Errorf("stale activity status = %q", a.Status)
	}
}

func TestRestDay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	goal := seedGoal(t, st)
	seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-03", schema.ActivityDone)

	// 2026-08-08 is day 5 of a cycle with 5 active days: rest.
	engine := newTestEngine(t, st, time.Date(2026, 8, 8, 8, 0, 0, 0, time.UTC))
	res, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.RestDay || res.Created != 0 {
		t.Errorf("expected rest day, got %+v", res)
	}

	// Day 7 wraps to day 0 of the next cycle: active again.
	engine = newTestEngine(t, st, time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC))
	res, err = engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RestDay {
		t.Error("cycle day 0 must be active")
	}
	if res.Created != 1 {
		t.Errorf("created = %d", res.Created)
	}
}

func TestGoalNotStarted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedGoal(t, st)

	engine := newTestEngine(t, st, time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC))
	res, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.NotBegun {
		t.Errorf("expected NotBegun, got %+v", res)
	}
}

func TestGoalEnded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedGoal(t, st)

	engine := newTestEngine(t, st, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC))
	res, err := engine.Run(ctx, "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Completed {
		t.Errorf("expected Completed, got %+v", res)
	}
}

func TestNoActiveGoal(t *testing.T) {
	st := newTestStore(t)
	engine := newTestEngine(t, st, time.Now())
	res, err := engine.Run(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.NoGoal {
		t.Errorf("expected NoGoal, got %+v", res)
	}
}

func TestRunNormalizesLegacyDates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	goal := seedGoal(t, st)
	id := seedActivity(t, st, goal.LocalID, "Morning run", "2026-08-03", schema.ActivityDone)

	if _, err := st.RawDB().Exec(
		`UPDATE activities SET date = '2026-08-03T06:00:00Z' WHERE local_id = ?`, id); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(t, st, time.Date(2026, 8, 4, 8, 0, 0, 0, time.UTC))
	if _, err := engine.Run(ctx, "user-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, _ := st.GetActivity(ctx, id)
	if a.Date != "2026-08-03" {
		t.Errorf("date = %q, want normalized calendar date", a.Date)
	}
}
