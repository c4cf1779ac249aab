package sync

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/protocol"
	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
)

// fakeClient scripts the remote service: by default every pushed record
// is acknowledged with revision submitted+1 and pulls return nothing.
type fakeClient struct {
	pushes []protocol.PushRequest
	pulls  []int64

	pushErr  error
	pullErr  error
	rejected map[string]string // remote id -> error message
	pullResp *protocol.PullResponse

	onPush func(*fakeClient)
}

func (f *fakeClient) Push(ctx context.Context, req protocol.PushRequest) (*protocol.PushResponse, error) {
	f.pushes = append(f.pushes, req)
	if f.onPush != nil {
		f.onPush(f)
	}
	if f.pushErr != nil {
		return nil, f.pushErr
	}

	resp := &protocol.PushResponse{
		Success:    true,
		Goals:      make(map[string]protocol.PushResult),
		Activities: make(map[string]protocol.PushResult),
	}
	for _, g := range req.Goals {
		if msg, bad := f.rejected[g.RemoteID]; bad {
			resp.Goals[g.RemoteID] = protocol.PushResult{Success: false, Error: msg}
			continue
		}
		resp.Goals[g.RemoteID] = protocol.PushResult{Revision: g.Revision + 1, Success: true}
	}
	for _, a := range req.Activities {
		if msg, bad := f.rejected[a.RemoteID]; bad {
			resp.Activities[a.RemoteID] = protocol.PushResult{Success: false, Error: msg}
			continue
		}
		resp.Activities[a.RemoteID] = protocol.PushResult{Revision: a.Revision + 1, Success: true}
	}
	return resp, nil
}

func (f *fakeClient) Pull(ctx context.Context, since int64) (*protocol.PullResponse, error) {
	f.pulls = append(f.pulls, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if f.pullResp != nil {
		return f.pullResp, nil
	}
	return &protocol.PullResponse{}, nil
}

type fakeCreds struct {
	cleared bool
}

func (f *fakeCreds) ClearToken() error {
	f.cleared = true
	return nil
}

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

func testIdentity() IdentityProvider {
	return IdentityFunc(func(ctx context.Context) (*schema.Identity, error) {
		return &schema.Identity{UserID: "user-1", Email: "u@example.com"}, nil
	})
}

func newTestEngine(t *testing.T, st *store.Store, client RemoteClient, creds *fakeCreds, clock func() time.Time) *Engine {
	t.Helper()
	opts := Options{
		Store:    st,
		Client:   client,
		Identity: testIdentity(),
		Clock:    clock,
		Logger:   log.New(io.Discard, "", 0),
		Repair:   func(ctx context.Context) error { return nil },
	}
	if creds != nil {
		opts.Credentials = creds
	}
	engine, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

func seedGoal(t *testing.T, st *store.Store, owner, title string) *schema.Goal {
	t.Helper()
	g := &schema.Goal{
		SyncMeta:   schema.SyncMeta{OwnerID: owner},
		Title:      title,
		Duration:   75,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-10-15",
	}
	if _, err := st.CreateGoal(context.Background(), g); err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	return g
}

func TestCycleMarksPushedRecordsSynced(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	g := seedGoal(t, st, "user-1", "75 Hard")

	start := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{}
	engine := newTestEngine(t, st, client, nil, func() time.Time { return start })

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync: %v", err)
	}

	if len(client.pushes) != 1 || len(client.pushes[0].Goals) != 1 {
		t.Fatalf("push not issued: %+v", client.pushes)
	}
	if len(client.pulls) != 1 || client.pulls[0] != 0 {
		t.Fatalf("pull since = %v, want [0]", client.pulls)
	}

	synced, _ := st.GetGoal(ctx, g.LocalID)
	if !synced.Synced || synced.Revision != 2 {
		t.Errorf("ack not applied: synced=%v rev=%d", synced.Synced, synced.Revision)
	}

	ms, _ := st.Watermark(ctx)
	if ms != start.UnixMilli() {
		t.Errorf("watermark = %d, want cycle start %d", ms, start.UnixMilli())
	}
}

func TestSecondCycleUsesWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	clock := first
	client := &fakeClient{}
	engine := newTestEngine(t, st, client, nil, func() time.Time { return clock })

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	clock = first.Add(time.Minute)
	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if len(client.pulls) != 2 || client.pulls[1] != first.UnixMilli() {
		t.Errorf("second pull since = %v, want first cycle start", client.pulls)
	}
}

func TestPullConflictRule(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	now := time.Now()

	// Local revision 3, already synced.
	local := seedGoal(t, st, "user-1", "Local title")
	if err := st.MarkGoalSynced(ctx, local.LocalID, 3, now); err != nil {
		t.Fatalf("MarkGoalSynced: %v", err)
	}

	makeRemote := func(remoteID string, rev int64, title string) protocol.GoalRecord {
		return protocol.GoalRecord{
			LocalID:    remoteID,
			RemoteID:   remoteID,
			OwnerID:    "user-1",
			Revision:   rev,
			Title:      title,
			Duration:   75,
			WeeklyDays: 5,
			Status:     schema.GoalActive,
			StartDate:  "2026-08-01",
			EndDate:    "2026-10-15",
			CreatedAt:  now.UnixMilli(),
			UpdatedAt:  now.UnixMilli(),
		}
	}

	client := &fakeClient{pullResp: &protocol.PullResponse{Goals: []protocol.GoalRecord{
		makeRemote(local.RemoteID, 2, "Stale remote"), // lower: discard
		makeRemote(local.RemoteID, 3, "Tied remote"),  // tie: local wins
		makeRemote("brand-new", 4, "New from phone"),  // absent: apply
	}}}
	engine := newTestEngine(t, st, client, nil, time.Now)

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync: %v", err)
	}

	g, _ := st.GetGoal(ctx, local.LocalID)
	if g.Title != "Local title" || g.Revision != 3 {
		t.Errorf("conflict rule violated: title=%q rev=%d", g.Title, g.Revision)
	}

	applied, err := st.GoalByRemoteID(ctx, "user-1", "brand-new")
	if err != nil {
		t.Fatalf("new remote record not applied: %v", err)
	}
	if applied.Title != "New from phone" || applied.Revision != 4 || !applied.Synced {
		t.Errorf("applied record wrong: %+v", applied)
	}
}

func TestRemoteHigherRevisionOverwrites(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	local := seedGoal(t, st, "user-1", "Old title")
	if err := st.MarkGoalSynced(ctx, local.LocalID, 2, time.Now()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	client := &fakeClient{pullResp: &protocol.PullResponse{Goals: []protocol.GoalRecord{{
		LocalID:    local.RemoteID,
		RemoteID:   local.RemoteID,
		OwnerID:    "user-1",
		Revision:   5,
		Title:      "Newer from laptop",
		Duration:   75,
		WeeklyDays: 5,
		Status:     schema.GoalActive,
		StartDate:  "2026-08-01",
		EndDate:    "2026-10-15",
		CreatedAt:  now.UnixMilli(),
		UpdatedAt:  now.UnixMilli(),
	}}}}
	engine := newTestEngine(t, st, client, nil, time.Now)

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync: %v", err)
	}

	g, _ := st.GetGoal(ctx, local.LocalID)
	if g.Title != "Newer from laptop" || g.Revision != 5 {
		t.Errorf("remote winner not applied: title=%q rev=%d", g.Title, g.Revision)
	}
}

func TestPartialPushFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	good := seedGoal(t, st, "user-1", "Accepted")
	bad := seedGoal(t, st, "user-1", "Rejected")

	start := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	client := &fakeClient{rejected: map[string]string{bad.RemoteID: "validation failed"}}

	var cycles []CycleResult
	engine := newTestEngine(t, st, client, nil, func() time.Time { return start })
	engine.onCycle = func(res CycleResult) { cycles = append(cycles, res) }

	err := engine.PerformFullSync(ctx)
	if err == nil {
		t.Fatal("expected partial failure")
	}
	var partial *PartialSyncError
	if !errors.As(err, &partial) || partial.Failed != 1 {
		t.Fatalf("error = %v, want PartialSyncError with 1 failure", err)
	}

	g, _ := st.GetGoal(ctx, good.LocalID)
	if !g.Synced || g.Revision != 2 {
		t.Errorf("accepted record not acknowledged: %+v", g.SyncMeta)
	}
	g, _ = st.GetGoal(ctx, bad.LocalID)
	if g.Synced {
		t.Error("rejected record must stay queued for the next cycle")
	}

	ms, _ := st.Watermark(ctx)
	if ms != 0 {
		t.Errorf("watermark advanced on a failed cycle: %d", ms)
	}

	if len(cycles) != 1 || cycles[0].Failed != 1 || cycles[0].Pushed != 1 {
		t.Errorf("cycle summary wrong: %+v", cycles)
	}
}

func TestUnauthorizedClearsCredential(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedGoal(t, st, "user-1", "Goal")

	creds := &fakeCreds{}
	client := &fakeClient{pushErr: ErrUnauthorized, pullErr: ErrUnauthorized}
	engine := newTestEngine(t, st, client, creds, time.Now)

	err := engine.PerformFullSync(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if !creds.cleared {
		t.Error("credential was not cleared")
	}
	ms, _ := st.Watermark(ctx)
	if ms != 0 {
		t.Errorf("watermark advanced: %d", ms)
	}
}

func TestTransientPullFailureKeepsWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	client := &fakeClient{pullErr: &TransientError{Op: "GET /sync/pull", Err: errors.New("connection refused")}}
	engine := newTestEngine(t, st, client, nil, time.Now)

	err := engine.PerformFullSync(ctx)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("error = %v, want TransientError", err)
	}
	ms, _ := st.Watermark(ctx)
	if ms != 0 {
		t.Errorf("watermark advanced: %d", ms)
	}
}

func TestForeignRecordsAreNotPushed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seedGoal(t, st, "user-1", "Mine")
	seedGoal(t, st, "someone-else", "Not mine")

	client := &fakeClient{}
	engine := newTestEngine(t, st, client, nil, time.Now)

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Fatalf("pushes = %d", len(client.pushes))
	}
	for _, g := range client.pushes[0].Goals {
		if g.OwnerID != "user-1" {
			t.Errorf("foreign record uploaded: %+v", g)
		}
	}
	if len(client.pushes[0].Goals) != 1 {
		t.Errorf("pushed %d goals, want 1", len(client.pushes[0].Goals))
	}
}

func TestOnlyOneCycleRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedGoal(t, st, "user-1", "Goal")

	client := &fakeClient{}
	engine := newTestEngine(t, st, client, nil, time.Now)

	// Re-enter from inside the in-flight cycle; the nested call must be a
	// silent no-op.
	client.onPush = func(f *fakeClient) {
		if err := engine.PerformFullSync(ctx); err != nil {
			t.Errorf("nested cycle returned %v, want nil", err)
		}
	}

	if err := engine.PerformFullSync(ctx); err != nil {
		t.Fatalf("PerformFullSync: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Errorf("pushes = %d, want exactly 1", len(client.pushes))
	}
}

func TestNoIdentitySkipsNetwork(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	client := &fakeClient{}
	opts := Options{
		Store:  st,
		Client: client,
		Identity: IdentityFunc(func(ctx context.Context) (*schema.Identity, error) {
			return nil, nil
		}),
		Logger: log.New(io.Discard, "", 0),
		Repair: func(ctx context.Context) error { return nil },
	}
	engine, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := engine.PerformFullSync(ctx); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("error = %v, want ErrNoIdentity", err)
	}
	if len(client.pushes) != 0 || len(client.pulls) != 0 {
		t.Error("network was touched without an identity")
	}
}

func TestStatusReportsBacklog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedGoal(t, st, "user-1", "Goal")

	engine := newTestEngine(t, st, &fakeClient{}, nil, time.Now)
	status, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Error("no cycle should be running")
	}
	if status.UnsyncedGoals != 1 {
		t.Errorf("backlog = %d, want 1", status.UnsyncedGoals)
	}
	if !status.Watermark.IsZero() {
		t.Errorf("watermark = %v, want zero before first sync", status.Watermark)
	}
}
