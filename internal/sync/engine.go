// Package sync implements the client-side synchronization engine.
//
// The engine runs a periodic, mutually exclusive push-then-pull cycle
// against the remote sync service. Push uploads every local record with
// synced = false; pull downloads records changed since the last successful
// watermark and resolves conflicts with the revision rule: higher revision
// wins, ties favor local.
//
// Sync is strictly best-effort relative to offline use: no failure here
// may stop the host application. A failed cycle leaves local records
// unsynced and the watermark unchanged; the fixed interval is the retry
// policy.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/stridehq/stride/internal/migrate"
	"github.com/stridehq/stride/internal/protocol"
	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
)

// DefaultInterval is the fixed cycle interval when none is configured.
const DefaultInterval = 60 * time.Second

// Options configures an Engine. Store, Client and Identity are required.
type Options struct {
	Store       *store.Store
	Client      RemoteClient
	Identity    IdentityProvider
	Credentials interface{ ClearToken() error }
	Interval    time.Duration
	Clock       func() time.Time
	Logger      *log.Logger

	// Repair overrides the startup repair pass. Defaults to the migration
	// engine's repair pass over Store.
	Repair func(ctx context.Context) error

	// OnCycle, when set, receives a summary after every completed cycle.
	OnCycle func(CycleResult)
}

// Engine orchestrates the periodic push/pull cycle.
type Engine struct {
	store    *store.Store
	client   RemoteClient
	identity IdentityProvider
	creds    interface{ ClearToken() error }
	now      func() time.Time
	logger   *log.Logger
	repair   func(ctx context.Context) error
	onCycle  func(CycleResult)

	interval   atomic.Int64 // nanoseconds
	intervalCh chan time.Duration

	// running guards against overlapping cycles; it is the only
	// client-side concurrency primitive.
	running atomic.Bool

	stopOnce stdsync.Once
	stopCh   chan struct{}
	wg       stdsync.WaitGroup
}

// New creates a sync engine with injected dependencies.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Repair == nil {
		opts.Repair = migrate.New(opts.Store, opts.Logger).Repair
	}

	e := &Engine{
		store:      opts.Store,
		client:     opts.Client,
		identity:   opts.Identity,
		creds:      opts.Credentials,
		now:        opts.Clock,
		logger:     opts.Logger,
		repair:     opts.Repair,
		onCycle:    opts.OnCycle,
		intervalCh: make(chan time.Duration, 1),
		stopCh:     make(chan struct{}),
	}
	e.interval.Store(int64(opts.Interval))
	return e, nil
}

// Interval returns the current cycle interval.
func (e *Engine) Interval() time.Duration {
	return time.Duration(e.interval.Load())
}

// SetInterval changes the cycle interval. A running scheduler picks the
// new interval up immediately.
func (e *Engine) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	e.interval.Store(int64(d))
	select {
	case e.intervalCh <- d:
	default:
	}
}

// StartAutoSync runs the repair pass, performs one immediate cycle, then
// arms the recurring timer. A failed scheduled cycle is logged and never
// stops future cycles.
func (e *Engine) StartAutoSync(ctx context.Context) {
	if err := e.repair(ctx); err != nil {
		e.logger.Printf("Repair pass failed (will retry next start): %v", err)
	}

	if err := e.PerformFullSync(ctx); err != nil {
		e.logger.Printf("Initial sync failed: %v", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			case d := <-e.intervalCh:
				ticker.Reset(d)
			case <-ticker.C:
				if err := e.PerformFullSync(ctx); err != nil {
					e.logger.Printf("Scheduled sync failed: %v", err)
				}
			}
		}
	}()
}

// Stop disarms the timer. An in-flight cycle is allowed to finish; Stop
// returns once the scheduling goroutine has exited.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// PerformFullSync executes one push-then-pull cycle. If a cycle is already
// in flight the call returns immediately without error: at most one cycle
// runs at a time. The watermark advances to the cycle's start time only on
// full success.
func (e *Engine) PerformFullSync(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Printf("Sync already in progress, skipping")
		return nil
	}
	defer e.running.Store(false)

	start := e.now()
	e.logger.Printf("Starting sync cycle")

	pushed, pushErr := e.push(ctx)
	// Pull always runs, even after a partial push failure: remote changes
	// must land regardless of what we could upload.
	pulled, pullErr := e.pull(ctx)

	err := errors.Join(pushErr, pullErr)
	failed := 0
	var partial *PartialSyncError
	if errors.As(pushErr, &partial) {
		failed = partial.Failed
	}

	if err == nil {
		if werr := e.store.SetWatermark(ctx, start.UnixMilli()); werr != nil {
			err = fmt.Errorf("failed to advance watermark: %w", werr)
		} else {
			e.logger.Printf("Sync cycle complete: pushed=%d pulled=%d", pushed, pulled)
		}
	} else {
		e.logger.Printf("Sync cycle incomplete: pushed=%d pulled=%d failed=%d err=%v", pushed, pulled, failed, err)
	}

	if errors.Is(err, ErrUnauthorized) && e.creds != nil {
		e.logger.Printf("Credential rejected; clearing stored token")
		if cerr := e.creds.ClearToken(); cerr != nil {
			e.logger.Printf("Failed to clear credential: %v", cerr)
		}
	}

	if e.onCycle != nil {
		e.onCycle(CycleResult{
			Start:    start,
			Duration: e.now().Sub(start),
			Pushed:   pushed,
			Pulled:   pulled,
			Failed:   failed,
			Err:      err,
		})
	}
	return err
}

// push uploads every unsynced record and applies the per-record
// acknowledgements. Records the service rejects stay unsynced and retry on
// the next cycle.
func (e *Engine) push(ctx context.Context) (int, error) {
	identity, err := e.identity.Identity(ctx)
	if err != nil || identity == nil {
		return 0, ErrNoIdentity
	}

	goals, err := e.store.UnsyncedGoals(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to select unsynced goals: %w", err)
	}
	activities, err := e.store.UnsyncedActivities(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to select unsynced activities: %w", err)
	}

	// Records owned by someone else never leave the process. The remote
	// service re-validates ownership on its end.
	req := protocol.PushRequest{Timestamp: e.now().UnixMilli()}
	pushGoals := make([]*schema.Goal, 0, len(goals))
	for _, g := range goals {
		if g.OwnerID != identity.UserID {
			e.logger.Printf("Skipping goal %s: owner %s does not match signed-in user", g.LocalID, g.OwnerID)
			continue
		}
		pushGoals = append(pushGoals, g)
		req.Goals = append(req.Goals, protocol.FromGoal(g))
	}
	pushActivities := make([]*schema.Activity, 0, len(activities))
	for _, a := range activities {
		if a.OwnerID != identity.UserID {
			e.logger.Printf("Skipping activity %s: owner %s does not match signed-in user", a.LocalID, a.OwnerID)
			continue
		}
		pushActivities = append(pushActivities, a)
		req.Activities = append(req.Activities, protocol.FromActivity(a))
	}

	if len(req.Goals) == 0 && len(req.Activities) == 0 {
		e.logger.Printf("No changes to push")
		return 0, nil
	}

	resp, err := e.client.Push(ctx, req)
	if err != nil {
		return 0, err
	}

	acked := 0
	failed := 0
	now := e.now()
	for _, g := range pushGoals {
		res, ok := resp.Goals[g.RemoteID]
		if !ok || !res.Success {
			failed++
			e.logger.Printf("Push rejected goal %s: %s", g.LocalID, res.Error)
			continue
		}
		if err := e.store.MarkGoalSynced(ctx, g.LocalID, res.Revision, now); err != nil {
			failed++
			e.logger.Printf("Failed to record goal ack %s: %v", g.LocalID, err)
			continue
		}
		acked++
	}
	for _, a := range pushActivities {
		res, ok := resp.Activities[a.RemoteID]
		if !ok || !res.Success {
			failed++
			e.logger.Printf("Push rejected activity %s: %s", a.LocalID, res.Error)
			continue
		}
		if err := e.store.MarkActivitySynced(ctx, a.LocalID, res.Revision, now); err != nil {
			failed++
			e.logger.Printf("Failed to record activity ack %s: %v", a.LocalID, err)
			continue
		}
		acked++
	}

	if failed > 0 {
		return acked, &PartialSyncError{Failed: failed}
	}
	return acked, nil
}

// pull downloads records changed since the watermark and applies the
// conflict rule per record: overwrite locally when the record is absent or
// the remote revision is strictly higher; otherwise the remote copy is
// discarded.
func (e *Engine) pull(ctx context.Context) (int, error) {
	identity, err := e.identity.Identity(ctx)
	if err != nil || identity == nil {
		return 0, ErrNoIdentity
	}

	since, err := e.store.Watermark(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read watermark: %w", err)
	}

	resp, err := e.client.Pull(ctx, since)
	if err != nil {
		return 0, err
	}

	applied := 0
	now := e.now()
	var applyErr error
	for _, r := range resp.Goals {
		local, err := e.store.GoalByRemoteID(ctx, identity.UserID, r.RemoteID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			applyErr = errors.Join(applyErr, err)
			continue
		}
		if local != nil && local.Revision >= r.Revision {
			continue // local already has this state or a newer pending change
		}
		g := r.ToGoal()
		g.Synced = true
		g.SyncedAt = &now
		if err := e.store.PutGoalFromRemote(ctx, g); err != nil {
			applyErr = errors.Join(applyErr, err)
			continue
		}
		applied++
	}
	for _, r := range resp.Activities {
		local, err := e.store.ActivityByRemoteID(ctx, identity.UserID, r.RemoteID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			applyErr = errors.Join(applyErr, err)
			continue
		}
		if local != nil && local.Revision >= r.Revision {
			continue
		}
		a := r.ToActivity()
		a.Synced = true
		a.SyncedAt = &now
		if err := e.store.PutActivityFromRemote(ctx, a); err != nil {
			applyErr = errors.Join(applyErr, err)
			continue
		}
		applied++
	}

	return applied, applyErr
}

// Status reports the engine's current state and unsynced backlog.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	st := Status{
		Running:  e.running.Load(),
		Interval: e.Interval(),
	}
	ms, err := e.store.Watermark(ctx)
	if err != nil {
		return st, err
	}
	if ms > 0 {
		st.Watermark = time.UnixMilli(ms)
	}
	goals, err := e.store.UnsyncedGoals(ctx)
	if err != nil {
		return st, err
	}
	activities, err := e.store.UnsyncedActivities(ctx)
	if err != nil {
		return st, err
	}
	st.UnsyncedGoals = len(goals)
	st.UnsyncedActivities = len(activities)
	return st, nil
}
