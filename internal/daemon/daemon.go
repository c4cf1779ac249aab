// Package daemon runs the background process behind `stride daemon`.
//
// The daemon:
// 1. Runs the auto-sync engine on its fixed interval
// 2. Triggers daily regeneration at startup and at each day rollover
// 3. Watches the config file and hot-reloads the sync interval
// 4. Serves the live dashboard feed
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stridehq/stride/internal/config"
	"github.com/stridehq/stride/internal/dashboard"
	"github.com/stridehq/stride/internal/regen"
	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
	stridesync "github.com/stridehq/stride/internal/sync"
)

// Options holds the daemon's collaborators.
type Options struct {
	Store    *store.Store
	Engine   *stridesync.Engine
	Regen    *regen.Engine
	Identity stridesync.IdentityProvider

	// ConfigPath, when set, is watched for changes; edits to the sync
	// interval take effect without a restart.
	ConfigPath string

	// Dashboard, when set, receives record events and sync summaries.
	Dashboard *dashboard.Server

	Logger *log.Logger
}

// Daemon orchestrates sync, regeneration and the dashboard feed.
type Daemon struct {
	store    *store.Store
	engine   *stridesync.Engine
	regen    *regen.Engine
	identity stridesync.IdentityProvider
	confPath string
	dash     *dashboard.Server
	handler  *dashboard.Handler
	logger   *log.Logger

	watcher     *fsnotify.Watcher
	unsubscribe func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("sync engine cannot be nil")
	}
	if opts.Regen == nil {
		return nil, fmt.Errorf("regeneration engine cannot be nil")
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity provider cannot be nil")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		store:    opts.Store,
		engine:   opts.Engine,
		regen:    opts.Regen,
		identity: opts.Identity,
		confPath: opts.ConfigPath,
		dash:     opts.Dashboard,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if d.dash != nil {
		d.handler = dashboard.NewHandler(d.dash, opts.Logger)
	}
	return d, nil
}

// Start brings up the dashboard, wires store events, runs the first
// regeneration pass, starts auto-sync, and arms the rollover timer and
// config watcher. It returns once everything is running.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Println("Starting daemon")

	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.unsubscribe = d.store.Subscribe(d.handler.OnRecordEvent)
	}

	if err := d.runRegen(ctx); err != nil {
		d.logger.Printf("Regeneration failed: %v", err)
	}

	d.engine.StartAutoSync(ctx)

	d.wg.Add(1)
	go d.rolloverLoop()

	if d.confPath != "" {
		if err := d.watchConfig(); err != nil {
			d.logger.Printf("Config watch disabled: %v", err)
		}
	}

	return nil
}

// Stop shuts everything down. In-flight work finishes first.
func (d *Daemon) Stop() error {
	d.logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.engine.Stop()
	d.wg.Wait()

	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			return err
		}
	}
	d.logger.Println("Daemon stopped")
	return nil
}

// runRegen performs one regeneration pass for the signed-in user.
func (d *Daemon) runRegen(ctx context.Context) error {
	identity, err := d.identity.Identity(ctx)
	if err != nil || identity == nil {
		return fmt.Errorf("no signed-in user")
	}
	res, err := d.regen.Run(ctx, identity.UserID)
	if err != nil {
		return err
	}
	if res.Created > 0 || res.Expired > 0 {
		d.logger.Printf("Regeneration: created=%d expired=%d rest=%v", res.Created, res.Expired, res.RestDay)
	}
	if d.handler != nil {
		d.broadcastProgress(ctx, identity.UserID)
	}
	return nil
}

// rolloverLoop wakes shortly after each local midnight and regenerates.
func (d *Daemon) rolloverLoop() {
	defer d.wg.Done()

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 5, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := d.runRegen(d.ctx); err != nil {
				d.logger.Printf("Rollover regeneration failed: %v", err)
			}
		}
	}
}

// watchConfig hot-reloads the sync interval when the config file changes.
// Only the interval is applied live; everything else needs a restart.
func (d *Daemon) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(d.confPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	d.watcher = watcher
	d.logger.Printf("Watching %s", d.confPath)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(d.confPath) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := config.Load()
				if err != nil {
					d.logger.Printf("Ignoring config change: %v", err)
					continue
				}
				d.engine.SetInterval(cfg.SyncInterval)
				d.logger.Printf("Config reloaded, sync interval now %s", cfg.SyncInterval)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Printf("Watcher error: %v", err)
			}
		}
	}()
	return nil
}

// broadcastProgress publishes today's tally to the dashboard.
func (d *Daemon) broadcastProgress(ctx context.Context, ownerID string) {
	today := schema.DateString(time.Now())
	goal, err := d.store.ActiveGoal(ctx, ownerID)
	if err != nil {
		return
	}
	acts, err := d.store.ActivitiesByOwnerGoalDate(ctx, ownerID, goal.LocalID, today)
	if err != nil {
		return
	}
	done, pending, points := 0, 0, 0
	for _, a := range acts {
		switch a.Status {
		case schema.ActivityDone:
			done++
			points += a.Points
		case schema.ActivityPending, schema.ActivityActive:
			pending++
		}
	}
	d.handler.BroadcastProgress(today, done, pending, points)
}
