// Package regen produces each day's activity set for the active goal.
//
// Regeneration runs at startup and at the daily rollover. It is idempotent
// for a given day: once today's activities exist the pass is a no-op, so
// running it any number of times never duplicates records.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/stridehq/stride/internal/schema"
	"github.com/stridehq/stride/internal/store"
)

// Result summarizes one regeneration pass.
type Result struct {
	Date      string
	RestDay   bool
	Created   int
	Expired   int
	Skipped   bool // activities for the day already existed
	NoGoal    bool
	NotBegun  bool // goal start date is in the future
	Completed bool // goal ran past its duration
}

// Engine drives daily regeneration for one signed-in user.
type Engine struct {
	store  *store.Store
	logger *log.Logger
	now    func() time.Time
}

// New creates a regeneration engine.
func New(st *store.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[regen] ", log.LstdFlags)
	}
	return &Engine{store: st, logger: logger, now: time.Now}
}

// SetClock overrides the clock for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run performs one regeneration pass for the owner's active goal:
// normalize legacy dates, check idempotence, expire stale pending
// activities from earlier days, and materialize today's set from the
// goal's distinct templates when today is an active day.
func (e *Engine) Run(ctx context.Context, ownerID string) (*Result, error) {
	today := schema.DateString(e.now())
	res := &Result{Date: today}

	if _, err := e.store.NormalizeActivityDates(ctx, schema.NormalizeDate); err != nil {
		return nil, fmt.Errorf("failed to normalize activity dates: %w", err)
	}

	goal, err := e.store.ActiveGoal(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		res.NoGoal = true
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active goal: %w", err)
	}

	day, err := schema.DayInCycle(goal.StartDate, e.now())
	if err != nil {
		return nil, fmt.Errorf("goal %s has an invalid start date: %w", goal.LocalID, err)
	}
	if day < 0 {
		// Goal has not started yet. Leave everything untouched.
		res.NotBegun = true
		return res, nil
	}
	// ISO dates compare lexicographically.
	if goal.EndDate != "" && today > goal.EndDate {
		res.Completed = true
		e.logger.Printf("Goal %s ended on %s", goal.LocalID, goal.EndDate)
		return res, nil
	}

	existing, err := e.store.ActivitiesByOwnerGoalDate(ctx, ownerID, goal.LocalID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to check today's activities: %w", err)
	}
	if len(existing) > 0 {
		res.Skipped = true
		return res, nil
	}

	expired, err := e.store.ExpirePending(ctx, ownerID, goal.LocalID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale activities: %w", err)
	}
	res.Expired = len(expired)
	if len(expired) > 0 {
		e.logger.Printf("Expired %d stale pending activities for goal %s", len(expired), goal.LocalID)
	}

	if schema.IsRestDay(day, goal.WeeklyDays) {
		res.RestDay = true
		e.logger.Printf("Day %d of cycle is a rest day, nothing to generate", day)
		return res, nil
	}

	templates, err := e.store.ActivityTemplates(ctx, ownerID, goal.LocalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity templates: %w", err)
	}
	if len(templates) == 0 {
		e.logger.Printf("Goal %s has no activity templates yet", goal.LocalID)
		return res, nil
	}

	batch := make([]*schema.Activity, 0, len(templates))
	for _, t := range templates {
		batch = append(batch, &schema.Activity{
			SyncMeta: schema.SyncMeta{OwnerID: ownerID},
			GoalID:   goal.LocalID,
			Title:    t.Title,
			Points:   t.Points,
			Status:   schema.ActivityPending,
			Date:     today,
		})
	}
	if _, err := e.store.BulkCreateActivities(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create today's activities: %w", err)
	}
	res.Created = len(batch)
	e.logger.Printf("Generated %d activities for %s (cycle day %d)", len(batch), today, day)
	return res, nil
}
