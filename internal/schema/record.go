// Package schema provides the record types shared by the local store, the
// sync engine and the remote sync service.
package schema

import (
	"fmt"
	"time"
)

// Record kinds stored by the record store.
const (
	KindGoal     = "goal"
	KindActivity = "activity"
	KindUser     = "user"
)

// Goal statuses.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalArchived  = "archived"
)

// Activity statuses.
const (
	ActivityPending = "pending"
	ActivityActive  = "active"
	ActivityDone    = "done"
	ActivityExpired = "expired"
)

// SyncMeta carries the revision-tagged sync state every syncable record has.
//
// Revision starts at 1 on first local creation and is bumped only by the
// remote service on an accepted push. Synced is true only while the stored
// field values match what the remote last acknowledged. SyncedAt is nil for
// records that have never synced.
type SyncMeta struct {
	LocalID  string     `json:"local_id"`
	RemoteID string     `json:"remote_id"`
	OwnerID  string     `json:"owner_id"`
	Revision int64      `json:"revision"`
	Synced   bool       `json:"synced"`
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// Goal represents a user goal: a title, a duration in days and a weekly
// activity cadence. StartDate and EndDate are calendar-date strings
// (YYYY-MM-DD); the weekly cycle is derived from StartDate.
type Goal struct {
	SyncMeta

	Title      string `json:"title"`
	Duration   int    `json:"duration"` // days
	Frequency  string `json:"frequency,omitempty"`
	WeeklyDays int    `json:"weekly_days"`
	Status     string `json:"status"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Goal for storable field values.
func (g *Goal) Validate() error {
	if g.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if g.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(g.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(g.Title))
	}
	if g.Status == "" {
		return fmt.Errorf("status is required")
	}
	if g.WeeklyDays < 0 || g.WeeklyDays > 7 {
		return fmt.Errorf("weekly_days must be between 0 and 7 (got %d)", g.WeeklyDays)
	}
	if g.Revision < 0 {
		return fmt.Errorf("revision must not be negative (got %d)", g.Revision)
	}
	return nil
}

// Activity represents a single day's item under a goal. Date is a
// calendar-date string (YYYY-MM-DD).
type Activity struct {
	SyncMeta

	GoalID      string     `json:"goal_id"`
	Title       string     `json:"title"`
	Points      int        `json:"points"`
	Status      string     `json:"status"`
	Date        string     `json:"date"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMin int        `json:"duration_min,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the Activity for storable field values.
func (a *Activity) Validate() error {
	if a.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if a.GoalID == "" {
		return fmt.Errorf("goal_id is required")
	}
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if a.Status == "" {
		return fmt.Errorf("status is required")
	}
	if a.Revision < 0 {
		return fmt.Errorf("revision must not be negative (got %d)", a.Revision)
	}
	return nil
}

// User is a local account. Users are stored for offline login; the remote
// service is the authority once a device is online.
type User struct {
	SyncMeta

	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the User for storable field values.
func (u *User) Validate() error {
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Identity is the stable identity the auth gateway resolves from a
// credential.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}
