// Package protocol defines the wire types exchanged between the client
// sync engine and the remote sync service. Both sides import this package
// so the push/pull bodies cannot drift apart.
package protocol

import (
	"time"

	"github.com/stridehq/stride/internal/schema"
)

// GoalRecord is the wire form of a goal. Records travel wholesale: every
// domain field plus the joining remote ID and the revision counter.
type GoalRecord struct {
	LocalID    string `json:"local_id"`
	RemoteID   string `json:"remote_id"`
	OwnerID    string `json:"owner_id"`
	Revision   int64  `json:"revision"`
	Title      string `json:"title"`
	Duration   int    `json:"duration"`
	Frequency  string `json:"frequency,omitempty"`
	WeeklyDays int    `json:"weekly_days"`
	Status     string `json:"status"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	CreatedAt  int64  `json:"created_at"` // epoch millis
	UpdatedAt  int64  `json:"updated_at"` // epoch millis
}

// ActivityRecord is the wire form of an activity.
type ActivityRecord struct {
	LocalID     string `json:"local_id"`
	RemoteID    string `json:"remote_id"`
	OwnerID     string `json:"owner_id"`
	Revision    int64  `json:"revision"`
	GoalID      string `json:"goal_id"`
	Title       string `json:"title"`
	Points      int    `json:"points"`
	Status      string `json:"status"`
	Date        string `json:"date"`
	StartedAt   int64  `json:"started_at,omitempty"`   // epoch millis, 0 when unset
	CompletedAt int64  `json:"completed_at,omitempty"` // epoch millis, 0 when unset
	DurationMin int    `json:"duration_min,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// PushRequest is the owner-scoped batch uploaded by the push phase.
type PushRequest struct {
	Goals      []GoalRecord     `json:"goals"`
	Activities []ActivityRecord `json:"activities"`
	Timestamp  int64            `json:"timestamp"` // client clock, epoch millis
}

// PushResult is the per-record outcome of a push.
type PushResult struct {
	Revision int64  `json:"rev"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// PushResponse maps remote IDs to their push outcomes.
type PushResponse struct {
	Success    bool                  `json:"success"`
	Goals      map[string]PushResult `json:"goals"`
	Activities map[string]PushResult `json:"activities"`
	Timestamp  int64                 `json:"timestamp"` // server clock, epoch millis
}

// PullResponse carries every record changed since the requested watermark.
type PullResponse struct {
	Goals      []GoalRecord     `json:"goals"`
	Activities []ActivityRecord `json:"activities"`
	Timestamp  int64            `json:"timestamp"` // server clock, epoch millis
}

// LoginRequest is the credential submission for /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest registers a new account.
type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse returns the issued bearer token and the resolved identity.
type LoginResponse struct {
	Token string          `json:"token"`
	User  schema.Identity `json:"user"`
}

// VerifyResponse is the result of verifying an existing token.
type VerifyResponse struct {
	Success bool            `json:"success"`
	User    schema.Identity `json:"user"`
}

// ErrorResponse is the uniform error body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Millis converts a time to epoch milliseconds, zero for the zero time.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// MillisPtr converts an optional time to epoch milliseconds.
func MillisPtr(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis converts epoch milliseconds to a time, zero value for 0.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// FromMillisPtr converts epoch milliseconds to an optional time.
func FromMillisPtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// FromGoal converts a stored goal to its wire form.
func FromGoal(g *schema.Goal) GoalRecord {
	return GoalRecord{
		LocalID:    g.LocalID,
		RemoteID:   g.RemoteID,
		OwnerID:    g.OwnerID,
		Revision:   g.Revision,
		Title:      g.Title,
		Duration:   g.Duration,
		Frequency:  g.Frequency,
		WeeklyDays: g.WeeklyDays,
		Status:     g.Status,
		StartDate:  g.StartDate,
		EndDate:    g.EndDate,
		CreatedAt:  Millis(g.CreatedAt),
		UpdatedAt:  Millis(g.UpdatedAt),
	}
}

// ToGoal converts a wire goal back to the stored form.
func (r GoalRecord) ToGoal() *schema.Goal {
	return &schema.Goal{
		SyncMeta: schema.SyncMeta{
			LocalID:  r.LocalID,
			RemoteID: r.RemoteID,
			OwnerID:  r.OwnerID,
			Revision: r.Revision,
		},
		Title:      r.Title,
		Duration:   r.Duration,
		Frequency:  r.Frequency,
		WeeklyDays: r.WeeklyDays,
		Status:     r.Status,
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		CreatedAt:  FromMillis(r.CreatedAt),
		UpdatedAt:  FromMillis(r.UpdatedAt),
	}
}

// FromActivity converts a stored activity to its wire form.
func FromActivity(a *schema.Activity) ActivityRecord {
	return ActivityRecord{
		LocalID:     a.LocalID,
		RemoteID:    a.RemoteID,
		OwnerID:     a.OwnerID,
		Revision:    a.Revision,
		GoalID:      a.GoalID,
		Title:       a.Title,
		Points:      a.Points,
		Status:      a.Status,
		Date:        a.Date,
		StartedAt:   MillisPtr(a.StartedAt),
		CompletedAt: MillisPtr(a.CompletedAt),
		DurationMin: a.DurationMin,
		CreatedAt:   Millis(a.CreatedAt),
		UpdatedAt:   Millis(a.UpdatedAt),
	}
}

// ToActivity converts a wire activity back to the stored form.
func (r ActivityRecord) ToActivity() *schema.Activity {
	return &schema.Activity{
		SyncMeta: schema.SyncMeta{
			LocalID:  r.LocalID,
			RemoteID: r.RemoteID,
			OwnerID:  r.OwnerID,
			Revision: r.Revision,
		},
		GoalID:      r.GoalID,
		Title:       r.Title,
		Points:      r.Points,
		Status:      r.Status,
		Date:        r.Date,
		StartedAt:   FromMillisPtr(r.StartedAt),
		CompletedAt: FromMillisPtr(r.CompletedAt),
		DurationMin: r.DurationMin,
		CreatedAt:   FromMillis(r.CreatedAt),
		UpdatedAt:   FromMillis(r.UpdatedAt),
	}
}
