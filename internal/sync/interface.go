package sync

import (
	"context"
	"time"

	"github.com/stridehq/stride/internal/protocol"
	"github.com/stridehq/stride/internal/schema"
)

// RemoteClient is the boundary to the remote sync service. Implementations
// must return ErrUnauthorized (possibly wrapped) when the credential is
// rejected and *TransientError for network-level failures.
type RemoteClient interface {
	// Push uploads an owner-scoped batch of changed records and returns
	// the per-record outcomes with server-assigned revisions.
	Push(ctx context.Context, req protocol.PushRequest) (*protocol.PushResponse, error)

	// Pull returns every record for the authenticated owner changed since
	// the watermark (epoch milliseconds).
	Pull(ctx context.Context, since int64) (*protocol.PullResponse, error)
}

// IdentityProvider resolves the signed-in identity the engine syncs as.
type IdentityProvider interface {
	Identity(ctx context.Context) (*schema.Identity, error)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (*schema.Identity, error)

// Identity implements IdentityProvider.
func (f IdentityFunc) Identity(ctx context.Context) (*schema.Identity, error) {
	return f(ctx)
}

// CycleResult summarizes one completed sync cycle for observers.
type CycleResult struct {
	Start    time.Time
	Duration time.Duration
	Pushed   int
	Pulled   int
	Failed   int
	Err      error
}

// Status reports the engine's current state.
type Status struct {
	Running            bool
	Watermark          time.Time
	Interval           time.Duration
	UnsyncedGoals      int
	UnsyncedActivities int
}
