package sync

import (
	"errors"
	"fmt"
)

// ErrUnauthorized signals the remote service rejected the credential. The
// engine clears the stored credential when it sees this; the user must log
// in again before the next cycle can succeed.
var ErrUnauthorized = errors.New("remote rejected credential")

// ErrNoIdentity signals no user is signed in; sync cannot run.
var ErrNoIdentity = errors.New("no authenticated identity")

// PartialSyncError reports that some records in a push batch were rejected.
// Non-fatal: the rejected records remain unsynced and retry on the next
// scheduled cycle, but the watermark does not advance.
type PartialSyncError struct {
	Failed int
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("push rejected %d records", e.Failed)
}

// TransientError wraps a network-level failure. The cycle aborts without
// state changes and the fixed interval is the retry policy.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
