package xlockrun

import (
	"errors"
	"fmt"
)

// Sentinel validation errors (spec §4.5). These are returned
// synchronously, before any lock operation is attempted.
var (
	// ErrInvalidTTL is returned when a per-invocation lockTtl is below
	// the runner's configured minimumTtl.
	ErrInvalidTTL = errors.New("exclusion-mutuelle: lockTtl below minimumTtl")

	// ErrInvalidLockKey is returned when lockKey is an empty sequence or
	// contains a key that is empty or whitespace-only.
	ErrInvalidLockKey = errors.New("exclusion-mutuelle: lockKey must be a non-empty string or non-empty sequence of non-empty strings")
)

// ErrLockHeld is a backend-level sentinel a Client implementation may
// wrap into a LockError cause to indicate the key was already held by
// another owner, as opposed to a transport/quorum failure. The runner
// does not distinguish it from any other LockError cause; it exists so
// Client implementations and their tests can use errors.Is consistently.
var ErrLockHeld = errors.New("exclusion-mutuelle: lock is held by another owner")

// LockError is the pass-through terminal error for acquisition failure
// (spec §4.2). It is surfaced unchanged, wrapping whatever the Client
// returned from Acquire.
type LockError struct {
	// Cause is the underlying error from the Client.
	Cause error

	// Attempts is the number of acquisition attempts the backend
	// reports having made, when it reports one. Zero means "not
	// reported", not "zero attempts" — see DESIGN.md Open Question 3.
	Attempts int
}

func (e *LockError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("exclusion-mutuelle: acquire lock failed after %d attempts: %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("exclusion-mutuelle: acquire lock failed: %v", e.Cause)
}

func (e *LockError) Unwrap() error { return e.Cause }

// ExtendLockError is the terminal error reported when the Extension
// Scheduler cancels the task (spec §4.2, §4.4): either an extend call
// failed, or the tick cap was exceeded first.
type ExtendLockError struct {
	// Cause is the extension error that triggered cancellation, or nil
	// when cancellation was caused by the tick cap alone.
	Cause error

	// ExtendLockLimit is the configured maxExtendLockCount, carried for
	// observability.
	ExtendLockLimit int
}

func (e *ExtendLockError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exclusion-mutuelle: task cancelled: lock extension failed (limit %d): %v", e.ExtendLockLimit, e.Cause)
	}
	return fmt.Sprintf("exclusion-mutuelle: task cancelled: extension tick cap exceeded (limit %d)", e.ExtendLockLimit)
}

func (e *ExtendLockError) Unwrap() error { return e.Cause }

// UnlockError is reported when release fails and no higher-priority
// error exists (spec §4.2, §4.3 outcome priority). The lock is expected
// to expire on its own TTL; this is purely informational to the caller.
type UnlockError struct {
	// Cause is the first release error encountered.
	Cause error
}

func (e *UnlockError) Error() string {
	return fmt.Sprintf("exclusion-mutuelle: release lock failed (lock will expire via TTL): %v", e.Cause)
}

func (e *UnlockError) Unwrap() error { return e.Cause }
