package xlockrun

import (
	"context"
	"time"
)

// Lock is an opaque handle on one successfully acquired key. The runner
// treats it as opaque and never compares handles; it only ever calls
// Extend and Release on the handles it received from Client.Acquire.
type Lock interface {
	// Extend resets the remaining TTL on the underlying key to ttl.
	// It fails if the key has already expired, been taken by another
	// owner, or the quorum is unreachable.
	Extend(ctx context.Context, ttl time.Duration) error

	// Release is a best-effort release of the key. Failure here is
	// never fatal to correctness: the key will still expire on its
	// own TTL.
	Release(ctx context.Context) error

	// Key returns the fully-qualified key this handle was acquired
	// for, for logging.
	Key() string
}

// Client is the external Lock-Client contract (spec §4.1). The runner
// core depends on this interface and does not implement it; the
// Redlock/etcd protocol, quorum, and clock-drift handling live entirely
// behind concrete implementations (see redis_client.go, etcd_client.go).
type Client interface {
	// Acquire blocks until the key is acquired or ctx is done,
	// returning a LockError on quorum failure. Implementations are
	// expected to apply their own internal retry policy before
	// giving up; the caller only ever sees the final outcome.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)

	// Close releases resources held by the client (connection pools,
	// sessions). It does not release any outstanding Lock.
	Close() error
}
