package xlockrun

import (
	"context"
	"sync"
	"time"
)

// fakeClient is an in-process, no-network Client used to exercise the
// Runner/scheduler state machine deterministically (spec §8 "table-driven
// tests against a hand-written fake Client/Lock").
type fakeClient struct {
	mu sync.Mutex

	// acquireErr, when non-nil, is returned by every Acquire call.
	acquireErr error

	// acquireErrForKey, when set, overrides acquireErr for one
	// specific key (used to model "key i succeeds, key j fails").
	acquireErrForKey map[string]error

	// acquiredKeys records every key that was actually handed back a
	// Lock, in call order (guarded by mu).
	acquiredKeys []string

	// extendErrAfter, when > 0, makes the N-th and every later Extend
	// call on each lock fail (1-indexed); 0 means never fail.
	extendErrAfter int
	extendErr      error

	// releaseErr, when non-nil, is returned by every Release call.
	releaseErr error

	acquireCount int
	extendCount  int
	releaseCount int
	extendTicks  []int // per-call tick index, for assertions
}

func (c *fakeClient) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquireCount++
	if err, ok := c.acquireErrForKey[key]; ok {
		return nil, err
	}
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	c.acquiredKeys = append(c.acquiredKeys, key)
	return &fakeLock{client: c, key: key}, nil
}

func (c *fakeClient) Close() error { return nil }

type fakeLock struct {
	client *fakeClient
	key    string

	mu    sync.Mutex
	ticks int
}

func (l *fakeLock) Extend(_ context.Context, _ time.Duration) error {
	l.mu.Lock()
	l.ticks++
	tick := l.ticks
	l.mu.Unlock()

	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	l.client.extendCount++
	l.client.extendTicks = append(l.client.extendTicks, tick)

	if l.client.extendErrAfter > 0 && tick >= l.client.extendErrAfter {
		return l.client.extendErr
	}
	return nil
}

func (l *fakeLock) Release(_ context.Context) error {
	l.client.mu.Lock()
	defer l.client.mu.Unlock()
	l.client.releaseCount++
	return l.client.releaseErr
}

func (l *fakeLock) Key() string { return l.key }

func (c *fakeClient) counts() (acquires, extends, releases int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquireCount, c.extendCount, c.releaseCount
}
