package xlockrun

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sony/sonyflake/v2"
)

// RedisClientOption configures the Redis/Redlock backend (SPEC_FULL
// §4.1.1). Grounded on xdlock's MutexOption functional-options pattern.
type RedisClientOption func(*redisClientOptions)

type redisClientOptions struct {
	keyPrefix     string
	tries         int
	retryDelay    time.Duration
	driftFactor   float64
	timeoutFactor float64
	genValueFunc  func() (string, error)
	shufflePools  bool
}

func defaultRedisClientOptions() *redisClientOptions {
	return &redisClientOptions{
		keyPrefix:     "lock:",
		tries:         32,
		retryDelay:    200 * time.Millisecond,
		driftFactor:   0.01,
		timeoutFactor: 0.05,
		genValueFunc:  sonyflakeValue,
	}
}

// WithRedisKeyPrefix sets the prefix applied to every key. Default:
// "lock:".
func WithRedisKeyPrefix(prefix string) RedisClientOption {
	return func(o *redisClientOptions) { o.keyPrefix = prefix }
}

// WithRedisTries sets the max acquisition attempts per Acquire call.
// Default: 32. Values <= 0 are silently ignored.
func WithRedisTries(n int) RedisClientOption {
	return func(o *redisClientOptions) {
		if n > 0 {
			o.tries = n
		}
	}
}

// WithRedisRetryDelay sets the delay between acquisition retries.
// Default: 200ms. Values <= 0 are silently ignored.
func WithRedisRetryDelay(d time.Duration) RedisClientOption {
	return func(o *redisClientOptions) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithRedisDriftFactor sets the Redlock clock-drift compensation factor.
// Default: 0.01. Must be > 0: 0.0 defeats drift compensation.
func WithRedisDriftFactor(f float64) RedisClientOption {
	return func(o *redisClientOptions) {
		if f > 0 {
			o.driftFactor = f
		}
	}
}

// WithRedisTimeoutFactor sets the per-node timeout factor. Default: 0.05.
// Must be > 0: 0.0 causes per-node timeouts to fire immediately.
func WithRedisTimeoutFactor(f float64) RedisClientOption {
	return func(o *redisClientOptions) {
		if f > 0 {
			o.timeoutFactor = f
		}
	}
}

// WithRedisShufflePools randomizes node order per acquisition, useful
// for spreading load across a quorum. Default: false.
func WithRedisShufflePools(b bool) RedisClientOption {
	return func(o *redisClientOptions) { o.shufflePools = b }
}

// redisClient is the Redlock-backed Client implementation (spec §4.1,
// SPEC_FULL §4.1.1). Grounded on xdlock/redis.go's redisFactory.
type redisClient struct {
	nodes  []redis.UniversalClient
	rs     *redsync.Redsync
	opts   *redisClientOptions
	closed atomic.Bool
}

// NewRedisClient builds a Client backed by a Redlock quorum over the
// given independent Redis nodes. A single node degrades gracefully to
// a plain single-instance lock; the Redlock guarantees only hold with
// an odd number of independent nodes.
func NewRedisClient(nodes []redis.UniversalClient, opts ...RedisClientOption) (Client, error) {
	if len(nodes) == 0 {
		return nil, ErrNilClient
	}
	for i, n := range nodes {
		if n == nil {
			return nil, fmt.Errorf("exclusion-mutuelle: redis node at index %d is nil", i)
		}
	}

	o := defaultRedisClientOptions()
	for _, opt := range opts {
		opt(o)
	}

	pools := make([]rsredis.Pool, len(nodes))
	for i, n := range nodes {
		pools[i] = goredis.NewPool(n)
	}

	return &redisClient{
		nodes: nodes,
		rs:    redsync.New(pools...),
		opts:  o,
	}, nil
}

// Acquire blocks (up to ctx) trying to acquire the Redlock quorum for
// key with the given TTL.
func (c *redisClient) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	if c.closed.Load() {
		return nil, errors.New("exclusion-mutuelle: redis client is closed")
	}

	mutex := c.newMutex(key, ttl)
	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrapRedisError(err)
	}

	return &redisLock{mutex: mutex, key: c.opts.keyPrefix + key}, nil
}

// Close is a no-op beyond marking the client closed: the Redis node
// clients passed to NewRedisClient are owned and closed by the caller.
func (c *redisClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *redisClient) newMutex(key string, ttl time.Duration) *redsync.Mutex {
	fullKey := c.opts.keyPrefix + key

	rsOpts := []redsync.Option{
		redsync.WithExpiry(ttl),
		redsync.WithTries(c.opts.tries),
		redsync.WithRetryDelay(c.opts.retryDelay),
		redsync.WithDriftFactor(c.opts.driftFactor),
		redsync.WithTimeoutFactor(c.opts.timeoutFactor),
		redsync.WithGenValueFunc(c.opts.genValueFunc),
		redsync.WithShufflePools(c.opts.shufflePools),
	}
	return c.rs.NewMutex(fullKey, rsOpts...)
}

// redisLock implements Lock over a single redsync.Mutex acquisition. A
// fresh Mutex is created per Acquire call; mutexes are not reusable
// across acquisitions.
type redisLock struct {
	mutex *redsync.Mutex
	key   string
}

func (l *redisLock) Extend(ctx context.Context, _ time.Duration) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return wrapRedisError(err)
	}
	if !ok {
		return fmt.Errorf("%w: extend reported no-op", ErrLockHeld)
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return wrapRedisError(err)
	}
	if !ok {
		return errors.New("exclusion-mutuelle: redis unlock reported no-op")
	}
	return nil
}

func (l *redisLock) Key() string { return l.key }

// wrapRedisError translates redsync errors, preserving the original
// chain with double-%w wrapping, grounded on xdlock/redis.go's
// wrapRedisError.
func wrapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var errTaken *redsync.ErrTaken
	if errors.As(err, &errTaken) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return err
	}
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}

	return err
}

// sonyflakeNode is shared across every redisClient instance in the
// process: the value generator only needs global uniqueness, not
// per-client uniqueness, and constructing one sonyflake.Sonyflake per
// lock acquisition would be wasteful.
var sonyflakeNode = newSonyflakeNode()

func newSonyflakeNode() *sonyflake.Sonyflake {
	sf, err := sonyflake.New(sonyflake.Settings{})
	if err != nil {
		// Settings{} (all defaults) only fails to build a node if the
		// default machine-ID strategy can't find a usable interface;
		// sonyflakeValue then falls back to randomValue rather than
		// panic at package init.
		return nil
	}
	return sf
}

func sonyflakeValue() (string, error) {
	if sonyflakeNode == nil {
		return randomValue()
	}
	id, err := sonyflakeNode.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 36), nil
}

// randomValue is the fallback used when the process has no usable
// machine-ID for sonyflake (e.g. no private IPv4 interface); it mirrors
// redsync's own default value generator (random bytes, base64-encoded).
func randomValue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
