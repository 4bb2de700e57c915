package xlockrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a zero-argument callable producing a value or an error (spec
// §3 "Invocation parameters": task). It must consult ctx at its
// suspension points to cooperate with scheduler-induced cancellation
// (spec §9); a task that never does will still run to completion, and
// Run will still classify the outcome as an ExtendLockError once the
// scheduler has cancelled it (spec §9).
type Task func(ctx context.Context) (any, error)

// Runner is a reusable, thread-safe coordinator for distributed
// mutual-exclusion task execution (spec §2 "Runner"). Construct one with
// New and call Run once per critical section.
type Runner struct {
	client Client
	cfg    Config
	logger componentLogger
}

// ErrNilClient is returned by New when client is nil.
var ErrNilClient = errors.New("exclusion-mutuelle: client must not be nil")

// New constructs a Runner bound to one Lock-Client. The Runner is
// stateless beyond its configuration and client, and is safe for
// concurrent invocations of Run under distinct keys (spec §6).
func New(client Client, opts ...Option) (*Runner, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Runner{
		client: client,
		cfg:    cfg,
		logger: newComponentLogger(cfg.Logger, cfg.DebugKey),
	}, nil
}

// Run executes task inside a critical section guarded by every key in
// key, keeping the locks alive for the task's duration (spec §4.3).
//
// Known unsafe behavior inherited from the source being modeled (spec §9
// Open Question 1): if acquiring the N keys in parallel, key i succeeds
// and key j fails, key i is NOT released on this path — Run returns the
// LockError from key j's failure and relies on the lock service's own
// TTL expiry to reclaim key i. Callers that need the safer
// compensate-and-release behavior must wrap Run themselves.
func (r *Runner) Run(ctx context.Context, task Task, key LockKey, opts ...RunOption) (any, error) {
	rc := defaultRunConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}

	if rc.lockTTL < r.cfg.MinimumTTL {
		return nil, fmt.Errorf("%w: lockTtl %s is below minimumTtl %s", ErrInvalidTTL, rc.lockTTL, r.cfg.MinimumTTL)
	}
	if err := key.validate(); err != nil {
		return nil, err
	}

	locks, err := r.acquireAll(ctx, key, rc.lockTTL)
	if err != nil {
		return nil, err
	}

	return r.runWithLocks(ctx, task, locks, rc.lockTTL)
}

// acquireAll acquires every key in parallel (spec §4.3 "Acquisition
// phase"). Grounded on xrun.Group's errgroup wrapper, generalized from
// "run independent services" to "fill in an ordered result slice".
//
// Per spec invariant 1 and Open Question 1: any single acquisition
// failure fails the whole call with that LockError, and locks already
// acquired by this same call are deliberately left unreleased (the
// lock service's TTL reclaims them).
func (r *Runner) acquireAll(ctx context.Context, key LockKey, ttl time.Duration) ([]Lock, error) {
	keys := key.Strings()
	locks := make([]Lock, len(keys))

	r.logger.debug(ctx, "acquiring locks", slog.Int("count", len(keys)))

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			lock, err := r.client.Acquire(gctx, k, ttl)
			if err != nil {
				var lockErr *LockError
				if errors.As(err, &lockErr) {
					return lockErr
				}
				return &LockError{Cause: err}
			}
			locks[i] = lock
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var lockErr *LockError
		if errors.As(err, &lockErr) {
			return nil, lockErr
		}
		return nil, &LockError{Cause: err}
	}

	r.logger.debug(ctx, "all locks acquired", slog.Int("count", len(keys)))
	return locks, nil
}

// runWithLocks is the execution + release phase (spec §4.3
// "Execution phase" and "Release phase"), entered only once every key
// has been acquired.
func (r *Runner) runWithLocks(ctx context.Context, task Task, locks []Lock, lockTTL time.Duration) (any, error) {
	taskCtx, cancelTask := context.WithCancelCause(ctx)
	defer cancelTask(nil)

	period := lockTTL - r.cfg.ExtendLockBufferOffset

	r.logger.debug(ctx, "starting task", slog.Int("locks", len(locks)))
	sched := arm(ctx, locks, period, lockTTL, r.cfg.MaxExtendLockCount, cancelTask, r.logger)

	type taskResult struct {
		value any
		err   error
	}
	done := make(chan taskResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- taskResult{err: fmt.Errorf("exclusion-mutuelle: task panicked: %v", rec)}
			}
		}()
		v, err := task(taskCtx)
		done <- taskResult{value: v, err: err}
	}()

	// Await task completion; if the scheduler cancels taskCtx first,
	// a well-behaved task returns promptly, but the runner still
	// blocks here until it actually does (spec §9), so release never
	// races the task's own cleanup.
	result := <-done

	// Disarm happens-before release (spec invariant 2, §5).
	sched.disarm()

	releaseErr := r.releaseAll(ctx, locks)

	return classifyOutcome(sched.cancellationCause(), result.value, result.err, releaseErr, r.cfg.MaxExtendLockCount)
}

// releaseAll attempts Release on every handle in parallel, returning the
// first error encountered (spec invariant 3, §4.3 "Release phase" step 2).
// Every handle gets exactly one Release attempt regardless of outcome.
func (r *Runner) releaseAll(ctx context.Context, locks []Lock) error {
	r.logger.debug(ctx, "releasing locks", slog.Int("count", len(locks)))

	g := new(errgroup.Group)
	for _, l := range locks {
		l := l
		g.Go(func() error {
			return l.Release(ctx)
		})
	}
	err := g.Wait()

	r.logger.debug(ctx, "release completed", slog.Bool("error", err != nil))
	return err
}

// classifyOutcome applies the spec §4.4 outcome-priority rule:
//  1. scheduler cancellation → ExtendLockError
//  2. task's own error → that error, unchanged
//  3. release failure → UnlockError
//  4. otherwise → the task's value
func classifyOutcome(cancelCause error, value any, taskErr, releaseErr error, limit int) (any, error) {
	if cancelCause != nil {
		var extendErr *ExtendLockError
		if errors.As(cancelCause, &extendErr) {
			return nil, extendErr
		}
		return nil, &ExtendLockError{Cause: cancelCause, ExtendLockLimit: limit}
	}
	if taskErr != nil {
		return nil, taskErr
	}
	if releaseErr != nil {
		return nil, &UnlockError{Cause: releaseErr}
	}
	return value, nil
}
