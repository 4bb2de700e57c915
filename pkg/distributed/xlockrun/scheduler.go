package xlockrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// scheduler is the Extension Scheduler (spec §4.4): a repeating timer
// that, per tick, extends every held lock in parallel, counts ticks, and
// cancels the task when extension fails or the tick cap is exceeded.
//
// One scheduler is created per Runner.Run invocation and is not reused.
// Grounded on the teacher's xcron jobWrapper.startRenew/stopRenew
// goroutine (ticker + CancelFunc + WaitGroup to make disarm synchronous).
type scheduler struct {
	locks    []Lock
	period   time.Duration
	tickCap  int
	lockTTL  time.Duration
	logger   componentLogger
	cancel   context.CancelCauseFunc // cancels the task's context
	stop     context.CancelFunc      // disarms the scheduler itself
	wg       sync.WaitGroup
	tickCnt  int // only touched by the scheduler goroutine, see SPEC_FULL.md §4.3 / 4.4
	cause    error
}

// arm starts the scheduler's ticker goroutine. taskCancel is called with
// an ExtendLockError-carrying cause (via the returned context.Cause) when
// a tick fails or the cap is exceeded — this is spec §4.4's "request
// cancellation".
func arm(parent context.Context, locks []Lock, period, lockTTL time.Duration, tickCap int, taskCancel context.CancelCauseFunc, logger componentLogger) *scheduler {
	tickCtx, stop := context.WithCancel(parent)
	s := &scheduler{
		locks:   locks,
		period:  period,
		tickCap: tickCap,
		lockTTL: lockTTL,
		logger:  logger,
		cancel:  taskCancel,
		stop:    stop,
	}

	s.wg.Add(1)
	go s.run(tickCtx)
	return s
}

func (s *scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Panic isolation mirrors the teacher's renewal goroutine: a panic
	// inside extend handling cancels the task exactly like a failed
	// extend would, rather than taking the process down.
	defer func() {
		if r := recover(); r != nil {
			s.cause = &ExtendLockError{
				Cause:           fmt.Errorf("exclusion-mutuelle: extension scheduler panicked: %v", r),
				ExtendLockLimit: s.tickCap,
			}
			s.cancel(s.cause)
		}
	}()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(ctx) {
				return
			}
		}
	}
}

// tick executes one extension round (spec §4.4 "Tick procedure") and
// reports whether the scheduler should stop (cap exceeded or an extend
// failed).
func (s *scheduler) tick(ctx context.Context) bool {
	s.tickCnt++
	s.logger.debug(ctx, "extension tick", slog.Int("tick", s.tickCnt))

	if s.tickCnt > s.tickCap {
		s.cause = &ExtendLockError{ExtendLockLimit: s.tickCap}
		s.logger.warn(ctx, "extension tick cap exceeded, cancelling task", slog.Int("limit", s.tickCap))
		s.cancel(s.cause)
		return true
	}

	if err := s.extendAll(ctx); err != nil {
		s.cause = &ExtendLockError{Cause: err, ExtendLockLimit: s.tickCap}
		s.logger.warn(ctx, "lock extension failed, cancelling task", slog.String("error", err.Error()))
		s.cancel(s.cause)
		return true
	}

	s.logger.debug(ctx, "extension tick completed", slog.Int("tick", s.tickCnt))
	return false
}

// extendAll calls Extend on every held lock in parallel, returning the
// first error encountered (spec §4.4 step 3).
func (s *scheduler) extendAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.locks {
		l := l
		g.Go(func() error {
			return l.Extend(gctx, s.lockTTL)
		})
	}
	return g.Wait()
}

// disarm cancels any pending tick and waits for the scheduler goroutine
// to fully exit, before any release is attempted (spec invariant 2,
// §5 "scheduler disarm happens-before release").
func (s *scheduler) disarm() {
	s.stop()
	s.wg.Wait()
}

// cancellationCause returns the cause set by the scheduler, or nil if
// the task finished (or the scheduler was disarmed) before any tick
// cancelled it.
func (s *scheduler) cancellationCause() error {
	return s.cause
}
