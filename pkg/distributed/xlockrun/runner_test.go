package xlockrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// S1: happy path.
func TestRun_HappyPath(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client)
	require.NoError(t, err)

	v, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	}, Key("k"), WithLockTTL(1000*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	acquires, extends, releases := client.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 0, extends)
	assert.Equal(t, 1, releases)
}

// S2: below minimum TTL — synchronous rejection, no side effects.
func TestRun_BelowMinimumTTL(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client, WithMinimumTTL(100*time.Millisecond))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("task must not run")
		return nil, nil
	}, Key("k"), WithLockTTL(99*time.Millisecond))

	require.ErrorIs(t, err, ErrInvalidTTL)
	acquires, extends, releases := client.counts()
	assert.Zero(t, acquires)
	assert.Zero(t, extends)
	assert.Zero(t, releases)
}

// S3: four extensions, task succeeds.
func TestRun_FourExtensions(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client, WithExtendLockBufferOffset(50*time.Millisecond), WithMaxExtendLockCount(20))
	require.NoError(t, err)

	v, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(1200 * time.Millisecond)
		return "done", nil
	}, Key("k"), WithLockTTL(300*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "done", v)

	acquires, extends, releases := client.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 4, extends)
	assert.Equal(t, 1, releases)
}

// S4: cap exceeded.
func TestRun_CapExceeded(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client, WithExtendLockBufferOffset(50*time.Millisecond), WithMaxExtendLockCount(20))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
		case <-time.After(2200 * time.Millisecond):
		}
		return "ignored", nil
	}, Key("k"), WithLockTTL(110*time.Millisecond))

	var extendErr *ExtendLockError
	require.ErrorAs(t, err, &extendErr)
	assert.Equal(t, 20, extendErr.ExtendLockLimit)

	acquires, extends, releases := client.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 20, extends)
	assert.Equal(t, 1, releases)
}

// S5: release fails, task succeeds.
func TestRun_ReleaseFailsTaskSucceeds(t *testing.T) {
	cause := errors.New("redis down")
	client := &fakeClient{releaseErr: cause}
	r, err := New(client)
	require.NoError(t, err)

	v, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return "value", nil
	}, Key("k"))

	var unlockErr *UnlockError
	require.ErrorAs(t, err, &unlockErr)
	assert.ErrorIs(t, unlockErr, cause)
	assert.Nil(t, v)

	_, extends, _ := client.counts()
	assert.Zero(t, extends)
}

// S6: task error shadows release error.
func TestRun_TaskErrorShadowsReleaseError(t *testing.T) {
	taskErr := errors.New("task exploded")
	client := &fakeClient{releaseErr: errors.New("release also failed")}
	r, err := New(client)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, taskErr
	}, Key("k"))

	assert.ErrorIs(t, err, taskErr)
	var unlockErr *UnlockError
	assert.False(t, errors.As(err, &unlockErr))
}

// S7: multi-key.
func TestRun_MultiKey(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client, WithExtendLockBufferOffset(50*time.Millisecond), WithMaxExtendLockCount(20))
	require.NoError(t, err)

	v, err := r.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(1200 * time.Millisecond)
		return "done", nil
	}, Keys("a", "b", "c"), WithLockTTL(300*time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, "done", v)

	acquires, extends, releases := client.counts()
	assert.Equal(t, 3, acquires)
	assert.Equal(t, 12, extends)
	assert.Equal(t, 3, releases)
}

// S8: acquisition fails with attempts marker — task never invoked.
func TestRun_AcquisitionFails(t *testing.T) {
	cause := &LockError{Cause: errors.New("quorum unreachable"), Attempts: 3}
	client := &fakeClient{acquireErr: cause}
	r, err := New(client)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("task must not run")
		return nil, nil
	}, Key("k"))

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, 3, lockErr.Attempts)
}

// Partial acquisition: one key succeeds, one fails — the successful one
// is not released by this call (spec §9 Open Question 1, DESIGN.md).
func TestRun_PartialAcquisitionNotReleased(t *testing.T) {
	client := &fakeClient{
		acquireErrForKey: map[string]error{"bad": errors.New("nope")},
	}
	r, err := New(client)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("task must not run")
		return nil, nil
	}, Keys("good", "bad"))

	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)

	_, _, releases := client.counts()
	assert.Zero(t, releases, "the already-acquired key must not be released on this path")
}

// Validation is side-effect-free: malformed key produces no acquire.
func TestRun_InvalidKeyShape(t *testing.T) {
	client := &fakeClient{}
	r, err := New(client)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("task must not run")
		return nil, nil
	}, Keys())

	require.ErrorIs(t, err, ErrInvalidLockKey)
	acquires, _, _ := client.counts()
	assert.Zero(t, acquires)
}

func TestNew_NilClient(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilClient)
}
