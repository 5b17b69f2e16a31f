package rebuild

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/redis"
)

type fakeLease struct {
	released atomic.Int32
	extended atomic.Int32
}

func (l *fakeLease) Release(_ context.Context) error {
	l.released.Add(1)
	return nil
}

func (l *fakeLease) Extend(_ context.Context, _ time.Duration) error {
	l.extended.Add(1)
	return nil
}

type fakeLocker struct {
	lease *fakeLease
	err   error
	keys  []string
}

func (f *fakeLocker) Lease(_ context.Context, key string, _ time.Duration) (redis.Lease, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

func TestGuard_LocalTryLock(t *testing.T) {
	g := NewGuard(nil, 0, testLogger())

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	_, err = g.Acquire(context.Background())
	require.ErrorIs(t, err, ErrRebuildInProgress)

	release()

	release, err = g.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestGuard_SharedLock(t *testing.T) {
	lease := &fakeLease{}
	locker := &fakeLocker{lease: lease}
	g := NewGuard(locker, 30*time.Millisecond, testLogger())

	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{lockKey}, locker.keys)

	assert.Eventually(t, func() bool { return lease.extended.Load() > 0 }, time.Second, 5*time.Millisecond)

	release()
	release()
	assert.Equal(t, int32(1), lease.released.Load())
}

func TestGuard_SharedLockHeldElsewhere(t *testing.T) {
	locker := &fakeLocker{err: redis.ErrLockNotAcquired}
	g := NewGuard(locker, time.Minute, testLogger())

	_, err := g.Acquire(context.Background())
	require.ErrorIs(t, err, ErrRebuildInProgress)

	// the local lock must not leak after a shared-lock rejection
	locker.err = nil
	locker.lease = &fakeLease{}
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestGuard_LockerError(t *testing.T) {
	locker := &fakeLocker{err: errors.New("connection refused")}
	g := NewGuard(locker, time.Minute, testLogger())

	_, err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRebuildInProgress)
}
