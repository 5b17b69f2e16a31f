package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/redis"
)

const (
	// DefaultLockTTL is how long the shared lock survives without a keepalive
	DefaultLockTTL = 2 * time.Minute

	lockKey = "sr-event:rebuild"
)

// LeaseLocker hands out shared locks. *redis.Locker satisfies it.
type LeaseLocker interface {
	Lease(ctx context.Context, key string, ttl time.Duration) (redis.Lease, error)
}

// Guard allows one rebuild or refresh at a time. The process-local try-lock
// always applies; when a locker is configured the guard also holds a shared
// lock so other replicas are excluded too.
type Guard struct {
	local  sync.Mutex
	locker LeaseLocker
	ttl    time.Duration
	logger ectologger.Logger
}

// NewGuard creates a guard. locker may be nil.
func NewGuard(locker LeaseLocker, ttl time.Duration, logger ectologger.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Guard{
		locker: locker,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the guard without waiting. It returns ErrRebuildInProgress
// when another operation holds it. The returned release func must be called
// exactly once.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	if !g.local.TryLock() {
		metrics.RebuildsRejected.Inc()
		return nil, ErrRebuildInProgress
	}

	if g.locker == nil {
		return g.local.Unlock, nil
	}

	lease, err := g.locker.Lease(ctx, lockKey, g.ttl)
	if err != nil {
		g.local.Unlock()
		if errors.Is(err, redis.ErrLockNotAcquired) {
			metrics.RebuildsRejected.Inc()
			return nil, ErrRebuildInProgress
		}
		return nil, fmt.Errorf("failed to acquire rebuild lock: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(lease, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			// release on a fresh context, the caller's may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				g.logger.WithError(err).Warn("Failed to release rebuild lock")
			}
			g.local.Unlock()
		})
	}
	return release, nil
}

func (g *Guard) keepAlive(lease redis.Lease, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.ttl/3)
			err := lease.Extend(ctx, g.ttl)
			cancel()
			if err != nil {
				g.logger.WithError(err).Warn("Failed to extend rebuild lock")
			}
		}
	}
}
