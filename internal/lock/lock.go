// Package lock serializes work on a key, in process or across processes
// through Redis.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired means another holder has the key. Callers treat it as
// contention, not failure.
var ErrNotAcquired = errors.New("lock: already held")

// Locker runs fn while holding key. It never waits for a held key.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Local is an in-process Locker. Only keys currently held are tracked.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if _, ok := l.held[key]; ok {
		l.mu.Unlock()
		return ErrNotAcquired
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}


// DefaultExpiry bounds how long a crashed holder keeps a Redis key when the
// caller does not size the expiry to its own work.
const DefaultExpiry = time.Minute

// RedisLocker is a redsync-backed Locker shared by every process pointing at
// the same Redis.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(client redis.UniversalClient, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry}
}

func (r *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)
	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			log.Debug().Str("lock_key", key).Msg("lock held elsewhere")
			return ErrNotAcquired
		}
		return err
	}

	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			log.Warn().Err(err).Str("lock_key", key).Bool("unlock_ok", ok).Msg("failed to release lock")
		}
	}()
	return fn(ctx)
}

// isContention reports whether a failed acquire means another holder has the
// key, as opposed to Redis being unreachable.
func isContention(err error) bool {
	var (
		taken     *redsync.ErrTaken
		nodeTaken *redsync.ErrNodeTaken
	)
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) || errors.As(err, &nodeTaken)
}
