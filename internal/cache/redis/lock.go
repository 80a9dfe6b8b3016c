package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts act only while the key still holds the caller's token.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager with SET NX plus a TTL. A held
// lock is kept alive in the background until it is released.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		logger:   logger.With(slog.String("component", "redis_lock")),
	}
}

// Acquire takes the lock or fails with domain.ErrLockHeld. The TTL is
// extended every ttl/3 until the returned unlock func is called; unlock is
// idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.unlockSc.Run(uctx, lm.c.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("unlock failed", slog.String("key", lk), slog.String("error", err.Error()))
			}
		})
	}
	return unlock, nil
}

func (lm *LockManager) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(max(ttl/3, 100*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3+time.Second)
			n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				lm.logger.Warn("lock extend failed", slog.String("key", key), slog.String("error", err.Error()))
			case n == 0:
				lm.logger.Error("lock lost", slog.String("key", key))
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
