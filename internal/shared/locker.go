package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another actor is working on the same record.
var ErrLockHeld = fmt.Errorf("record is being processed by another user: %w", ErrConflict)

// lockRetry makes Obtain wait about half a second for a held key. The limit
// counts attempts, so every call needs its own strategy.
func lockRetry() redislock.RetryStrategy {
	return redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 10)
}

// Locker serialises critical sections across API instances using Redis.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
}

// NewLocker constructs a Locker. A nil client yields a no-op locker.
func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if client == nil {
		return &Locker{ttl: ttl}
	}
	return &Locker{client: redislock.New(client), ttl: ttl}
}

// Obtain acquires key and returns its release function.
func (l *Locker) Obtain(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: lockRetry()})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
	}
	return func() {
		// Release with a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
