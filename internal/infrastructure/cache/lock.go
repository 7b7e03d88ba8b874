package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"larder/pkg/logger"
)

// Mutex runs jobs that must not overlap across worker instances.
type Mutex interface {
	// TryRun runs fn if the named lock is free and reports whether it ran.
	TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

// RedisMutex is a Mutex backed by redislock.
type RedisMutex struct {
	locker *redislock.Client
}

// NewRedisMutex creates a Redis-backed mutex.
func NewRedisMutex(client redis.UniversalClient) *RedisMutex {
	return &RedisMutex{locker: redislock.New(client)}
}

// TryRun implements Mutex.
func (m *RedisMutex) TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock, err := m.locker.Obtain(ctx, Prefix+":lock:"+name, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain lock %s: %w", name, err)
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.Warn(ctx, "failed to release lock", "lock", name, "error", err)
		}
	}()

	return true, fn(ctx)
}

// NoMutex always runs fn. Used when a single worker runs or Redis is absent.
type NoMutex struct{}

// TryRun implements Mutex.
func (NoMutex) TryRun(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	return true, fn(ctx)
}
