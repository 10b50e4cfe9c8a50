package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

const defaultRetryInterval = 50 * time.Millisecond

// redisStore defines the operations used by RedisLocker.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	LockKey(name string) string
}

// RedisLocker implements Locker with SETNX + TTL and an owner token, so
// multiple API instances serialize on the same entity.
type RedisLocker struct {
	client redisStore
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logg   *logger.Logger
}

func NewRedisLocker(client redisStore, ttl, wait time.Duration, logg *logger.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client required for locker")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: defaultRetryInterval, logg: logg}, nil
}

func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := l.client.LockKey(key)
	token := uuid.NewString()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return errLockTimeout(key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer func() {
		// release with a fresh context so a cancelled request still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.client.CompareAndDelete(releaseCtx, redisKey, token); err != nil && l.logg != nil {
			l.logg.Error(l.logg.WithField(ctx, "lock", key), "failed to release lock", err)
		}
	}()

	return fn(ctx)
}
