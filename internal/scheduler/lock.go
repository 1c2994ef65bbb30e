package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "dtledger:job"

// Locker guards a job against overlapping runs across processes.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// NopLocker always grants the lock.
type NopLocker struct{}

// Acquire implements Locker.
func (NopLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker constructs a RedisLocker; an empty prefix uses the default namespace.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = defaultLockPrefix
	}
	return &RedisLocker{client: client, prefix: trimmedPrefix}
}

// Acquire implements Locker. The lock expires after ttl even if release is never called.
func (locker *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := locker.prefix + ":" + name
	token := uuid.NewString()
	acquired, err := locker.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !acquired {
		return nil, false, err
	}
	release := func(releaseCtx context.Context) error {
		return releaseLockScript.Run(releaseCtx, locker.client, []string{key}, token).Err()
	}
	return release, true, nil
}
