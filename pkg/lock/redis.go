package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	// KeyPrefix namespaces lock keys in Redis.
	KeyPrefix = "lock:"

	// DefaultTTL bounds how long a crashed holder can keep a lock.
	DefaultTTL = 5 * time.Minute
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker shares locks between processes through SETNX with a TTL.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker on client. A non-positive ttl uses DefaultTTL.
func NewRedisLocker(client redisClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Release, error) {
	redisKey := KeyPrefix + key
	token := uuid.NewString()

	acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var releaseErr error
		once.Do(func() {
			if err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("failed to release lock %s: %w", key, err)
			}
		})
		return releaseErr
	}, nil
}
