package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only when the caller's token still owns it,
// so a lock that expired and was taken by another process is left alone.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release. It is shared by every process pointing at the same Redis.
type RedisLocker struct {
	redis *redis.Client
}

func NewRedisLocker(redis *redis.Client) *RedisLocker {
	return &RedisLocker{redis: redis}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	token := newToken()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Handle{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (l *RedisLocker) Release(ctx context.Context, h *Handle) error {
	if err := l.redis.Eval(ctx, releaseScript, []string{h.Key}, h.Token).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", h.Key, err)
	}
	return nil
}
