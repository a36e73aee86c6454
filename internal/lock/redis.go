package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that was taken over by another worker is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds connection settings for RedisLocker.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces lock keys. Defaults to "taskhub:lock:".
	Prefix string
}

// RedisLocker is a Locker shared by every process connected to one Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker connects to Redis using cfg.
func NewRedisLocker(cfg RedisConfig) *RedisLocker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLockerWithClient(client, cfg.Prefix)
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "taskhub:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Ping verifies connectivity.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// TryLock implements Locker with SET NX PX.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// The caller's context may already be cancelled during shutdown.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
	}
	return unlock, true, nil
}
