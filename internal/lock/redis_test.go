package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Set TASKHUB_TEST_REDIS_ADDR to run against a live Redis.
func newTestRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()
	addr := os.Getenv("TASKHUB_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TASKHUB_TEST_REDIS_ADDR not set")
	}
	locker := NewRedisLocker(RedisConfig{Address: addr, Prefix: "taskhub-test:" + uuid.NewString() + ":"})
	if err := locker.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = locker.Close() })
	return locker
}

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	locker := newTestRedisLocker(t)
	ctx := context.Background()

	unlock, ok, err := locker.TryLock(ctx, "tasks:1", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.TryLock(ctx, "tasks:1", 5*time.Second); ok || err != nil {
		t.Fatalf("expected contended lock to fail cleanly, got ok=%v err=%v", ok, err)
	}

	unlock()
	relock, ok, err := locker.TryLock(ctx, "tasks:1", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected key to be lockable after unlock, got ok=%v err=%v", ok, err)
	}
	relock()
}

func TestRedisLocker_Expiry(t *testing.T) {
	locker := newTestRedisLocker(t)
	ctx := context.Background()

	stale, ok, err := locker.TryLock(ctx, "k", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}
	time.Sleep(150 * time.Millisecond)

	fresh, ok, err := locker.TryLock(ctx, "k", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected expired lease to be taken over, got ok=%v err=%v", ok, err)
	}
	defer fresh()

	stale()
	if _, ok, _ := locker.TryLock(ctx, "k", 5*time.Second); ok {
		t.Fatalf("expected the stale unlock to leave the new lease in place")
	}
}
