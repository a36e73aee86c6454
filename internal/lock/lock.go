// Package lock provides short-lived, keyed mutual exclusion for background
// workers. Locks expire after their TTL so a crashed holder cannot wedge a key.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/example/taskhub/internal/clock"
)

// Locker acquires a lock on key without blocking. When acquired is true the
// caller must invoke unlock once done.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), acquired bool, err error)
}

// MemoryLocker is a Locker scoped to the current process.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	clock clock.Source
	seq   uint64
}

type lease struct {
	token     uint64
	expiresAt time.Time
}

// NewMemoryLocker constructs a MemoryLocker. A nil clock uses the system clock.
func NewMemoryLocker(clk clock.Source) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]lease), clock: clock.OrSystem(clk)}
}

// TryLock implements Locker.
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if current, ok := l.held[key]; ok && now.Before(current.expiresAt) {
		return nil, false, nil
	}

	l.seq++
	token := l.seq
	l.held[key] = lease{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if current, ok := l.held[key]; ok && current.token == token {
				delete(l.held, key)
			}
		})
	}
	return unlock, true, nil
}
