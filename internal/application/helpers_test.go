package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/persistence/sqlite"
)

var testNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by a test's services.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// sequentialIDs returns "<prefix>-1", "<prefix>-2", ...
func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func openTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, sqlite.Config{DSN: filepath.Join(t.TempDir(), "taskhub.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx, discardLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedUser stores an active user with the given roles, creating missing roles.
func seedUser(t *testing.T, db *sqlite.DB, id string, roles ...string) Principal {
	t.Helper()
	ctx := context.Background()

	roleRepo := sqlite.NewRoleRepository(db)
	for _, name := range roles {
		if _, err := roleRepo.GetRole(ctx, name); err == nil {
			continue
		}
		if err := roleRepo.CreateRole(ctx, persistence.Role{Name: name, CreatedAt: testNow}); err != nil {
			t.Fatalf("create role %s: %v", name, err)
		}
	}

	user := persistence.User{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  id,
		PasswordHash: "hash",
		IsActive:     true,
		Roles:        roles,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	if err := sqlite.NewUserRepository(db).CreateUser(ctx, user); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return Principal{UserID: id, Roles: roles}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
