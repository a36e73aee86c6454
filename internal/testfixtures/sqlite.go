package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/taskhub/internal/persistence"
	"github.com/example/taskhub/internal/persistence/sqlite"
)

// SQLiteHarness provides repository access backed by a migrated temporary
// SQLite database for integration-style tests.
type SQLiteHarness struct {
	DB       *sqlite.DB
	Users    *sqlite.UserRepository
	Roles    *sqlite.RoleRepository
	Tasks    *sqlite.TaskRepository
	Expenses *sqlite.ExpenseRepository
	Budgets  *sqlite.BudgetRepository
	Features *sqlite.FeatureRepository

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a database in a temporary directory.
// Callers may invoke Close; a cleanup callback is registered with tb as well.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, sqlite.Config{DSN: filepath.Join(tb.TempDir(), "taskhub.db")})
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := db.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		_ = db.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		DB:       db,
		Users:    sqlite.NewUserRepository(db),
		Roles:    sqlite.NewRoleRepository(db),
		Tasks:    sqlite.NewTaskRepository(db),
		Expenses: sqlite.NewExpenseRepository(db),
		Budgets:  sqlite.NewBudgetRepository(db),
		Features: sqlite.NewFeatureRepository(db),
		cleanup: func() {
			_ = db.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}

// SeedUser stores an active user "<id>@example.com" holding roles, creating
// any role that does not exist yet. The stored password hash is a placeholder
// that never verifies.
func (h *SQLiteHarness) SeedUser(tb testing.TB, id string, roles ...string) persistence.User {
	tb.Helper()
	ctx := context.Background()

	for _, name := range roles {
		if _, err := h.Roles.GetRole(ctx, name); err == nil {
			continue
		}
		if err := h.Roles.CreateRole(ctx, persistence.Role{Name: name, CreatedAt: ReferenceTime()}); err != nil {
			tb.Fatalf("failed to create role %s: %v", name, err)
		}
	}

	user := persistence.User{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  id,
		PasswordHash: "placeholder",
		IsActive:     true,
		Roles:        roles,
		CreatedAt:    ReferenceTime(),
		UpdatedAt:    ReferenceTime(),
	}
	if err := h.Users.CreateUser(ctx, user); err != nil {
		tb.Fatalf("failed to create user %s: %v", id, err)
	}
	return user
}
