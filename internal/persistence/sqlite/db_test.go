package sqlite

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/taskhub/internal/persistence"
)

var baseTime = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, Config{DSN: filepath.Join(t.TempDir(), "taskhub.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *DB, id string, roles ...string) persistence.User {
	t.Helper()
	ctx := context.Background()

	roleRepo := NewRoleRepository(db)
	for _, name := range roles {
		if _, err := roleRepo.GetRole(ctx, name); err == nil {
			continue
		}
		if err := roleRepo.CreateRole(ctx, persistence.Role{Name: name, CreatedAt: baseTime}); err != nil {
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
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
	if err := NewUserRepository(db).CreateUser(ctx, user); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
	return user
}

func TestOpen_RequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	got := buildDSN(Config{DSN: "file:test.db?mode=rwc", BusyTimeout: 2 * time.Second, JournalMode: "WAL"})
	want := "file:test.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Fatalf("buildDSN = %q, want %q", got, want)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	if err := db.Migrate(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestMigrate_AppliesEmbeddedSchema(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	files, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob embedded migrations: %v", err)
	}

	var applied int
	if err := db.SQL().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if applied != len(files) {
		t.Fatalf("applied %d migrations, want %d", applied, len(files))
	}

	for _, table := range []string{"users", "roles", "feature_definitions", "tasks", "expenses", "budgets", "task_recurrences", "expense_recurrences"} {
		var name string
		err := db.SQL().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing after migrate: %v", table, err)
		}
	}
}

func TestTimeRoundTripKeepsOrdering(t *testing.T) {
	t.Parallel()

	jst := time.FixedZone("JST", 9*60*60)
	earlier := time.Date(2025, time.March, 1, 8, 0, 0, 0, jst) // 23:00 UTC the day before
	later := time.Date(2025, time.February, 28, 23, 30, 0, 0, time.UTC)

	if formatTime(earlier) >= formatTime(later) {
		t.Fatalf("expected %s < %s", formatTime(earlier), formatTime(later))
	}
	parsed, err := parseTime("at", formatTime(earlier))
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if !parsed.Equal(earlier) {
		t.Fatalf("round trip = %v, want %v", parsed, earlier)
	}
}
