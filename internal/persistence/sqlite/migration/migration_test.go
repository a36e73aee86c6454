package migration

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleFiles() fstest.MapFS {
	return fstest.MapFS{
		"migrations/001_create_notes.sql": {Data: []byte(`
-- notes hold free text
CREATE TABLE notes (id TEXT PRIMARY KEY, body TEXT NOT NULL);
CREATE INDEX idx_notes_body ON notes (body);
`)},
		"migrations/002_add_owner.sql": {Data: []byte(`ALTER TABLE notes ADD COLUMN owner TEXT NOT NULL DEFAULT '';`)},
		"migrations/README.md":         {Data: []byte("ignored")},
	}
}

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	migrations, err := NewScanner(sampleFiles(), "migrations").Scan()
	if err != nil {
		t.Fatalf("Scan returned error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[0].Description != "create notes" {
		t.Fatalf("unexpected first migration %+v", migrations[0])
	}
	if migrations[1].FilePath != "migrations/002_add_owner.sql" {
		t.Fatalf("unexpected file path %q", migrations[1].FilePath)
	}
	if len(migrations[0].Checksum) != 64 {
		t.Fatalf("expected sha256 hex checksum, got %q", migrations[0].Checksum)
	}
}

func TestScanner_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		files fstest.MapFS
		want  error
	}{
		"bad name": {
			files: fstest.MapFS{"m/first.sql": {Data: []byte("SELECT 1;")}},
			want:  ErrInvalidMigrationFile,
		},
		"duplicate version": {
			files: fstest.MapFS{
				"m/001_a.sql":  {Data: []byte("SELECT 1;")},
				"m/0001_b.sql": {Data: []byte("SELECT 1;")},
			},
			want: ErrDuplicateVersion,
		},
		"empty file": {
			files: fstest.MapFS{"m/001_empty.sql": {Data: []byte("  \n")}},
			want:  ErrInvalidMigrationFile,
		},
	}

	for name, tc := range tests {
		if _, err := NewScanner(tc.files, "m").Scan(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (id INTEGER);\n\n-- only a comment;\nINSERT INTO a VALUES (1);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "INSERT INTO a VALUES (1)" {
		t.Fatalf("unexpected statement %q", got[1])
	}
}

func TestSplitStatements_IgnoresSemicolonsInCommentsAndLiterals(t *testing.T) {
	t.Parallel()

	script := "-- one row per owner; version guards writes\n" +
		"CREATE TABLE a (id INTEGER, note TEXT); -- trailing; comment\n" +
		"INSERT INTO a VALUES (1, 'x;y');\n"
	got := splitStatements(script)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (id INTEGER, note TEXT)" {
		t.Fatalf("unexpected first statement %q", got[0])
	}
	if got[1] != "INSERT INTO a VALUES (1, 'x;y')" {
		t.Fatalf("unexpected second statement %q", got[1])
	}
}

func TestManager_RunWithCommentedSemicolon(t *testing.T) {
	t.Parallel()

	files := fstest.MapFS{
		"m/001_rules.sql": {Data: []byte("-- one rule per owner; version guards advances\nCREATE TABLE rules (owner_id TEXT PRIMARY KEY, version INTEGER NOT NULL);\n")},
	}
	db := openMemoryDB(t)
	manager := NewManager(NewScanner(files, "m"), NewExecutor(db), quietLogger())
	if err := manager.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO rules (owner_id, version) VALUES ('a', 1)`); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestManager_RunAppliesPendingOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemoryDB(t)
	manager := NewManager(NewScanner(sampleFiles(), "migrations"), NewExecutor(db), quietLogger())

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO notes (id, body, owner) VALUES ('n1', 'hello', 'u1')`); err != nil {
		t.Fatalf("expected migrated schema, got %v", err)
	}

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManager_FailedMigrationLeavesNoTrace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemoryDB(t)
	files := sampleFiles()
	files["migrations/003_broken.sql"] = &fstest.MapFile{Data: []byte(`
CREATE TABLE tags (id TEXT PRIMARY KEY);
INSERT INTO missing_table VALUES (1);
`)}

	manager := NewManager(NewScanner(files, "migrations"), NewExecutor(db), quietLogger())
	err := manager.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'tags'`).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected failed migration to be rolled back")
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManager_DetectsDrift(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openMemoryDB(t)
	if err := NewManager(NewScanner(sampleFiles(), "migrations"), NewExecutor(db), quietLogger()).Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	edited := sampleFiles()
	edited["migrations/002_add_owner.sql"] = &fstest.MapFile{Data: []byte(`ALTER TABLE notes ADD COLUMN owner_id TEXT;`)}
	_, err := NewManager(NewScanner(edited, "migrations"), NewExecutor(db), quietLogger()).Status(ctx)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	gap := sampleFiles()
	gap["migrations/004_skip.sql"] = &fstest.MapFile{Data: []byte(`SELECT 1;`)}
	_, err = NewManager(NewScanner(gap, "migrations"), NewExecutor(db), quietLogger()).Status(ctx)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}
