package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const appliedAtLayout = time.RFC3339Nano

// Executor applies migrations to a database and tracks them in
// schema_migrations.
type Executor struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutor constructs an Executor for db.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db, now: time.Now}
}

// InitializeVersionTable creates schema_migrations if it does not exist.
func (e *Executor) InitializeVersionTable(ctx context.Context) error {
	const stmt = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms INTEGER NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// Execute runs every statement of m and records it, all in one transaction.
func (e *Executor) Execute(ctx context.Context, m Migration) (time.Duration, error) {
	statements := splitStatements(m.SQL)
	if len(statements) == 0 {
		return 0, newMigrationError(m.Version, m.FilePath, "parse SQL", fmt.Errorf("%w: no statements", ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, newMigrationError(m.Version, m.FilePath, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, newMigrationError(m.Version, m.FilePath, fmt.Sprintf("execute statement %d", i+1),
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}
	}

	elapsed := e.now().Sub(started)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`,
		m.Version, e.now().UTC().Format(appliedAtLayout), m.Checksum, elapsed.Milliseconds(),
	); err != nil {
		return 0, newMigrationError(m.Version, m.FilePath, "record migration", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, newMigrationError(m.Version, m.FilePath, "commit transaction", err)
	}
	return elapsed, nil
}

// Applied returns every recorded migration ordered by version.
func (e *Executor) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT version, applied_at, checksum, execution_time_ms FROM schema_migrations ORDER BY CAST(version AS INTEGER)`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			record    AppliedMigration
			appliedAt string
			elapsedMS int64
		)
		if err := rows.Scan(&record.Version, &appliedAt, &record.Checksum, &elapsedMS); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		if record.AppliedAt, err = time.Parse(appliedAtLayout, appliedAt); err != nil {
			return nil, fmt.Errorf("parse applied_at for %s: %w", record.Version, err)
		}
		record.ExecutionTime = time.Duration(elapsedMS) * time.Millisecond
		applied = append(applied, record)
	}
	return applied, rows.Err()
}

// splitStatements splits a script into statements on semicolons that sit
// outside quoted text. "--" comments are dropped before splitting, so a
// semicolon inside a comment never ends a statement.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		quote      rune
		inComment  bool
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inComment:
			if r == '\n' {
				inComment = false
				current.WriteRune(r)
			}
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			inComment = true
			i++
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return statements
}
