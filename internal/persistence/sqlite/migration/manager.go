package migration

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager brings a database up to date with the scanned migrations.
type Manager struct {
	scanner  *Scanner
	executor *Executor
	logger   *slog.Logger
}

// NewManager wires a Manager. A nil logger uses slog.Default.
func NewManager(scanner *Scanner, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: scanner, executor: executor, logger: logger.With("component", "migration")}
}

// Run applies every pending migration in version order and stops at the
// first failure.
func (m *Manager) Run(ctx context.Context) error {
	started := time.Now()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		m.logger.InfoContext(ctx, "database schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations",
		"current_version", status.CurrentVersion,
		"pending", len(status.Pending),
	)

	for _, migration := range status.Pending {
		elapsed, err := m.executor.Execute(ctx, migration)
		if err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "file", migration.FilePath, "error", err)
			return err
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"description", migration.Description,
			"duration", elapsed,
		)
	}

	m.logger.InfoContext(ctx, "migrations complete", "applied", len(status.Pending), "duration", time.Since(started))
	return nil
}

// Status compares the scanned files with schema_migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, err
	}

	available, err := m.scanner.Scan()
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.Applied(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	status := Status{Applied: applied}
	appliedSet := make(map[int]struct{}, len(applied))
	for _, record := range applied {
		appliedSet[versionNumber(record.Version)] = struct{}{}
		status.CurrentVersion = record.Version
	}
	for _, migration := range available {
		if _, ok := appliedSet[versionNumber(migration.Version)]; !ok {
			status.Pending = append(status.Pending, migration)
		}
	}
	return status, nil
}

func validateSequence(available []Migration, applied []AppliedMigration) error {
	files := make(map[int]Migration, len(available))
	for i, migration := range available {
		n := versionNumber(migration.Version)
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		files[n] = migration
	}

	for _, record := range applied {
		file, ok := files[versionNumber(record.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s has no file", ErrVersionConflict, record.Version)
		}
		if record.Checksum != "" && record.Checksum != file.Checksum {
			return newMigrationError(record.Version, file.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
