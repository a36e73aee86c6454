// Package migration applies versioned SQL migrations to a SQLite database.
//
// Migration files are named {version}_{description}.sql (for example
// "001_initial_schema.sql") and are read from an fs.FS, typically an
// embedded directory. Applied versions are tracked in schema_migrations and
// each migration runs in its own transaction together with its bookkeeping
// row, so a failed migration leaves no trace.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
