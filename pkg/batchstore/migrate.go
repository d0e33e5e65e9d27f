package batchstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

type migrationFile struct {
	name string
	sql  string
}

// migrateUp applies every pending migration in filename order, one
// transaction each. Applied versions are recorded in schema_migrations.
func migrateUp(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER NOT NULL PRIMARY KEY,
			name       TEXT    NOT NULL,
			applied_at TEXT    NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("batchstore: migrate: ensure migrations table: %w", err)
	}

	files, err := loadMigrationFiles()
	if err != nil {
		return fmt.Errorf("batchstore: migrate: load files: %w", err)
	}

	for _, f := range files {
		version := versionFromFilename(f.name)

		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("batchstore: migrate: check applied %d: %w", version, err)
		}

		if count > 0 {
			continue
		}

		if err := applyMigration(ctx, db, version, f); err != nil {
			return fmt.Errorf("batchstore: migrate: apply %s: %w", f.name, err)
		}
	}

	return nil
}

// migrationVersion returns the highest applied migration version.
func migrationVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("batchstore: migration version: %w", err)
	}

	return version, nil
}

func loadMigrationFiles() ([]migrationFile, error) {
	var files []migrationFile

	err := fs.WalkDir(migrations, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return nil
		}

		data, err := migrations.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		files = append(files, migrationFile{name: d.Name(), sql: string(data)})

		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(files, func(a, b migrationFile) int { return strings.Compare(a.name, b.name) })

	return files, nil
}

// versionFromFilename parses the numeric prefix of "001_name.up.sql".
func versionFromFilename(name string) int {
	var version int
	if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
		return 0
	}

	return version
}

func applyMigration(ctx context.Context, db *sql.DB, version int, f migrationFile) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, f.sql); err != nil {
		return fmt.Errorf("exec SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", version, f.name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}
