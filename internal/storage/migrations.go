package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a single schema file
type Migration struct {
	Filename string
	SQL      string
}

// loadMigrations returns the embedded schema files sorted by filename
func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Filename: entry.Name(), SQL: string(body)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Filename < migrations[j].Filename
	})
	return migrations, nil
}

// RunMigrations applies every schema file that is not yet recorded in
// _schema_migrations. Files run in filename order, each exactly once.
// When lockPath is set, a file lock serializes concurrent processes.
func RunMigrations(ctx context.Context, db *sql.DB, lockPath string) ([]string, error) {
	if lockPath != "" {
		lock := flock.New(lockPath)
		locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("failed to acquire migration lock %s", lockPath)
		}
		defer lock.Unlock()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create _schema_migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	migrations, err := loadMigrations(migrationFiles)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, migration := range migrations {
		if applied[migration.Filename] {
			slog.Debug("skipping migration", "filename", migration.Filename)
			continue
		}

		slog.Info("applying migration", "filename", migration.Filename)
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return ran, fmt.Errorf("failed to begin transaction for migration %s: %w", migration.Filename, err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to execute migration %s: %w", migration.Filename, err)
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO _schema_migrations (filename, applied_at) VALUES (?, ?)",
			migration.Filename, formatTime(time.Now()),
		)
		if err != nil {
			tx.Rollback()
			return ran, fmt.Errorf("failed to record migration %s: %w", migration.Filename, err)
		}

		if err := tx.Commit(); err != nil {
			return ran, fmt.Errorf("failed to commit migration %s: %w", migration.Filename, err)
		}

		ran = append(ran, migration.Filename)
		slog.Info("migration applied", "filename", migration.Filename)
	}

	return ran, nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT filename FROM _schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, fmt.Errorf("failed to scan migration filename: %w", err)
		}
		applied[filename] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return applied, nil
}

// AppliedMigrations lists the recorded schema files in filename order
func (s *Storage) AppliedMigrations(ctx context.Context) ([]string, error) {
	applied, err := appliedMigrations(ctx, s.db)
	if err != nil {
		return nil, &Error{Op: "list migrations", Err: err}
	}
	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
