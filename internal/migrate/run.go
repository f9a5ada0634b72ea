// Package migrate applies the embedded SQL migrations.
//
// Any number of processes may call Run concurrently. Each file is claimed by inserting
// its name into schema_migrations inside the same transaction that executes it, so
// exactly one caller applies a given file and the others see it as already applied.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// advisoryLockKey serializes migration transactions across processes sharing a database.
const advisoryLockKey int64 = 0x70726f6f66776b // "proofwk"

// Options configures RunWithOptions.
type Options struct {
	// FS holds the migration files under Dir. Defaults to the embedded migrations.
	FS  fs.FS
	Dir string

	Logger *slog.Logger
}

// Result reports which files this call applied and which were already applied.
type Result struct {
	Applied []string
	Skipped []string
}

// Run applies all SQL migrations embedded in this package. It is safe to call multiple times
// and from multiple processes at once.
func Run(ctx context.Context, db *sql.DB) error {
	_, err := RunWithOptions(ctx, db, Options{})
	return err
}

// RunWithOptions applies the migrations found in opts.FS.
func RunWithOptions(ctx context.Context, db *sql.DB, opts Options) (Result, error) {
	var res Result
	fsys, dir := opts.FS, opts.Dir
	if fsys == nil {
		fsys, dir = migrationsFS, "migrations"
	}
	if dir == "" {
		dir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrations")

	if err := ensureTable(ctx, db); err != nil {
		return res, err
	}

	files, err := listFiles(fsys, dir)
	if err != nil {
		return res, err
	}

	for _, f := range files {
		body, readErr := fs.ReadFile(fsys, dir+"/"+f)
		if readErr != nil {
			return res, fmt.Errorf("read migration %s: %w", f, readErr)
		}
		m := migration{version: strings.TrimSuffix(f, ".sql"), file: f, sql: string(body)}
		applied, applyErr := apply(ctx, db, m, logger)
		if applyErr != nil {
			return res, applyErr
		}
		if applied {
			res.Applied = append(res.Applied, m.version)
		} else {
			res.Skipped = append(res.Skipped, m.version)
		}
	}
	return res, nil
}

type migration struct {
	version string
	file    string
	sql     string
}

func listFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// ensureTable creates schema_migrations under the advisory lock; two processes racing
// on CREATE TABLE IF NOT EXISTS can otherwise both fail on the catalog unique index.
func ensureTable(ctx context.Context, db *sql.DB) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations table: %w", err)
		}
		return nil
	})
}

// apply claims the migration and runs it in one transaction. It reports false when
// another caller had already claimed the file.
func apply(ctx context.Context, db *sql.DB, m migration, logger *slog.Logger) (bool, error) {
	applied := false
	err := inTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
			m.version)
		if err != nil {
			return fmt.Errorf("claim migration %s: %w", m.file, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim migration %s: %w", m.file, err)
		}
		if n == 0 {
			return nil
		}
		logger.InfoContext(ctx, "applying migration", "version", m.version)
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", m.file, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
