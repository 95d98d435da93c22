package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// advisoryLockKey serializes migration runs across engine instances
// sharing one database.
const advisoryLockKey = 0x70657270 // "perp"

const migrationTable = "engine_schema_migrations"

// Migrator applies the SQL files under the migrations directory in
// lexical order. File naming follows the golang-migrate convention:
// {version}_{name}.up.sql / {version}_{name}.down.sql.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, log: log}
}

// Up applies every pending up-migration, each in its own transaction.
// Safe to run from multiple instances: an advisory lock serializes the
// whole pass.
func (m *Migrator) Up(ctx context.Context) error {
	return m.withLock(ctx, func(conn *sql.Conn) error {
		applied, err := m.appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		files, err := m.migrationFiles(".up.sql")
		if err != nil {
			return err
		}

		for _, f := range files {
			if applied[versionOf(f)] {
				continue
			}
			if err := m.applyOne(ctx, conn, f); err != nil {
				return err
			}
			m.log.Info().Str("migration", f).Msg("migration applied")
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.withLock(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM `+migrationTable+` ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
		body, err := os.ReadFile(filepath.Join(m.dir, downFile))
		if err != nil {
			return fmt.Errorf("read %s: %w", downFile, err)
		}

		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", downFile, err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("exec %s: %w", downFile, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+migrationTable+` WHERE version = $1`, version,
		); err != nil {
			return fmt.Errorf("unrecord %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", downFile, err)
		}

		m.log.Info().Str("migration", downFile).Msg("migration rolled back")
		return nil
	})
}

// withLock pins a single connection, takes the advisory lock on it,
// ensures the bookkeeping table, and runs fn.
func (m *Migrator) withLock(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockKey)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure %s: %w", migrationTable, err)
	}

	return fn(conn)
}

func (m *Migrator) applyOne(ctx context.Context, conn *sql.Conn, filename string) error {
	body, err := os.ReadFile(filepath.Join(m.dir, filename))
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", filename, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+migrationTable+` (version, filename) VALUES ($1, $2)`,
		versionOf(filename), filename,
	); err != nil {
		return fmt.Errorf("record %s: %w", filename, err)
	}
	return tx.Commit()
}

func (m *Migrator) appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) migrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", m.dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// versionOf returns the numeric prefix of a migration filename,
// e.g. "000001_engine_events.up.sql" -> "000001".
func versionOf(filename string) string {
	name, _, found := strings.Cut(filename, "_")
	if !found {
		return filename
	}
	return name
}
