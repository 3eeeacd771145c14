package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"
)

// ErrSchemaOutdated is returned by HealthCheck while migrations are pending.
var ErrSchemaOutdated = errors.New("database: schema has pending migrations")

// MigrationsFS holds the migration files. The migrations package sets it
// from its embedded files; nil means there is nothing to apply.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS holding the files.
var MigrationsDir = "."

// upFile matches "YYYYMMDD_HHMMSS_name.up.sql". The matching .down.sql
// scripts are for operators and are never run here.
var upFile = regexp.MustCompile(`^(\d{8}_\d{6})_([a-z0-9_]+)\.up\.sql$`)

// Migration is one schema step.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	SQL     string
}

// SchemaStatus describes how far the schema has been migrated.
type SchemaStatus struct {
	// Version is the latest applied migration, empty if none.
	Version string `json:"version"`
	Applied int    `json:"applied"`
	// Pending lists the versions not applied yet, oldest first.
	Pending []string `json:"pending,omitempty"`
}

// Migrate applies every pending migration, oldest first, each in its own
// transaction. A failed migration is rolled back and stops the run; the
// earlier ones stay committed, so calling Migrate again resumes there.
//
// Returns:
//   - error: If reading the files or applying a migration fails
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.DB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	pending, _, err := db.pending(ctx)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// SchemaStatus reports the applied and pending migrations.
func (db *DB) SchemaStatus(ctx context.Context) (SchemaStatus, error) {
	pending, applied, err := db.pending(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}
	st := SchemaStatus{Applied: len(applied)}
	if len(applied) > 0 {
		st.Version = applied[len(applied)-1]
	}
	for _, m := range pending {
		st.Pending = append(st.Pending, m.Version)
	}
	return st, nil
}

// pending returns the migrations not yet recorded and the recorded versions.
func (db *DB) pending(ctx context.Context) ([]Migration, []string, error) {
	all, err := loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	var out []Migration
	for _, m := range all {
		if _, done := slices.BinarySearch(applied, m.Version); !done {
			out = append(out, m)
		}
	}
	return out, applied, nil
}

// appliedVersions returns the recorded versions in ascending order. A
// missing migrations table means nothing has been applied.
func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	var exists int
	if err := db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := db.DB.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return versions, nil
}

func (db *DB) apply(ctx context.Context, m Migration) error {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("executing SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.Version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return tx.Commit()
}

// loadMigrations reads the up migrations of MigrationsFS sorted by version.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", MigrationsDir, err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}
		sql, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: version, Name: name, SQL: string(sql)})
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return out, nil
}

// parseMigrationFilename splits an up migration filename into version and name.
func parseMigrationFilename(filename string) (version, name string, ok bool) {
	m := upFile.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
