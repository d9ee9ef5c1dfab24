package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// ErrNoDownMigration is returned by MigrateDown when the latest applied
// version has no .down.sql file in the source.
var ErrNoDownMigration = errors.New("database: no down migration")

// Migration is one schema version loaded from a pair of files named
//
//	YYYYMMDD_HHMMSS_label.up.sql
//	YYYYMMDD_HHMMSS_label.down.sql
//
// The down file is optional.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string // label
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus splits the versions in a source into applied and pending.
type MigrationStatus struct {
	Applied []MigrationRecord
	Pending []Migration
}

// Migrate applies every pending migration in src, oldest first. Each
// version runs in its own transaction, so a failure at version N leaves
// earlier versions committed and stops before anything after N. A nil src
// is a no-op.
func (db *DB) Migrate(ctx context.Context, src fs.FS) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	status, err := db.MigrationStatus(ctx, src)
	if err != nil {
		return err
	}

	for _, m := range status.Pending {
		err := db.inTx(ctx, func(exec execer) error {
			if _, err := exec.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := exec.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied version. It returns the
// reverted version, or "" when nothing was applied.
func (db *DB) MigrateDown(ctx context.Context, src fs.FS) (string, error) {
	status, err := db.MigrationStatus(ctx, src)
	if err != nil {
		return "", err
	}
	if len(status.Applied) == 0 {
		return "", nil
	}
	latest := status.Applied[len(status.Applied)-1].Version

	all, err := loadMigrations(src)
	if err != nil {
		return "", err
	}
	idx := sort.Search(len(all), func(i int) bool { return all[i].Version >= latest })
	if idx == len(all) || all[idx].Version != latest || all[idx].DownSQL == "" {
		return "", fmt.Errorf("%w for %s", ErrNoDownMigration, latest)
	}

	err = db.inTx(ctx, func(exec execer) error {
		if _, err := exec.ExecContext(ctx, all[idx].DownSQL); err != nil {
			return err
		}
		_, err := exec.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("reverting migration %s: %w", latest, err)
	}
	return latest, nil
}

// MigrationStatus compares src with schema_migrations. Applied records are
// ordered by version.
func (db *DB) MigrationStatus(ctx context.Context, src fs.FS) (MigrationStatus, error) {
	var status MigrationStatus

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return status, err
	}
	all, err := loadMigrations(src)
	if err != nil {
		return status, err
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, m := range all {
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	status.Applied = applied
	return status, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	var exists int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking migrations table: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			r         MigrationRecord
			appliedAt string
		)
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt) //nolint:errcheck // written by Migrate
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

// loadMigrations reads the *.sql files at the root of src, sorted by
// version. Files that do not follow the naming scheme are skipped.
func loadMigrations(src fs.FS) ([]Migration, error) {
	if src == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := parseMigrationFile(entry.Name())
		if !ok {
			continue
		}
		data, err := fs.ReadFile(src, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[f.version]
		if m == nil {
			m = &Migration{Version: f.version, Name: f.name}
			byVersion[f.version] = m
		}
		if f.up {
			m.UpSQL = string(data)
		} else {
			m.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		// A lone down file has nothing to apply.
		if m.UpSQL == "" {
			continue
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

type migrationFile struct {
	version string
	name    string
	up      bool
}

// parseMigrationFile splits "20260301_120000_command_history.up.sql" into
// its version, label and direction.
func parseMigrationFile(filename string) (migrationFile, bool) {
	var f migrationFile

	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return f, false
	}
	if rest, up := strings.CutSuffix(base, ".up"); up {
		base, f.up = rest, true
	} else if rest, down := strings.CutSuffix(base, ".down"); down {
		base = rest
	} else {
		return f, false
	}

	date, rest, ok := strings.Cut(base, "_")
	if !ok {
		return f, false
	}
	clock, label, _ := strings.Cut(rest, "_")
	if date == "" || clock == "" {
		return f, false
	}

	f.version = date + "_" + clock
	f.name = label
	if f.name == "" {
		f.name = f.version
	}
	return f, true
}
