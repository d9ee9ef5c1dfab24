package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens a WAL-mode database in a temp dir.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func TestOpen_CreatesNestedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "cmdbroker", "history.db")

	db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != filePermissions {
		t.Errorf("file mode = %o, want %o", perm, filePermissions)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	var mode string
	if err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(Config{Path: MemoryPath, WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	for _, stmt := range []string{
		"CREATE TABLE mem_test (id INTEGER PRIMARY KEY)",
		"INSERT INTO mem_test DEFAULT VALUES",
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mem_test").Scan(&count); err != nil {
		t.Fatalf("SELECT error = %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}
	if n := db.Stats().MaxOpenConnections; n != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", n)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		notWant []string
	}{
		{
			name: "file with WAL",
			cfg:  Config{Path: "/data/history.db", WALMode: true, BusyTimeout: 5},
			want: []string{"file:/data/history.db?", "_busy_timeout=5000", "_foreign_keys=on", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
		{
			name:    "file without WAL",
			cfg:     Config{Path: "/data/history.db", BusyTimeout: 1},
			want:    []string{"_busy_timeout=1000"},
			notWant: []string{"_journal_mode"},
		},
		{
			name:    "memory ignores WAL",
			cfg:     Config{Path: MemoryPath, WALMode: true},
			want:    []string{"file::memory:?"},
			notWant: []string{"_journal_mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("dsn() = %q, missing %q", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("dsn() = %q, should not contain %q", got, w)
				}
			}
		})
	}
}

func TestHealthCheckAndClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() should fail")
	}

	if err := (&DB{}).Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestExecContext_WrapsError(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil || !strings.Contains(err.Error(), "executing query") {
		t.Errorf("ExecContext() error = %v, want wrapped with 'executing query'", err)
	}
}

func TestInTx(t *testing.T) {
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE tx_test (value TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	insert := func(value string, fail error) error {
		return db.inTx(ctx, func(exec execer) error {
			if _, err := exec.ExecContext(ctx, "INSERT INTO tx_test (value) VALUES (?)", value); err != nil {
				return err
			}
			return fail
		})
	}

	if err := insert("committed", nil); err != nil {
		t.Fatalf("inTx() commit error = %v", err)
	}
	boom := errors.New("boom")
	if err := insert("rolled_back", boom); !errors.Is(err, boom) {
		t.Fatalf("inTx() error = %v, want boom", err)
	}

	rows := map[string]int{}
	for _, v := range []string{"committed", "rolled_back"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tx_test WHERE value = ?", v).Scan(&n); err != nil {
			t.Fatalf("SELECT error = %v", err)
		}
		rows[v] = n
	}
	if rows["committed"] != 1 || rows["rolled_back"] != 0 {
		t.Errorf("rows = %v, want committed=1 rolled_back=0", rows)
	}
}
