package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/config"
)

// openTestDB opens a WAL-mode database in a temp dir and closes it on cleanup.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "iotbridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func pragma(t *testing.T, db *DB, name string) string {
	t.Helper()
	var v string
	if err := db.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s error = %v", name, err)
	}
	return v
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		rel         string
		wal         bool
		busy        int
		wantJournal string
		wantBusy    string
	}{
		{"wal in data dir", "iotbridge.db", true, 5, "wal", "5000"},
		{"rollback journal", "iotbridge.db", false, 2, "delete", "2000"},
		{"nested directory created", filepath.Join("var", "lib", "iotbridge", "iotbridge.db"), true, 1, "wal", "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.rel)
			db, err := Open(config.DatabaseConfig{Path: path, WALMode: tt.wal, BusyTimeout: tt.busy})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer db.Close() //nolint:errcheck // Test cleanup

			if db.Path() != path {
				t.Errorf("Path() = %q, want %q", db.Path(), path)
			}
			if got := strings.ToLower(pragma(t, db, "journal_mode")); got != tt.wantJournal {
				t.Errorf("journal_mode = %q, want %q", got, tt.wantJournal)
			}
			if got := pragma(t, db, "busy_timeout"); got != tt.wantBusy {
				t.Errorf("busy_timeout = %q, want %q", got, tt.wantBusy)
			}
			if got := pragma(t, db, "foreign_keys"); got != "1" {
				t.Errorf("foreign_keys = %q, want 1", got)
			}
			if got := db.DB.Stats().MaxOpenConnections; got != 1 {
				t.Errorf("MaxOpenConnections = %d, want 1", got)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("database file not created: %v", err)
			}
			// The WAL pragma writes the header during Open, so the file exists
			// by the time permissions are restricted.
			if perm := info.Mode().Perm(); tt.wal && perm != filePermissions {
				t.Errorf("file mode = %o, want %o", perm, filePermissions)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"empty path", ""},
		{"parent is a file", filepath.Join(blocker, "iotbridge.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(config.DatabaseConfig{Path: tt.path, BusyTimeout: 1}); err == nil {
				t.Error("Open() error = nil, want failure")
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close error = nil, want failure")
	}
}

func TestClose_NilSafe(t *testing.T) {
	var nilDB *DB
	if err := nilDB.Close(); err != nil {
		t.Errorf("Close() on nil *DB error = %v", err)
	}
	if err := (&DB{}).Close(); err != nil {
		t.Errorf("Close() on empty DB error = %v", err)
	}
}

func TestSizeBytes_GrowsWithData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE sensor_readings (device_id TEXT, payload TEXT)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}
	before, err := db.SizeBytes(ctx)
	if err != nil {
		t.Fatalf("SizeBytes() error = %v", err)
	}
	if before <= 0 {
		t.Fatalf("SizeBytes() = %d, want > 0", before)
	}

	payload := strings.Repeat("x", 4096)
	for i := 0; i < 50; i++ {
		if _, err := db.ExecContext(ctx, "INSERT INTO sensor_readings VALUES (?, ?)", "esp32-1", payload); err != nil {
			t.Fatalf("INSERT error = %v", err)
		}
	}

	after, err := db.SizeBytes(ctx)
	if err != nil {
		t.Fatalf("SizeBytes() error = %v", err)
	}
	if after <= before {
		t.Errorf("SizeBytes() = %d after inserts, want > %d", after, before)
	}
}

func TestExecContext_WrapsError(t *testing.T) {
	db := openTestDB(t)

	_, err := db.ExecContext(context.Background(), "INSERT INTO missing_table VALUES (1)")
	if err == nil {
		t.Fatal("ExecContext() error = nil, want failure")
	}
	if !strings.HasPrefix(err.Error(), "executing query:") {
		t.Errorf("ExecContext() error = %q, want executing query prefix", err)
	}
}

func TestBeginTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE device_events (device_id TEXT NOT NULL, event_type TEXT NOT NULL)"); err != nil {
		t.Fatalf("CREATE TABLE error = %v", err)
	}

	tests := []struct {
		name     string
		deviceID string
		commit   bool
		want     int
	}{
		{"commit keeps row", "esp32-commit", true, 1},
		{"rollback discards row", "esp32-rollback", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("BeginTx() error = %v", err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO device_events VALUES (?, 'online')", tt.deviceID); err != nil {
				t.Fatalf("INSERT error = %v", err)
			}
			if tt.commit {
				err = tx.Commit()
			} else {
				err = tx.Rollback()
			}
			if err != nil {
				t.Fatalf("finishing tx error = %v", err)
			}

			var n int
			if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM device_events WHERE device_id = ?", tt.deviceID).Scan(&n); err != nil {
				t.Fatalf("SELECT error = %v", err)
			}
			if n != tt.want {
				t.Errorf("rows = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestBeginTx_CancelledContext(t *testing.T) {
	db := openTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := db.BeginTx(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("BeginTx(cancelled) error = %v, want context.Canceled", err)
	}
}
