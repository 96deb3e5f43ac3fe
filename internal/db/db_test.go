package db

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T, dbPath string) *DB {
	t.Helper()
	database, err := New(DriverSQLite, dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return database
}

func TestNew_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	database := openTestDB(t, dbPath)
	defer database.Close()

	tables := []string{"videos", "cuts", "jobs", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	database := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New("mysql", "x", nil); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1 := openTestDB(t, dbPath)
	db1.Close()

	db2 := openTestDB(t, dbPath)
	defer db2.Close()

	var count int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1 := openTestDB(t, dbPath)
	_, err := db1.Conn().Exec(`
		INSERT INTO jobs (id, type, status, progress, created_at, updated_at)
		VALUES ('test-job', 'subtitles', 'running', 50, ?, ?)
	`, Now(), Now())
	if err != nil {
		t.Fatalf("insert job error = %v", err)
	}
	db1.Close()

	db2 := openTestDB(t, dbPath)
	defer db2.Close()

	var status, errMsg string
	err = db2.Conn().QueryRow("SELECT status, error FROM jobs WHERE id = 'test-job'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query job error = %v", err)
	}

	if status != "failed" {
		t.Errorf("job status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("job error = %s, want 'interrupted by restart'", errMsg)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{"UPDATE t SET s = 'why?' WHERE id = ?", "UPDATE t SET s = 'why?' WHERE id = $1"},
	}
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}
	for _, tt := range tests {
		if got := pg.Rebind(tt.in); got != tt.want {
			t.Errorf("postgres Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if got := lite.Rebind(tt.in); got != tt.in {
			t.Errorf("sqlite Rebind(%q) = %q, want unchanged", tt.in, got)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 123000000, time.UTC)
	if got := ParseTime(FormatTime(now)); !got.Equal(now) {
		t.Errorf("ParseTime(FormatTime()) = %v, want %v", got, now)
	}
	if a, b := FormatTime(now), FormatTime(now.Add(time.Second)); a >= b {
		t.Errorf("formatted times should sort: %q >= %q", a, b)
	}
	if FormatTime(now.Truncate(time.Second)) >= FormatTime(now) {
		t.Error("whole-second time should sort before a later fractional time")
	}
	if !ParseTime("garbage").IsZero() {
		t.Error("ParseTime(garbage) should be zero")
	}
}
