package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// testDB creates a temporary database for testing.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "dir", "kurzfassung.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not found: %v", err)
	}

	_, err = db.Exec(`INSERT INTO settings (key, value) VALUES ('k', 'v')`)
	if err != nil {
		t.Fatalf("insert into settings: %v", err)
	}
}

func TestOpenDB_MigrationsRunOnce(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "twice.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := SetSetting(ctx, db, "geminiApiKey", "AIzaKEEP"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = OpenDB(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Errorf("schema_migrations has %d rows, want %d", count, len(migrations))
	}

	got, ok, err := GetSetting(ctx, db, "geminiApiKey")
	if err != nil || !ok || got != "AIzaKEEP" {
		t.Errorf("GetSetting after reopen = %q, %v, %v", got, ok, err)
	}
}

func TestSettingRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if _, ok, err := GetSetting(ctx, db, "geminiApiKey"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := SetSetting(ctx, db, "geminiApiKey", "AIzaFIRST"); err != nil {
		t.Fatal(err)
	}
	if err := SetSetting(ctx, db, "geminiApiKey", "AIzaSECOND"); err != nil {
		t.Fatal(err)
	}

	got, ok, err := GetSetting(ctx, db, "geminiApiKey")
	if err != nil || !ok {
		t.Fatalf("GetSetting: ok=%v err=%v", ok, err)
	}
	if got != "AIzaSECOND" {
		t.Errorf("last write should win, got %q", got)
	}
}

func TestDeleteSetting(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if err := DeleteSetting(ctx, db, "missing"); err != nil {
		t.Fatalf("delete missing key: %v", err)
	}

	SetSetting(ctx, db, "geminiApiKey", "AIzaGONE")
	if err := DeleteSetting(ctx, db, "geminiApiKey"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := GetSetting(ctx, db, "geminiApiKey"); ok {
		t.Error("expected key to be deleted")
	}
}

func TestSettingsHonorCancelledContext(t *testing.T) {
	db := testDB(t)
	if err := SetSetting(context.Background(), db, "geminiApiKey", "AIzaKEPT"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := SetSetting(ctx, db, "geminiApiKey", "AIzaLOST"); err == nil {
		t.Error("SetSetting with cancelled context should fail")
	}
	if _, _, err := GetSetting(ctx, db, "geminiApiKey"); err == nil {
		t.Error("GetSetting with cancelled context should fail")
	}
	if err := DeleteSetting(ctx, db, "geminiApiKey"); err == nil {
		t.Error("DeleteSetting with cancelled context should fail")
	}

	got, ok, err := GetSetting(context.Background(), db, "geminiApiKey")
	if err != nil || !ok || got != "AIzaKEPT" {
		t.Errorf("value after cancelled calls = %q, %v, %v", got, ok, err)
	}
}
