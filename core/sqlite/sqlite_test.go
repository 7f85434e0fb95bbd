package sqlite

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDriverInfo(t *testing.T) {
	info := GetInfo()

	if info.DriverName == "" {
		t.Error("DriverName should not be empty")
	}

	if info.DriverType == "" {
		t.Error("DriverType should not be empty")
	}

	if info.Package == "" {
		t.Error("Package should not be empty")
	}

	// Verify consistency
	if info.DriverName != DriverName() {
		t.Errorf("DriverName mismatch: info=%s, func=%s", info.DriverName, DriverName())
	}

	if info.IsCGO != IsCGO() {
		t.Errorf("IsCGO mismatch: info=%v, func=%v", info.IsCGO, IsCGO())
	}

	t.Logf("SQLite driver: %s (%s) from %s", info.DriverName, info.DriverType, info.Package)
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "collection.anki2")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE col (id INTEGER PRIMARY KEY, ver INTEGER NOT NULL)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO col (id, ver) VALUES (?, ?)`, 1, 11); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if _, err := db.Exec(`PRAGMA user_version = 18`); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}

	var ver, userVersion int
	if err := db.QueryRow(`SELECT ver FROM col WHERE id = 1`).Scan(&ver); err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&userVersion); err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	if ver != 11 || userVersion != 18 {
		t.Errorf("ver=%d user_version=%d, want 11 and 18", ver, userVersion)
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "missing", "collection.anki2")
	if db, err := Open(dbPath); err == nil {
		db.Close()
		t.Error("Open() should fail when the parent directory does not exist")
	}
}

func TestDriverTypeConsistency(t *testing.T) {
	driverType := DriverType()

	switch driverType {
	case "purego":
		if IsCGO() {
			t.Error("IsCGO() should be false for purego driver")
		}
		if DriverName() != "sqlite" {
			t.Errorf("purego driver should use 'sqlite' name, got '%s'", DriverName())
		}
	case "cgo":
		if !IsCGO() {
			t.Error("IsCGO() should be true for cgo driver")
		}
		if DriverName() != "sqlite3" {
			t.Errorf("cgo driver should use 'sqlite3' name, got '%s'", DriverName())
		}
	default:
		t.Errorf("unknown driver type: %s", driverType)
	}
}
