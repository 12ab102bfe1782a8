// Package testing provides shared test fixtures, mocks, and in-memory
// database helpers for the ladder engine, mirroring the teacher's
// internal/testing package (db.go, fixtures.go, mocks.go).
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/martingalian/ladder-engine/internal/database"
)

// NewTestDB creates a file-backed SQLite database for testing with automatic
// schema migration applied. Returns the database and an idempotent cleanup
// function. name must be "ledger" or "cache" to pick up the matching schema;
// anything else creates a schema-less database.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	profile := database.ProfileStandard
	switch name {
	case "ledger":
		profile = database.ProfileLedger
	case "cache":
		profile = database.ProfileCache
	}

	db, err := database.New(database.Config{Path: tmpPath, Profile: profile, Name: name})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to open test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("warning: failed to remove temp db file %s: %v", tmpPath, err)
		}
	}
}
