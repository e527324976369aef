package migrate

import (
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error %q should mention DATABASE_URL", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "sideways", "UP", "Down"} {
		if err := Run("postgres://localhost/test", direction); err == nil {
			t.Errorf("Run with direction %q should return error", direction)
		}
	}
}

func TestRun_EmbeddedMigrationsPair(t *testing.T) {
	// Invalid DSN fails after the embedded source loads, so a "migrate source"
	// error here would mean a migration file is missing its up/down pair.
	err := Run("postgres://invalid:1/x?sslmode=disable", "up")
	if err == nil {
		t.Skip("unexpectedly connected")
	}
	if strings.Contains(err.Error(), "migrate source") {
		t.Errorf("embedded migrations failed to load: %v", err)
	}
}
