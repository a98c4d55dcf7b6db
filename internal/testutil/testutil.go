// Package testutil opens migrated throwaway databases for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"usergate/internal/database"
)

// NewDB returns a migrated SQLite database in a temporary directory. The
// database is a real file so that concurrent connections share it.
func NewDB(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "usergate.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}
