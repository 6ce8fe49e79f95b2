// Package testdb provides an in-memory SQLite database with the postmap
// schema applied, for repository and usecase tests.
package testdb

import (
	"context"
	"testing"

	"github.com/kailas-cloud/postmap/internal/database"
	"github.com/kailas-cloud/postmap/internal/repository/schema"
)

// New creates an in-memory SQLite database with all tables migrated.
// The database is closed when the test finishes.
func New(t *testing.T) database.Database {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDatabase(ctx, "sqlite:///:memory:", nil)
	if err != nil {
		t.Fatalf("testdb.New: open database: %v", err)
	}
	if err := schema.AutoMigrate(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("testdb.New: auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
