package testutil

import (
	"context"
	"testing"

	"github.com/CallumSergeant/alarm/internal/services"
	"github.com/CallumSergeant/alarm/internal/store"
)

// NewStore creates an in-memory SQLiteStore for testing.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewMigratedStore returns an in-memory store with the full schema applied.
func NewMigratedStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db := NewStore(t)
	if err := services.Migrate(context.Background(), db); err != nil {
		t.Fatalf("testutil.NewMigratedStore: %v", err)
	}
	return db
}
