// Package testdb provides ephemeral SQLite stores for tests.
package testdb

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mergington/school-activities/internal/database"
	"github.com/mergington/school-activities/internal/repository"
	"github.com/mergington/school-activities/internal/seed"
	"github.com/stretchr/testify/require"
)

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Open returns an empty store with the schema applied, backed by a file in
// the test's temp dir and closed on cleanup.
func Open(t testing.TB) *repository.SQLiteStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "activities.db"))
	require.NoError(t, err)
	store := repository.NewSQLiteStore(db)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Init(ctx))
	return store
}

// Seeded returns a store loaded with the default catalogue.
func Seeded(t testing.TB) *repository.SQLiteStore {
	t.Helper()
	store := Open(t)
	require.NoError(t, seed.Bootstrap(context.Background(), store, Logger()))
	return store
}
