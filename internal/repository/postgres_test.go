package repository_test

import (
	"context"
	"os"
	"testing"

	"github.com/mergington/school-activities/internal/config"
	"github.com/mergington/school-activities/internal/database"
	"github.com/mergington/school-activities/internal/repository"
	"github.com/mergington/school-activities/internal/testing/testdb"
	"github.com/stretchr/testify/require"
)

// openPostgres connects to TEST_DATABASE_URL and empties the tables.
// Tests using it are skipped when the variable is unset.
func openPostgres(t *testing.T) *repository.PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.NewPool(ctx, config.DatabaseConfig{
		URL:             url,
		MaxConns:        10,
		MinConns:        1,
		ConnectAttempts: 1,
	}, testdb.Logger())
	require.NoError(t, err)
	store := repository.NewPostgresStore(pool)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Init(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE activity_participants, participants, activities`)
	require.NoError(t, err)
	return store
}

func TestPostgresSeedAndQueries(t *testing.T) {
	ctx := context.Background()
	store := openPostgres(t)

	seeded, err := store.SeedIfEmpty(ctx, twoClubs)
	require.NoError(t, err)
	require.True(t, seeded)
	seeded, err = store.SeedIfEmpty(ctx, twoClubs)
	require.NoError(t, err)
	require.False(t, seeded)

	a, err := store.FindActivityByName(ctx, "Robotics")
	require.NoError(t, err)
	require.Equal(t, []string{"zoe@mergington.edu", "adam@mergington.edu"}, a.Participants)

	err = store.InTx(ctx, func(q repository.Queries) error {
		locked, err := q.LockActivity(ctx, "Robotics")
		require.NoError(t, err)

		p, err := q.CreateParticipant(ctx, "eve@mergington.edu")
		require.NoError(t, err)
		_, err = q.CreateParticipant(ctx, "eve@mergington.edu")
		require.ErrorIs(t, err, repository.ErrConflict)

		require.NoError(t, q.AddAssociation(ctx, locked.ID, p.ID))
		require.ErrorIs(t, q.AddAssociation(ctx, locked.ID, p.ID), repository.ErrConflict)

		count, err := q.CountParticipants(ctx, locked.ID)
		require.NoError(t, err)
		require.Equal(t, 3, count)
		return nil
	})
	require.NoError(t, err)

	activities, err := store.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, activities, 2)
}
