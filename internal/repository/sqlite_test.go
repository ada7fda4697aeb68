package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mergington/school-activities/internal/model"
	"github.com/mergington/school-activities/internal/repository"
	"github.com/mergington/school-activities/internal/testing/testdb"
	"github.com/stretchr/testify/require"
)

var twoClubs = []model.SeedActivity{
	{
		Name:            "Robotics",
		Description:     "Build robots",
		Schedule:        "Mondays",
		MaxParticipants: 3,
		Participants:    []string{"zoe@mergington.edu", "adam@mergington.edu"},
	},
	{
		Name:            "Choir",
		Description:     "Sing",
		Schedule:        "Fridays",
		MaxParticipants: 5,
		Participants:    []string{"adam@mergington.edu"},
	},
}

func TestSQLiteInitIsIdempotent(t *testing.T) {
	store := testdb.Open(t)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, store.Init(context.Background()))
}

func TestSQLiteSeedIfEmpty(t *testing.T) {
	ctx := context.Background()
	store := testdb.Open(t)

	seeded, err := store.SeedIfEmpty(ctx, twoClubs)
	require.NoError(t, err)
	require.True(t, seeded)

	activities, err := store.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	require.Equal(t, "Choir", activities[0].Name)
	require.Equal(t, []string{"adam@mergington.edu"}, activities[0].Participants)
	require.Equal(t, "Robotics", activities[1].Name)
	require.Equal(t, []string{"zoe@mergington.edu", "adam@mergington.edu"}, activities[1].Participants)

	// A shared email across activities is one participant.
	p, err := store.FindParticipantByEmail(ctx, "adam@mergington.edu")
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	// Any existing activity skips seeding entirely.
	seeded, err = store.SeedIfEmpty(ctx, []model.SeedActivity{{
		Name: "Late Club", Description: "x", Schedule: "y", MaxParticipants: 1,
	}})
	require.NoError(t, err)
	require.False(t, seeded)
	_, err = store.FindActivityByName(ctx, "Late Club")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteSeedIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := testdb.Open(t)

	bad := append([]model.SeedActivity{}, twoClubs...)
	bad = append(bad, model.SeedActivity{Name: "Robotics", Description: "dup", Schedule: "z", MaxParticipants: 2})

	_, err := store.SeedIfEmpty(ctx, bad)
	require.ErrorIs(t, err, repository.ErrConflict)

	activities, err := store.ListActivities(ctx)
	require.NoError(t, err)
	require.Empty(t, activities)
	_, err = store.FindParticipantByEmail(ctx, "zoe@mergington.edu")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteFindActivityByName(t *testing.T) {
	ctx := context.Background()
	store := testdb.Seeded(t)

	a, err := store.FindActivityByName(ctx, "Chess Club")
	require.NoError(t, err)
	require.Equal(t, 12, a.MaxParticipants)
	require.Equal(t, "Fridays, 3:30 PM - 5:00 PM", a.Schedule)
	require.Equal(t, []string{"michael@mergington.edu", "daniel@mergington.edu"}, a.Participants)

	_, err = store.FindActivityByName(ctx, "chess club")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSQLiteActivityWithoutParticipantsListsEmpty(t *testing.T) {
	ctx := context.Background()
	store := testdb.Open(t)
	_, err := store.SeedIfEmpty(ctx, []model.SeedActivity{{
		Name: "Quiet Club", Description: "Read", Schedule: "Daily", MaxParticipants: 4,
	}})
	require.NoError(t, err)

	a, err := store.FindActivityByName(ctx, "Quiet Club")
	require.NoError(t, err)
	require.NotNil(t, a.Participants)
	require.Empty(t, a.Participants)
}

func TestSQLiteQueries(t *testing.T) {
	ctx := context.Background()
	store := testdb.Seeded(t)

	err := store.InTx(ctx, func(q repository.Queries) error {
		a, err := q.LockActivity(ctx, "Math Club")
		require.NoError(t, err)

		count, err := q.CountParticipants(ctx, a.ID)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		p, err := q.CreateParticipant(ctx, "New@Mergington.edu")
		require.NoError(t, err)

		// Emails are not normalised, so a different case is a new participant.
		_, err = q.CreateParticipant(ctx, "new@mergington.edu")
		require.NoError(t, err)

		_, err = q.CreateParticipant(ctx, "New@Mergington.edu")
		require.ErrorIs(t, err, repository.ErrConflict)

		has, err := q.HasAssociation(ctx, a.ID, p.ID)
		require.NoError(t, err)
		require.False(t, has)

		require.NoError(t, q.AddAssociation(ctx, a.ID, p.ID))
		require.ErrorIs(t, q.AddAssociation(ctx, a.ID, p.ID), repository.ErrConflict)

		has, err = q.HasAssociation(ctx, a.ID, p.ID)
		require.NoError(t, err)
		require.True(t, has)

		require.NoError(t, q.RemoveAssociation(ctx, a.ID, p.ID))
		// Removing a missing pair is not an error.
		require.NoError(t, q.RemoveAssociation(ctx, a.ID, p.ID))

		require.ErrorIs(t, q.AddAssociation(ctx, a.ID, "missing-participant"), repository.ErrNotFound)

		_, err = q.LockActivity(ctx, "Knitting")
		require.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	p, err := store.FindParticipantByEmail(ctx, "New@Mergington.edu")
	require.NoError(t, err)
	require.Equal(t, "New@Mergington.edu", p.Email)
}

func TestSQLiteInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := testdb.Seeded(t)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q repository.Queries) error {
		a, err := q.LockActivity(ctx, "Art Club")
		if err != nil {
			return err
		}
		p, err := q.CreateParticipant(ctx, "ghost@mergington.edu")
		if err != nil {
			return err
		}
		if err := q.AddAssociation(ctx, a.ID, p.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.FindParticipantByEmail(ctx, "ghost@mergington.edu")
	require.ErrorIs(t, err, repository.ErrNotFound)
	a, err := store.FindActivityByName(ctx, "Art Club")
	require.NoError(t, err)
	require.Len(t, a.Participants, 2)
}

func TestSQLiteInTxCancelledContext(t *testing.T) {
	store := testdb.Seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.InTx(ctx, func(q repository.Queries) error {
		_, err := q.CreateParticipant(ctx, "late@mergington.edu")
		return err
	})
	require.Error(t, err)

	_, err = store.FindParticipantByEmail(context.Background(), "late@mergington.edu")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEnsureParticipant(t *testing.T) {
	ctx := context.Background()
	store := testdb.Seeded(t)

	var firstID string
	require.NoError(t, store.InTx(ctx, func(q repository.Queries) error {
		p, err := repository.EnsureParticipant(ctx, q, "fresh@mergington.edu")
		require.NoError(t, err)
		firstID = p.ID

		again, err := repository.EnsureParticipant(ctx, q, "fresh@mergington.edu")
		require.NoError(t, err)
		require.Equal(t, firstID, again.ID)
		return nil
	}))

	p, err := store.FindParticipantByEmail(ctx, "fresh@mergington.edu")
	require.NoError(t, err)
	require.Equal(t, firstID, p.ID)
}
