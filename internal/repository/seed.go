package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mergington/school-activities/internal/model"
)

// seeder is the dialect-specific surface needed to bootstrap an empty store.
type seeder interface {
	Queries
	// activitiesEmpty locks the activities table against concurrent seeders
	// and reports whether it holds no rows.
	activitiesEmpty(ctx context.Context) (bool, error)
	insertActivity(ctx context.Context, a model.SeedActivity) (string, error)
}

func seedActivities(ctx context.Context, q seeder, seed []model.SeedActivity) (bool, error) {
	empty, err := q.activitiesEmpty(ctx)
	if err != nil {
		return false, fmt.Errorf("check activities: %w", err)
	}
	if !empty {
		return false, nil
	}

	for _, a := range seed {
		if a.MaxParticipants <= 0 {
			return false, fmt.Errorf("seed activity %q: max participants must be positive", a.Name)
		}
		activityID, err := q.insertActivity(ctx, a)
		if err != nil {
			return false, fmt.Errorf("seed activity %q: %w", a.Name, err)
		}
		for _, email := range a.Participants {
			p, err := EnsureParticipant(ctx, q, email)
			if err != nil {
				return false, fmt.Errorf("seed participant %q: %w", email, err)
			}
			err = q.AddAssociation(ctx, activityID, p.ID)
			if err != nil && !errors.Is(err, ErrConflict) {
				return false, fmt.Errorf("seed signup %q for %q: %w", email, a.Name, err)
			}
		}
	}
	return true, nil
}

// EnsureParticipant finds the participant for email, creating it if absent.
// A creation conflict means a concurrent transaction committed the same
// email first; its row is read back and returned.
func EnsureParticipant(ctx context.Context, q Queries, email string) (*model.Participant, error) {
	p, err := q.FindParticipantByEmail(ctx, email)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p, err = q.CreateParticipant(ctx, email)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}

	p, err = q.FindParticipantByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		// The conflicting row is not visible to this transaction's snapshot.
		return nil, fmt.Errorf("participant %q: %w", email, ErrConflict)
	}
	return p, err
}
