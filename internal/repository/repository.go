// Package repository implements persistence for activities, participants
// and their signups. PostgreSQL is served through pgx directly (no ORM);
// SQLite through database/sql with the modernc driver.
package repository

import (
	"context"
	"errors"

	"github.com/mergington/school-activities/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness constraint.
var ErrConflict = errors.New("conflict")

// Store is the storage handle passed to the service layer.
type Store interface {
	// Init creates the schema if absent. Safe to call on every start-up.
	Init(ctx context.Context) error
	// SeedIfEmpty inserts seed in one transaction when no activity exists.
	// It reports whether anything was written.
	SeedIfEmpty(ctx context.Context, seed []model.SeedActivity) (bool, error)
	FindActivityByName(ctx context.Context, name string) (*model.Activity, error)
	// ListActivities returns every activity ordered by name.
	ListActivities(ctx context.Context) ([]model.Activity, error)
	FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error)
	// InTx runs fn inside a single transaction. The transaction commits only
	// when fn returns nil; otherwise it rolls back.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Queries are the primitives available inside a transaction.
type Queries interface {
	// LockActivity loads an activity and holds it locked against other
	// writers until the transaction ends. Participants are not populated.
	LockActivity(ctx context.Context, name string) (*model.Activity, error)
	CountParticipants(ctx context.Context, activityID string) (int, error)
	FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error)
	// CreateParticipant fails with ErrConflict when the email exists. It
	// leaves the transaction usable so the caller can re-read the row.
	CreateParticipant(ctx context.Context, email string) (*model.Participant, error)
	HasAssociation(ctx context.Context, activityID, participantID string) (bool, error)
	// AddAssociation fails with ErrConflict when the pair already exists.
	AddAssociation(ctx context.Context, activityID, participantID string) error
	// RemoveAssociation is a no-op when the pair does not exist.
	RemoveAssociation(ctx context.Context, activityID, participantID string) error
}

// activityBuilder folds joined (activity, participant email) rows, ordered by
// activity then signup order, into activities.
type activityBuilder struct {
	activities []model.Activity
}

func (b *activityBuilder) add(a model.Activity, email *string) {
	n := len(b.activities)
	if n == 0 || b.activities[n-1].ID != a.ID {
		// Never nil so empty lists encode as [].
		a.Participants = []string{}
		b.activities = append(b.activities, a)
		n++
	}
	if email != nil {
		b.activities[n-1].Participants = append(b.activities[n-1].Participants, *email)
	}
}
