// Package service implements the signup rules between HTTP handlers and the
// repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mergington/school-activities/internal/model"
	"github.com/mergington/school-activities/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mergington/school-activities/internal/service"

var (
	// ErrActivityNotFound is returned when no activity has the given name.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrActivityFull is returned when an activity is at capacity.
	ErrActivityFull = errors.New("activity is full")
	// ErrAlreadySignedUp is returned when the student is already a participant.
	ErrAlreadySignedUp = errors.New("student is already signed up")
	// ErrNotSignedUp is returned when unregistering a student who is not a participant.
	ErrNotSignedUp = errors.New("student is not signed up for this activity")
	// ErrEmailRequired is returned for an empty email.
	ErrEmailRequired = errors.New("email is required")
	// ErrConflict is a storage uniqueness race the service could not resolve.
	ErrConflict = repository.ErrConflict
)

// ActivityService orchestrates activity listing and signups.
type ActivityService struct {
	store  repository.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewActivityService constructs an ActivityService over store.
func NewActivityService(store repository.Store, logger *slog.Logger) *ActivityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// ListActivities returns every activity with its participants, ordered by name.
func (s *ActivityService) ListActivities(ctx context.Context) ([]model.Activity, error) {
	ctx, span := s.tracer.Start(ctx, "ActivityService.ListActivities")
	defer span.End()

	activities, err := s.store.ListActivities(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list activities: %w", err)
	}
	// Store collations differ; sort here for a stable order.
	slices.SortFunc(activities, func(a, b model.Activity) int {
		return strings.Compare(a.Name, b.Name)
	})
	span.SetAttributes(attribute.Int("activities.count", len(activities)))
	return activities, nil
}

// Signup adds email to the named activity.
//
// The capacity check and the insert run in one transaction that holds the
// activity lock, so two signups racing for the last spot cannot both win.
func (s *ActivityService) Signup(ctx context.Context, activityName, email string) error {
	ctx, span := s.tracer.Start(ctx, "ActivityService.Signup", trace.WithAttributes(
		attribute.String("activity.name", activityName),
	))
	defer span.End()

	if email == "" {
		return ErrEmailRequired
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		activity, err := lockActivity(ctx, q, activityName)
		if err != nil {
			return err
		}

		count, err := q.CountParticipants(ctx, activity.ID)
		if err != nil {
			return err
		}
		if count >= activity.MaxParticipants {
			return ErrActivityFull
		}

		participant, err := repository.EnsureParticipant(ctx, q, email)
		if err != nil {
			return fmt.Errorf("find or create participant: %w", err)
		}

		signedUp, err := q.HasAssociation(ctx, activity.ID, participant.ID)
		if err != nil {
			return err
		}
		if signedUp {
			return ErrAlreadySignedUp
		}

		err = q.AddAssociation(ctx, activity.ID, participant.ID)
		if errors.Is(err, repository.ErrConflict) {
			return ErrAlreadySignedUp
		}
		return err
	})
	if err != nil {
		return s.fail(span, "signup", activityName, err)
	}

	s.logger.InfoContext(ctx, "participant signed up",
		slog.String("activity", activityName),
		slog.String("email", email),
	)
	return nil
}

// Unregister removes email from the named activity. The participant record
// itself is kept.
func (s *ActivityService) Unregister(ctx context.Context, activityName, email string) error {
	ctx, span := s.tracer.Start(ctx, "ActivityService.Unregister", trace.WithAttributes(
		attribute.String("activity.name", activityName),
	))
	defer span.End()

	if email == "" {
		return ErrEmailRequired
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		activity, err := lockActivity(ctx, q, activityName)
		if err != nil {
			return err
		}

		participant, err := q.FindParticipantByEmail(ctx, email)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotSignedUp
		}
		if err != nil {
			return err
		}

		signedUp, err := q.HasAssociation(ctx, activity.ID, participant.ID)
		if err != nil {
			return err
		}
		if !signedUp {
			return ErrNotSignedUp
		}
		return q.RemoveAssociation(ctx, activity.ID, participant.ID)
	})
	if err != nil {
		return s.fail(span, "unregister", activityName, err)
	}

	s.logger.InfoContext(ctx, "participant unregistered",
		slog.String("activity", activityName),
		slog.String("email", email),
	)
	return nil
}

func lockActivity(ctx context.Context, q repository.Queries, name string) (*model.Activity, error) {
	activity, err := q.LockActivity(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrActivityNotFound
	}
	return activity, err
}

// fail returns domain errors unchanged so handlers can set the right status,
// and wraps everything else.
func (s *ActivityService) fail(span trace.Span, op, activityName string, err error) error {
	if isDomainError(err) {
		span.SetAttributes(attribute.String("outcome", err.Error()))
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error(op+" failed",
		slog.String("activity", activityName),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s: %w", op, err)
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrActivityFull) ||
		errors.Is(err, ErrAlreadySignedUp) ||
		errors.Is(err, ErrNotSignedUp)
}
