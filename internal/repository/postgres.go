package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mergington/school-activities/internal/model"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const pgSelectActivities = `
	SELECT a.id, a.name, a.description, a.schedule, a.max_participants, p.email
	  FROM activities a
	  LEFT JOIN activity_participants ap ON ap.activity_id = a.id
	  LEFT JOIN participants p ON p.id = ap.participant_id`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists activities in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the tables if they do not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	// No arguments, so pgx sends the whole script over the simple protocol.
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SeedIfEmpty inserts seed when the activities table is empty.
func (s *PostgresStore) SeedIfEmpty(ctx context.Context, seed []model.SeedActivity) (bool, error) {
	var seeded bool
	err := s.inTx(ctx, func(q *pgQueries) error {
		var err error
		seeded, err = seedActivities(ctx, q, seed)
		return err
	})
	return seeded, err
}

// FindActivityByName returns one activity with its participants, or ErrNotFound.
func (s *PostgresStore) FindActivityByName(ctx context.Context, name string) (*model.Activity, error) {
	activities, err := pgListActivities(ctx, s.db, pgSelectActivities+` WHERE a.name = $1 ORDER BY ap.seq`, name)
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	if len(activities) == 0 {
		return nil, ErrNotFound
	}
	return &activities[0], nil
}

// ListActivities returns all activities ordered by name.
func (s *PostgresStore) ListActivities(ctx context.Context) ([]model.Activity, error) {
	activities, err := pgListActivities(ctx, s.db, pgSelectActivities+` ORDER BY a.name, ap.seq`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// FindParticipantByEmail returns a participant or ErrNotFound.
func (s *PostgresStore) FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error) {
	return pgFindParticipant(ctx, s.db, email)
}

// InTx runs fn in a read-committed transaction. Serialization of
// same-activity writers comes from LockActivity's row lock.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.inTx(ctx, func(q *pgQueries) error { return fn(q) })
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(q *pgQueries) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgQueries{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// pgQueries implements Queries over an open pgx transaction.
type pgQueries struct {
	tx pgx.Tx
}

// LockActivity acquires a row-level exclusive lock with SELECT … FOR UPDATE.
// Concurrent signups or unregisters for the same activity block here until
// this transaction commits or rolls back, which serializes the
// count-then-insert sequence.
func (q *pgQueries) LockActivity(ctx context.Context, name string) (*model.Activity, error) {
	var a model.Activity
	err := q.tx.QueryRow(ctx,
		`SELECT id, name, description, schedule, max_participants
		 FROM activities
		 WHERE name = $1
		 FOR UPDATE`,
		name,
	).Scan(&a.ID, &a.Name, &a.Description, &a.Schedule, &a.MaxParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock activity row: %w", err)
	}
	return &a, nil
}

func (q *pgQueries) CountParticipants(ctx context.Context, activityID string) (int, error) {
	var count int
	err := q.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_participants WHERE activity_id = $1`,
		activityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

func (q *pgQueries) FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error) {
	return pgFindParticipant(ctx, q.tx, email)
}

// CreateParticipant uses ON CONFLICT DO NOTHING so a duplicate email does not
// abort the transaction. If another transaction holds an uncommitted insert
// for the same email, PostgreSQL waits for it to finish first.
func (q *pgQueries) CreateParticipant(ctx context.Context, email string) (*model.Participant, error) {
	p := &model.Participant{ID: uuid.New().String(), Email: email}
	tag, err := q.tx.Exec(ctx,
		`INSERT INTO participants (id, email) VALUES ($1, $2)
		 ON CONFLICT (email) DO NOTHING`,
		p.ID, p.Email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrConflict
	}
	return p, nil
}

func (q *pgQueries) HasAssociation(ctx context.Context, activityID, participantID string) (bool, error) {
	var exists bool
	err := q.tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM activity_participants
		   WHERE activity_id = $1 AND participant_id = $2
		 )`,
		activityID, participantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signup: %w", err)
	}
	return exists, nil
}

func (q *pgQueries) AddAssociation(ctx context.Context, activityID, participantID string) error {
	tag, err := q.tx.Exec(ctx,
		`INSERT INTO activity_participants (activity_id, participant_id)
		 VALUES ($1, $2)
		 ON CONFLICT (activity_id, participant_id) DO NOTHING`,
		activityID, participantID,
	)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert signup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (q *pgQueries) RemoveAssociation(ctx context.Context, activityID, participantID string) error {
	_, err := q.tx.Exec(ctx,
		`DELETE FROM activity_participants WHERE activity_id = $1 AND participant_id = $2`,
		activityID, participantID,
	)
	if err != nil {
		return fmt.Errorf("delete signup: %w", err)
	}
	return nil
}

// activitiesEmpty takes an EXCLUSIVE table lock so two processes starting
// together cannot both seed.
func (q *pgQueries) activitiesEmpty(ctx context.Context) (bool, error) {
	if _, err := q.tx.Exec(ctx, `LOCK TABLE activities IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("lock activities table: %w", err)
	}
	var exists bool
	if err := q.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM activities)`).Scan(&exists); err != nil {
		return false, err
	}
	return !exists, nil
}

func (q *pgQueries) insertActivity(ctx context.Context, a model.SeedActivity) (string, error) {
	id := uuid.New().String()
	_, err := q.tx.Exec(ctx,
		`INSERT INTO activities (id, name, description, schedule, max_participants)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, a.Name, a.Description, a.Schedule, a.MaxParticipants,
	)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return "", ErrConflict
		}
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return id, nil
}

func pgListActivities(ctx context.Context, db pgQuerier, query string, args ...any) ([]model.Activity, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var b activityBuilder
	for rows.Next() {
		var a model.Activity
		var email *string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.Schedule, &a.MaxParticipants, &email); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		b.add(a, email)
	}
	return b.activities, rows.Err()
}

func pgFindParticipant(ctx context.Context, db pgQuerier, email string) (*model.Participant, error) {
	var p model.Participant
	err := db.QueryRow(ctx,
		`SELECT id, email FROM participants WHERE email = $1`,
		email,
	).Scan(&p.ID, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &p, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ seeder = (*pgQueries)(nil)
)
