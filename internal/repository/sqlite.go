package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mergington/school-activities/internal/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const sqliteSelectActivities = `
	SELECT a.id, a.name, a.description, a.schedule, a.max_participants, p.email
	  FROM activities a
	  LEFT JOIN activity_participants ap ON ap.activity_id = a.id
	  LEFT JOIN participants p ON p.id = ap.participant_id`

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore persists activities in SQLite.
//
// The handle must come from database.OpenSQLite: transactions begin
// IMMEDIATE over a single connection, so a transaction owns the database
// write lock from its first statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Init creates the tables if they do not exist.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SeedIfEmpty inserts seed when the activities table is empty.
func (s *SQLiteStore) SeedIfEmpty(ctx context.Context, seed []model.SeedActivity) (bool, error) {
	var seeded bool
	err := s.inTx(ctx, func(q *sqliteQueries) error {
		var err error
		seeded, err = seedActivities(ctx, q, seed)
		return err
	})
	return seeded, err
}

// FindActivityByName returns one activity with its participants, or ErrNotFound.
func (s *SQLiteStore) FindActivityByName(ctx context.Context, name string) (*model.Activity, error) {
	activities, err := sqliteListActivities(ctx, s.db, sqliteSelectActivities+` WHERE a.name = ? ORDER BY ap.rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	if len(activities) == 0 {
		return nil, ErrNotFound
	}
	return &activities[0], nil
}

// ListActivities returns all activities ordered by name.
func (s *SQLiteStore) ListActivities(ctx context.Context) ([]model.Activity, error) {
	activities, err := sqliteListActivities(ctx, s.db, sqliteSelectActivities+` ORDER BY a.name, ap.rowid`)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// FindParticipantByEmail returns a participant or ErrNotFound.
func (s *SQLiteStore) FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error) {
	return sqliteFindParticipant(ctx, s.db, email)
}

// InTx runs fn in an immediate transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	return s.inTx(ctx, func(q *sqliteQueries) error { return fn(q) })
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(q *sqliteQueries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&sqliteQueries{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sqliteQueries implements Queries over an open SQLite transaction.
type sqliteQueries struct {
	tx *sql.Tx
}

// LockActivity reads the activity row. The lock itself is the database-wide
// write lock the immediate transaction already holds.
func (q *sqliteQueries) LockActivity(ctx context.Context, name string) (*model.Activity, error) {
	var a model.Activity
	err := q.tx.QueryRowContext(ctx,
		`SELECT id, name, description, schedule, max_participants
		 FROM activities
		 WHERE name = ?`,
		name,
	).Scan(&a.ID, &a.Name, &a.Description, &a.Schedule, &a.MaxParticipants)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock activity row: %w", err)
	}
	return &a, nil
}

func (q *sqliteQueries) CountParticipants(ctx context.Context, activityID string) (int, error) {
	var count int
	err := q.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_participants WHERE activity_id = ?`,
		activityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

func (q *sqliteQueries) FindParticipantByEmail(ctx context.Context, email string) (*model.Participant, error) {
	return sqliteFindParticipant(ctx, q.tx, email)
}

func (q *sqliteQueries) CreateParticipant(ctx context.Context, email string) (*model.Participant, error) {
	p := &model.Participant{ID: uuid.New().String(), Email: email}
	res, err := q.tx.ExecContext(ctx,
		`INSERT INTO participants (id, email) VALUES (?, ?)
		 ON CONFLICT (email) DO NOTHING`,
		p.ID, p.Email,
	)
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	} else if n == 0 {
		return nil, ErrConflict
	}
	return p, nil
}

func (q *sqliteQueries) HasAssociation(ctx context.Context, activityID, participantID string) (bool, error) {
	var exists bool
	err := q.tx.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM activity_participants
		   WHERE activity_id = ? AND participant_id = ?
		 )`,
		activityID, participantID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signup: %w", err)
	}
	return exists, nil
}

func (q *sqliteQueries) AddAssociation(ctx context.Context, activityID, participantID string) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO activity_participants (activity_id, participant_id) VALUES (?, ?)`,
		activityID, participantID,
	)
	if err != nil {
		switch sqliteConstraintCode(err) {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return ErrConflict
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ErrNotFound
		}
		return fmt.Errorf("insert signup: %w", err)
	}
	return nil
}

func (q *sqliteQueries) RemoveAssociation(ctx context.Context, activityID, participantID string) error {
	_, err := q.tx.ExecContext(ctx,
		`DELETE FROM activity_participants WHERE activity_id = ? AND participant_id = ?`,
		activityID, participantID,
	)
	if err != nil {
		return fmt.Errorf("delete signup: %w", err)
	}
	return nil
}

func (q *sqliteQueries) activitiesEmpty(ctx context.Context) (bool, error) {
	var exists bool
	if err := q.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM activities)`).Scan(&exists); err != nil {
		return false, err
	}
	return !exists, nil
}

func (q *sqliteQueries) insertActivity(ctx context.Context, a model.SeedActivity) (string, error) {
	id := uuid.New().String()
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO activities (id, name, description, schedule, max_participants)
		 VALUES (?, ?, ?, ?, ?)`,
		id, a.Name, a.Description, a.Schedule, a.MaxParticipants,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return "", ErrConflict
		}
		return "", fmt.Errorf("insert activity: %w", err)
	}
	return id, nil
}

func sqliteListActivities(ctx context.Context, db sqlQuerier, query string, args ...any) ([]model.Activity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

func sqliteFindParticipant(ctx context.Context, db sqlQuerier, email string) (*model.Participant, error) {
	var p model.Participant
	err := db.QueryRowContext(ctx,
		`SELECT id, email FROM participants WHERE email = ?`,
		email,
	).Scan(&p.ID, &p.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return &p, nil
}

// sqliteConstraintCode returns the extended result code of a SQLite error,
// or 0 when err did not come from the driver.
func sqliteConstraintCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteConstraintCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ Store  = (*SQLiteStore)(nil)
	_ seeder = (*sqliteQueries)(nil)
)
