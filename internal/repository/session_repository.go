package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

const sessionColumns = `id, schedule_id, user_id, started_at, ended_at, time_remaining_seconds,
	checkpointed_at, current_question_index, strike_count, status, question_order,
	options_order, random_seed, version`

// SessionRepository handles test session rows. Every write bumps version;
// writes that require an active session guard on status in the statement.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.TestSession, error) {
	s := &model.TestSession{}
	err := row.Scan(&s.ID, &s.ScheduleID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.TimeRemainingSeconds,
		&s.CheckpointedAt, &s.CurrentQuestionIndex, &s.StrikeCount, &s.Status, &s.QuestionOrder,
		&s.OptionsOrder, &s.RandomSeed, &s.Version)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetActiveSession retrieves the active session of a user in a schedule.
func (r *SessionRepository) GetActiveSession(ctx context.Context, scheduleID, userID uuid.UUID) (*model.TestSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM test_sessions
		 WHERE schedule_id = $1 AND user_id = $2 AND status = 'active'`, scheduleID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListActiveSessions lists active sessions of a schedule, or of every
// schedule when scheduleID is uuid.Nil.
func (r *SessionRepository) ListActiveSessions(ctx context.Context, scheduleID uuid.UUID) ([]model.TestSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM test_sessions WHERE status = 'active'`
	var args []any
	if scheduleID != uuid.Nil {
		query += ` AND schedule_id = $1`
		args = append(args, scheduleID)
	}
	query += ` ORDER BY started_at ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.TestSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// CreateSession inserts a session. The (schedule, user) pair is unique, so
// a second attempt reports ErrSessionClosed.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.TestSession) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO test_sessions (schedule_id, user_id, time_remaining_seconds, checkpointed_at,
		                            current_question_index, strike_count, status, question_order,
		                            options_order, random_seed)
		 VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (schedule_id, user_id) DO NOTHING
		 RETURNING id, started_at, checkpointed_at, version`,
		s.ScheduleID, s.UserID, s.TimeRemainingSeconds, s.CurrentQuestionIndex, s.StrikeCount,
		s.Status, s.QuestionOrder, s.OptionsOrder, s.RandomSeed,
	).Scan(&s.ID, &s.StartedAt, &s.CheckpointedAt, &s.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrSessionClosed
	}
	return err
}

// UpdateSession applies a partial write to an active session.
func (r *SessionRepository) UpdateSession(ctx context.Context, id uuid.UUID, upd model.SessionUpdate) (*model.TestSession, error) {
	sets := []string{"version = version + 1"}
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if upd.CurrentQuestionIndex != nil {
		add("current_question_index = $%d", *upd.CurrentQuestionIndex)
	}
	if upd.TimeRemainingSeconds != nil {
		add("time_remaining_seconds = $%d", *upd.TimeRemainingSeconds)
		sets = append(sets, "checkpointed_at = NOW()")
	}
	if upd.StrikeCount != nil {
		add("strike_count = $%d", *upd.StrikeCount)
	}
	if upd.Status != nil {
		add("status = $%d", *upd.Status)
	}
	if upd.EndedAt != nil {
		add("ended_at = $%d", *upd.EndedAt)
	}
	if upd.QuestionOrder != nil {
		add("question_order = $%d", upd.QuestionOrder)
	}

	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions SET `+strings.Join(sets, ", ")+`
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+sessionColumns, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, closedOrMissing(ctx, r.pool, id)
	}
	return s, err
}

// TransitionSession ends an active session. Only the first caller matches
// the status guard; later callers get the stored row and false.
func (r *SessionRepository) TransitionSession(ctx context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.TestSession, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET status = $2, ended_at = $3, version = version + 1
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+sessionColumns, id, to, endedAt))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	current, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// IncrementStrikes adds one strike to an active session.
func (r *SessionRepository) IncrementStrikes(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE test_sessions
		 SET strike_count = strike_count + 1, version = version + 1
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+sessionColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, closedOrMissing(ctx, r.pool, id)
	}
	return s, err
}
