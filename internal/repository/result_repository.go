package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultRepository handles test_results, unique by session.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// UpsertResult inserts the result of a session. A concurrent or repeated
// insert loses to the stored row, which is returned with created=false.
func (r *ResultRepository) UpsertResult(ctx context.Context, res *model.TestResult) (*model.TestResult, bool, error) {
	stored := *res
	err := r.pool.QueryRow(ctx,
		`INSERT INTO test_results (session_id, user_id, schedule_id, total_questions, answered_questions,
		                           correct_answers, score, time_spent_seconds, category_scores, status, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING id`,
		res.SessionID, res.UserID, res.ScheduleID, res.TotalQuestions, res.AnsweredQuestions,
		res.CorrectAnswers, res.Score, res.TimeSpentSeconds, res.CategoryScores, res.Status, res.SubmittedAt,
	).Scan(&stored.ID)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.GetResult(ctx, res.SessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetResult retrieves the result of a session.
func (r *ResultRepository) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.TestResult, error) {
	res := &model.TestResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, user_id, schedule_id, total_questions, answered_questions,
		        correct_answers, score, time_spent_seconds, category_scores, status, submitted_at
		 FROM test_results
		 WHERE session_id = $1`, sessionID,
	).Scan(&res.ID, &res.SessionID, &res.UserID, &res.ScheduleID, &res.TotalQuestions, &res.AnsweredQuestions,
		&res.CorrectAnswers, &res.Score, &res.TimeSpentSeconds, &res.CategoryScores, &res.Status, &res.SubmittedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}
