package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerRepository handles user_answers rows, one per (session, question).
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// UpsertAnswer writes an answer in place. A nil answer keeps the stored
// one and a nil mark keeps the stored flag. Sessions that are no longer
// active reject the write.
func (r *AnswerRepository) UpsertAnswer(ctx context.Context, w model.AnswerWrite) (*model.UserAnswer, error) {
	var answer any
	if w.Answer != nil {
		answer = []byte(w.Answer)
	}

	a := &model.UserAnswer{}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO user_answers (session_id, question_id, answer, is_marked, answered_at)
		 SELECT $1, $2, $3::jsonb, COALESCE($4::boolean, FALSE), $5
		 WHERE EXISTS (SELECT 1 FROM test_sessions WHERE id = $1 AND status = 'active')
		 ON CONFLICT (session_id, question_id) DO UPDATE
		 SET answer = COALESCE(EXCLUDED.answer, user_answers.answer),
		     is_marked = COALESCE($4::boolean, user_answers.is_marked),
		     answered_at = EXCLUDED.answered_at
		 RETURNING id, session_id, question_id, answer, is_marked, answered_at`,
		w.SessionID, w.QuestionID, answer, w.IsMarked, time.Now(),
	).Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Answer, &a.IsMarked, &a.AnsweredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, closedOrMissing(ctx, r.pool, w.SessionID)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAnswers returns every answer row of a session.
func (r *AnswerRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, question_id, answer, is_marked, answered_at
		 FROM user_answers
		 WHERE session_id = $1
		 ORDER BY answered_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.UserAnswer
	for rows.Next() {
		var a model.UserAnswer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Answer, &a.IsMarked, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
