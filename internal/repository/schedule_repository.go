package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// ScheduleRepository handles schedules, participants and the schedule question set.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

// GetSchedule retrieves a schedule by ID.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*model.TestSchedule, error) {
	s := &model.TestSchedule{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, start_time, end_time, duration_minutes,
		        (SELECT COUNT(*) FROM schedule_questions sq WHERE sq.schedule_id = ts.id),
		        token, is_published, shuffle_questions, shuffle_options, max_strikes,
		        created_at, updated_at
		 FROM test_schedules ts
		 WHERE id = $1`, id,
	).Scan(&s.ID, &s.Title, &s.Description, &s.StartTime, &s.EndTime, &s.DurationMinutes,
		&s.QuestionCount, &s.Token, &s.IsPublished, &s.ShuffleQuestions, &s.ShuffleOptions, &s.MaxStrikes,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// UpdateScheduleToken replaces the entry token of a schedule.
func (r *ScheduleRepository) UpdateScheduleToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE test_schedules SET token = $2, updated_at = NOW() WHERE id = $1`, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetParticipation retrieves the participant record of a user in a schedule.
func (r *ScheduleRepository) GetParticipation(ctx context.Context, scheduleID, userID uuid.UUID) (*model.ScheduleParticipant, error) {
	p := &model.ScheduleParticipant{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, schedule_id, user_id, status
		 FROM schedule_participants
		 WHERE schedule_id = $1 AND user_id = $2`, scheduleID, userID,
	).Scan(&p.ID, &p.ScheduleID, &p.UserID, &p.Status)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// UpdateParticipantStatus moves a participant forward. The current row is
// locked so two terminal writers cannot both pass the transition check.
func (r *ScheduleRepository) UpdateParticipantStatus(ctx context.Context, scheduleID, userID uuid.UUID, status model.ParticipantStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current model.ParticipantStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM schedule_participants
		 WHERE schedule_id = $1 AND user_id = $2
		 FOR UPDATE`, scheduleID, userID,
	).Scan(&current)
	if err != nil {
		return notFound(err)
	}
	if current == status {
		return nil
	}
	if !current.CanTransitionTo(status) {
		return store.ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx,
		`UPDATE schedule_participants SET status = $3, updated_at = NOW()
		 WHERE schedule_id = $1 AND user_id = $2`, scheduleID, userID, status,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListScheduleQuestions returns the questions assigned to a schedule in
// their stored order.
func (r *ScheduleRepository) ListScheduleQuestions(ctx context.Context, scheduleID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.category_id, c.name, c.color, q.type, q.question,
		        q.options, q.correct_answer, q.correct_answers,
		        q.left_items, q.right_items, q.correct_pairs, q.image_url, sq.order_index
		 FROM schedule_questions sq
		 JOIN questions q ON q.id = sq.question_id
		 LEFT JOIN question_categories c ON c.id = q.category_id
		 WHERE sq.schedule_id = $1
		 ORDER BY sq.order_index ASC, q.id ASC`, scheduleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q             model.Question
			categoryName  *string
			categoryColor *string
		)
		if err := rows.Scan(&q.ID, &q.CategoryID, &categoryName, &categoryColor, &q.Type, &q.Question,
			&q.Options, &q.CorrectAnswer, &q.CorrectAnswers,
			&q.LeftItems, &q.RightItems, &q.CorrectPairs, &q.ImageURL, &q.OrderIndex); err != nil {
			return nil, err
		}
		if q.CategoryID != nil && categoryName != nil {
			q.Category = &model.QuestionCategory{ID: *q.CategoryID, Name: *categoryName}
			if categoryColor != nil {
				q.Category.Color = *categoryColor
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
