package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/scoring"
	"github.com/stemsi/exstem-proctor/internal/store"
	"golang.org/x/sync/errgroup"
)

// SubmissionService scores a session and records its single result.
type SubmissionService struct {
	store store.SessionStore
	clock clock.Clock
	log   zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(s store.SessionStore, c clock.Clock, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store: s,
		clock: c,
		log:   log.With().Str("component", "submission_service").Logger(),
	}
}

// Submit finalizes a session on behalf of its owner. Forced submissions
// end the session as force_submitted, others as completed.
func (s *SubmissionService) Submit(ctx context.Context, userID uuid.UUID, req model.SubmitRequest) (*model.TestResult, error) {
	sess, err := ownedSession(ctx, s.store, userID, req.SessionID, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	status := model.SessionCompleted
	if req.Forced {
		status = model.SessionForceSubmitted
	}
	return s.Finalize(ctx, sess, status)
}

// Finalize scores sess, moves it to status and stores its result. It is
// idempotent: concurrent or repeated calls return the one stored result.
// A session already ended by another writer keeps that writer's status.
func (s *SubmissionService) Finalize(ctx context.Context, sess *model.TestSession, status model.SessionStatus) (*model.TestResult, error) {
	if existing, err := s.store.GetResult(ctx, sess.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var (
		questions []model.Question
		answers   []model.UserAnswer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		questions, err = s.store.ListScheduleQuestions(gctx, sess.ScheduleID)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		answers, err = s.store.ListAnswers(gctx, sess.ID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byQuestion := make(map[uuid.UUID]model.UserAnswer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	score := scoring.Score(questions, byQuestion)

	final := sess
	if !sess.Status.IsTerminal() {
		ended, changed, err := s.store.TransitionSession(ctx, sess.ID, status, s.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("end session: %w", err)
		}
		final = ended
		if changed {
			s.log.Info().
				Str("session_id", sess.ID.String()).
				Str("status", string(final.Status)).
				Msg("Session ended")
		}
	}

	endedAt := s.clock.Now()
	if final.EndedAt != nil {
		endedAt = *final.EndedAt
	}
	result := &model.TestResult{
		SessionID:         sess.ID,
		UserID:            sess.UserID,
		ScheduleID:        sess.ScheduleID,
		TotalQuestions:    score.TotalQuestions,
		AnsweredQuestions: score.AnsweredQuestions,
		CorrectAnswers:    score.CorrectCount,
		Score:             score.Score,
		TimeSpentSeconds:  timeSpent(sess.StartedAt, endedAt),
		CategoryScores:    score.CategoryScores,
		Status:            model.ResultPending,
		SubmittedAt:       endedAt,
	}
	if final.Status == model.SessionForceSubmitted {
		result.Status = model.ResultForceSubmitted
	}

	stored, created, err := s.store.UpsertResult(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("store result: %w", err)
	}

	if err := s.store.UpdateParticipantStatus(ctx, sess.ScheduleID, sess.UserID, final.Status.ParticipantStatus()); err != nil &&
		!errors.Is(err, store.ErrInvalidTransition) && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to update participant status")
	}

	if created {
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Float64("score", stored.Score).
			Int("correct", stored.CorrectAnswers).
			Int("total", stored.TotalQuestions).
			Msg("Result recorded")
	}
	return stored, nil
}

func timeSpent(start, end time.Time) int {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int(end.Sub(start) / time.Second)
}
