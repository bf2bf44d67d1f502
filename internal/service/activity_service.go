package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// ActivityService applies the strike policy to reported violations.
type ActivityService struct {
	store             store.SessionStore
	submissions       *SubmissionService
	clock             clock.Clock
	defaultMaxStrikes int
	log               zerolog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(
	s store.SessionStore,
	submissions *SubmissionService,
	c clock.Clock,
	defaultMaxStrikes int,
	log zerolog.Logger,
) *ActivityService {
	return &ActivityService{
		store:             s,
		submissions:       submissions,
		clock:             c,
		defaultMaxStrikes: defaultMaxStrikes,
		log:               log.With().Str("component", "activity_service").Logger(),
	}
}

// Record adds one strike for a violation and writes the audit entry. When
// the strike count reaches the schedule limit the session is ended as
// force_submitted and scored.
func (s *ActivityService) Record(ctx context.Context, userID uuid.UUID, req model.LogActivityRequest) (*model.LogActivityResponse, error) {
	if !req.ActivityType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivity, req.ActivityType)
	}
	sess, err := ownedSession(ctx, s.store, userID, req.SessionID, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	schedule, err := s.store.GetSchedule(ctx, sess.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	limit := schedule.StrikeLimit(s.defaultMaxStrikes)

	updated, err := s.store.IncrementStrikes(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("increment strikes: %w", err)
	}
	terminated := updated.StrikeCount >= limit

	action := model.ActionStrike
	if terminated {
		action = model.ActionTerminated
	}
	entry := &model.ActivityLog{
		SessionID:    &sess.ID,
		UserID:       userID,
		ScheduleID:   &sess.ScheduleID,
		ActivityType: req.ActivityType,
		ActionTaken:  action,
		Details:      req.Metadata,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.InsertActivityLog(ctx, entry); err != nil {
		// The strike itself is committed; a lost audit row must not undo it.
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to write activity log")
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("activity", string(req.ActivityType)).
		Int("strikes", updated.StrikeCount).
		Int("limit", limit).
		Bool("terminated", terminated).
		Msg("Violation recorded")

	if terminated {
		if _, err := s.submissions.Finalize(ctx, updated, model.SessionForceSubmitted); err != nil {
			return nil, fmt.Errorf("terminate session: %w", err)
		}
	}

	return &model.LogActivityResponse{
		Success:     true,
		StrikeCount: updated.StrikeCount,
		Terminated:  terminated,
	}, nil
}

// List returns the audit trail of a session.
func (s *ActivityService) List(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLog, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	logs, err := s.store.ListActivityLogs(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return logs, nil
}
