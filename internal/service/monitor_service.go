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
	"golang.org/x/sync/errgroup"
)

// broadcastConcurrency bounds parallel message inserts of one broadcast.
const broadcastConcurrency = 8

// MonitorService carries the proctor's out-of-band session controls.
type MonitorService struct {
	store       store.SessionStore
	submissions *SubmissionService
	clock       clock.Clock
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(s store.SessionStore, submissions *SubmissionService, c clock.Clock, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		store:       s,
		submissions: submissions,
		clock:       c,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// SessionSummary is one row of the live monitor.
type SessionSummary struct {
	model.TestSession
	RemainingSeconds int `json:"remaining_seconds"`
	AnsweredCount    int `json:"answered_count"`
}

// ListSessions returns the active sessions of a schedule with their
// derived remaining time and answered count.
func (s *MonitorService) ListSessions(ctx context.Context, scheduleID uuid.UUID) ([]SessionSummary, error) {
	if _, err := s.store.GetSchedule(ctx, scheduleID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	sessions, err := s.store.ListActiveSessions(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	now := s.clock.Now()
	out := make([]SessionSummary, len(sessions))
	var g errgroup.Group
	g.SetLimit(broadcastConcurrency)
	for i := range sessions {
		out[i] = SessionSummary{
			TestSession:      sessions[i],
			RemainingSeconds: max(sessions[i].EffectiveRemaining(now), 0),
		}
		g.Go(func() error {
			answers, err := s.store.ListAnswers(ctx, sessions[i].ID)
			if err != nil {
				// Answered counts are best-effort.
				s.log.Warn().Err(err).Str("session_id", sessions[i].ID.String()).Msg("Failed to count answers")
				return nil
			}
			n := 0
			for _, a := range answers {
				if a.HasAnswer() {
					n++
				}
			}
			out[i].AnsweredCount = n
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *MonitorService) session(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ForceStop ends a session as force_submitted and scores it.
func (s *MonitorService) ForceStop(ctx context.Context, adminID, sessionID uuid.UUID) (*model.TestResult, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionClosed
	}
	result, err := s.submissions.Finalize(ctx, sess, model.SessionForceSubmitted)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("session_id", sessionID.String()).
		Str("admin_id", adminID.String()).
		Msg("Session force stopped")
	return result, nil
}

// AdjustTime sets the remaining seconds, or shifts the current derived
// remaining time by a delta. The result never drops below zero.
func (s *MonitorService) AdjustTime(ctx context.Context, sessionID uuid.UUID, req model.AdjustTimeRequest) (*model.TestSession, error) {
	if (req.Seconds == nil) == (req.DeltaSeconds == nil) {
		return nil, ErrNoSessionUpdate
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var remaining int
	if req.Seconds != nil {
		remaining = *req.Seconds
	} else {
		remaining = max(sess.EffectiveRemaining(s.clock.Now()), 0) + *req.DeltaSeconds
	}
	remaining = max(remaining, 0)

	updated, err := s.store.UpdateSession(ctx, sessionID, model.SessionUpdate{TimeRemainingSeconds: &remaining})
	if err != nil {
		if errors.Is(err, store.ErrSessionClosed) {
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.log.Info().Str("session_id", sessionID.String()).Int("remaining", remaining).Msg("Session time adjusted")
	return updated, nil
}

// ResetStrikes clears a session's strike counter.
func (s *MonitorService) ResetStrikes(ctx context.Context, sessionID uuid.UUID) (*model.TestSession, error) {
	zero := 0
	updated, err := s.store.UpdateSession(ctx, sessionID, model.SessionUpdate{StrikeCount: &zero})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, store.ErrSessionClosed):
			return nil, ErrSessionClosed
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return updated, nil
}

// Sender identifies the proctor authoring a message.
type Sender struct {
	ID   uuid.UUID
	Name string
}

// SendMessage delivers a personal message to one active session.
func (s *MonitorService) SendMessage(ctx context.Context, from Sender, sessionID uuid.UUID, text string) (*model.TestMessage, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionClosed
	}
	msg := s.newMessage(from, sessionID, text, false)
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// Broadcast delivers a message to every active session of a schedule, one
// row per session. It returns the number of sessions reached.
func (s *MonitorService) Broadcast(ctx context.Context, from Sender, scheduleID uuid.UUID, text string) (int, error) {
	sessions, err := s.store.ListActiveSessions(ctx, scheduleID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, sess := range sessions {
		msg := s.newMessage(from, sess.ID, text, true)
		g.Go(func() error {
			if err := s.store.InsertMessage(gctx, msg); err != nil {
				return fmt.Errorf("insert message for %s: %w", msg.SessionID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	s.log.Info().Str("schedule_id", scheduleID.String()).Int("sessions", len(sessions)).Msg("Broadcast sent")
	return len(sessions), nil
}

func (s *MonitorService) newMessage(from Sender, sessionID uuid.UUID, text string, global bool) *model.TestMessage {
	m := &model.TestMessage{
		SessionID:  sessionID,
		SenderName: from.Name,
		Message:    text,
		IsGlobal:   global,
		CreatedAt:  s.clock.Now(),
	}
	if from.ID != uuid.Nil {
		id := from.ID
		m.SenderID = &id
	}
	if m.SenderName == "" {
		m.SenderName = "Admin"
	}
	return m
}
