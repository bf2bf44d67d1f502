package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/examutil"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
	"golang.org/x/sync/errgroup"
)

// Common session errors.
var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrNotEnrolled        = errors.New("user is not enrolled in this schedule")
	ErrAlreadyFinished    = errors.New("participation already finished")
	ErrScheduleNotOpen    = errors.New("schedule is not published")
	ErrSessionClosed      = errors.New("session is no longer active")
	ErrUnknownActivity    = errors.New("unknown activity type")
	ErrNoSessionUpdate    = errors.New("no session fields to update")
	ErrQuestionOutOfRange = errors.New("question index out of range")
	ErrStrikeDecrease     = errors.New("strike count cannot decrease")
	ErrQuestionOrderFixed = errors.New("question order is fixed at session creation")
)

// ownedSession loads a session and checks it belongs to the user and,
// when scheduleID is set, to that schedule. Foreign sessions look missing.
func ownedSession(ctx context.Context, s store.SessionStore, userID, sessionID, scheduleID uuid.UUID) (*model.TestSession, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != userID || (scheduleID != uuid.Nil && sess.ScheduleID != scheduleID) {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// SessionService owns session creation, resume and client session writes.
type SessionService struct {
	store             store.SessionStore
	submissions       *SubmissionService
	clock             clock.Clock
	defaultMaxStrikes int
	log               zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	s store.SessionStore,
	submissions *SubmissionService,
	c clock.Clock,
	defaultMaxStrikes int,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:             s,
		submissions:       submissions,
		clock:             c,
		defaultMaxStrikes: defaultMaxStrikes,
		log:               log.With().Str("component", "session_service").Logger(),
	}
}

// ScheduleState is what a participant needs to decide the entry screen.
type ScheduleState struct {
	Schedule         *model.TestSchedule        `json:"schedule"`
	Rules            model.ScheduleRules        `json:"rules"`
	Participation    *model.ScheduleParticipant `json:"participation"`
	Session          *model.TestSession         `json:"session,omitempty"`
	RemainingSeconds *int                       `json:"remaining_seconds,omitempty"`
}

// Entry bundles the reads the entry flow depends on.
type Entry struct {
	Schedule      *model.TestSchedule
	Participation *model.ScheduleParticipant
	Session       *model.TestSession
}

// LoadEntry fetches the schedule, the participation and any active session
// concurrently. A missing active session is not an error.
func (s *SessionService) LoadEntry(ctx context.Context, userID, scheduleID uuid.UUID) (*Entry, error) {
	var e Entry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sc, err := s.store.GetSchedule(gctx, scheduleID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrScheduleNotFound
			}
			return fmt.Errorf("get schedule: %w", err)
		}
		e.Schedule = sc
		return nil
	})
	g.Go(func() error {
		p, err := s.store.GetParticipation(gctx, scheduleID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotEnrolled
			}
			return fmt.Errorf("get participation: %w", err)
		}
		e.Participation = p
		return nil
	})
	g.Go(func() error {
		sess, err := s.store.GetActiveSession(gctx, scheduleID, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("get active session: %w", err)
		}
		e.Session = sess
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &e, nil
}

// State returns the entry state of a schedule for a participant.
func (s *SessionService) State(ctx context.Context, userID, scheduleID uuid.UUID) (*ScheduleState, error) {
	e, err := s.LoadEntry(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	st := &ScheduleState{
		Schedule:      e.Schedule,
		Rules:         e.Schedule.Rules(s.defaultMaxStrikes),
		Participation: e.Participation,
		Session:       e.Session,
	}
	if e.Session != nil {
		r := max(e.Session.EffectiveRemaining(s.clock.Now()), 0)
		st.RemainingSeconds = &r
	}
	return st, nil
}

// Join validates an entry token and returns the rules briefing. It has no
// side effects.
func (s *SessionService) Join(ctx context.Context, userID, scheduleID uuid.UUID, token string) (*model.ScheduleRules, error) {
	e, err := s.LoadEntry(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.CheckEntry(e, token); err != nil {
		return nil, err
	}
	rules := e.Schedule.Rules(s.defaultMaxStrikes)
	return &rules, nil
}

// CheckEntry applies the entry gates in order: finished participation,
// unpublished schedule, then the token and its window.
func (s *SessionService) CheckEntry(e *Entry, token string) error {
	if e.Participation.Status.IsTerminal() {
		return ErrAlreadyFinished
	}
	if !e.Schedule.IsPublished {
		return ErrScheduleNotOpen
	}
	return examutil.ValidateToken(token, e.Schedule, s.clock.Now())
}

// Start validates the token and returns the participant's active session,
// creating it when none exists. created reports whether a row was inserted.
func (s *SessionService) Start(ctx context.Context, userID, scheduleID uuid.UUID, token string) (sess *model.TestSession, created bool, err error) {
	e, err := s.LoadEntry(ctx, userID, scheduleID)
	if err != nil {
		return nil, false, err
	}
	if e.Session != nil {
		return e.Session, false, nil
	}
	if err := s.CheckEntry(e, token); err != nil {
		return nil, false, err
	}
	return s.Create(ctx, e.Schedule, userID)
}

// Create inserts a fresh session with its fixed question order and moves
// the participant to in_progress. A concurrent create for the same pair
// returns the session that won.
func (s *SessionService) Create(ctx context.Context, schedule *model.TestSchedule, userID uuid.UUID) (*model.TestSession, bool, error) {
	if !schedule.IsPublished {
		return nil, false, ErrScheduleNotOpen
	}
	questions, err := s.store.ListScheduleQuestions(ctx, schedule.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list questions: %w", err)
	}

	seed := examutil.NewSeed()
	sess := &model.TestSession{
		ScheduleID:           schedule.ID,
		UserID:               userID,
		TimeRemainingSeconds: schedule.DurationSeconds(),
		CurrentQuestionIndex: 0,
		StrikeCount:          0,
		Status:               model.SessionActive,
		RandomSeed:           seed,
		QuestionOrder:        examutil.Identity(len(questions)),
	}
	if schedule.ShuffleQuestions {
		sess.QuestionOrder = examutil.Permutation(len(questions), seed)
	}
	if schedule.ShuffleOptions {
		sess.OptionsOrder = make(map[uuid.UUID][]int)
		for i, q := range questions {
			if len(q.Options) > 1 {
				sess.OptionsOrder[q.ID] = examutil.Permutation(len(q.Options), seed+int64(i)+1)
			}
		}
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		existing, fetchErr := s.store.GetActiveSession(ctx, schedule.ID, userID)
		if fetchErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create session: %w", err)
	}

	if err := s.store.UpdateParticipantStatus(ctx, schedule.ID, userID, model.ParticipantInProgress); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to mark participant in progress")
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("schedule_id", schedule.ID.String()).
		Str("user_id", userID.String()).
		Int("questions", len(questions)).
		Msg("Session created")
	return sess, true, nil
}

// Questions returns the schedule's questions in the session's stored
// order. An order that no longer matches the question set falls back to
// the stored order index.
func (s *SessionService) Questions(ctx context.Context, sess *model.TestSession) ([]model.Question, error) {
	loaded, err := s.store.ListScheduleQuestions(ctx, sess.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	order := sess.QuestionOrder
	if !examutil.IsPermutation(order, len(loaded)) {
		s.log.Warn().
			Str("session_id", sess.ID.String()).
			Int("order_len", len(order)).
			Int("questions", len(loaded)).
			Msg("Stored question order does not match question set")
		order = examutil.Identity(len(loaded))
	}
	out := make([]model.Question, len(order))
	for i, idx := range order {
		out[i] = loaded[idx]
	}
	return out, nil
}

// Patch applies a client session write. Only allow-listed fields are
// accepted; a terminal status goes through the guarded transition and
// produces the session's result. Strikes only grow and end the session
// at the schedule limit. The question order is fixed at creation.
func (s *SessionService) Patch(ctx context.Context, userID uuid.UUID, req model.UpdateSessionRequest) (*model.TestSession, error) {
	upd, err := store.ParseSessionUpdate(req.Updates)
	if err != nil {
		return nil, err
	}
	if upd.IsEmpty() {
		return nil, ErrNoSessionUpdate
	}
	sess, err := ownedSession(ctx, s.store, userID, req.SessionID, uuid.Nil)
	if err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, ErrSessionClosed
	}

	var terminal *model.SessionStatus
	if upd.Status != nil {
		if upd.Status.IsTerminal() {
			terminal = upd.Status
		}
		upd.Status = nil
		upd.EndedAt = nil
	}
	if upd.CurrentQuestionIndex != nil && (*upd.CurrentQuestionIndex < 0 || *upd.CurrentQuestionIndex >= max(len(sess.QuestionOrder), 1)) {
		return nil, ErrQuestionOutOfRange
	}
	if upd.QuestionOrder != nil {
		return nil, ErrQuestionOrderFixed
	}
	if upd.StrikeCount != nil {
		if *upd.StrikeCount < sess.StrikeCount {
			return nil, ErrStrikeDecrease
		}
		schedule, err := s.store.GetSchedule(ctx, sess.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("get schedule: %w", err)
		}
		if *upd.StrikeCount >= schedule.StrikeLimit(s.defaultMaxStrikes) {
			forced := model.SessionForceSubmitted
			terminal = &forced
		}
	}

	if !upd.IsEmpty() {
		sess, err = s.store.UpdateSession(ctx, sess.ID, upd)
		if err != nil {
			if errors.Is(err, store.ErrSessionClosed) {
				return nil, ErrSessionClosed
			}
			return nil, fmt.Errorf("update session: %w", err)
		}
	}
	if terminal != nil {
		if _, err := s.submissions.Finalize(ctx, sess, *terminal); err != nil {
			return nil, err
		}
		return s.store.GetSession(ctx, sess.ID)
	}
	return sess, nil
}
