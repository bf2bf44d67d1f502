// Package examsession drives one participant's attempt at a schedule:
// entry gating, the live question loop, strike escalation, submission and
// reconciliation with out-of-band proctor changes.
package examsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/countdown"
	"github.com/stemsi/exstem-proctor/internal/inbox"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/realtime"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// State is the controller's lifecycle state.
type State string

const (
	StateLoading            State = "loading"
	StateTokenEntry         State = "token_entry"
	StateRuleAcknowledgment State = "rule_acknowledgment"
	StateResuming           State = "resuming"
	StateActive             State = "active"
	StateCompleted          State = "completed"
	StateForceSubmitted     State = "force_submitted"
	StateError              State = "error"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateForceSubmitted || s == StateError
}

var (
	ErrNotEnrolled     = errors.New("not enrolled in this schedule")
	ErrInputFrozen     = errors.New("session no longer accepts input")
	ErrInvalidState    = errors.New("operation not allowed in the current state")
	ErrIndexOutOfRange = errors.New("question index out of range")
	ErrUnknownQuestion = errors.New("question is not part of this session")
)

// Recovery is the single way forward offered with a fatal error.
type Recovery string

const (
	RecoverySchedules Recovery = "schedules"
	RecoveryHistory   Recovery = "history"
)

// Failure is the fatal error view.
type Failure struct {
	Cause    string   `json:"cause"`
	Recovery Recovery `json:"recovery"`
}

// Deps are the collaborators of a controller.
type Deps struct {
	Store       store.SessionStore
	Sessions    *service.SessionService
	Activity    *service.ActivityService
	Submissions *service.SubmissionService
	Channel     realtime.Channel
	Clock       clock.Clock
	Log         zerolog.Logger
}

// Options tunes a controller. Zero values use the defaults.
type Options struct {
	CheckpointInterval time.Duration
	RetryBackoff       time.Duration
	DefaultMaxStrikes  int
}

const defaultRetryBackoff = 500 * time.Millisecond

// answerEntry is the single local record of a question's answer. seq
// increases on every local change so a late confirmation of an older
// write never overwrites a newer local value.
type answerEntry struct {
	answer   []byte
	isMarked bool
	seq      int
	saved    bool
}

// Controller is safe for concurrent use.
type Controller struct {
	deps       Deps
	opts       Options
	userID     uuid.UUID
	scheduleID uuid.UUID
	log        zerolog.Logger
	writes     *writer

	listenersMu sync.Mutex
	listeners   []func(Event)

	mu         sync.Mutex
	state      State
	failure    *Failure
	entry      *service.Entry
	schedule   *model.TestSchedule
	session    *model.TestSession
	confirmed  *model.TestSession
	questions  []model.Question
	qIndex     map[uuid.UUID]int
	answers    map[uuid.UUID]*answerEntry
	index      int
	navPending int
	strikes    int
	frozen     bool
	result     *model.TestResult
	inflight   *submitCall
	detector   *violation.Detector
	closed     bool

	countdown *countdown.Countdown
	inbox     *inbox.Inbox
	sub       realtime.Subscription
	stop      context.CancelFunc
}

type submitCall struct {
	done   chan struct{}
	result *model.TestResult
	err    error
}

// New creates a controller for one (user, schedule) pair in Loading.
func New(deps Deps, opts Options, userID, scheduleID uuid.UUID) *Controller {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	c := &Controller{
		deps:       deps,
		opts:       opts,
		userID:     userID,
		scheduleID: scheduleID,
		log: deps.Log.With().
			Str("component", "exam_session").
			Str("user_id", userID.String()).
			Str("schedule_id", scheduleID.String()).
			Logger(),
		state:   StateLoading,
		answers: make(map[uuid.UUID]*answerEntry),
	}
	c.writes = newWriter(opts.RetryBackoff, c.onWriteError)
	return c
}

// AttachDetector wires a violation detector. It is enabled only while the
// controller is Active.
func (c *Controller) AttachDetector(d *violation.Detector) {
	c.mu.Lock()
	c.detector = d
	active := c.state == StateActive && !c.frozen
	c.mu.Unlock()
	if active {
		d.Activate()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the fatal error view, if any.
func (c *Controller) Failure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		return nil
	}
	f := *c.failure
	return &f
}

// SessionID returns the id of the live session, or uuid.Nil before one exists.
func (c *Controller) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return uuid.Nil
	}
	return c.session.ID
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, State: s})
}

// fail moves to Error with a human-readable cause. Caller must not hold c.mu.
func (c *Controller) fail(cause string, recovery Recovery, err error) {
	c.mu.Lock()
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.leaveActiveLocked()
	c.state = StateError
	c.failure = &Failure{Cause: cause, Recovery: recovery}
	f := *c.failure
	c.mu.Unlock()

	c.log.Error().Err(err).Str("cause", cause).Msg("Exam session failed")
	c.emit(Event{Kind: EventState, State: StateError, Failure: &f})
}

// Load fetches the schedule, participation and any active session, then
// moves to TokenEntry or resumes the active session.
func (c *Controller) Load(ctx context.Context) error {
	if c.State() != StateLoading {
		return ErrInvalidState
	}
	entry, err := c.deps.Sessions.LoadEntry(ctx, c.userID, c.scheduleID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotEnrolled):
			c.fail("Anda tidak terdaftar pada ujian ini", RecoverySchedules, err)
			return ErrNotEnrolled
		case errors.Is(err, service.ErrScheduleNotFound):
			c.fail("Ujian tidak ditemukan", RecoverySchedules, err)
		default:
			c.fail("Gagal memuat data ujian", RecoverySchedules, err)
		}
		return err
	}

	c.mu.Lock()
	c.entry = entry
	c.schedule = entry.Schedule
	c.mu.Unlock()

	if entry.Participation.Status.IsTerminal() {
		c.fail("Anda sudah menyelesaikan ujian ini", RecoveryHistory, service.ErrAlreadyFinished)
		return service.ErrAlreadyFinished
	}
	if entry.Session != nil {
		c.setState(StateResuming)
		return c.resume(ctx, entry.Session)
	}
	c.setState(StateTokenEntry)
	return nil
}

// EnterToken validates an entry token. Failures leave the state unchanged.
func (c *Controller) EnterToken(token string) error {
	c.mu.Lock()
	if c.state != StateTokenEntry {
		c.mu.Unlock()
		return ErrInvalidState
	}
	entry := c.entry
	c.mu.Unlock()

	if err := c.deps.Sessions.CheckEntry(entry, token); err != nil {
		return err
	}
	c.setState(StateRuleAcknowledgment)
	return nil
}

// Rules returns the integrity briefing of the schedule.
func (c *Controller) Rules() (model.ScheduleRules, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schedule == nil {
		return model.ScheduleRules{}, ErrInvalidState
	}
	return c.schedule.Rules(c.opts.DefaultMaxStrikes), nil
}

// AcknowledgeRules creates the session and enters Active. A failed create
// returns to TokenEntry.
func (c *Controller) AcknowledgeRules(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRuleAcknowledgment {
		c.mu.Unlock()
		return ErrInvalidState
	}
	schedule := c.schedule
	c.mu.Unlock()

	sess, _, err := c.deps.Sessions.Create(ctx, schedule, c.userID)
	if err != nil {
		c.log.Warn().Err(err).Msg("Session creation failed")
		c.setState(StateTokenEntry)
		return err
	}
	return c.activate(ctx, sess, nil)
}

// resume re-applies the stored order, prior answers and position.
func (c *Controller) resume(ctx context.Context, sess *model.TestSession) error {
	answers, err := c.deps.Store.ListAnswers(ctx, sess.ID)
	if err != nil {
		c.fail("Gagal memuat jawaban sebelumnya", RecoverySchedules, err)
		return err
	}
	c.log.Info().Str("session_id", sess.ID.String()).Int("answers", len(answers)).Msg("Session resumed")
	return c.activate(ctx, sess, answers)
}

// activate loads the ordered questions and starts the countdown, the
// realtime subscription and the inbox.
func (c *Controller) activate(ctx context.Context, sess *model.TestSession, answers []model.UserAnswer) error {
	questions, err := c.deps.Sessions.Questions(ctx, sess)
	if err != nil {
		c.fail("Gagal memuat soal", RecoverySchedules, err)
		return err
	}

	var sub realtime.Subscription
	if c.deps.Channel != nil {
		sub, err = c.deps.Channel.SubscribeSession(ctx, sess.ID)
		if err != nil {
			c.log.Warn().Err(err).Msg("Realtime subscription unavailable, continuing without it")
			sub = nil
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	now := c.deps.Clock.Now()
	cd := countdown.New(c.deps.Clock, max(sess.EffectiveRemaining(now), 0), countdown.Options{
		CheckpointInterval: c.opts.CheckpointInterval,
		Checkpoint:         c.checkpoint,
		OnTick:             func(r int) { c.emit(Event{Kind: EventTick, Remaining: intPtr(r)}) },
		OnTimeUp:           func() { go c.timeUp() },
		OnCheckpointError: func(err error) {
			c.log.Warn().Err(err).Msg("Failed to checkpoint remaining time")
		},
	})
	ib := inbox.New(c.deps.Store, sess.ID, func(n inbox.Notification) {
		c.emit(Event{Kind: EventMessage, Notification: &n})
	})

	c.mu.Lock()
	if c.closed || c.state.IsTerminal() {
		c.mu.Unlock()
		stop()
		if sub != nil {
			_ = sub.Close()
		}
		return ErrInvalidState
	}
	c.session = sess.Clone()
	c.confirmed = sess.Clone()
	c.questions = questions
	c.qIndex = make(map[uuid.UUID]int, len(questions))
	for i, q := range questions {
		c.qIndex[q.ID] = i
	}
	for _, a := range answers {
		c.answers[a.QuestionID] = &answerEntry{answer: a.Answer, isMarked: a.IsMarked, saved: true}
	}
	c.index = 0
	if sess.CurrentQuestionIndex >= 0 && sess.CurrentQuestionIndex < len(questions) {
		c.index = sess.CurrentQuestionIndex
	}
	c.strikes = sess.StrikeCount
	c.countdown = cd
	c.inbox = ib
	c.sub = sub
	c.stop = stop
	c.state = StateActive
	detector := c.detector
	c.mu.Unlock()

	if sub != nil {
		go c.listen(runCtx, sub)
	}
	go cd.Run(runCtx)
	go func() {
		if err := ib.Load(runCtx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to load unread messages")
		}
	}()
	if detector != nil {
		detector.Activate()
	}

	c.emit(Event{Kind: EventState, State: StateActive})
	return nil
}

// leaveActiveLocked releases everything acquired by activate. It runs on
// every exit from Active. Caller holds c.mu.
func (c *Controller) leaveActiveLocked() {
	c.frozen = true
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	if c.countdown != nil {
		c.countdown.Stop()
	}
	if c.sub != nil {
		_ = c.sub.Close()
		c.sub = nil
	}
	if c.detector != nil {
		c.detector.Deactivate()
	}
}

// finish moves to a terminal state once. A later call only fills in a
// missing result.
func (c *Controller) finish(state State, result *model.TestResult) {
	c.mu.Lock()
	if c.result == nil && result != nil {
		c.result = result
	}
	if c.state.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.leaveActiveLocked()
	c.state = state
	res := c.result
	c.mu.Unlock()

	c.log.Info().Str("state", string(state)).Msg("Exam session finished")
	c.emit(Event{Kind: EventState, State: state, Result: res})
}

// Close tears the controller down. Queued writes still complete.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.leaveActiveLocked()
	c.mu.Unlock()
	c.writes.close()
}

// WaitIdle blocks until every queued write has finished.
func (c *Controller) WaitIdle() {
	c.writes.wait()
}
