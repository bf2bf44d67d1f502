// Package memstore is an in-process implementation of store.SessionStore.
// It backs the controller and service tests and single-node demos.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// ErrInjected is returned by operations armed with InjectFailure.
var ErrInjected = errors.New("memstore: injected failure")

type pairKey struct {
	a, b uuid.UUID
}

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	schedules    map[uuid.UUID]*model.TestSchedule
	participants map[pairKey]*model.ScheduleParticipant
	questions    map[uuid.UUID][]model.Question
	sessions     map[uuid.UUID]*model.TestSession
	answers      map[pairKey]*model.UserAnswer
	activity     []model.ActivityLog
	results      map[uuid.UUID]*model.TestResult
	messages     map[uuid.UUID]*model.TestMessage
	messageOrder []uuid.UUID
	failures     map[string]int
}

var _ store.SessionStore = (*Store)(nil)

// New returns an empty store stamping rows with c.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{
		clock:        c,
		schedules:    make(map[uuid.UUID]*model.TestSchedule),
		participants: make(map[pairKey]*model.ScheduleParticipant),
		questions:    make(map[uuid.UUID][]model.Question),
		sessions:     make(map[uuid.UUID]*model.TestSession),
		answers:      make(map[pairKey]*model.UserAnswer),
		results:      make(map[uuid.UUID]*model.TestResult),
		messages:     make(map[uuid.UUID]*model.TestMessage),
		failures:     make(map[string]int),
	}
}

// ─── Seeding ─────────────────────────────────────────────────────────

// AddSchedule stores a schedule, assigning an id when missing.
func (s *Store) AddSchedule(sc model.TestSchedule) *model.TestSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	cp := sc
	s.schedules[sc.ID] = &cp
	return &sc
}

// AddParticipant assigns a user to a schedule.
func (s *Store) AddParticipant(scheduleID, userID uuid.UUID, status model.ParticipantStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[pairKey{scheduleID, userID}] = &model.ScheduleParticipant{
		ID:         uuid.New(),
		ScheduleID: scheduleID,
		UserID:     userID,
		Status:     status,
	}
}

// AddQuestions appends questions to a schedule in order.
func (s *Store) AddQuestions(scheduleID uuid.UUID, qs ...model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range qs {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.OrderIndex = len(s.questions[scheduleID])
		s.questions[scheduleID] = append(s.questions[scheduleID], q)
	}
}

// InjectFailure makes the next n calls of op fail with ErrInjected.
// op is the method name, e.g. "UpsertAnswer".
func (s *Store) InjectFailure(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// AnswerCount returns the number of answer rows of a session.
func (s *Store) AnswerCount(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.answers {
		if k.a == sessionID {
			n++
		}
	}
	return n
}

// failLocked consumes one armed failure for op. Caller holds s.mu.
func (s *Store) failLocked(op string) error {
	if n := s.failures[op]; n > 0 {
		s.failures[op] = n - 1
		return ErrInjected
	}
	return nil
}

// ─── Schedules & participants ────────────────────────────────────────

func (s *Store) GetSchedule(_ context.Context, id uuid.UUID) (*model.TestSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("GetSchedule"); err != nil {
		return nil, err
	}
	sc, ok := s.schedules[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *Store) GetParticipation(_ context.Context, scheduleID, userID uuid.UUID) (*model.ScheduleParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pairKey{scheduleID, userID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateParticipantStatus(_ context.Context, scheduleID, userID uuid.UUID, status model.ParticipantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[pairKey{scheduleID, userID}]
	if !ok {
		return store.ErrNotFound
	}
	if p.Status == status {
		return nil
	}
	if !p.Status.CanTransitionTo(status) {
		return store.ErrInvalidTransition
	}
	p.Status = status
	return nil
}

// ─── Sessions ────────────────────────────────────────────────────────

func (s *Store) GetActiveSession(_ context.Context, scheduleID, userID uuid.UUID) (*model.TestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ScheduleID == scheduleID && sess.UserID == userID && sess.Status == model.SessionActive {
			return sess.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*model.TestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) ListActiveSessions(_ context.Context, scheduleID uuid.UUID) ([]model.TestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TestSession
	for _, sess := range s.sessions {
		if sess.Status != model.SessionActive {
			continue
		}
		if scheduleID != uuid.Nil && sess.ScheduleID != scheduleID {
			continue
		}
		out = append(out, *sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, sess *model.TestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("CreateSession"); err != nil {
		return err
	}
	for _, existing := range s.sessions {
		if existing.ScheduleID == sess.ScheduleID && existing.UserID == sess.UserID {
			return store.ErrSessionClosed
		}
	}
	now := s.clock.Now()
	sess.ID = uuid.New()
	sess.StartedAt = now
	sess.CheckpointedAt = now
	sess.Version = 1
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) UpdateSession(_ context.Context, id uuid.UUID, upd model.SessionUpdate) (*model.TestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UpdateSession"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sess.Status.IsTerminal() {
		return nil, store.ErrSessionClosed
	}
	upd.Apply(sess, s.clock.Now())
	return sess.Clone(), nil
}

func (s *Store) TransitionSession(_ context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.TestSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if sess.Status != model.SessionActive {
		return sess.Clone(), false, nil
	}
	sess.Status = to
	sess.EndedAt = &endedAt
	sess.Version++
	return sess.Clone(), true, nil
}

func (s *Store) IncrementStrikes(_ context.Context, id uuid.UUID) (*model.TestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sess.Status != model.SessionActive {
		return nil, store.ErrSessionClosed
	}
	sess.StrikeCount++
	sess.Version++
	return sess.Clone(), nil
}

// ─── Answers ─────────────────────────────────────────────────────────

func (s *Store) UpsertAnswer(_ context.Context, w model.AnswerWrite) (*model.UserAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UpsertAnswer"); err != nil {
		return nil, err
	}
	if sess, ok := s.sessions[w.SessionID]; ok && sess.Status.IsTerminal() {
		return nil, store.ErrSessionClosed
	}
	key := pairKey{w.SessionID, w.QuestionID}
	a, ok := s.answers[key]
	if !ok {
		a = &model.UserAnswer{ID: uuid.New(), SessionID: w.SessionID, QuestionID: w.QuestionID}
		s.answers[key] = a
	}
	if w.Answer != nil {
		a.Answer = append([]byte(nil), w.Answer...)
		a.AnsweredAt = s.clock.Now()
	}
	if w.IsMarked != nil {
		a.IsMarked = *w.IsMarked
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UserAnswer
	for k, a := range s.answers {
		if k.a == sessionID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID.String() < out[j].QuestionID.String() })
	return out, nil
}

// ─── Activity ────────────────────────────────────────────────────────

func (s *Store) InsertActivityLog(_ context.Context, entry *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	s.activity = append(s.activity, *entry)
	return nil
}

func (s *Store) ListActivityLogs(_ context.Context, sessionID uuid.UUID) ([]model.ActivityLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ActivityLog
	for _, l := range s.activity {
		if l.SessionID != nil && *l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}

// ─── Results ─────────────────────────────────────────────────────────

func (s *Store) UpsertResult(_ context.Context, r *model.TestResult) (*model.TestResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("UpsertResult"); err != nil {
		return nil, false, err
	}
	if existing, ok := s.results[r.SessionID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *r
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.SubmittedAt.IsZero() {
		cp.SubmittedAt = s.clock.Now()
	}
	s.results[r.SessionID] = &cp
	out := cp
	return &out, true, nil
}

func (s *Store) GetResult(_ context.Context, sessionID uuid.UUID) (*model.TestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ─── Questions ───────────────────────────────────────────────────────

func (s *Store) ListScheduleQuestions(_ context.Context, scheduleID uuid.UUID) ([]model.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked("ListScheduleQuestions"); err != nil {
		return nil, err
	}
	return append([]model.Question(nil), s.questions[scheduleID]...), nil
}

// ─── Messages ────────────────────────────────────────────────────────

func (s *Store) InsertMessage(_ context.Context, m *model.TestMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}
	cp := *m
	s.messages[m.ID] = &cp
	s.messageOrder = append(s.messageOrder, m.ID)
	return nil
}

func (s *Store) ListUnreadMessages(_ context.Context, sessionID uuid.UUID) ([]model.TestMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TestMessage
	for i := len(s.messageOrder) - 1; i >= 0; i-- {
		m := s.messages[s.messageOrder[i]]
		if m.SessionID == sessionID && !m.IsRead {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) MarkMessageRead(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.IsRead = true
	return nil
}
