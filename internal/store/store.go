// Package store defines the Session Store contract the proctoring core
// runs against. Implementations live in repository (PostgreSQL) and
// memstore (in-process).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSessionClosed is returned when a write targets a session that
	// already reached a terminal status.
	ErrSessionClosed = errors.New("session is no longer active")
	// ErrFieldNotAllowed is returned for session writes outside the
	// allowed field set.
	ErrFieldNotAllowed = errors.New("field is not writable")
	// ErrInvalidTransition is returned when a participant status would regress.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SessionStore is the transactional record store behind the exam core.
type SessionStore interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*model.TestSchedule, error)
	GetParticipation(ctx context.Context, scheduleID, userID uuid.UUID) (*model.ScheduleParticipant, error)
	// UpdateParticipantStatus moves a participant forward; regressions and
	// writes after a terminal status return ErrInvalidTransition.
	UpdateParticipantStatus(ctx context.Context, scheduleID, userID uuid.UUID, status model.ParticipantStatus) error

	// GetActiveSession returns ErrNotFound when the pair has no active session.
	GetActiveSession(ctx context.Context, scheduleID, userID uuid.UUID) (*model.TestSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.TestSession, error)
	ListActiveSessions(ctx context.Context, scheduleID uuid.UUID) ([]model.TestSession, error)
	// CreateSession inserts s and fills its generated fields.
	CreateSession(ctx context.Context, s *model.TestSession) error
	// UpdateSession applies a partial write. Writes to a session that is
	// no longer active return ErrSessionClosed.
	UpdateSession(ctx context.Context, id uuid.UUID, upd model.SessionUpdate) (*model.TestSession, error)
	// TransitionSession performs the terminal transition active -> to.
	// It reports false without error when the session was already terminal.
	TransitionSession(ctx context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.TestSession, bool, error)
	// IncrementStrikes adds one strike to an active session and returns the new count.
	IncrementStrikes(ctx context.Context, id uuid.UUID) (*model.TestSession, error)

	UpsertAnswer(ctx context.Context, w model.AnswerWrite) (*model.UserAnswer, error)
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.UserAnswer, error)

	InsertActivityLog(ctx context.Context, entry *model.ActivityLog) error
	ListActivityLogs(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLog, error)

	// UpsertResult stores the result keyed by session id. created is false
	// when a result already existed, in which case the stored row is returned.
	UpsertResult(ctx context.Context, r *model.TestResult) (stored *model.TestResult, created bool, err error)
	GetResult(ctx context.Context, sessionID uuid.UUID) (*model.TestResult, error)

	ListScheduleQuestions(ctx context.Context, scheduleID uuid.UUID) ([]model.Question, error)

	InsertMessage(ctx context.Context, m *model.TestMessage) error
	ListUnreadMessages(ctx context.Context, sessionID uuid.UUID) ([]model.TestMessage, error)
	MarkMessageRead(ctx context.Context, id uuid.UUID) error
}

// writableSessionFields is the allow-list for client session writes.
var writableSessionFields = map[string]bool{
	"current_question_index": true,
	"time_remaining_seconds": true,
	"strike_count":           true,
	"status":                 true,
	"ended_at":               true,
	"question_order":         true,
}

// ParseSessionUpdate decodes a raw field map into a SessionUpdate,
// rejecting any key outside the writable field set.
func ParseSessionUpdate(fields map[string]json.RawMessage) (model.SessionUpdate, error) {
	var upd model.SessionUpdate
	for key := range fields {
		if !writableSessionFields[key] {
			return upd, fmt.Errorf("%w: %s", ErrFieldNotAllowed, key)
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return upd, err
	}
	if err := json.Unmarshal(raw, &upd); err != nil {
		return upd, fmt.Errorf("%w: %v", ErrFieldNotAllowed, err)
	}
	if upd.Status != nil && *upd.Status != model.SessionActive && !upd.Status.IsTerminal() {
		return upd, fmt.Errorf("%w: status %q", ErrFieldNotAllowed, *upd.Status)
	}
	return upd, nil
}
