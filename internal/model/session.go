package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates test session states.
type SessionStatus string

const (
	SessionActive         SessionStatus = "active"
	SessionCompleted      SessionStatus = "completed"
	SessionForceSubmitted SessionStatus = "force_submitted"
	SessionTimeout        SessionStatus = "timeout"
)

// IsTerminal reports whether the session has ended.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionForceSubmitted || s == SessionTimeout
}

// ParticipantStatus maps a terminal session status onto the participant record.
func (s SessionStatus) ParticipantStatus() ParticipantStatus {
	switch s {
	case SessionCompleted, SessionTimeout:
		return ParticipantCompleted
	case SessionForceSubmitted:
		return ParticipantForceSubmitted
	default:
		return ParticipantInProgress
	}
}

// TestSession is one live attempt of a user at a schedule.
type TestSession struct {
	ID                   uuid.UUID           `json:"id"`
	ScheduleID           uuid.UUID           `json:"schedule_id"`
	UserID               uuid.UUID           `json:"user_id"`
	StartedAt            time.Time           `json:"started_at"`
	EndedAt              *time.Time          `json:"ended_at,omitempty"`
	TimeRemainingSeconds int                 `json:"time_remaining_seconds"`
	CheckpointedAt       time.Time           `json:"checkpointed_at"`
	CurrentQuestionIndex int                 `json:"current_question_index"`
	StrikeCount          int                 `json:"strike_count"`
	Status               SessionStatus       `json:"status"`
	QuestionOrder        []int               `json:"question_order"`
	OptionsOrder         map[uuid.UUID][]int `json:"options_order,omitempty"`
	RandomSeed           int64               `json:"random_seed"`
	Version              int64               `json:"version"`
}

// EffectiveRemaining derives the remaining seconds at now from the last
// checkpoint. The result may be negative once the deadline has passed.
func (s *TestSession) EffectiveRemaining(now time.Time) int {
	if s.CheckpointedAt.IsZero() {
		return s.TimeRemainingSeconds
	}
	elapsed := int(now.Sub(s.CheckpointedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return s.TimeRemainingSeconds - elapsed
}

// Clone returns a deep copy.
func (s *TestSession) Clone() *TestSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	if s.QuestionOrder != nil {
		c.QuestionOrder = append([]int(nil), s.QuestionOrder...)
	}
	if s.OptionsOrder != nil {
		c.OptionsOrder = make(map[uuid.UUID][]int, len(s.OptionsOrder))
		for k, v := range s.OptionsOrder {
			c.OptionsOrder[k] = append([]int(nil), v...)
		}
	}
	return &c
}

// SessionUpdate is a partial write to a session row. Only the fields
// present here may be written through the session update path.
type SessionUpdate struct {
	CurrentQuestionIndex *int           `json:"current_question_index,omitempty"`
	TimeRemainingSeconds *int           `json:"time_remaining_seconds,omitempty"`
	StrikeCount          *int           `json:"strike_count,omitempty"`
	Status               *SessionStatus `json:"status,omitempty"`
	EndedAt              *time.Time     `json:"ended_at,omitempty"`
	QuestionOrder        []int          `json:"question_order,omitempty"`
}

// IsEmpty reports whether the update carries no field.
func (u SessionUpdate) IsEmpty() bool {
	return u.CurrentQuestionIndex == nil && u.TimeRemainingSeconds == nil &&
		u.StrikeCount == nil && u.Status == nil && u.EndedAt == nil && u.QuestionOrder == nil
}

// Apply writes the update onto s and bumps its version.
func (u SessionUpdate) Apply(s *TestSession, now time.Time) {
	if u.CurrentQuestionIndex != nil {
		s.CurrentQuestionIndex = *u.CurrentQuestionIndex
	}
	if u.TimeRemainingSeconds != nil {
		s.TimeRemainingSeconds = *u.TimeRemainingSeconds
		s.CheckpointedAt = now
	}
	if u.StrikeCount != nil {
		s.StrikeCount = *u.StrikeCount
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
	if u.QuestionOrder != nil {
		s.QuestionOrder = append([]int(nil), u.QuestionOrder...)
	}
	s.Version++
}

// UpdateSessionRequest is the payload of PATCH /test/session.
type UpdateSessionRequest struct {
	SessionID uuid.UUID                  `json:"sessionId" binding:"required"`
	Updates   map[string]json.RawMessage `json:"updates" binding:"required"`
}

// CreateSessionRequest is the payload for starting a session.
type CreateSessionRequest struct {
	ScheduleID uuid.UUID `json:"scheduleId" binding:"required"`
	Token      string    `json:"token" binding:"required,max=32"`
}

// JoinScheduleRequest is the payload for validating an entry token.
type JoinScheduleRequest struct {
	Token string `json:"token" binding:"required,max=32"`
}
