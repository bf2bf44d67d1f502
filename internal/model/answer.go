package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UserAnswer is the single answer row of a question within a session.
type UserAnswer struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	QuestionID uuid.UUID       `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
	IsMarked   bool            `json:"is_marked"`
	AnsweredAt time.Time       `json:"answered_at"`
}

// HasAnswer reports whether a non-null answer is stored.
func (a *UserAnswer) HasAnswer() bool {
	return a != nil && len(a.Answer) > 0 && string(a.Answer) != "null"
}

// AnswerWrite is an upsert keyed by (session, question). A nil Answer
// leaves the stored answer untouched; a nil IsMarked leaves the flag.
type AnswerWrite struct {
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	Answer     json.RawMessage
	IsMarked   *bool
}

// SaveAnswerRequest is a client answer write.
type SaveAnswerRequest struct {
	QuestionID uuid.UUID       `json:"question_id" binding:"required"`
	Answer     json.RawMessage `json:"answer"`
}
