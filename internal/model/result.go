package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultStatus is the review state of a result.
type ResultStatus string

const (
	ResultPending        ResultStatus = "pending"
	ResultForceSubmitted ResultStatus = "force_submitted"
)

// TestResult is the single scored outcome of a session.
type TestResult struct {
	ID                uuid.UUID          `json:"id"`
	SessionID         uuid.UUID          `json:"session_id"`
	UserID            uuid.UUID          `json:"user_id"`
	ScheduleID        uuid.UUID          `json:"schedule_id"`
	TotalQuestions    int                `json:"total_questions"`
	AnsweredQuestions int                `json:"answered_questions"`
	CorrectAnswers    int                `json:"correct_answers"`
	Score             float64            `json:"score"`
	TimeSpentSeconds  int                `json:"time_spent_seconds"`
	CategoryScores    map[string]float64 `json:"category_scores"`
	Status            ResultStatus       `json:"status"`
	SubmittedAt       time.Time          `json:"submitted_at"`
}

// SubmitRequest is the payload of POST /test/submit.
type SubmitRequest struct {
	SessionID  uuid.UUID `json:"sessionId" binding:"required"`
	ScheduleID uuid.UUID `json:"scheduleId" binding:"required"`
	Forced     bool      `json:"forced"`
}

// SubmitResponse wraps the stored result.
type SubmitResponse struct {
	Success bool        `json:"success"`
	Result  *TestResult `json:"result"`
}
