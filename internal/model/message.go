package model

import (
	"time"

	"github.com/google/uuid"
)

// TestMessage is a note from a proctor to one session. Broadcasts are
// fanned out as one row per active session with IsGlobal set.
type TestMessage struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	SenderID   *uuid.UUID `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name"`
	Message    string     `json:"message"`
	IsGlobal   bool       `json:"is_global"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SendMessageRequest is an admin message payload.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required,min=1,max=2000"`
}

// AdjustTimeRequest sets or shifts a session's remaining time.
type AdjustTimeRequest struct {
	Seconds      *int `json:"seconds" binding:"omitempty,min=0,max=86400"`
	DeltaSeconds *int `json:"deltaSeconds" binding:"omitempty,min=-86400,max=86400"`
}
