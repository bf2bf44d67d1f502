package websocket

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/violation"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionToken       Action = "token"
	ActionAcknowledge Action = "acknowledge"
	ActionAnswer      Action = "answer"
	ActionMark        Action = "mark"
	ActionNavigate    Action = "navigate"
	ActionNext        Action = "next"
	ActionPrevious    Action = "previous"
	ActionSignal      Action = "signal"
	ActionDismiss     Action = "dismiss"
	ActionSubmit      Action = "submit"
	ActionSnapshot    Action = "snapshot"
	ActionPing        Action = "ping"
)

// Request is one client message. Which fields are read depends on Action.
type Request struct {
	Action     Action            `json:"action"`
	Token      string            `json:"token,omitempty"`
	QuestionID uuid.UUID         `json:"question_id,omitempty"`
	Answer     json.RawMessage   `json:"answer,omitempty"`
	Index      *int              `json:"index,omitempty"`
	MessageID  uuid.UUID         `json:"message_id,omitempty"`
	Signal     *violation.Signal `json:"signal,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot   Event = "snapshot"
	EventQuestions  Event = "questions"
	EventRules      Event = "rules"
	EventSession    Event = "session"
	EventFullscreen Event = "fullscreen_request"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// Response is one server message. Data carries the event payload.
type Response struct {
	Event Event  `json:"event"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
