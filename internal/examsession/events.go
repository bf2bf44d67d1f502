package examsession

import (
	"encoding/json"
	"slices"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/inbox"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventKind names a change pushed to the participant's transport.
type EventKind string

const (
	EventState        EventKind = "state"
	EventTick         EventKind = "tick"
	EventAnswer       EventKind = "answer"
	EventNavigate     EventKind = "navigate"
	EventStrike       EventKind = "strike"
	EventTimeAdjusted EventKind = "time_adjusted"
	EventMessage      EventKind = "message"
	EventError        EventKind = "error"
)

// Event is delivered to listeners registered with OnEvent.
type Event struct {
	Kind         EventKind           `json:"kind"`
	State        State               `json:"state,omitempty"`
	Remaining    *int                `json:"remaining,omitempty"`
	Index        *int                `json:"index,omitempty"`
	Strikes      *int                `json:"strikes,omitempty"`
	Answer       *AnswerView         `json:"answer,omitempty"`
	Notification *inbox.Notification `json:"notification,omitempty"`
	Failure      *Failure            `json:"failure,omitempty"`
	Result       *model.TestResult   `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// AnswerView is the local answer entry of one question. Saved is false
// while the entry is ahead of the last confirmed write.
type AnswerView struct {
	QuestionID uuid.UUID       `json:"question_id"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	IsMarked   bool            `json:"is_marked"`
	Saved      bool            `json:"saved"`
}

func intPtr(v int) *int { return &v }

// OnEvent registers a listener. Listeners run on controller goroutines and
// must not block or call back into the controller synchronously.
func (c *Controller) OnEvent(fn func(Event)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

func (c *Controller) emit(ev Event) {
	c.listenersMu.Lock()
	ls := slices.Clone(c.listeners)
	c.listenersMu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}
