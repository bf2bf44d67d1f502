// Package realtime delivers session row changes and proctor messages to
// subscribers scoped by session or by schedule. Delivery is at-least-once
// and subscribers must tolerate duplicates.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventType names a change notification.
type EventType string

const (
	EventSessionUpdated  EventType = "session_updated"
	EventMessageInserted EventType = "message_inserted"
	EventActivityLogged  EventType = "activity_logged"
	EventResultSubmitted EventType = "result_submitted"
)

// Event carries the full row affected by a change.
type Event struct {
	Type       EventType          `json:"type"`
	SessionID  uuid.UUID          `json:"session_id"`
	ScheduleID uuid.UUID          `json:"schedule_id"`
	Session    *model.TestSession `json:"session,omitempty"`
	Message    *model.TestMessage `json:"message,omitempty"`
	Activity   *model.ActivityLog `json:"activity,omitempty"`
	Result     *model.TestResult  `json:"result,omitempty"`
	At         time.Time          `json:"at"`
}

// Subscription is a scoped stream of events. Close releases it; Events is
// closed afterwards.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Channel is the realtime transport.
type Channel interface {
	Publish(ctx context.Context, ev Event) error
	SubscribeSession(ctx context.Context, sessionID uuid.UUID) (Subscription, error)
	SubscribeSchedule(ctx context.Context, scheduleID uuid.UUID) (Subscription, error)
}

// topics lists the channels an event is published on.
func topics(ev Event) []string {
	out := make([]string, 0, 2)
	if ev.SessionID != uuid.Nil {
		out = append(out, config.CacheKey.SessionEventsChannel(ev.SessionID))
	}
	if ev.ScheduleID != uuid.Nil {
		out = append(out, config.CacheKey.ScheduleMonitorChannel(ev.ScheduleID))
	}
	return out
}
