package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// PublishingStore decorates a SessionStore so every committed session,
// message, activity and result write is published on a Channel. Publish
// failures are logged; the write itself has already succeeded.
type PublishingStore struct {
	store.SessionStore
	ch    Channel
	clock clock.Clock
	log   zerolog.Logger
}

var _ store.SessionStore = (*PublishingStore)(nil)

// NewPublishingStore creates a new PublishingStore.
func NewPublishingStore(inner store.SessionStore, ch Channel, c clock.Clock, log zerolog.Logger) *PublishingStore {
	return &PublishingStore{
		SessionStore: inner,
		ch:           ch,
		clock:        c,
		log:          log.With().Str("component", "publishing_store").Logger(),
	}
}

func (p *PublishingStore) publish(ctx context.Context, ev Event) {
	ev.At = p.clock.Now()
	if err := p.ch.Publish(ctx, ev); err != nil {
		p.log.Warn().Err(err).
			Str("type", string(ev.Type)).
			Str("session_id", ev.SessionID.String()).
			Msg("Failed to publish realtime event")
	}
}

func (p *PublishingStore) sessionEvent(ctx context.Context, s *model.TestSession) {
	p.publish(ctx, Event{
		Type:       EventSessionUpdated,
		SessionID:  s.ID,
		ScheduleID: s.ScheduleID,
		Session:    s.Clone(),
	})
}

// CreateSession inserts the session and publishes it.
func (p *PublishingStore) CreateSession(ctx context.Context, s *model.TestSession) error {
	if err := p.SessionStore.CreateSession(ctx, s); err != nil {
		return err
	}
	p.sessionEvent(ctx, s)
	return nil
}

// UpdateSession applies the update and publishes the new row.
func (p *PublishingStore) UpdateSession(ctx context.Context, id uuid.UUID, upd model.SessionUpdate) (*model.TestSession, error) {
	s, err := p.SessionStore.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	p.sessionEvent(ctx, s)
	return s, nil
}

// TransitionSession publishes only when the status actually changed.
func (p *PublishingStore) TransitionSession(ctx context.Context, id uuid.UUID, to model.SessionStatus, endedAt time.Time) (*model.TestSession, bool, error) {
	s, changed, err := p.SessionStore.TransitionSession(ctx, id, to, endedAt)
	if err != nil {
		return nil, false, err
	}
	if changed {
		p.sessionEvent(ctx, s)
	}
	return s, changed, nil
}

// IncrementStrikes adds a strike and publishes the new row.
func (p *PublishingStore) IncrementStrikes(ctx context.Context, id uuid.UUID) (*model.TestSession, error) {
	s, err := p.SessionStore.IncrementStrikes(ctx, id)
	if err != nil {
		return nil, err
	}
	p.sessionEvent(ctx, s)
	return s, nil
}

// InsertMessage stores a message and publishes it on the session topic.
func (p *PublishingStore) InsertMessage(ctx context.Context, m *model.TestMessage) error {
	if err := p.SessionStore.InsertMessage(ctx, m); err != nil {
		return err
	}
	cp := *m
	p.publish(ctx, Event{Type: EventMessageInserted, SessionID: m.SessionID, Message: &cp})
	return nil
}

// InsertActivityLog records an audit entry and publishes it.
func (p *PublishingStore) InsertActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	if err := p.SessionStore.InsertActivityLog(ctx, entry); err != nil {
		return err
	}
	cp := *entry
	ev := Event{Type: EventActivityLogged, Activity: &cp}
	if entry.SessionID != nil {
		ev.SessionID = *entry.SessionID
	}
	if entry.ScheduleID != nil {
		ev.ScheduleID = *entry.ScheduleID
	}
	p.publish(ctx, ev)
	return nil
}

// UpsertResult publishes the result the first time it is stored.
func (p *PublishingStore) UpsertResult(ctx context.Context, r *model.TestResult) (*model.TestResult, bool, error) {
	stored, created, err := p.SessionStore.UpsertResult(ctx, r)
	if err != nil {
		return nil, false, err
	}
	if created {
		cp := *stored
		p.publish(ctx, Event{
			Type:       EventResultSubmitted,
			SessionID:  stored.SessionID,
			ScheduleID: stored.ScheduleID,
			Result:     &cp,
		})
	}
	return stored, created, nil
}
