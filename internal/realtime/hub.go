package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// Hub is an in-process Channel for single-node deployments and tests.
// A subscriber that falls behind by more than its buffer loses events.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*hubSubscription]struct{}
	buffer int
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*hubSubscription]struct{}),
		buffer: 256,
	}
}

// Publish fans ev out to the subscribers of its session and schedule.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range topics(ev) {
		for sub := range h.topics[topic] {
			sub.deliver(ev)
		}
	}
	return nil
}

// SubscribeSession registers a subscriber for one session topic.
func (h *Hub) SubscribeSession(_ context.Context, sessionID uuid.UUID) (Subscription, error) {
	return h.subscribe(config.CacheKey.SessionEventsChannel(sessionID)), nil
}

// SubscribeSchedule registers a subscriber for one schedule topic.
func (h *Hub) SubscribeSchedule(_ context.Context, scheduleID uuid.UUID) (Subscription, error) {
	return h.subscribe(config.CacheKey.ScheduleMonitorChannel(scheduleID)), nil
}

// Subscribers returns the number of live subscriptions on a session.
func (h *Hub) Subscribers(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[config.CacheKey.SessionEventsChannel(sessionID)])
}

func (h *Hub) subscribe(topic string) *hubSubscription {
	sub := &hubSubscription{hub: h, topic: topic, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*hubSubscription]struct{})
	}
	h.topics[topic][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

type hubSubscription struct {
	hub   *Hub
	topic string

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *hubSubscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *hubSubscription) Events() <-chan Event { return s.ch }

func (s *hubSubscription) Close() error {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
