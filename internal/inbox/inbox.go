// Package inbox keeps the queue of proctor messages shown to a participant
// during a live session.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

const previewLength = 50

// MessageStore is the part of the session store the inbox reads and writes.
type MessageStore interface {
	ListUnreadMessages(ctx context.Context, sessionID uuid.UUID) ([]model.TestMessage, error)
	MarkMessageRead(ctx context.Context, id uuid.UUID) error
}

// Notification is the transient toast raised for a newly surfaced message.
type Notification struct {
	MessageID uuid.UUID `json:"message_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Global    bool      `json:"global"`
}

// Inbox is safe for concurrent use.
type Inbox struct {
	store     MessageStore
	sessionID uuid.UUID
	notify    func(Notification)

	mu        sync.Mutex
	queue     []model.TestMessage
	dismissed map[uuid.UUID]struct{}
}

// New creates an inbox for one session. notify may be nil.
func New(s MessageStore, sessionID uuid.UUID, notify func(Notification)) *Inbox {
	return &Inbox{
		store:     s,
		sessionID: sessionID,
		notify:    notify,
		dismissed: make(map[uuid.UUID]struct{}),
	}
}

// Load fetches unread messages and surfaces the ones not yet queued.
func (b *Inbox) Load(ctx context.Context) error {
	msgs, err := b.store.ListUnreadMessages(ctx, b.sessionID)
	if err != nil {
		return fmt.Errorf("list unread messages: %w", err)
	}
	for _, m := range msgs {
		b.Receive(m)
	}
	return nil
}

// Receive surfaces a pushed message. Duplicates, read rows, rows of other
// sessions and messages dismissed earlier are ignored. It reports whether
// the message was added.
func (b *Inbox) Receive(m model.TestMessage) bool {
	if m.SessionID != b.sessionID || m.IsRead {
		return false
	}

	b.mu.Lock()
	if _, ok := b.dismissed[m.ID]; ok {
		b.mu.Unlock()
		return false
	}
	for _, q := range b.queue {
		if q.ID == m.ID {
			b.mu.Unlock()
			return false
		}
	}
	b.queue = append(b.queue, m)
	sort.SliceStable(b.queue, func(i, j int) bool {
		return b.queue[i].CreatedAt.After(b.queue[j].CreatedAt)
	})
	b.mu.Unlock()

	if b.notify != nil {
		b.notify(notificationFor(m))
	}
	return true
}

// Dismiss removes a message from the queue and marks it read. The local
// dismissal sticks even when the store write fails.
func (b *Inbox) Dismiss(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	b.dismissed[id] = struct{}{}
	for i, q := range b.queue {
		if q.ID == id {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	if err := b.store.MarkMessageRead(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// Messages returns the queue, newest first.
func (b *Inbox) Messages() []model.TestMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.TestMessage(nil), b.queue...)
}

func notificationFor(m model.TestMessage) Notification {
	n := Notification{MessageID: m.ID, Global: m.IsGlobal, Title: "Pesan dari admin", Preview: m.Message}
	if m.IsGlobal {
		n.Title = "Pesan broadcast dari admin"
	}
	if utf8.RuneCountInString(m.Message) > previewLength {
		n.Preview = string([]rune(m.Message)[:previewLength]) + "..."
	}
	return n
}
