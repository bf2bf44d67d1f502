package inbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store/memstore"
)

func TestInboxLoadAndDismiss(t *testing.T) {
	fc := clock.NewFake(time.Unix(100, 0))
	s := memstore.New(fc)
	sessionID := uuid.New()
	ctx := context.Background()

	older := &model.TestMessage{SessionID: sessionID, Message: "pertama", IsGlobal: true}
	_ = s.InsertMessage(ctx, older)
	fc.Advance(time.Minute)
	newer := &model.TestMessage{SessionID: sessionID, Message: "kedua"}
	_ = s.InsertMessage(ctx, newer)

	var notes []Notification
	b := New(s, sessionID, func(n Notification) { notes = append(notes, n) })
	if err := b.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	msgs := b.Messages()
	if len(msgs) != 2 || msgs[0].ID != newer.ID {
		t.Fatalf("queue = %+v, want newest first", msgs)
	}
	if len(notes) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notes))
	}

	if err := b.Dismiss(ctx, older.ID); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := b.Dismiss(ctx, older.ID); err != nil {
		t.Fatalf("second Dismiss: %v", err)
	}
	unread, _ := s.ListUnreadMessages(ctx, sessionID)
	if len(unread) != 1 || unread[0].ID != newer.ID {
		t.Fatalf("unread after dismiss = %+v", unread)
	}
	if got := b.Messages(); len(got) != 1 {
		t.Fatalf("queue after dismiss = %+v", got)
	}
}

func TestInboxIgnoresDismissedAndDuplicates(t *testing.T) {
	s := memstore.New(nil)
	sessionID := uuid.New()
	count := 0
	b := New(s, sessionID, func(Notification) { count++ })

	m := model.TestMessage{ID: uuid.New(), SessionID: sessionID, Message: "hai"}
	if !b.Receive(m) {
		t.Fatal("first delivery rejected")
	}
	if b.Receive(m) {
		t.Fatal("duplicate delivery accepted")
	}
	_ = b.Dismiss(context.Background(), m.ID)
	// The unread flag may lag behind; a stale redelivery must stay hidden.
	if b.Receive(m) {
		t.Fatal("dismissed message resurfaced")
	}
	if b.Receive(model.TestMessage{ID: uuid.New(), SessionID: uuid.New()}) {
		t.Fatal("message for another session accepted")
	}
	if count != 1 {
		t.Fatalf("notifications = %d, want 1", count)
	}
}

func TestNotificationPreview(t *testing.T) {
	long := strings.Repeat("a", 60)
	n := notificationFor(model.TestMessage{Message: long, IsGlobal: true})
	if n.Title != "Pesan broadcast dari admin" {
		t.Fatalf("title = %q", n.Title)
	}
	if n.Preview != strings.Repeat("a", 50)+"..." {
		t.Fatalf("preview = %q", n.Preview)
	}
	if n := notificationFor(model.TestMessage{Message: "pendek"}); n.Title != "Pesan dari admin" || n.Preview != "pendek" {
		t.Fatalf("personal notification = %+v", n)
	}
}
