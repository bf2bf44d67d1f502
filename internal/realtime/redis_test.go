package realtime

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newRedisChannel(t *testing.T) *RedisChannel {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisChannel(rdb, zerolog.Nop())
}

func TestRedisChannelRoundTrip(t *testing.T) {
	c := newRedisChannel(t)
	ctx := context.Background()
	sessionID, scheduleID := uuid.New(), uuid.New()

	sessionSub, err := c.SubscribeSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer sessionSub.Close()
	monitorSub, err := c.SubscribeSchedule(ctx, scheduleID)
	if err != nil {
		t.Fatalf("SubscribeSchedule: %v", err)
	}
	defer monitorSub.Close()

	ev := Event{
		Type:       EventSessionUpdated,
		SessionID:  sessionID,
		ScheduleID: scheduleID,
		Session:    &model.TestSession{ID: sessionID, TimeRemainingSeconds: 900, Version: 4},
	}
	if err := c.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := recv(t, sessionSub)
	if got.Type != EventSessionUpdated || got.Session.TimeRemainingSeconds != 900 || got.Session.Version != 4 {
		t.Fatalf("session subscriber got %+v", got)
	}
	if got := recv(t, monitorSub); got.SessionID != sessionID {
		t.Fatalf("monitor subscriber got %+v", got)
	}
}

func TestRedisSubscriptionCloseEndsStream(t *testing.T) {
	c := newRedisChannel(t)
	sub, err := c.SubscribeSession(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for range sub.Events() {
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
