package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store/memstore"
)

// ─── TimeoutWorker ──────────────────────────────────────────────────

func TestTimeoutSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)
	mem := memstore.New(fc)
	log := zerolog.Nop()

	schedule := mem.AddSchedule(model.TestSchedule{
		Title:           "Tryout",
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(time.Hour),
		DurationMinutes: 10,
		QuestionCount:   1,
		IsPublished:     true,
	})
	correct := 0
	mem.AddQuestions(schedule.ID, model.Question{
		Type:          model.QuestionMultipleChoice,
		Question:      "Soal",
		Options:       []string{"A", "B"},
		CorrectAnswer: &correct,
	})

	short := &model.TestSession{ScheduleID: schedule.ID, UserID: uuid.New(), Status: model.SessionActive, TimeRemainingSeconds: 60}
	long := &model.TestSession{ScheduleID: schedule.ID, UserID: uuid.New(), Status: model.SessionActive, TimeRemainingSeconds: 600}
	for _, s := range []*model.TestSession{short, long} {
		if err := mem.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	submissions := service.NewSubmissionService(mem, fc, log)
	w := NewTimeoutWorker(mem, submissions, fc, time.Second, 10*time.Second, log)

	// Deadline reached but still inside the grace window.
	fc.Advance(65 * time.Second)
	if n := w.Sweep(ctx); n != 0 {
		t.Fatalf("Sweep inside grace ended %d sessions", n)
	}

	fc.Advance(10 * time.Second)
	if n := w.Sweep(ctx); n != 1 {
		t.Fatalf("Sweep ended %d sessions, want 1", n)
	}

	got, err := mem.GetSession(ctx, short.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.SessionTimeout {
		t.Errorf("status = %s, want timeout", got.Status)
	}
	res, err := mem.GetResult(ctx, short.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if res.TotalQuestions != 1 || res.AnsweredQuestions != 0 {
		t.Errorf("result = %+v", res)
	}

	other, _ := mem.GetSession(ctx, long.ID)
	if other.Status != model.SessionActive {
		t.Errorf("long session status = %s, want active", other.Status)
	}

	// Already ended sessions are not listed again.
	if n := w.Sweep(ctx); n != 0 {
		t.Errorf("second Sweep ended %d sessions", n)
	}
}

func TestTimeoutWorkerStartStops(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	mem := memstore.New(fc)
	w := NewTimeoutWorker(mem, service.NewSubmissionService(mem, fc, zerolog.Nop()), fc, time.Second, 0, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// ─── ActivityLogWorker ──────────────────────────────────────────────

type fakeWriter struct {
	mu       sync.Mutex
	copyErr  error
	failIDs  map[uuid.UUID]bool
	stored   []model.ActivityLog
	copies   int
	inserted int
}

func (f *fakeWriter) CopyActivityLogs(_ context.Context, batch []model.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies++
	if f.copyErr != nil {
		return f.copyErr
	}
	f.stored = append(f.stored, batch...)
	return nil
}

func (f *fakeWriter) InsertActivityLog(_ context.Context, e model.ActivityLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[e.ID] {
		return errors.New("insert failed")
	}
	f.inserted++
	f.stored = append(f.stored, e)
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

func newQueue(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func entry() model.ActivityLog {
	sid := uuid.New()
	return model.ActivityLog{
		ID:           uuid.New(),
		SessionID:    &sid,
		UserID:       uuid.New(),
		ActivityType: model.ActivityTabSwitch,
		ActionTaken:  model.ActionStrike,
		Details:      json.RawMessage(`{"count":1}`),
		CreatedAt:    time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestActivityLogWorkerDrainsQueue(t *testing.T) {
	mr, rdb := newQueue(t)
	writer := &fakeWriter{}
	w := NewActivityLogWorker(writer, rdb, zerolog.Nop())
	w.batchTimeout = 10 * time.Millisecond

	for i := 0; i < 3; i++ {
		data, _ := json.Marshal(entry())
		mr.RPush(config.WorkerKey.PersistActivityQueue, string(data))
	}
	mr.RPush(config.WorkerKey.PersistActivityQueue, "{not json")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for writer.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if got := writer.count(); got != 3 {
		t.Fatalf("stored %d rows, want 3", got)
	}
	if mr.Exists(config.WorkerKey.PersistActivityQueue) {
		t.Error("queue not drained")
	}
	if writer.stored[0].Details == nil || string(writer.stored[0].Details) != `{"count":1}` {
		t.Errorf("details = %s", writer.stored[0].Details)
	}
}

func TestActivityLogWorkerFallbackAndRequeue(t *testing.T) {
	mr, rdb := newQueue(t)
	bad := entry()
	writer := &fakeWriter{copyErr: errors.New("copy failed"), failIDs: map[uuid.UUID]bool{bad.ID: true}}
	w := NewActivityLogWorker(writer, rdb, zerolog.Nop())
	w.requeueBackoff = 0

	w.flushSafe(context.Background(), []model.ActivityLog{entry(), bad, entry()})

	if writer.copies != 1 || writer.inserted != 2 {
		t.Errorf("copies=%d inserted=%d, want 1 and 2", writer.copies, writer.inserted)
	}
	queued, err := mr.List(config.WorkerKey.PersistActivityQueue)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("requeued %d rows, want 1", len(queued))
	}
	var back model.ActivityLog
	if err := json.Unmarshal([]byte(queued[0]), &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != bad.ID {
		t.Errorf("requeued id = %s, want %s", back.ID, bad.ID)
	}
}
