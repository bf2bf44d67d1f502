package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/examutil"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store/memstore"
)

type env struct {
	ctx         context.Context
	mem         *memstore.Store
	clock       *clock.Fake
	sessions    *SessionService
	activity    *ActivityService
	submissions *SubmissionService
	monitor     *MonitorService
	schedule    *model.TestSchedule
	questions   []model.Question
}

func newEnv(t *testing.T, sc model.TestSchedule) *env {
	t.Helper()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)
	mem := memstore.New(fc)
	log := zerolog.Nop()

	if sc.Title == "" {
		sc.Title = "Tryout Matematika"
	}
	if sc.StartTime.IsZero() {
		sc.StartTime = now.Add(-time.Hour)
		sc.EndTime = now.Add(2 * time.Hour)
	}
	if sc.DurationMinutes == 0 {
		sc.DurationMinutes = 30
	}
	if sc.Token == "" {
		sc.Token = "ABC123"
	}
	sc.QuestionCount = 4

	submissions := NewSubmissionService(mem, fc, log)
	e := &env{
		ctx:         context.Background(),
		mem:         mem,
		clock:       fc,
		sessions:    NewSessionService(mem, submissions, fc, model.DefaultMaxStrikes, log),
		activity:    NewActivityService(mem, submissions, fc, model.DefaultMaxStrikes, log),
		submissions: submissions,
		monitor:     NewMonitorService(mem, submissions, fc, log),
		schedule:    mem.AddSchedule(sc),
	}
	for i := 0; i < 4; i++ {
		correct := i % 4
		mem.AddQuestions(e.schedule.ID, model.Question{
			Type:          model.QuestionMultipleChoice,
			Question:      fmt.Sprintf("Soal %d", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: &correct,
		})
	}
	qs, err := mem.ListScheduleQuestions(e.ctx, e.schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	e.questions = qs
	return e
}

func (e *env) enroll(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	e.mem.AddParticipant(e.schedule.ID, id, model.ParticipantAssigned)
	return id
}

func (e *env) start(t *testing.T, userID uuid.UUID) *model.TestSession {
	t.Helper()
	sess, _, err := e.sessions.Start(e.ctx, userID, e.schedule.ID, e.schedule.Token)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return sess
}

// ─── SessionService ─────────────────────────────────────────────────

func TestStartCreatesThenResumes(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	user := e.enroll(t)

	sess, created, err := e.sessions.Start(e.ctx, user, e.schedule.ID, "abc123")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !created {
		t.Error("first Start did not create")
	}
	if sess.TimeRemainingSeconds != 1800 || sess.Status != model.SessionActive {
		t.Errorf("session = %+v", sess)
	}
	if !examutil.IsPermutation(sess.QuestionOrder, 4) {
		t.Errorf("order %v is not a permutation of 4", sess.QuestionOrder)
	}
	p, _ := e.mem.GetParticipation(e.ctx, e.schedule.ID, user)
	if p.Status != model.ParticipantInProgress {
		t.Errorf("participant = %s, want in_progress", p.Status)
	}

	// Resume skips the token check.
	again, created, err := e.sessions.Start(e.ctx, user, e.schedule.ID, "")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if created || again.ID != sess.ID {
		t.Errorf("resume created=%v id=%s, want existing %s", created, again.ID, sess.ID)
	}
}

func TestStartRejections(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	done := uuid.New()
	e.mem.AddParticipant(e.schedule.ID, done, model.ParticipantCompleted)

	hidden := newEnv(t, model.TestSchedule{})
	hiddenUser := hidden.enroll(t)

	tests := []struct {
		name     string
		env      *env
		user     uuid.UUID
		schedule uuid.UUID
		token    string
		want     error
	}{
		{"not enrolled", e, uuid.New(), e.schedule.ID, "ABC123", ErrNotEnrolled},
		{"already finished", e, done, e.schedule.ID, "ABC123", ErrAlreadyFinished},
		{"unpublished", hidden, hiddenUser, hidden.schedule.ID, "ABC123", ErrScheduleNotOpen},
		{"empty token", e, e.enroll(t), e.schedule.ID, "  ", examutil.ErrTokenEmpty},
		{"wrong token", e, e.enroll(t), e.schedule.ID, "XYZ999", examutil.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.env.sessions.Start(tt.env.ctx, tt.user, tt.schedule, tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJoinOutsideWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	early := newEnv(t, model.TestSchedule{IsPublished: true, StartTime: now.Add(time.Hour), EndTime: now.Add(3 * time.Hour)})
	if _, err := early.sessions.Join(early.ctx, early.enroll(t), early.schedule.ID, "ABC123"); !errors.Is(err, examutil.ErrNotStarted) {
		t.Errorf("early join err = %v", err)
	}
	late := newEnv(t, model.TestSchedule{IsPublished: true, StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-time.Hour)})
	if _, err := late.sessions.Join(late.ctx, late.enroll(t), late.schedule.ID, "ABC123"); !errors.Is(err, examutil.ErrEnded) {
		t.Errorf("late join err = %v", err)
	}
}

func TestShuffledQuestionsFollowStoredOrder(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true, ShuffleQuestions: true, ShuffleOptions: true})
	sess := e.start(t, e.enroll(t))

	if len(sess.OptionsOrder) != 4 {
		t.Errorf("options orders = %d, want 4", len(sess.OptionsOrder))
	}
	qs, err := e.sessions.Questions(e.ctx, sess)
	if err != nil {
		t.Fatal(err)
	}
	for i, idx := range sess.QuestionOrder {
		if qs[i].ID != e.questions[idx].ID {
			t.Errorf("position %d = %s, want question %d", i, qs[i].ID, idx)
		}
	}

	// A stale order falls back to the stored order index.
	stale := sess.Clone()
	stale.QuestionOrder = []int{0, 0, 1}
	qs, err = e.sessions.Questions(e.ctx, stale)
	if err != nil {
		t.Fatal(err)
	}
	for i := range qs {
		if qs[i].ID != e.questions[i].ID {
			t.Errorf("fallback position %d out of order", i)
		}
	}
}

func TestPatchTerminalStatusFinalizes(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	user := e.enroll(t)
	sess := e.start(t, user)

	got, err := e.sessions.Patch(e.ctx, user, model.UpdateSessionRequest{
		SessionID: sess.ID,
		Updates: map[string]json.RawMessage{
			"current_question_index": json.RawMessage(`1`),
			"status":                 json.RawMessage(`"completed"`),
		},
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if got.Status != model.SessionCompleted || got.CurrentQuestionIndex != 1 || got.EndedAt == nil {
		t.Errorf("session = %+v", got)
	}
	if _, err := e.mem.GetResult(e.ctx, sess.ID); err != nil {
		t.Errorf("no result after terminal patch: %v", err)
	}

	_, err = e.sessions.Patch(e.ctx, user, model.UpdateSessionRequest{
		SessionID: sess.ID,
		Updates:   map[string]json.RawMessage{"current_question_index": json.RawMessage(`0`)},
	})
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("patch after end err = %v, want ErrSessionClosed", err)
	}
}

func TestPatchForeignSessionLooksMissing(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	sess := e.start(t, e.enroll(t))

	_, err := e.sessions.Patch(e.ctx, uuid.New(), model.UpdateSessionRequest{
		SessionID: sess.ID,
		Updates:   map[string]json.RawMessage{"current_question_index": json.RawMessage(`1`)},
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestPatchSession(t *testing.T) {
	tests := []struct {
		name       string
		strikes    int
		updates    map[string]json.RawMessage
		wantErr    error
		wantStatus model.SessionStatus
	}{
		{
			name:    "lowering strikes",
			strikes: 2,
			updates: map[string]json.RawMessage{"strike_count": json.RawMessage(`0`)},
			wantErr: ErrStrikeDecrease,
		},
		{
			name:    "rewriting question order",
			updates: map[string]json.RawMessage{"question_order": json.RawMessage(`[0,0,0,0]`)},
			wantErr: ErrQuestionOrderFixed,
		},
		{
			name:       "same strike count keeps session",
			strikes:    1,
			updates:    map[string]json.RawMessage{"strike_count": json.RawMessage(`1`)},
			wantStatus: model.SessionActive,
		},
		{
			name:       "strikes reaching limit terminate",
			strikes:    1,
			updates:    map[string]json.RawMessage{"strike_count": json.RawMessage(`3`)},
			wantStatus: model.SessionForceSubmitted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, model.TestSchedule{IsPublished: true, MaxStrikes: 3})
			user := e.enroll(t)
			sess := e.start(t, user)
			req := model.LogActivityRequest{SessionID: sess.ID, ScheduleID: e.schedule.ID, ActivityType: model.ActivityTabSwitch}
			for i := 0; i < tt.strikes; i++ {
				if _, err := e.activity.Record(e.ctx, user, req); err != nil {
					t.Fatal(err)
				}
			}

			got, err := e.sessions.Patch(e.ctx, user, model.UpdateSessionRequest{SessionID: sess.ID, Updates: tt.updates})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				stored, _ := e.mem.GetSession(e.ctx, sess.ID)
				if stored.StrikeCount != tt.strikes {
					t.Errorf("strikes = %d, want %d", stored.StrikeCount, tt.strikes)
				}
				if !examutil.IsPermutation(stored.QuestionOrder, len(e.questions)) {
					t.Errorf("question order = %v", stored.QuestionOrder)
				}
				return
			}
			if err != nil {
				t.Fatalf("Patch: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if tt.wantStatus.IsTerminal() {
				res, err := e.mem.GetResult(e.ctx, sess.ID)
				if err != nil || res.Status != model.ResultForceSubmitted {
					t.Errorf("result = %+v, err = %v", res, err)
				}
			}
		})
	}
}

// ─── SubmissionService ──────────────────────────────────────────────

func TestFinalizeIsIdempotentUnderConcurrency(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	user := e.enroll(t)
	sess := e.start(t, user)

	for i, q := range e.questions[:3] {
		ans := json.RawMessage(fmt.Sprintf(`{"value":%d}`, i))
		if _, err := e.mem.UpsertAnswer(e.ctx, model.AnswerWrite{SessionID: sess.ID, QuestionID: q.ID, Answer: ans}); err != nil {
			t.Fatal(err)
		}
	}
	e.clock.Advance(10 * time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*model.TestResult
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.submissions.Submit(e.ctx, user, model.SubmitRequest{SessionID: sess.ID, ScheduleID: e.schedule.ID})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if e.mem.ResultCount() != 1 {
		t.Fatalf("results stored = %d, want 1", e.mem.ResultCount())
	}
	for _, r := range results {
		if r.ID != results[0].ID {
			t.Fatal("submits returned different results")
		}
	}
	r := results[0]
	if r.TotalQuestions != 4 || r.AnsweredQuestions != 3 || r.CorrectAnswers != 3 || r.Score != 75 {
		t.Errorf("result = %+v", r)
	}
	if r.TimeSpentSeconds != 600 || r.Status != model.ResultPending {
		t.Errorf("time spent = %d status = %s", r.TimeSpentSeconds, r.Status)
	}
	p, _ := e.mem.GetParticipation(e.ctx, e.schedule.ID, user)
	if p.Status != model.ParticipantCompleted {
		t.Errorf("participant = %s, want completed", p.Status)
	}
}

func TestFinalizeKeepsFirstTerminalStatus(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	sess := e.start(t, e.enroll(t))

	if _, err := e.submissions.Finalize(e.ctx, sess, model.SessionTimeout); err != nil {
		t.Fatal(err)
	}
	r, err := e.submissions.Finalize(e.ctx, sess, model.SessionForceSubmitted)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != model.ResultPending {
		t.Errorf("result status = %s, want pending", r.Status)
	}
	got, _ := e.mem.GetSession(e.ctx, sess.ID)
	if got.Status != model.SessionTimeout {
		t.Errorf("status = %s, want timeout", got.Status)
	}
}

// ─── ActivityService ────────────────────────────────────────────────

func TestActivityTerminatesAtLimit(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true, MaxStrikes: 2})
	user := e.enroll(t)
	sess := e.start(t, user)
	req := model.LogActivityRequest{SessionID: sess.ID, ScheduleID: e.schedule.ID, ActivityType: model.ActivityTabSwitch}

	first, err := e.activity.Record(e.ctx, user, req)
	if err != nil {
		t.Fatal(err)
	}
	if first.StrikeCount != 1 || first.Terminated {
		t.Errorf("first = %+v", first)
	}
	second, err := e.activity.Record(e.ctx, user, req)
	if err != nil {
		t.Fatal(err)
	}
	if second.StrikeCount != 2 || !second.Terminated {
		t.Errorf("second = %+v", second)
	}

	got, _ := e.mem.GetSession(e.ctx, sess.ID)
	if got.Status != model.SessionForceSubmitted {
		t.Errorf("status = %s, want force_submitted", got.Status)
	}
	res, err := e.mem.GetResult(e.ctx, sess.ID)
	if err != nil || res.Status != model.ResultForceSubmitted {
		t.Errorf("result = %+v, err = %v", res, err)
	}
	logs, err := e.activity.List(e.ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[0].ActionTaken != model.ActionStrike || logs[1].ActionTaken != model.ActionTerminated {
		t.Errorf("logs = %+v", logs)
	}

	if _, err := e.activity.Record(e.ctx, user, req); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("third err = %v, want ErrSessionClosed", err)
	}
}

func TestActivityRejectsUnknownKind(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	user := e.enroll(t)
	sess := e.start(t, user)

	_, err := e.activity.Record(e.ctx, user, model.LogActivityRequest{
		SessionID: sess.ID, ScheduleID: e.schedule.ID, ActivityType: "teleport",
	})
	if !errors.Is(err, ErrUnknownActivity) {
		t.Errorf("err = %v, want ErrUnknownActivity", err)
	}
}

// ─── MonitorService ─────────────────────────────────────────────────

func TestAdjustTime(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	sess := e.start(t, e.enroll(t))
	e.clock.Advance(100 * time.Second)

	delta := 60
	got, err := e.monitor.AdjustTime(e.ctx, sess.ID, model.AdjustTimeRequest{DeltaSeconds: &delta})
	if err != nil {
		t.Fatal(err)
	}
	if got.TimeRemainingSeconds != 1760 {
		t.Errorf("remaining = %d, want 1760", got.TimeRemainingSeconds)
	}

	delta = -5000
	got, err = e.monitor.AdjustTime(e.ctx, sess.ID, model.AdjustTimeRequest{DeltaSeconds: &delta})
	if err != nil {
		t.Fatal(err)
	}
	if got.TimeRemainingSeconds != 0 {
		t.Errorf("remaining = %d, want clamp to 0", got.TimeRemainingSeconds)
	}

	set := 300
	if _, err := e.monitor.AdjustTime(e.ctx, sess.ID, model.AdjustTimeRequest{Seconds: &set, DeltaSeconds: &delta}); !errors.Is(err, ErrNoSessionUpdate) {
		t.Errorf("both fields err = %v", err)
	}
	if _, err := e.monitor.AdjustTime(e.ctx, uuid.New(), model.AdjustTimeRequest{Seconds: &set}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestBroadcastAndMessages(t *testing.T) {
	e := newEnv(t, model.TestSchedule{IsPublished: true})
	a := e.start(t, e.enroll(t))
	b := e.start(t, e.enroll(t))
	admin := Sender{ID: uuid.New(), Name: "Bu Sari"}

	n, err := e.monitor.Broadcast(e.ctx, admin, e.schedule.ID, "Waktu tinggal 10 menit")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("reached = %d, want 2", n)
	}
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		msgs, _ := e.mem.ListUnreadMessages(e.ctx, id)
		if len(msgs) != 1 || !msgs[0].IsGlobal || msgs[0].SenderName != "Bu Sari" {
			t.Errorf("messages of %s = %+v", id, msgs)
		}
	}

	msg, err := e.monitor.SendMessage(e.ctx, Sender{}, a.ID, "Fokus ke layar")
	if err != nil {
		t.Fatal(err)
	}
	if msg.IsGlobal || msg.SenderName != "Admin" || msg.SenderID != nil {
		t.Errorf("personal message = %+v", msg)
	}

	if _, err := e.monitor.ForceStop(e.ctx, admin.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.monitor.SendMessage(e.ctx, admin, a.ID, "late"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("message to ended session err = %v", err)
	}
	if _, err := e.monitor.ForceStop(e.ctx, admin.ID, a.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second force stop err = %v", err)
	}

	list, err := e.monitor.ListSessions(e.ctx, e.schedule.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != b.ID || list[0].RemainingSeconds != 1800 {
		t.Errorf("active sessions = %+v", list)
	}
}
