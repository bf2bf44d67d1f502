package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestJoinTokenErrors(t *testing.T) {
	f := newFixture(t, 3)
	path := "/api/v1/test/schedules/" + f.schedule.ID.String() + "/join"

	tests := []struct {
		name   string
		token  string
		status int
		code   response.ErrCode
	}{
		{"wrong token", "ZZZ999", http.StatusBadRequest, response.ErrEntryTokenInvalid},
		{"blank token", "   ", http.StatusBadRequest, response.ErrEntryTokenEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, path, f.userTok, gin.H{"token": tt.token})
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			env := decodeEnvelope(t, w, nil)
			if env.Error == nil || env.Error.Code != string(tt.code) {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}

	w := f.do(t, http.MethodPost, path, f.userTok, gin.H{"token": "abc123"})
	if w.Code != http.StatusOK {
		t.Fatalf("valid join status = %d: %s", w.Code, w.Body.String())
	}
	var rules model.ScheduleRules
	decodeEnvelope(t, w, &rules)
	if rules.MaxStrikes != 3 || len(rules.Rules) == 0 {
		t.Errorf("unexpected rules %+v", rules)
	}

	// Joining has no side effects.
	if _, err := f.mem.GetActiveSession(t.Context(), f.schedule.ID, f.userID); err == nil {
		t.Error("join must not create a session")
	}
}

func TestJoinOutsideWindow(t *testing.T) {
	f := newFixture(t, 3)
	f.clock.Advance(3 * time.Hour)
	w := f.do(t, http.MethodPost, "/api/v1/test/schedules/"+f.schedule.ID.String()+"/join", f.userTok, gin.H{"token": "ABC123"})
	env := decodeEnvelope(t, w, nil)
	if w.Code != http.StatusBadRequest || env.Error.Code != string(response.ErrTestEnded) {
		t.Fatalf("status %d error %+v", w.Code, env.Error)
	}
	if env.Error.Message != "Test sudah berakhir" {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestNotEnrolled(t *testing.T) {
	f := newFixture(t, 3)
	tok, err := f.auth.GenerateToken(uuid.New(), service.RoleUser, "Asing", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	w := f.do(t, http.MethodGet, "/api/v1/test/schedules/"+f.schedule.ID.String()+"/state", tok, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	first := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/test/sessions", f.userTok, gin.H{"scheduleId": f.schedule.ID, "token": "abc123"})
	if w.Code != http.StatusOK {
		t.Fatalf("second create status = %d", w.Code)
	}
	var out struct {
		Session *model.TestSession `json:"session"`
		Created bool               `json:"created"`
	}
	decodeEnvelope(t, w, &out)
	if out.Created || out.Session.ID != first.ID {
		t.Fatalf("expected existing session %s, got %+v", first.ID, out)
	}
	if len(out.Session.QuestionOrder) != 3 {
		t.Errorf("question order = %v", out.Session.QuestionOrder)
	}

	w = f.do(t, http.MethodGet, "/api/v1/test/schedules/"+f.schedule.ID.String()+"/state", f.userTok, nil)
	var state struct {
		Session          *model.TestSession `json:"session"`
		RemainingSeconds *int               `json:"remaining_seconds"`
	}
	decodeEnvelope(t, w, &state)
	if state.Session == nil || state.RemainingSeconds == nil || *state.RemainingSeconds != 1800 {
		t.Fatalf("state = %+v", state)
	}
}

func TestPatchSession(t *testing.T) {
	f := newFixture(t, 3)
	sess := f.startSession(t)

	w := f.do(t, http.MethodPatch, "/api/v1/test/session", f.userTok, gin.H{
		"sessionId": sess.ID,
		"updates":   gin.H{"current_question_index": 2},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", w.Code, w.Body.String())
	}
	var updated model.TestSession
	decodeEnvelope(t, w, &updated)
	if updated.CurrentQuestionIndex != 2 {
		t.Errorf("index = %d, want 2", updated.CurrentQuestionIndex)
	}

	tests := []struct {
		name    string
		updates gin.H
		code    response.ErrCode
	}{
		{"foreign field", gin.H{"strike_count": 0, "score": 100}, response.ErrFieldNotAllowed},
		{"index out of range", gin.H{"current_question_index": 9}, response.ErrQuestionOutOfRange},
		{"empty update", gin.H{}, response.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPatch, "/api/v1/test/session", f.userTok, gin.H{"sessionId": sess.ID, "updates": tt.updates})
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			if env := decodeEnvelope(t, w, nil); env.Error.Code != string(tt.code) {
				t.Errorf("code = %s, want %s", env.Error.Code, tt.code)
			}
		})
	}
}

func TestActivityStrikesTerminate(t *testing.T) {
	f := newFixture(t, 3)
	sess := f.startSession(t)

	var last model.LogActivityResponse
	for i := 1; i <= 3; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/test/activity", f.userTok, gin.H{
			"sessionId":    sess.ID,
			"scheduleId":   f.schedule.ID,
			"activityType": "tab_switch",
			"metadata":     gin.H{"n": i},
		})
		if w.Code != http.StatusOK {
			t.Fatalf("activity %d status = %d: %s", i, w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &last); err != nil {
			t.Fatal(err)
		}
		if last.StrikeCount != i || last.Terminated != (i == 3) || !last.Success {
			t.Fatalf("activity %d response = %+v", i, last)
		}
	}

	stored, err := f.mem.GetSession(t.Context(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.SessionForceSubmitted {
		t.Fatalf("status = %s, want force_submitted", stored.Status)
	}
	logs, _ := f.mem.ListActivityLogs(t.Context(), sess.ID)
	if len(logs) != 3 || logs[2].ActionTaken != model.ActionTerminated {
		t.Fatalf("activity logs = %+v", logs)
	}
	if f.mem.ResultCount() != 1 {
		t.Errorf("results = %d, want 1", f.mem.ResultCount())
	}

	w := f.do(t, http.MethodPost, "/api/v1/test/activity", f.userTok, gin.H{
		"sessionId": sess.ID, "scheduleId": f.schedule.ID, "activityType": "tab_switch",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("activity after termination status = %d, want 409", w.Code)
	}
}

func TestActivityValidation(t *testing.T) {
	f := newFixture(t, 3)
	sess := f.startSession(t)

	w := f.do(t, http.MethodPost, "/api/v1/test/activity", f.userTok, gin.H{
		"sessionId": sess.ID, "scheduleId": f.schedule.ID, "activityType": "hypnosis",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/test/activity", f.userTok, gin.H{
		"sessionId": uuid.New(), "scheduleId": f.schedule.ID, "activityType": "tab_switch",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/test/activity", "", gin.H{
		"sessionId": sess.ID, "scheduleId": f.schedule.ID, "activityType": "tab_switch",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", w.Code)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	sess := f.startSession(t)

	for i, q := range f.questions {
		if _, err := f.mem.UpsertAnswer(t.Context(), model.AnswerWrite{
			SessionID:  sess.ID,
			QuestionID: q.ID,
			Answer:     json.RawMessage(fmt.Sprintf(`{"value":%d}`, min(i, 1))),
		}); err != nil {
			t.Fatal(err)
		}
	}

	body := gin.H{"sessionId": sess.ID, "scheduleId": f.schedule.ID}
	var first, second model.SubmitResponse
	for _, out := range []*model.SubmitResponse{&first, &second} {
		w := f.do(t, http.MethodPost, "/api/v1/test/submit", f.userTok, body)
		if w.Code != http.StatusOK {
			t.Fatalf("submit status = %d: %s", w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatal(err)
		}
	}
	if !first.Success || first.Result == nil || second.Result.ID != first.Result.ID {
		t.Fatalf("first %+v second %+v", first.Result, second.Result)
	}
	// Answers 0,1,1 against keys 0,1,2.
	if first.Result.CorrectAnswers != 2 || first.Result.AnsweredQuestions != 3 || first.Result.Score != 66.7 {
		t.Errorf("result = %+v", first.Result)
	}
	if f.mem.ResultCount() != 1 {
		t.Errorf("results = %d, want 1", f.mem.ResultCount())
	}
	p, _ := f.mem.GetParticipation(t.Context(), f.schedule.ID, f.userID)
	if p.Status != model.ParticipantCompleted {
		t.Errorf("participant status = %s", p.Status)
	}
}
