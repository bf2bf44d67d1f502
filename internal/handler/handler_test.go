package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/examsession"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/realtime"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store/memstore"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fixture struct {
	mem       *memstore.Store
	hub       *realtime.Hub
	clock     *clock.Fake
	auth      *service.AuthService
	monitor   *service.MonitorService
	router    *gin.Engine
	schedule  *model.TestSchedule
	userID    uuid.UUID
	userTok   string
	adminTok  string
	questions []model.Question
}

func newFixture(t *testing.T, maxStrikes int) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	fc := clock.NewFake(now)
	mem := memstore.New(fc)
	hub := realtime.NewHub()
	log := zerolog.Nop()
	ps := realtime.NewPublishingStore(mem, hub, fc, log)

	submissions := service.NewSubmissionService(ps, fc, log)
	sessions := service.NewSessionService(ps, submissions, fc, model.DefaultMaxStrikes, log)
	activity := service.NewActivityService(ps, submissions, fc, model.DefaultMaxStrikes, log)
	monitor := service.NewMonitorService(ps, submissions, fc, log)
	auth := service.NewAuthService(&config.Config{JWTSecret: "handler-test-secret"})

	f := &fixture{mem: mem, hub: hub, clock: fc, auth: auth, monitor: monitor, userID: uuid.New()}
	f.schedule = mem.AddSchedule(model.TestSchedule{
		Title:           "Tryout IPA",
		StartTime:       now.Add(-time.Hour),
		EndTime:         now.Add(2 * time.Hour),
		DurationMinutes: 30,
		QuestionCount:   3,
		Token:           "ABC123",
		IsPublished:     true,
		MaxStrikes:      maxStrikes,
	})
	for i := 0; i < 3; i++ {
		correct := i
		mem.AddQuestions(f.schedule.ID, model.Question{
			Type:          model.QuestionMultipleChoice,
			Question:      fmt.Sprintf("Soal %d", i+1),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: &correct,
		})
	}
	mem.AddParticipant(f.schedule.ID, f.userID, model.ParticipantAssigned)

	var err error
	f.questions, err = ps.ListScheduleQuestions(t.Context(), f.schedule.ID)
	if err != nil {
		t.Fatalf("ListScheduleQuestions: %v", err)
	}
	if f.userTok, err = auth.GenerateToken(f.userID, service.RoleUser, "Siswa", time.Hour); err != nil {
		t.Fatal(err)
	}
	if f.adminTok, err = auth.GenerateToken(uuid.New(), service.RoleAdmin, "Pengawas", time.Hour); err != nil {
		t.Fatal(err)
	}

	testHandler := NewTestHandler(sessions, activity, submissions, log)
	monitorHandler := NewMonitorHandler(hub, monitor, activity, log)
	wsHandler := NewWSHandler(examsession.Deps{
		Store:       ps,
		Sessions:    sessions,
		Activity:    activity,
		Submissions: submissions,
		Channel:     hub,
		Clock:       fc,
		Log:         log,
	}, examsession.Options{RetryBackoff: time.Millisecond, CheckpointInterval: time.Hour}, time.Second, log, nil)

	r := gin.New()
	test := r.Group("/api/v1/test", middleware.RequireUserJWT(auth))
	test.GET("/schedules/:schedule_id/state", testHandler.GetState)
	test.POST("/schedules/:schedule_id/join", testHandler.Join)
	test.POST("/sessions", testHandler.CreateSession)
	test.PATCH("/session", testHandler.PatchSession)
	test.POST("/activity", testHandler.LogActivity)
	test.POST("/submit", testHandler.Submit)

	admin := r.Group("/api/v1/admin", middleware.RequireAdminJWT(auth))
	admin.GET("/schedules/:schedule_id/sessions", monitorHandler.ListSessions)
	admin.GET("/schedules/:schedule_id/monitor", monitorHandler.MonitorSSE)
	admin.POST("/schedules/:schedule_id/messages", monitorHandler.Broadcast)
	admin.POST("/sessions/:session_id/force-stop", monitorHandler.ForceStop)
	admin.POST("/sessions/:session_id/time", monitorHandler.AdjustTime)
	admin.POST("/sessions/:session_id/strikes/reset", monitorHandler.ResetStrikes)
	admin.POST("/sessions/:session_id/messages", monitorHandler.SendMessage)
	admin.GET("/sessions/:session_id/activity", monitorHandler.ListActivity)

	r.GET("/ws/v1/test/schedules/:schedule_id/stream", middleware.RequireUserWSAuth(auth), wsHandler.ExamStream)
	f.router = r
	return f
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

// startSession creates the participant's session through the API.
func (f *fixture) startSession(t *testing.T) *model.TestSession {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/test/sessions", f.userTok, gin.H{"scheduleId": f.schedule.ID, "token": "abc123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Session *model.TestSession `json:"session"`
	}
	decodeEnvelope(t, w, &out)
	return out.Session
}
