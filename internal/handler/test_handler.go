package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// TestHandler serves the participant-facing test API.
type TestHandler struct {
	sessionService    *service.SessionService
	activityService   *service.ActivityService
	submissionService *service.SubmissionService
	log               zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(
	sessionService *service.SessionService,
	activityService *service.ActivityService,
	submissionService *service.SubmissionService,
	log zerolog.Logger,
) *TestHandler {
	return &TestHandler{
		sessionService:    sessionService,
		activityService:   activityService,
		submissionService: submissionService,
		log:               log.With().Str("component", "test_handler").Logger(),
	}
}

// GetState godoc
// GET /api/v1/test/schedules/:schedule_id/state
// Returns the schedule, the caller's participation and any active session.
func (h *TestHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), claims.UserID, scheduleID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// Join godoc
// POST /api/v1/test/schedules/:schedule_id/join
// Validates an entry token and returns the rules briefing.
func (h *TestHandler) Join(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}

	var req model.JoinScheduleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rules, err := h.sessionService.Join(c.Request.Context(), claims.UserID, scheduleID, req.Token)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, rules)
}

// CreateSession godoc
// POST /api/v1/test/sessions
// Starts a session, or returns the caller's active one (idempotent).
func (h *TestHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, created, err := h.sessionService.Start(c.Request.Context(), claims.UserID, req.ScheduleID, req.Token)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"session": sess, "created": created})
}

// PatchSession godoc
// PATCH /api/v1/test/session
// Applies allow-listed field writes to the caller's session.
func (h *TestHandler) PatchSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.UpdateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.Patch(c.Request.Context(), claims.UserID, req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// LogActivity godoc
// POST /api/v1/test/activity
// Records a violation strike and terminates the session at the limit.
func (h *TestHandler) LogActivity(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.LogActivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.activityService.Record(c.Request.Context(), claims.UserID, req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Raw(c, http.StatusOK, resp)
}

// Submit godoc
// POST /api/v1/test/submit
// Scores the session and stores its single result. Repeated calls return
// the stored result.
func (h *TestHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.submissionService.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Raw(c, http.StatusOK, model.SubmitResponse{Success: true, Result: result})
}
