package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/realtime"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler serves the proctor's live controls.
type MonitorHandler struct {
	channel         realtime.Channel
	monitorService  *service.MonitorService
	activityService *service.ActivityService
	log             zerolog.Logger
	keepAlive       time.Duration
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	channel realtime.Channel,
	monitorService *service.MonitorService,
	activityService *service.ActivityService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		channel:         channel,
		monitorService:  monitorService,
		activityService: activityService,
		log:             log.With().Str("component", "monitor_handler").Logger(),
		keepAlive:       keepAliveInterval,
	}
}

func sender(c *gin.Context) service.Sender {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return service.Sender{}
	}
	return service.Sender{ID: claims.UserID, Name: claims.Name}
}

// ListSessions godoc
// GET /api/v1/admin/schedules/:schedule_id/sessions
func (h *MonitorHandler) ListSessions(c *gin.Context) {
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}
	sessions, err := h.monitorService.ListSessions(c.Request.Context(), scheduleID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// ForceStop godoc
// POST /api/v1/admin/sessions/:session_id/force-stop
func (h *MonitorHandler) ForceStop(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	result, err := h.monitorService.ForceStop(c.Request.Context(), sender(c).ID, sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// AdjustTime godoc
// POST /api/v1/admin/sessions/:session_id/time
// Sets ({seconds}) or shifts ({deltaSeconds}) the remaining time.
func (h *MonitorHandler) AdjustTime(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	var req model.AdjustTimeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	sess, err := h.monitorService.AdjustTime(c.Request.Context(), sessionID, req)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// ResetStrikes godoc
// POST /api/v1/admin/sessions/:session_id/strikes/reset
func (h *MonitorHandler) ResetStrikes(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	sess, err := h.monitorService.ResetStrikes(c.Request.Context(), sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}

// SendMessage godoc
// POST /api/v1/admin/sessions/:session_id/messages
func (h *MonitorHandler) SendMessage(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	var req model.SendMessageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	msg, err := h.monitorService.SendMessage(c.Request.Context(), sender(c), sessionID, req.Message)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// Broadcast godoc
// POST /api/v1/admin/schedules/:schedule_id/messages
func (h *MonitorHandler) Broadcast(c *gin.Context) {
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}
	var req model.SendMessageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	n, err := h.monitorService.Broadcast(c.Request.Context(), sender(c), scheduleID, req.Message)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"sessions_reached": n})
}

// ListActivity godoc
// GET /api/v1/admin/sessions/:session_id/activity
func (h *MonitorHandler) ListActivity(c *gin.Context) {
	sessionID, ok := paramUUID(c, "session_id")
	if !ok {
		return
	}
	logs, err := h.activityService.List(c.Request.Context(), sessionID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	response.Success(c, http.StatusOK, gin.H{"activity": logs})
}

// MonitorSSE godoc
// GET /api/v1/admin/schedules/:schedule_id/monitor
// Streams a snapshot of the active sessions, then every realtime event of
// the schedule.
func (h *MonitorHandler) MonitorSSE(c *gin.Context) {
	scheduleID, ok := paramUUID(c, "schedule_id")
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	snapCtx, cancel := context.WithTimeout(reqCtx, snapshotTimeout)
	sessions, err := h.monitorService.ListSessions(snapCtx, scheduleID)
	cancel()
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	sub, err := h.channel.SubscribeSchedule(reqCtx, scheduleID)
	if err != nil {
		h.log.Error().Err(err).Str("schedule_id", scheduleID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	h.writeEvent(c, "snapshot", gin.H{"sessions": sessions})

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	h.log.Info().Str("schedule_id", scheduleID.String()).Msg("Admin attached to live monitor SSE")
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("schedule_id", scheduleID.String()).Msg("Admin disconnected from live monitor SSE")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			h.writeEvent(c, string(ev.Type), ev)
		case <-keepAlive.C:
			_, _ = c.Writer.Write([]byte(": ping\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) writeEvent(c *gin.Context, name string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Str("event", name).Msg("Failed to encode SSE event")
		return
	}
	_, _ = c.Writer.Write([]byte("event: " + name + "\ndata: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
