package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const pingTimeout = 2 * time.Second

// Pinger is a dependency that can report its liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process health and worker queue depth.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. A nil db or rdb skips
// that check.
func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Returns 503 when PostgreSQL or Redis does not answer.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	checks := gin.H{"postgres": "ok", "redis": "ok"}
	healthy := true
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Msg("PostgreSQL health check failed")
			checks["postgres"] = "down"
			healthy = false
		}
	}
	if h.rdb != nil {
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			checks["redis"] = "down"
			healthy = false
		}
	}

	if !healthy {
		response.FailWithData(c, http.StatusServiceUnavailable, response.ErrInternal, gin.H{"status": "degraded", "checks": checks})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

type systemStatus struct {
	Uptime        string `json:"uptime"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc"`
	NumGC         uint32 `json:"num_gc"`
	GoVersion     string `json:"go_version"`
	ActivityQueue int64  `json:"activity_queue"`
}

// Status godoc
// GET /api/v1/admin/system
// Returns runtime figures and the backlog of the activity log queue.
func (h *SystemHandler) Status(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := systemStatus{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		NumGC:      m.NumGC,
		GoVersion:  runtime.Version(),
	}
	if h.rdb != nil {
		n, err := h.rdb.LLen(c.Request.Context(), config.WorkerKey.PersistActivityQueue).Result()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to read activity queue length")
		}
		st.ActivityQueue = n
	}
	response.Success(c, http.StatusOK, st)
}
