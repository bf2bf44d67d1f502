package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Test    *handler.TestHandler
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// Limiters groups the rate limiters applied to participant routes. A nil
// limiter is skipped.
type Limiters struct {
	Join     *middleware.RateLimiter
	Activity *middleware.ActivityRateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters Limiters,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Test-taker Group (JWT, role user) ──────────────────────────
	testAPI := router.Group("/api/v1/test")
	testAPI.Use(middleware.RequireUserJWT(authService), middleware.NoStore())
	{
		schedule := testAPI.Group("/schedules/:schedule_id")
		{
			schedule.GET("/state", handlers.Test.GetState)
			schedule.POST("/join", optional(limiters.Join), handlers.Test.Join)
		}

		testAPI.POST("/sessions", optional(limiters.Join), handlers.Test.CreateSession)
		testAPI.PATCH("/session", handlers.Test.PatchSession)
		testAPI.POST("/activity", optionalActivity(limiters.Activity), handlers.Test.LogActivity)
		testAPI.POST("/submit", handlers.Test.Submit)
	}

	// ─── 2. WebSocket Group (JWT via query) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireUserWSAuth(authService))
	{
		ws.GET("/test/schedules/:schedule_id/stream", handlers.WS.ExamStream)
	}

	// ─── 3. Admin Group (JWT, role admin) ──────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.RequireRole(service.RoleAdmin), middleware.NoStore())
	{
		schedules := adminAPI.Group("/schedules/:schedule_id")
		{
			schedules.GET("/sessions", handlers.Monitor.ListSessions)
			schedules.GET("/monitor", handlers.Monitor.MonitorSSE)
			schedules.POST("/messages", handlers.Monitor.Broadcast)
		}

		sessions := adminAPI.Group("/sessions/:session_id")
		{
			sessions.POST("/force-stop", handlers.Monitor.ForceStop)
			sessions.POST("/time", handlers.Monitor.AdjustTime)
			sessions.POST("/strikes/reset", handlers.Monitor.ResetStrikes)
			sessions.POST("/messages", handlers.Monitor.SendMessage)
			sessions.GET("/activity", handlers.Monitor.ListActivity)
		}

		adminAPI.GET("/system", handlers.System.Status)
	}

	return router
}

func optional(rl *middleware.RateLimiter) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}

func optionalActivity(rl *middleware.ActivityRateLimiter) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}
