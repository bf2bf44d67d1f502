package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/examsession"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/realtime"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Store and Realtime Channel ────────────────────────────────────
	// Every committed change is published so other instances and the
	// proctor monitor see it.
	clk := clock.Real()
	channel := realtime.NewRedisChannel(rdb, log)
	sessionStore := realtime.NewPublishingStore(repository.NewStore(pool, rdb, log), channel, clk, log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	submissionService := service.NewSubmissionService(sessionStore, clk, log)
	sessionService := service.NewSessionService(sessionStore, submissionService, clk, cfg.DefaultMaxStrikes, log)
	activityService := service.NewActivityService(sessionStore, submissionService, clk, cfg.DefaultMaxStrikes, log)
	monitorService := service.NewMonitorService(sessionStore, submissionService, clk, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	deps := examsession.Deps{
		Store:       sessionStore,
		Sessions:    sessionService,
		Activity:    activityService,
		Submissions: submissionService,
		Channel:     channel,
		Clock:       clk,
		Log:         log,
	}
	opts := examsession.Options{
		CheckpointInterval: cfg.CheckpointInterval,
		DefaultMaxStrikes:  cfg.DefaultMaxStrikes,
	}
	handlers := &router.Handlers{
		Test:    handler.NewTestHandler(sessionService, activityService, submissionService, log),
		Monitor: handler.NewMonitorHandler(channel, monitorService, activityService, log),
		WS:      handler.NewWSHandler(deps, opts, cfg.BlurDebounce, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(pool, rdb, log),
	}
	limiters := router.Limiters{
		Join:     middleware.NewRateLimiter(30, time.Minute),
		Activity: middleware.NewActivityRateLimiter(rdb, cfg.ActivityRatePerMinute, time.Minute, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(workerCtx)

	timeoutWorker := worker.NewTimeoutWorker(sessionStore, submissionService, clk, cfg.TimeoutSweepInterval, cfg.TimeoutGrace, log)
	activityWorker := worker.NewActivityLogWorker(worker.NewPgActivityWriter(pool), rdb, log)

	workers.Go(func() error {
		timeoutWorker.Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		activityWorker.Start(workerCtx)
		return nil
	})

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	// Streams and SSE monitors are not tracked by Shutdown; they end when
	// the base context is cancelled.
	baseCtx, baseCancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(baseCancel)

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the activity queue to drain.
	workerCancel()
	if err := workers.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
