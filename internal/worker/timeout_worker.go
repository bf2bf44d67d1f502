package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// TimeoutWorker ends active sessions whose derived remaining time ran out
// and no client submitted them, e.g. because the tab was closed.
type TimeoutWorker struct {
	store       store.SessionStore
	submissions *service.SubmissionService
	clock       clock.Clock
	interval    time.Duration
	grace       time.Duration
	log         zerolog.Logger
}

// NewTimeoutWorker creates a new TimeoutWorker. A non-positive interval
// sweeps every 15 seconds.
func NewTimeoutWorker(
	s store.SessionStore,
	submissions *service.SubmissionService,
	c clock.Clock,
	interval, grace time.Duration,
	log zerolog.Logger,
) *TimeoutWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &TimeoutWorker{
		store:       s,
		submissions: submissions,
		clock:       c,
		interval:    interval,
		grace:       grace,
		log:         log.With().Str("component", "timeout_worker").Logger(),
	}
}

// Start sweeps every interval until ctx is done.
func (w *TimeoutWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("TimeoutWorker started")

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("TimeoutWorker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep finalizes every expired session as timeout and returns how many
// it ended. A session still inside the grace window is left for its
// client, which submits on its own countdown.
func (w *TimeoutWorker) Sweep(ctx context.Context) int {
	sessions, err := w.store.ListActiveSessions(ctx, uuid.Nil)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("List active sessions failed")
		}
		return 0
	}

	now := w.clock.Now()
	graceSeconds := int(w.grace / time.Second)
	ended := 0
	for i := range sessions {
		sess := &sessions[i]
		if sess.EffectiveRemaining(now) > -graceSeconds {
			continue
		}
		if _, err := w.submissions.Finalize(ctx, sess, model.SessionTimeout); err != nil {
			w.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Timeout finalize failed")
			continue
		}
		ended++
	}

	if ended > 0 {
		w.log.Info().Int("count", ended).Msg("Expired sessions ended")
	}
	return ended
}
