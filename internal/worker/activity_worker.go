package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ActivityWriter persists audit rows drained from the queue.
type ActivityWriter interface {
	// CopyActivityLogs writes the whole batch or nothing.
	CopyActivityLogs(ctx context.Context, batch []model.ActivityLog) error
	// InsertActivityLog writes one row, ignoring an id already stored.
	InsertActivityLog(ctx context.Context, entry model.ActivityLog) error
}

// ActivityLogWorker drains the activity persist queue into postgres in
// batches.
type ActivityLogWorker struct {
	writer         ActivityWriter
	rdb            *redis.Client
	batchSize      int
	batchTimeout   time.Duration
	requeueBackoff time.Duration
	log            zerolog.Logger
}

// NewActivityLogWorker creates a new ActivityLogWorker with the default
// batch size and timeout.
func NewActivityLogWorker(writer ActivityWriter, rdb *redis.Client, log zerolog.Logger) *ActivityLogWorker {
	return &ActivityLogWorker{
		writer:         writer,
		rdb:            rdb,
		batchSize:      BatchSize,
		batchTimeout:   BatchTimeout,
		requeueBackoff: 2 * time.Second,
		log:            log.With().Str("component", "activity_worker").Logger(),
	}
}

// Start drains the activity queue until ctx is done, then flushes the
// last batch.
func (w *ActivityLogWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ActivityLogWorker started")

	buffer := make([]model.ActivityLog, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch. BLPop returns immediately when data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistActivityQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var entry model.ActivityLog
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			// Malformed rows can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed activity payload")
			continue
		}
		buffer = append(buffer, entry)
	}
}

// flushSafe tries the bulk path, then row by row, then requeues what is left.
func (w *ActivityLogWorker) flushSafe(ctx context.Context, batch []model.ActivityLog) {
	if len(batch) == 0 {
		return
	}
	err := w.writer.CopyActivityLogs(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []model.ActivityLog
	for _, e := range batch {
		if err := w.writer.InsertActivityLog(ctx, e); err != nil {
			w.log.Error().Err(err).Str("activity_id", e.ID.String()).Msg("Insert failed, requeueing")
			failed = append(failed, e)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *ActivityLogWorker) requeue(ctx context.Context, items []model.ActivityLog) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue activity rows. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed activity rows")

	// Avoid thrashing while the database is down.
	if w.requeueBackoff > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(w.requeueBackoff):
		}
	}
}

func (w *ActivityLogWorker) shutdown(buffer []model.ActivityLog) {
	w.log.Info().Int("pending", len(buffer)).Msg("ActivityLogWorker stopping, flushing remaining buffer")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}

// ─── Postgres writer ────────────────────────────────────────────────

// PgActivityWriter writes audit rows with COPY and falls back to
// conflict-tolerant inserts.
type PgActivityWriter struct {
	pool *pgxpool.Pool
}

// NewPgActivityWriter creates a new PgActivityWriter.
func NewPgActivityWriter(pool *pgxpool.Pool) *PgActivityWriter {
	return &PgActivityWriter{pool: pool}
}

// CopyActivityLogs bulk-inserts a batch with COPY.
func (p *PgActivityWriter) CopyActivityLogs(ctx context.Context, batch []model.ActivityLog) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		var details any
		if len(e.Details) > 0 {
			details = string(e.Details)
		}
		rows = append(rows, []any{
			e.ID, e.SessionID, e.UserID, e.ScheduleID,
			string(e.ActivityType), string(e.ActionTaken), details, e.CreatedAt,
		})
	}

	_, err := p.pool.CopyFrom(
		ctx,
		pgx.Identifier{"activity_logs"},
		[]string{"id", "session_id", "user_id", "schedule_id", "activity_type", "action_taken", "details", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertActivityLog inserts a single row.
func (p *PgActivityWriter) InsertActivityLog(ctx context.Context, entry model.ActivityLog) error {
	return repository.InsertActivityLogs(ctx, p.pool, []model.ActivityLog{entry})
}
