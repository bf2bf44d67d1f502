package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ActivityRepository handles the activity audit log. With a redis client
// rows are pushed to the persist queue and written in batches by the
// activity worker; without one they are inserted inline.
type ActivityRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewActivityRepository creates a new ActivityRepository. rdb may be nil.
func NewActivityRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ActivityRepository {
	return &ActivityRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "activity_repository").Logger(),
	}
}

// InsertActivityLog records an audit entry. ID and CreatedAt are assigned
// here so a queued row keeps its identity through retries.
func (r *ActivityRepository) InsertActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if r.rdb != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		err = r.rdb.RPush(ctx, config.WorkerKey.PersistActivityQueue, data).Err()
		if err == nil {
			return nil
		}
		r.log.Warn().Err(err).Str("activity_id", entry.ID.String()).Msg("Activity queue unavailable, inserting inline")
	}
	return InsertActivityLogs(ctx, r.pool, []model.ActivityLog{*entry})
}

// InsertActivityLogs inserts rows one by one, skipping ids already stored.
func InsertActivityLogs(ctx context.Context, pool *pgxpool.Pool, entries []model.ActivityLog) error {
	for _, e := range entries {
		if _, err := pool.Exec(ctx,
			`INSERT INTO activity_logs (id, session_id, user_id, schedule_id, activity_type, action_taken, details, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.SessionID, e.UserID, e.ScheduleID, e.ActivityType, e.ActionTaken, detailsArg(e.Details), e.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func detailsArg(d json.RawMessage) any {
	if len(d) == 0 {
		return nil
	}
	return []byte(d)
}

// ListActivityLogs returns the stored audit trail of a session, oldest first.
func (r *ActivityRepository) ListActivityLogs(ctx context.Context, sessionID uuid.UUID) ([]model.ActivityLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, schedule_id, activity_type, action_taken, details, created_at
		 FROM activity_logs
		 WHERE session_id = $1
		 ORDER BY created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.ActivityLog
	for rows.Next() {
		var l model.ActivityLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.UserID, &l.ScheduleID, &l.ActivityType, &l.ActionTaken, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
