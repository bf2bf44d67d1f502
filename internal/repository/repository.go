// Package repository implements the session store on PostgreSQL.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// Store composes the table repositories into a store.SessionStore.
type Store struct {
	*ScheduleRepository
	*SessionRepository
	*AnswerRepository
	*ActivityRepository
	*ResultRepository
	*MessageRepository
}

var _ store.SessionStore = (*Store)(nil)

// NewStore creates the PostgreSQL session store. When rdb is non-nil,
// activity log rows are queued for the activity worker instead of being
// inserted inline.
func NewStore(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *Store {
	return &Store{
		ScheduleRepository: NewScheduleRepository(pool),
		SessionRepository:  NewSessionRepository(pool),
		AnswerRepository:   NewAnswerRepository(pool),
		ActivityRepository: NewActivityRepository(pool, rdb, log),
		ResultRepository:   NewResultRepository(pool),
		MessageRepository:  NewMessageRepository(pool),
	}
}

// notFound maps pgx.ErrNoRows onto store.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// closedOrMissing explains why a guarded write on an active session
// matched no row.
func closedOrMissing(ctx context.Context, q querier, sessionID uuid.UUID) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM test_sessions WHERE id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrSessionClosed
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
