package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// MessageRepository handles proctor messages.
type MessageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// InsertMessage stores a message and fills its id and timestamp.
func (r *MessageRepository) InsertMessage(ctx context.Context, m *model.TestMessage) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_messages (session_id, sender_id, sender_name, message, is_global)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, is_read, created_at`,
		m.SessionID, m.SenderID, m.SenderName, m.Message, m.IsGlobal,
	).Scan(&m.ID, &m.IsRead, &m.CreatedAt)
}

// ListUnreadMessages returns the unread messages of a session, newest first.
func (r *MessageRepository) ListUnreadMessages(ctx context.Context, sessionID uuid.UUID) ([]model.TestMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, sender_id, sender_name, message, is_global, is_read, created_at
		 FROM test_messages
		 WHERE session_id = $1 AND is_read = FALSE
		 ORDER BY created_at DESC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.TestMessage
	for rows.Next() {
		var m model.TestMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderName, &m.Message, &m.IsGlobal, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageRead flags a message as read. Marking twice is harmless.
func (r *MessageRepository) MarkMessageRead(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE test_messages SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
