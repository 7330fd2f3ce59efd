package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kart-io/msgbus/pkg/message"
)

// MessageStore persists messages in postgres.
type MessageStore struct {
	DB *sql.DB
}

// NewMessageStore creates a message store over an open pool.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{DB: db}
}

// Create inserts a new message and fills in its numeric id.
func (s *MessageStore) Create(ctx context.Context, msg *message.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO message (uuid, sender, category, title, content, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return s.DB.QueryRowContext(ctx, query,
		msg.UUID,
		msg.Sender,
		msg.Category,
		msg.Title,
		msg.Content,
		msg.Status,
		msg.CreatedAt,
	).Scan(&msg.ID)
}

// UpdateStatus writes the terminal status and sent time for a message.
func (s *MessageStore) UpdateStatus(ctx context.Context, uuid string, status message.Status, sentAt *time.Time) error {
	query := `UPDATE message SET status = $2, sent_at = $3 WHERE uuid = $1`
	res, err := s.DB.ExecContext(ctx, query, uuid, status, sentAt)
	if err != nil {
		return fmt.Errorf("update message %s: %w", uuid, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message uuid=%s not found", uuid)
	}
	return nil
}

// GetByUUID returns the message for a uuid, or nil when absent.
func (s *MessageStore) GetByUUID(ctx context.Context, uuid string) (*message.Message, error) {
	query := `
		SELECT id, uuid, sender, category, title, content, status, created_at, sent_at
		FROM message
		WHERE uuid = $1
	`
	var msg message.Message
	err := s.DB.QueryRowContext(ctx, query, uuid).Scan(
		&msg.ID,
		&msg.UUID,
		&msg.Sender,
		&msg.Category,
		&msg.Title,
		&msg.Content,
		&msg.Status,
		&msg.CreatedAt,
		&msg.SentAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query message %s: %w", uuid, err)
	}
	return &msg, nil
}
