package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kart-io/msgbus/pkg/message"
)

// DeliveryLogStore persists per-recipient delivery outcomes in postgres.
type DeliveryLogStore struct {
	DB *sql.DB
}

// NewDeliveryLogStore creates a delivery log store over an open pool.
func NewDeliveryLogStore(db *sql.DB) *DeliveryLogStore {
	return &DeliveryLogStore{DB: db}
}

// Append inserts delivery log rows for one dispatch attempt in a single
// transaction, so a dispatch is either fully logged or not at all.
func (s *DeliveryLogStore) Append(ctx context.Context, logs []*message.DeliveryLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delivery log tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO delivery_log (uuid, task_id, recipient, employee_id, channel, status, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING id
	`
	for _, row := range logs {
		if err := tx.QueryRowContext(ctx, query,
			row.UUID,
			row.TaskID,
			row.Recipient,
			row.EmployeeID,
			row.Channel,
			row.Status,
			row.UpdatedAt,
		).Scan(&row.ID); err != nil {
			return fmt.Errorf("insert delivery log: %w", err)
		}
	}
	return tx.Commit()
}

// ByMessageUUID returns all delivery rows for a message.
func (s *DeliveryLogStore) ByMessageUUID(ctx context.Context, uuid string) ([]*message.DeliveryLog, error) {
	query := `
		SELECT id, uuid, task_id, recipient, COALESCE(employee_id, ''), channel, status, updated_at
		FROM delivery_log
		WHERE uuid = $1
		ORDER BY id
	`
	rows, err := s.DB.QueryContext(ctx, query, uuid)
	if err != nil {
		return nil, fmt.Errorf("query delivery log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*message.DeliveryLog
	for rows.Next() {
		var row message.DeliveryLog
		if err := rows.Scan(
			&row.ID,
			&row.UUID,
			&row.TaskID,
			&row.Recipient,
			&row.EmployeeID,
			&row.Channel,
			&row.Status,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}
