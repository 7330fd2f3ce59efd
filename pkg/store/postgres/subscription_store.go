package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kart-io/msgbus/pkg/subscription"
)

// SubscriptionStore reads standing delivery rules from postgres.
type SubscriptionStore struct {
	DB *sql.DB
}

// NewSubscriptionStore creates a subscription store over an open pool.
func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{DB: db}
}

// ActiveBySenderCategory returns active subscriptions whose sender and
// category match exactly.
func (s *SubscriptionStore) ActiveBySenderCategory(ctx context.Context, sender, category string) ([]*subscription.Subscription, error) {
	query := `
		SELECT id, sender, recipient, category, channel, cron_expr, is_active, created_at
		FROM subscription
		WHERE sender = $1 AND category = $2 AND is_active
	`
	rows, err := s.DB.QueryContext(ctx, query, sender, category)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*subscription.Subscription
	for rows.Next() {
		var sub subscription.Subscription
		if err := rows.Scan(
			&sub.ID,
			&sub.Sender,
			&sub.Recipient,
			&sub.Category,
			&sub.Channel,
			&sub.CronExpr,
			&sub.IsActive,
			&sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}

// Create inserts a subscription and returns the created id.
func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	if sub.CronExpr == "" {
		sub.CronExpr = subscription.DefaultCronExpr
	}
	query := `
		INSERT INTO subscription (sender, recipient, category, channel, cron_expr, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return s.DB.QueryRowContext(ctx, query,
		sub.Sender,
		sub.Recipient,
		sub.Category,
		sub.Channel,
		sub.CronExpr,
		sub.IsActive,
	).Scan(&sub.ID, &sub.CreatedAt)
}

// Deactivate flips a subscription to inactive without deleting it.
func (s *SubscriptionStore) Deactivate(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE subscription SET is_active = FALSE WHERE id = $1`, id)
	return err
}
