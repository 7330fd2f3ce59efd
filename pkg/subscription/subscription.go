// Package subscription provides standing delivery rules and the resolver that
// turns a message's sender and category into per-channel recipient lists.
package subscription

import (
	"context"
	"time"
)

// Subscription is a standing rule: a recipient wants messages of a given
// sender and category on a given channel, gated by a cron delivery window.
// Unique on (sender, recipient, category, channel).
type Subscription struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Recipient int64     `json:"recipient"`
	Category  string    `json:"category"`
	Channel   string    `json:"channel"`
	CronExpr  string    `json:"cron_expr"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultCronExpr is the always-open delivery window.
const DefaultCronExpr = "* * * * *"

// Store is the read-only subscription lookup interface.
type Store interface {
	// ActiveBySenderCategory returns active subscriptions whose sender and
	// category match exactly (case-sensitive, no wildcards).
	ActiveBySenderCategory(ctx context.Context, sender, category string) ([]*Subscription, error)
}
