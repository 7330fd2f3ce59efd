// Package token provides the per-channel credential cache shared by
// connectors that authenticate with bearer tokens.
package token

import (
	"context"
	"time"
)

// Token is one cached credential. Channel is the primary key: there is at
// most one live token per channel name.
type Token struct {
	Channel      string    `json:"channel"`
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiredAt    time.Time `json:"expired_at"`
}

// Valid reports whether the token is usable at the given instant.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && t.ExpiredAt.After(now)
}

// Store persists tokens keyed by channel. Upsert must be atomic
// last-writer-wins; concurrent refresh coordination lives in the Cache, not
// in store implementations.
type Store interface {
	// Get returns the cached token for a channel, or nil when absent.
	Get(ctx context.Context, channel string) (*Token, error)
	// Upsert stores the token for its channel, replacing any previous one.
	Upsert(ctx context.Context, tok *Token) error
	// Delete drops the cached token for a channel. Missing is not an error.
	Delete(ctx context.Context, channel string) error
}
