package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kart-io/msgbus/pkg/token"
)

// TokenStore shares per-channel tokens across processes through the token
// table. The upsert is atomic, so concurrent refreshes never interleave a
// partial row.
type TokenStore struct {
	DB *sql.DB
}

// NewTokenStore creates a token store over an open pool.
func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{DB: db}
}

// Get returns the cached token for a channel, or nil when absent.
func (s *TokenStore) Get(ctx context.Context, channel string) (*token.Token, error) {
	query := `
		SELECT channel, COALESCE(access_token, ''), COALESCE(token_type, ''),
		       COALESCE(refresh_token, ''), expired_at
		FROM token
		WHERE channel = $1
	`
	var tok token.Token
	var expiredAt sql.NullTime
	err := s.DB.QueryRowContext(ctx, query, channel).Scan(
		&tok.Channel,
		&tok.AccessToken,
		&tok.TokenType,
		&tok.RefreshToken,
		&expiredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query token %s: %w", channel, err)
	}
	if expiredAt.Valid {
		tok.ExpiredAt = expiredAt.Time
	}
	return &tok, nil
}

// Upsert atomically inserts or replaces the token for its channel.
func (s *TokenStore) Upsert(ctx context.Context, tok *token.Token) error {
	query := `
		INSERT INTO token (channel, access_token, token_type, refresh_token, expired_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    token_type = EXCLUDED.token_type,
		    refresh_token = EXCLUDED.refresh_token,
		    expired_at = EXCLUDED.expired_at
	`
	if _, err := s.DB.ExecContext(ctx, query,
		tok.Channel,
		tok.AccessToken,
		tok.TokenType,
		tok.RefreshToken,
		tok.ExpiredAt,
	); err != nil {
		return fmt.Errorf("upsert token %s: %w", tok.Channel, err)
	}
	return nil
}

// Delete drops the cached token for a channel.
func (s *TokenStore) Delete(ctx context.Context, channel string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM token WHERE channel = $1`, channel); err != nil {
		return fmt.Errorf("delete token %s: %w", channel, err)
	}
	return nil
}
