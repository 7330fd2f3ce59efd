package token

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kart-io/msgbus/pkg/errors"
	"github.com/kart-io/msgbus/pkg/logger"
)

// ExchangeFunc performs a provider credential exchange and returns a fresh
// token with ExpiredAt already computed from the provider's TTL.
type ExchangeFunc func(ctx context.Context) (*Token, error)

// exchangeTimeout bounds a detached refresh so a hung provider cannot wedge
// the flight for every waiting caller.
const exchangeTimeout = 30 * time.Second

// Cache serves tokens from the store while they are valid and coalesces
// concurrent refreshes for the same channel into a single provider
// round-trip. It is the only state shared across concurrent dispatches.
type Cache struct {
	store  Store
	group  singleflight.Group
	logger logger.Logger
	now    func() time.Time
	// skew widens the expiry check so a token about to lapse mid-send is
	// refreshed up front.
	skew time.Duration
}

// NewCache creates a cache over the given store.
func NewCache(store Store, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Discard
	}
	return &Cache{
		store:  store,
		logger: log,
		now:    time.Now,
		skew:   30 * time.Second,
	}
}

// WithClock overrides the cache's clock. Used by tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// GetOrRefresh returns the cached token for a channel while it is still
// valid, otherwise runs the exchange, persists the result, and returns it.
// Concurrent callers for the same channel share one exchange.
func (c *Cache) GetOrRefresh(ctx context.Context, channel string, exchange ExchangeFunc) (*Token, error) {
	cutoff := c.now().Add(c.skew)

	cached, err := c.store.Get(ctx, channel)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrStore, "read token for channel=%s", channel)
	}
	if cached.Valid(cutoff) {
		return cached, nil
	}

	v, err, shared := c.group.Do(channel, func() (interface{}, error) {
		// The flight's result is shared with coalesced callers, so it must
		// not inherit the leading caller's cancellation. Run the exchange
		// detached, under its own deadline.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeTimeout)
		defer cancel()

		// Re-check inside the flight: a sibling caller or another process
		// may have refreshed while this one waited.
		if tok, err := c.store.Get(fctx, channel); err == nil && tok.Valid(cutoff) {
			return tok, nil
		}

		fresh, err := exchange(fctx)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrTokenExchange, "credential exchange for channel=%s", channel)
		}
		fresh.Channel = channel
		if fresh.ExpiredAt.IsZero() {
			return nil, errors.Newf(errors.ErrTokenExchange, "exchange for channel=%s returned token without expiry", channel)
		}

		if err := c.store.Upsert(fctx, fresh); err != nil {
			return nil, errors.Wrapf(err, errors.ErrStore, "persist token for channel=%s", channel)
		}
		c.logger.Info("Token refreshed", "channel", channel, "expired_at", fresh.ExpiredAt)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Token refresh coalesced", "channel", channel)
	}
	return v.(*Token), nil
}

// Invalidate drops the cached token for a channel so the next caller is
// forced through the exchange. Used when a provider rejects a token early.
func (c *Cache) Invalidate(ctx context.Context, channel string) error {
	if err := c.store.Delete(ctx, channel); err != nil {
		return errors.Wrapf(err, errors.ErrStore, "invalidate token for channel=%s", channel)
	}
	return nil
}
