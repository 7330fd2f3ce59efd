package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/msgbus/pkg/logger"
)

// RedisOptions configures the Redis-backed token store.
type RedisOptions struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password,omitempty"`
	DB           int           `json:"db"`
	KeyPrefix    string        `json:"key_prefix"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// RedisStore shares the token cache across processes. Entries expire from
// Redis shortly after the token itself expires so stale credentials never
// accumulate.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    logger.Logger
}

// NewRedisStore creates a Redis-backed token store and verifies connectivity.
func NewRedisStore(opts *RedisOptions, log logger.Logger) (*RedisStore, error) {
	if log == nil {
		log = logger.Discard
	}
	if opts == nil {
		return nil, errors.New("redis options cannot be nil")
	}

	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "msgbus:token:"
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		logger:    log,
	}, nil
}

// Get returns the cached token for a channel, or nil when absent.
func (s *RedisStore) Get(ctx context.Context, channel string) (*Token, error) {
	data, err := s.client.Get(ctx, s.key(channel)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token %s: %w", channel, err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", channel, err)
	}
	return &tok, nil
}

// Upsert stores the token with a Redis TTL slightly past the token expiry.
func (s *RedisStore) Upsert(ctx context.Context, tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token %s: %w", tok.Channel, err)
	}

	ttl := time.Until(tok.ExpiredAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, s.key(tok.Channel), data, ttl).Err(); err != nil {
		return fmt.Errorf("write token %s: %w", tok.Channel, err)
	}
	return nil
}

// Delete drops the cached token for a channel.
func (s *RedisStore) Delete(ctx context.Context, channel string) error {
	if err := s.client.Del(ctx, s.key(channel)).Err(); err != nil {
		return fmt.Errorf("delete token %s: %w", channel, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(channel string) string {
	return s.keyPrefix + channel
}
