// Package config assembles the runtime configuration from defaults, an
// optional YAML file, environment overrides, and functional options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kart-io/msgbus/observability"
	"github.com/kart-io/msgbus/pkg/connector/email"
	"github.com/kart-io/msgbus/pkg/connector/imtalk"
	"github.com/kart-io/msgbus/pkg/connector/webhook"
	"github.com/kart-io/msgbus/pkg/utils/crypto"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// PostgresConfig holds the relational store settings.
type PostgresConfig struct {
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisConfig holds the shared token store settings.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory or postgres.
	Driver   string         `json:"driver" yaml:"driver"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// TokenStoreConfig selects the token cache backend.
type TokenStoreConfig struct {
	// Driver is memory or redis.
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// DispatchConfig bounds the per-message fan-out.
type DispatchConfig struct {
	MaxConcurrent int           `json:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
}

// Config is the full runtime configuration.
type Config struct {
	Server     ServerConfig         `json:"server" yaml:"server"`
	LogLevel   string               `json:"log_level" yaml:"log_level"`
	Store      StoreConfig          `json:"store" yaml:"store"`
	TokenStore TokenStoreConfig     `json:"token_store" yaml:"token_store"`
	Dispatch   DispatchConfig       `json:"dispatch" yaml:"dispatch"`
	Telemetry  observability.Config `json:"telemetry" yaml:"telemetry"`

	Email   *email.Config   `json:"email,omitempty" yaml:"email,omitempty"`
	IMTalk  *imtalk.Config  `json:"imtalk,omitempty" yaml:"imtalk,omitempty"`
	Webhook *webhook.Config `json:"webhook,omitempty" yaml:"webhook,omitempty"`
}

// Option customizes a Config.
type Option func(*Config)

// WithServerAddr sets the HTTP listen address.
func WithServerAddr(addr string) Option {
	return func(c *Config) { c.Server.Addr = addr }
}

// WithLogLevel sets the log level name.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithEmail enables the email channel.
func WithEmail(cfg *email.Config) Option {
	return func(c *Config) { c.Email = cfg }
}

// WithIMTalk enables the enterprise IM channel.
func WithIMTalk(cfg *imtalk.Config) Option {
	return func(c *Config) { c.IMTalk = cfg }
}

// WithWebhook enables the webhook channel.
func WithWebhook(cfg *webhook.Config) Option {
	return func(c *Config) { c.Webhook = cfg }
}

// WithPostgres selects the postgres store backend.
func WithPostgres(dsn string) Option {
	return func(c *Config) {
		c.Store.Driver = "postgres"
		c.Store.Postgres.DSN = dsn
	}
}

// WithRedisTokenStore selects the shared Redis token cache backend.
func WithRedisTokenStore(addr string) Option {
	return func(c *Config) {
		c.TokenStore.Driver = "redis"
		c.TokenStore.Redis.Addr = addr
	}
}

// WithDispatchTimeout sets the per-dispatch deadline.
func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Config) { c.Dispatch.Timeout = d }
}

// New creates a config with defaults, then applies options.
func New(opts ...Option) *Config {
	c := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LogLevel: "info",
		Store:    StoreConfig{Driver: "memory"},
		TokenStore: TokenStoreConfig{
			Driver: "memory",
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 4,
			Timeout:       60 * time.Second,
		},
		Telemetry: observability.Config{
			ServiceName:    "msgbus",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SampleRate:     1.0,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadFile reads a YAML config file over the defaults, then applies options.
func LoadFile(path string, opts ...Option) (*Config, error) {
	c := New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ApplyEnv overlays MSGBUS_* environment variables on the config. Variables
// that are unset leave the current value in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MSGBUS_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MSGBUS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MSGBUS_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("MSGBUS_DB_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("MSGBUS_TOKEN_STORE_DRIVER"); v != "" {
		c.TokenStore.Driver = v
	}
	if v := os.Getenv("MSGBUS_REDIS_ADDR"); v != "" {
		c.TokenStore.Redis.Addr = v
	}
	if v := os.Getenv("MSGBUS_REDIS_PASSWORD"); v != "" {
		c.TokenStore.Redis.Password = v
	}
	if v := os.Getenv("MSGBUS_DISPATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Dispatch.Timeout = d
		}
	}
	if v := os.Getenv("MSGBUS_DISPATCH_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MSGBUS_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.Enabled = true
	}
}

// UnsealSecrets decrypts sealed credential fields in place. Plaintext values
// pass through unchanged so sealing stays optional per deployment.
func (c *Config) UnsealSecrets(box *crypto.SecretBox) error {
	unseal := func(name string, field *string) error {
		if field == nil || *field == "" {
			return nil
		}
		plain, err := box.Unseal(*field)
		if err != nil {
			return fmt.Errorf("unseal %s: %w", name, err)
		}
		*field = plain
		return nil
	}

	if c.Email != nil {
		if err := unseal("email.password", &c.Email.Password); err != nil {
			return err
		}
	}
	if c.IMTalk != nil {
		if err := unseal("imtalk.password", &c.IMTalk.Password); err != nil {
			return err
		}
	}
	if c.Webhook != nil {
		if err := unseal("webhook.client_secret", &c.Webhook.ClientSecret); err != nil {
			return err
		}
	}
	if err := unseal("token_store.redis.password", &c.TokenStore.Redis.Password); err != nil {
		return err
	}
	return nil
}

// Validate checks cross-field consistency and the per-channel configs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver: %s", c.Store.Driver)
	}

	switch c.TokenStore.Driver {
	case "memory":
	case "redis":
		if c.TokenStore.Redis.Addr == "" {
			return fmt.Errorf("redis token store requires an addr")
		}
	default:
		return fmt.Errorf("unknown token store driver: %s", c.TokenStore.Driver)
	}

	if c.Dispatch.MaxConcurrent <= 0 {
		c.Dispatch.MaxConcurrent = 4
	}
	if c.Dispatch.Timeout <= 0 {
		c.Dispatch.Timeout = 60 * time.Second
	}

	if c.Email != nil {
		if err := c.Email.Validate(); err != nil {
			return err
		}
	}
	if c.IMTalk != nil {
		if err := c.IMTalk.Validate(); err != nil {
			return err
		}
	}
	if c.Webhook != nil {
		if err := c.Webhook.Validate(); err != nil {
			return err
		}
	}

	if c.Email == nil && c.IMTalk == nil && c.Webhook == nil {
		return fmt.Errorf("at least one channel must be configured")
	}
	return nil
}
