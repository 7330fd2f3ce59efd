package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/msgbus/pkg/connector/email"
	"github.com/kart-io/msgbus/pkg/connector/webhook"
	"github.com/kart-io/msgbus/pkg/utils/crypto"
)

func TestNewDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, "memory", c.TokenStore.Driver)
	assert.Equal(t, 4, c.Dispatch.MaxConcurrent)
	assert.Equal(t, 60*time.Second, c.Dispatch.Timeout)
	assert.False(t, c.Telemetry.Enabled)
}

func TestNewWithOptions(t *testing.T) {
	c := New(
		WithServerAddr(":9090"),
		WithLogLevel("debug"),
		WithPostgres("postgres://msgbus@localhost/msgbus"),
		WithRedisTokenStore("localhost:6379"),
		WithDispatchTimeout(10*time.Second),
	)

	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "postgres", c.Store.Driver)
	assert.Equal(t, "postgres://msgbus@localhost/msgbus", c.Store.Postgres.DSN)
	assert.Equal(t, "redis", c.TokenStore.Driver)
	assert.Equal(t, "localhost:6379", c.TokenStore.Redis.Addr)
	assert.Equal(t, 10*time.Second, c.Dispatch.Timeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
log_level: warn
store:
  driver: postgres
  postgres:
    dsn: postgres://msgbus@db/msgbus
email:
  host: smtp.example.com
  port: 587
  from: noreply@example.com
  use_tls: true
`), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, "postgres", c.Store.Driver)
	require.NotNil(t, c.Email)
	assert.Equal(t, "smtp.example.com", c.Email.Host)
	assert.True(t, c.Email.UseTLS)
	assert.Nil(t, c.IMTalk)

	// File values overlay defaults, not replace them.
	assert.Equal(t, 4, c.Dispatch.MaxConcurrent)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MSGBUS_HTTP_ADDR", ":7070")
	t.Setenv("MSGBUS_LOG_LEVEL", "debug")
	t.Setenv("MSGBUS_STORE_DRIVER", "postgres")
	t.Setenv("MSGBUS_DB_DSN", "postgres://env@db/msgbus")
	t.Setenv("MSGBUS_DISPATCH_TIMEOUT", "45s")
	t.Setenv("MSGBUS_DISPATCH_MAX_CONCURRENT", "8")
	t.Setenv("MSGBUS_OTLP_ENDPOINT", "otel-collector:4317")

	c := New()
	c.ApplyEnv()

	assert.Equal(t, ":7070", c.Server.Addr)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "postgres", c.Store.Driver)
	assert.Equal(t, "postgres://env@db/msgbus", c.Store.Postgres.DSN)
	assert.Equal(t, 45*time.Second, c.Dispatch.Timeout)
	assert.Equal(t, 8, c.Dispatch.MaxConcurrent)
	assert.True(t, c.Telemetry.Enabled)
	assert.Equal(t, "otel-collector:4317", c.Telemetry.OTLPEndpoint)
}

func TestApplyEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MSGBUS_DISPATCH_TIMEOUT", "not-a-duration")
	t.Setenv("MSGBUS_DISPATCH_MAX_CONCURRENT", "-3")

	c := New()
	c.ApplyEnv()

	assert.Equal(t, 60*time.Second, c.Dispatch.Timeout)
	assert.Equal(t, 4, c.Dispatch.MaxConcurrent)
}

func TestUnsealSecrets(t *testing.T) {
	box, err := crypto.NewSecretBox("unit-test-master-key")
	require.NoError(t, err)

	sealed, err := box.Seal("s3cret")
	require.NoError(t, err)

	c := New(
		WithEmail(&email.Config{Host: "h", Port: 25, From: "f@x.com", Username: "u", Password: sealed}),
		WithWebhook(&webhook.Config{WebhookURL: "http://h", TokenURL: "http://t", ClientID: "c", ClientSecret: "plain-secret"}),
	)

	require.NoError(t, c.UnsealSecrets(box))
	assert.Equal(t, "s3cret", c.Email.Password)
	// Unsealed values pass through untouched.
	assert.Equal(t, "plain-secret", c.Webhook.ClientSecret)
}

func TestUnsealSecretsWrongKey(t *testing.T) {
	sealer, err := crypto.NewSecretBox("key-one")
	require.NoError(t, err)
	sealed, err := sealer.Seal("s3cret")
	require.NoError(t, err)

	opener, err := crypto.NewSecretBox("key-two")
	require.NoError(t, err)

	c := New(WithEmail(&email.Config{Host: "h", Port: 25, From: "f@x.com", Password: sealed}))
	err = c.UnsealSecrets(opener)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.password")
}

func TestValidate(t *testing.T) {
	emailCfg := func() *email.Config {
		return &email.Config{Host: "h", Port: 25, From: "f@x.com"}
	}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "valid memory", cfg: New(WithEmail(emailCfg()))},
		{name: "no channels", cfg: New(), wantErr: "at least one channel"},
		{name: "unknown store driver", cfg: func() *Config {
			c := New(WithEmail(emailCfg()))
			c.Store.Driver = "sqlite"
			return c
		}(), wantErr: "store driver"},
		{name: "postgres without dsn", cfg: func() *Config {
			c := New(WithEmail(emailCfg()))
			c.Store.Driver = "postgres"
			return c
		}(), wantErr: "dsn"},
		{name: "redis without addr", cfg: func() *Config {
			c := New(WithEmail(emailCfg()))
			c.TokenStore.Driver = "redis"
			return c
		}(), wantErr: "addr"},
		{name: "invalid channel config", cfg: New(WithEmail(&email.Config{Port: 25, From: "f@x.com"})), wantErr: "host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
