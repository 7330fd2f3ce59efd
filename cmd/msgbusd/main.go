// Command msgbusd runs the notification dispatch service: an HTTP API that
// accepts messages, resolves their audience from subscriptions, and fans out
// across the configured channels.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kart-io/msgbus/observability"
	"github.com/kart-io/msgbus/pkg/bus"
	"github.com/kart-io/msgbus/pkg/config"
	"github.com/kart-io/msgbus/pkg/connector"
	"github.com/kart-io/msgbus/pkg/connector/email"
	"github.com/kart-io/msgbus/pkg/connector/imtalk"
	"github.com/kart-io/msgbus/pkg/connector/webhook"
	"github.com/kart-io/msgbus/pkg/logger"
	"github.com/kart-io/msgbus/pkg/message"
	"github.com/kart-io/msgbus/pkg/recipient"
	"github.com/kart-io/msgbus/pkg/store/memory"
	"github.com/kart-io/msgbus/pkg/store/postgres"
	"github.com/kart-io/msgbus/pkg/subscription"
	"github.com/kart-io/msgbus/pkg/token"
	"github.com/kart-io/msgbus/pkg/utils/crypto"
	transport "github.com/kart-io/msgbus/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		stdlog.Fatalf("msgbusd: %v", err)
	}
}

func run(configPath string) error {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found, relying on OS environment variables")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.New().LogMode(logger.ParseLevel(cfg.LogLevel))

	if masterKey := os.Getenv("MSGBUS_MASTER_KEY"); masterKey != "" {
		box, err := crypto.NewSecretBox(masterKey)
		if err != nil {
			return fmt.Errorf("init secret box: %w", err)
		}
		if err := cfg.UnsealSecrets(box); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	telemetry, err := observability.NewTelemetryProvider(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	stores, cleanup, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	tokenStore, tokenCleanup, err := buildTokenStore(cfg, stores, log)
	if err != nil {
		return err
	}
	defer tokenCleanup()
	tokenCache := token.NewCache(tokenStore, log)

	registry := connector.NewRegistry(log)
	if err := registerConnectors(registry, cfg, tokenCache); err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	resolver := subscription.NewResolver(stores.subscriptions, stores.recipients, log)
	dispatcher := bus.NewDispatcher(resolver, registry, stores.messages, log,
		bus.WithMaxConcurrent(cfg.Dispatch.MaxConcurrent),
		bus.WithDeliveryLog(stores.deliveryLogs),
		bus.WithTelemetry(telemetry),
	)

	handler := &transport.MessageHandler{
		Dispatcher:      dispatcher,
		Messages:        stores.messages,
		DeliveryLogs:    stores.deliveryLogs,
		DispatchTimeout: cfg.Dispatch.Timeout,
		Logger:          log,
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      transport.NewRouter(handler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info("Shutting down", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", "error", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown failed", "error", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("MSGBUS_CONFIG")
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.New()
	}

	cfg.ApplyEnv()
	return cfg, nil
}

type storeSet struct {
	subscriptions subscription.Store
	recipients    recipient.Store
	messages      message.Store
	deliveryLogs  message.DeliveryLogStore
	db            *sql.DB
}

func buildStores(cfg *config.Config, log logger.Logger) (*storeSet, func(), error) {
	if cfg.Store.Driver == "postgres" {
		db, err := postgres.Open(&cfg.Store.Postgres, log)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.InitSchema(context.Background(), db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return &storeSet{
			subscriptions: postgres.NewSubscriptionStore(db),
			recipients:    postgres.NewRecipientStore(db),
			messages:      postgres.NewMessageStore(db),
			deliveryLogs:  postgres.NewDeliveryLogStore(db),
			db:            db,
		}, func() { _ = db.Close() }, nil
	}

	return &storeSet{
		subscriptions: memory.NewSubscriptionStore(),
		recipients:    memory.NewRecipientStore(),
		messages:      memory.NewMessageStore(),
		deliveryLogs:  memory.NewDeliveryLogStore(),
	}, func() {}, nil
}

func buildTokenStore(cfg *config.Config, stores *storeSet, log logger.Logger) (token.Store, func(), error) {
	if cfg.TokenStore.Driver == "redis" {
		store, err := token.NewRedisStore(&token.RedisOptions{
			Addr:     cfg.TokenStore.Redis.Addr,
			Password: cfg.TokenStore.Redis.Password,
			DB:       cfg.TokenStore.Redis.DB,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}

	// Postgres deployments share tokens through the token table even when
	// Redis is not configured.
	if cfg.Store.Driver == "postgres" && stores.db != nil {
		return postgres.NewTokenStore(stores.db), func() {}, nil
	}

	return token.NewMemoryStore(), func() {}, nil
}

func registerConnectors(registry *connector.Registry, cfg *config.Config, tokens *token.Cache) error {
	if cfg.Email != nil {
		if err := registry.RegisterFactory(recipient.ChannelEmail, func(c interface{}, log logger.Logger) (connector.Connector, error) {
			return email.New(c.(*email.Config), log)
		}); err != nil {
			return err
		}
		registry.SetConfig(recipient.ChannelEmail, cfg.Email)
	}

	if cfg.IMTalk != nil {
		if err := registry.RegisterFactory(recipient.ChannelIMTalk, func(c interface{}, log logger.Logger) (connector.Connector, error) {
			return imtalk.New(c.(*imtalk.Config), tokens, log)
		}); err != nil {
			return err
		}
		registry.SetConfig(recipient.ChannelIMTalk, cfg.IMTalk)
	}

	if cfg.Webhook != nil {
		if err := registry.RegisterFactory(recipient.ChannelWebhook, func(c interface{}, log logger.Logger) (connector.Connector, error) {
			return webhook.New(c.(*webhook.Config), tokens, log)
		}); err != nil {
			return err
		}
		registry.SetConfig(recipient.ChannelWebhook, cfg.Webhook)
	}

	return nil
}
