// Package postgres provides the relational store implementations backed by
// database/sql and the pq driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kart-io/msgbus/pkg/config"
	"github.com/kart-io/msgbus/pkg/logger"
)

// Open connects to postgres with the configured pool limits and verifies
// connectivity.
func Open(cfg *config.PostgresConfig, log logger.Logger) (*sql.DB, error) {
	if log == nil {
		log = logger.Discard
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("Connected to postgres")
	return db, nil
}
