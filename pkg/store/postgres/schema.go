package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the full table set. CREATE IF NOT EXISTS keeps initialization
// idempotent; there is no migration versioning beyond additive DDL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS recipient (
		id          BIGSERIAL PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		is_group    BOOLEAN NOT NULL,
		employee_id VARCHAR(50),
		im_handle   VARCHAR(50),
		email       VARCHAR(254),
		sms_handle  VARCHAR(50),
		last_updated TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS recipient_group (
		"group"   BIGINT NOT NULL REFERENCES recipient(id) ON DELETE CASCADE,
		recipient BIGINT NOT NULL REFERENCES recipient(id) ON DELETE CASCADE,
		active    BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY ("group", recipient)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_group ON recipient_group ("group")`,
	`CREATE TABLE IF NOT EXISTS subscription (
		id        BIGSERIAL PRIMARY KEY,
		sender    VARCHAR(50) NOT NULL,
		recipient BIGINT NOT NULL REFERENCES recipient(id),
		category  VARCHAR(150) NOT NULL,
		channel   VARCHAR(50) NOT NULL,
		cron_expr VARCHAR(255) NOT NULL DEFAULT '* * * * *',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (sender, recipient, category, channel)
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id         BIGSERIAL PRIMARY KEY,
		uuid       VARCHAR(36) NOT NULL UNIQUE,
		sender     VARCHAR(50) NOT NULL,
		category   VARCHAR(150) NOT NULL,
		title      VARCHAR(150) NOT NULL,
		content    TEXT NOT NULL,
		status     VARCHAR(32) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		sent_at    TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_log (
		id          BIGSERIAL PRIMARY KEY,
		uuid        VARCHAR(36) NOT NULL,
		task_id     VARCHAR(36) NOT NULL,
		recipient   VARCHAR(100) NOT NULL,
		employee_id VARCHAR(50),
		channel     VARCHAR(50) NOT NULL,
		status      VARCHAR(32) NOT NULL,
		updated_at  TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS ix_delivery_log_uuid ON delivery_log (uuid)`,
	`CREATE TABLE IF NOT EXISTS token (
		channel       VARCHAR(50) PRIMARY KEY,
		access_token  TEXT,
		token_type    VARCHAR(50),
		refresh_token TEXT,
		expired_at    TIMESTAMP
	)`,
}

// InitSchema creates all tables when they do not exist yet.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
