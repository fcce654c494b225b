package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		message_id     BIGINT PRIMARY KEY,
		channel_id     BIGINT NOT NULL,
		channel_name   TEXT NOT NULL,
		channel_type   TEXT NOT NULL,
		body           TEXT NOT NULL DEFAULT '',
		author_id      BIGINT,
		author_name    TEXT,
		email_from     TEXT NOT NULL DEFAULT '',
		date           TIMESTAMPTZ NOT NULL,
		attachment_ids BIGINT[] NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed      BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_channel_id ON messages (channel_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_date ON messages (date DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_unprocessed ON messages (date) WHERE processed = FALSE`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		scope           TEXT PRIMARY KEY,
		last_message_id BIGINT NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
