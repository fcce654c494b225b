package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GlobalScope is the single watermark used by the global fetch policy.
const GlobalScope = "global"

// ChannelScope is the per-channel watermark key.
func ChannelScope(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

// SyncStateRepository persists ingestion watermarks. One row per scope.
type SyncStateRepository struct {
	db *pgxpool.Pool
}

func NewSyncStateRepository(db *pgxpool.Pool) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// LastMessageID returns the watermark for a scope. A stored 0 and a scope
// that was never set are different states: the engine bootstraps only on
// the latter, so found reports whether a row exists.
func (r *SyncStateRepository) LastMessageID(ctx context.Context, scope string) (id int64, found bool, err error) {
	err = r.db.QueryRow(ctx,
		`SELECT last_message_id FROM sync_state WHERE scope = $1`, scope,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Advance upserts the watermark unconditionally. Callers only pass values
// that are >= the current watermark; monotonicity is their contract, not
// this one's.
func (r *SyncStateRepository) Advance(ctx context.Context, scope string, messageID int64) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO sync_state (scope, last_message_id, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (scope) DO UPDATE
        SET last_message_id = EXCLUDED.last_message_id, updated_at = NOW()
    `, scope, messageID)
	return err
}
