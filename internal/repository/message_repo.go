package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discussync/internal/model"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert persists a message. A second insert with the same message_id is a
// no-op; the bool reports whether a new row was written.
func (r *MessageRepository) Insert(ctx context.Context, m *model.Message) (bool, error) {
	query := `
        INSERT INTO messages (
            message_id, channel_id, channel_name, channel_type, body,
            author_id, author_name, email_from, date, attachment_ids,
            created_at, processed
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), FALSE)
        ON CONFLICT (message_id) DO NOTHING
    `
	var authorID *int64
	var authorName *string
	if m.Author != nil {
		authorID = &m.Author.ID
		authorName = &m.Author.Name
	}

	tag, err := r.db.Exec(ctx, query,
		m.MessageID,
		m.ChannelID,
		m.ChannelName,
		string(m.Category),
		m.Body,
		authorID,
		authorName,
		m.EmailFrom,
		m.Date,
		m.AttachmentIDs,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const messageColumns = `
        message_id, channel_id, channel_name, channel_type, body,
        author_id, author_name, email_from, date, attachment_ids,
        created_at, processed, processed_at
`

func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		var category string
		var authorID *int64
		var authorName *string

		err := rows.Scan(
			&m.MessageID,
			&m.ChannelID,
			&m.ChannelName,
			&category,
			&m.Body,
			&authorID,
			&authorName,
			&m.EmailFrom,
			&m.Date,
			&m.AttachmentIDs,
			&m.CreatedAt,
			&m.Processed,
			&m.ProcessedAt,
		)
		if err != nil {
			return nil, err
		}

		m.Category = model.Category(category)
		if authorID != nil {
			m.Author = &model.Author{ID: *authorID}
			if authorName != nil {
				m.Author.Name = *authorName
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Unprocessed returns the oldest messages still awaiting the auto-reply
// processor.
func (r *MessageRepository) Unprocessed(ctx context.Context, limit int) ([]model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE processed = FALSE
        ORDER BY date ASC
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// UnprocessedByCategory is Unprocessed restricted to one channel category.
func (r *MessageRepository) UnprocessedByCategory(ctx context.Context, category model.Category, limit int) ([]model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE processed = FALSE AND channel_type = $1
        ORDER BY date ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, string(category), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkProcessed flips the processed flag. Unknown ids are a no-op.
func (r *MessageRepository) MarkProcessed(ctx context.Context, messageID int64) error {
	query := `
        UPDATE messages
        SET processed = TRUE, processed_at = NOW()
        WHERE message_id = $1
    `
	_, err := r.db.Exec(ctx, query, messageID)
	return err
}

// ByChannel returns a channel's conversation, oldest first.
func (r *MessageRepository) ByChannel(ctx context.Context, channelID int64, limit int) ([]model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE channel_id = $1
        ORDER BY date ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, channelID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ByTimeWindow returns messages originated within the last N hours, newest
// first.
func (r *MessageRepository) ByTimeWindow(ctx context.Context, hours, limit int) ([]model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE date >= NOW() - ($1 * INTERVAL '1 hour')
        ORDER BY date DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, hours, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// Search does a case-insensitive substring search over body, channel name
// and author name, newest first.
func (r *MessageRepository) Search(ctx context.Context, text string, limit int) ([]model.Message, error) {
	query := `
        SELECT ` + messageColumns + `
        FROM messages
        WHERE body ILIKE '%' || $1 || '%'
           OR channel_name ILIKE '%' || $1 || '%'
           OR author_name ILIKE '%' || $1 || '%'
        ORDER BY date DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, text, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// Stats aggregates repository counters for operator visibility.
func (r *MessageRepository) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{ByCategory: map[model.Category]int64{}}

	query := `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE processed = FALSE),
            COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours')
        FROM messages
    `
	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalMessages, &stats.Unprocessed, &stats.Last24h)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT channel_type, COUNT(*) FROM messages GROUP BY channel_type`)
	if err != nil {
		return nil, fmt.Errorf("stats by category failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[model.Category(category)] = count
	}
	return stats, rows.Err()
}
