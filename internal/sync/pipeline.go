package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	mqcontracts "discussync/contracts/mq"
	"discussync/internal/classify"
	"discussync/internal/model"
	"discussync/internal/odoo"
	"discussync/pkg/metrics"
	"discussync/pkg/util"
)

// MessageStore is the slice of the repository the ingest path needs.
type MessageStore interface {
	Insert(ctx context.Context, m *model.Message) (bool, error)
}

// CursorStore persists ingestion watermarks per scope. found distinguishes
// a scope that was never set from one explicitly stored at 0.
type CursorStore interface {
	LastMessageID(ctx context.Context, scope string) (id int64, found bool, err error)
	Advance(ctx context.Context, scope string, messageID int64) error
}

// EventPublisher emits advisory events. Publishing is best-effort and never
// fails a cycle.
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// Result counts what one ingest pass did to a fetched batch.
type Result struct {
	Inserted   int
	Duplicates int
	Skipped    int
	ByCategory map[model.Category]int
	MaxID      int64
}

// Pipeline is the classify/dedup/persist stage shared by the live sync
// engine and backfill runs.
type Pipeline struct {
	store         MessageStore
	publisher     EventPublisher
	alertKeywords []string
	logger        *zap.Logger
}

func NewPipeline(store MessageStore, publisher EventPublisher, alertKeywords []string, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:         store,
		publisher:     publisher,
		alertKeywords: alertKeywords,
		logger:        logger,
	}
}

func toMessage(rec odoo.MessageRecord, ch odoo.ChannelRecord, category model.Category) *model.Message {
	m := &model.Message{
		MessageID:     rec.ID,
		ChannelID:     rec.ResID,
		ChannelName:   string(ch.Name),
		Category:      category,
		Body:          string(rec.Body),
		EmailFrom:     string(rec.EmailFrom),
		Date:          rec.Date.Time,
		AttachmentIDs: rec.AttachmentIDs,
	}
	if rec.AuthorID.Valid {
		m.Author = &model.Author{ID: rec.AuthorID.ID, Name: rec.AuthorID.Name}
	}
	return m
}

// Ingest classifies and persists a fetched batch. Individual insert
// failures are logged and skipped; the rest of the batch still lands.
// MaxID covers every fetched record, including skipped ones, so the
// caller's watermark advance matches what was fetched, not what stuck.
func (p *Pipeline) Ingest(ctx context.Context, records []odoo.MessageRecord, channels map[int64]odoo.ChannelRecord, source string) Result {
	res := Result{ByCategory: map[model.Category]int{}}

	for _, rec := range records {
		if rec.ID > res.MaxID {
			res.MaxID = rec.ID
		}

		ch, ok := channels[rec.ResID]
		if !ok {
			p.logger.Warn("Channel not resolved for message, skipping",
				zap.Int64("message_id", rec.ID),
				zap.Int64("channel_id", rec.ResID),
			)
			res.Skipped++
			metrics.MessagesSkipped.WithLabelValues(source).Inc()
			continue
		}

		category := classify.Channel(string(ch.Name), string(ch.ChannelType))
		res.ByCategory[category]++

		inserted, err := p.store.Insert(ctx, toMessage(rec, ch, category))
		if err != nil {
			_, kind := util.IsRetryableError(err)
			p.logger.Error("Failed to persist message, skipping",
				zap.Int64("message_id", rec.ID),
				zap.Int64("channel_id", rec.ResID),
				zap.String("channel_name", string(ch.Name)),
				zap.String("error_type", kind),
				zap.Error(err),
			)
			res.Skipped++
			metrics.MessagesSkipped.WithLabelValues(source).Inc()
			continue
		}
		if !inserted {
			res.Duplicates++
			metrics.MessagesDuplicate.WithLabelValues(source).Inc()
			continue
		}

		res.Inserted++
		metrics.MessagesIngested.WithLabelValues(string(category), source).Inc()
		p.publishIngested(rec, ch, category)
		p.checkAlerts(rec, ch)
	}

	return res
}

func (p *Pipeline) publishIngested(rec odoo.MessageRecord, ch odoo.ChannelRecord, category model.Category) {
	if p.publisher == nil {
		return
	}
	payload := mqcontracts.MessageIngestedPayload{
		MessageID:   rec.ID,
		ChannelID:   rec.ResID,
		ChannelName: string(ch.Name),
		Category:    string(category),
		Date:        rec.Date.Time,
	}
	if err := p.publisher.Publish("message.ingested", payload); err != nil {
		p.logger.Warn("Failed to publish message.ingested event",
			zap.Int64("message_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) checkAlerts(rec odoo.MessageRecord, ch odoo.ChannelRecord) {
	if p.publisher == nil || len(p.alertKeywords) == 0 {
		return
	}
	body := strings.ToLower(util.StripMarkup(string(rec.Body)))
	for _, keyword := range p.alertKeywords {
		if keyword == "" || !strings.Contains(body, strings.ToLower(keyword)) {
			continue
		}
		// Truncate on a rune boundary; bodies are mostly Arabic and a
		// byte cut would leave invalid UTF-8 in the payload.
		excerpt := body
		if runes := []rune(excerpt); len(runes) > 120 {
			excerpt = string(runes[:120])
		}
		payload := mqcontracts.MessageAlertPayload{
			MessageID:   rec.ID,
			ChannelID:   rec.ResID,
			ChannelName: string(ch.Name),
			Keyword:     keyword,
			Excerpt:     excerpt,
		}
		if err := p.publisher.Publish("message.alert", payload); err != nil {
			p.logger.Warn("Failed to publish message.alert event",
				zap.Int64("message_id", rec.ID),
				zap.String("keyword", keyword),
				zap.Error(err),
			)
		}
		return // first matching keyword wins
	}
}
