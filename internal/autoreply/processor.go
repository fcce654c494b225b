package autoreply

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	mqcontracts "discussync/contracts/mq"
	"discussync/internal/model"
	"discussync/pkg/circuitbreaker"
	"discussync/pkg/metrics"
	"discussync/pkg/util"
)

const retryHandlerName = "autoreply"

// Backlog is the slice of the repository the processor consumes.
type Backlog interface {
	Unprocessed(ctx context.Context, limit int) ([]model.Message, error)
	UnprocessedByCategory(ctx context.Context, category model.Category, limit int) ([]model.Message, error)
	MarkProcessed(ctx context.Context, messageID int64) error
	ByChannel(ctx context.Context, channelID int64, limit int) ([]model.Message, error)
}

// Dispatcher posts a reply into the owning channel.
type Dispatcher interface {
	PostMessage(ctx context.Context, channelID int64, body string) error
}

// RetryCounter bounds dispatch retries per message.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetterPublisher parks replies that exhausted their retry budget.
type DeadLetterPublisher interface {
	PublishToDLQ(routingKey string, payload any, originalError string) error
}

type Config struct {
	BatchSize     int
	HistoryDepth  int
	DispatchDelay time.Duration
	MaxRetries    int64
	WhatsAppOnly  bool
	// Case-insensitive denylist of internal team identifiers. Messages
	// whose author name contains one are internal noise, not customers.
	TeamMembers []string
	// Only channels whose name is listed get an automated response.
	AllowedChannels []string
}

// Processor drains the unprocessed backlog on its own cadence: eligibility
// checks, reply generation, dispatch, then commit. A failed dispatch leaves
// the message unprocessed so the next tick retries it. Single-instance by
// design; nothing guards two processors against double-fetching.
type Processor struct {
	store      Backlog
	dispatcher Dispatcher
	generator  Generator
	retries    RetryCounter
	dlq        DeadLetterPublisher
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	cfg        Config

	teamMembers []string
	allowed     map[string]bool
}

func NewProcessor(
	store Backlog,
	dispatcher Dispatcher,
	generator Generator,
	retries RetryCounter,
	dlq DeadLetterPublisher,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	teamMembers := make([]string, 0, len(cfg.TeamMembers))
	for _, member := range cfg.TeamMembers {
		if member != "" {
			teamMembers = append(teamMembers, strings.ToLower(member))
		}
	}
	allowed := make(map[string]bool, len(cfg.AllowedChannels))
	for _, name := range cfg.AllowedChannels {
		allowed[name] = true
	}

	return &Processor{
		store:       store,
		dispatcher:  dispatcher,
		generator:   generator,
		retries:     retries,
		dlq:         dlq,
		breaker:     circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:      logger,
		cfg:         cfg,
		teamMembers: teamMembers,
		allowed:     allowed,
	}
}

// ProcessOnce handles one bounded batch from the backlog.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	messages, err := p.fetchBacklog(ctx)
	if err != nil {
		p.logger.Error("Failed to fetch unprocessed backlog", zap.Error(err))
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	p.logger.Info("Processing backlog", zap.Int("count", len(messages)))

	replied := 0
	skipped := 0
	for i := range messages {
		msg := &messages[i]

		if p.isTeamMember(msg) {
			p.markSkipped(ctx, msg, "team_member")
			skipped++
			continue
		}
		if !p.allowed[msg.ChannelName] {
			p.markSkipped(ctx, msg, "not_allowlisted")
			skipped++
			continue
		}

		if p.replyTo(ctx, msg) {
			replied++
			// Spread dispatches out to respect backend rate limits.
			if p.cfg.DispatchDelay > 0 {
				select {
				case <-time.After(p.cfg.DispatchDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	if replied > 0 || skipped > 0 {
		p.logger.Info("Backlog batch done",
			zap.Int("replied", replied),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

func (p *Processor) fetchBacklog(ctx context.Context) ([]model.Message, error) {
	if p.cfg.WhatsAppOnly {
		return p.store.UnprocessedByCategory(ctx, model.CategoryWhatsApp, p.cfg.BatchSize)
	}
	return p.store.Unprocessed(ctx, p.cfg.BatchSize)
}

func (p *Processor) isTeamMember(msg *model.Message) bool {
	if msg.Author == nil {
		return false
	}
	author := strings.ToLower(msg.Author.Name)
	for _, member := range p.teamMembers {
		if strings.Contains(author, member) {
			return true
		}
	}
	return false
}

func (p *Processor) markSkipped(ctx context.Context, msg *model.Message, reason string) {
	if err := p.store.MarkProcessed(ctx, msg.MessageID); err != nil {
		p.logger.Error("Failed to mark message processed",
			zap.Int64("message_id", msg.MessageID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	metrics.ReplySkipped.WithLabelValues(reason).Inc()
}

// replyTo generates and dispatches a reply, committing the processed flag
// only after a successful dispatch. Returns true when a reply went out.
func (p *Processor) replyTo(ctx context.Context, msg *model.Message) bool {
	history, err := p.store.ByChannel(ctx, msg.ChannelID, p.cfg.HistoryDepth)
	if err != nil {
		// History is context, not a prerequisite.
		p.logger.Warn("Failed to load channel history",
			zap.Int64("channel_id", msg.ChannelID),
			zap.Error(err),
		)
		history = nil
	}

	reply := p.generator.Generate(*msg, history)

	dispatchErr := p.breaker.Execute(func() error {
		return p.dispatcher.PostMessage(ctx, msg.ChannelID, reply.Text)
	})
	if dispatchErr != nil {
		p.onDispatchFailure(ctx, msg, dispatchErr)
		return false
	}

	if err := p.store.MarkProcessed(ctx, msg.MessageID); err != nil {
		// The reply went out but the flag did not stick; the next tick will
		// re-send. At-least-once, by contract.
		p.logger.Error("Reply sent but failed to mark processed",
			zap.Int64("message_id", msg.MessageID),
			zap.Error(err),
		)
		return true
	}

	if p.retries != nil {
		_ = p.retries.Reset(ctx, util.FormatRetryKey(retryHandlerName, msg.MessageID))
	}

	metrics.RepliesSent.WithLabelValues(reply.Kind).Inc()
	p.logger.Info("Auto-reply sent",
		zap.Int64("message_id", msg.MessageID),
		zap.String("channel_name", msg.ChannelName),
		zap.String("kind", reply.Kind),
	)
	return true
}

func (p *Processor) onDispatchFailure(ctx context.Context, msg *model.Message, dispatchErr error) {
	// A breaker rejection means the dispatch never reached the backend.
	// It must not consume the retry budget, or a short outage would
	// dead-letter messages that were never actually attempted.
	if errors.Is(dispatchErr, circuitbreaker.ErrCircuitBreakerOpen) {
		p.logger.Warn("Reply dispatch rejected by open circuit breaker",
			zap.Int64("message_id", msg.MessageID),
			zap.Int64("channel_id", msg.ChannelID),
		)
		return
	}

	metrics.ReplyDispatchFailures.Inc()
	_, errType := util.IsRetryableError(dispatchErr)
	p.logger.Error("Reply dispatch failed, message left for retry",
		zap.Int64("message_id", msg.MessageID),
		zap.Int64("channel_id", msg.ChannelID),
		zap.String("channel_name", msg.ChannelName),
		zap.String("error_type", errType),
		zap.Error(dispatchErr),
	)

	if p.retries == nil {
		return
	}

	key := util.FormatRetryKey(retryHandlerName, msg.MessageID)
	count, err := p.retries.IncrementAndGet(ctx, key)
	if err != nil {
		p.logger.Warn("Retry counter unavailable", zap.Error(err))
		return
	}
	if count <= p.cfg.MaxRetries {
		return
	}

	// Retry budget exhausted: park the message in the DLQ and take it out
	// of the backlog so a dead channel cannot wedge the processor forever.
	if p.dlq != nil {
		payload := mqcontracts.ReplyDeadLetterPayload{
			MessageID:   msg.MessageID,
			ChannelID:   msg.ChannelID,
			ChannelName: msg.ChannelName,
			Retries:     count,
			Error:       dispatchErr.Error(),
		}
		if err := p.dlq.PublishToDLQ("reply.dead_letter", payload, dispatchErr.Error()); err != nil {
			p.logger.Error("Failed to publish dead letter", zap.Error(err))
		}
	}

	p.markSkipped(ctx, msg, "retry_exhausted")
	_ = p.retries.Reset(ctx, key)
	p.logger.Warn("Reply retry budget exhausted, message dead-lettered",
		zap.Int64("message_id", msg.MessageID),
		zap.Int64("retries", count),
	)
}
