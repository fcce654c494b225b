package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"discussync/internal/odoo"
	"discussync/internal/repository"
	"discussync/pkg/metrics"
)

// Backend is the slice of the Odoo client the live engine needs.
type Backend interface {
	FetchChannels(ctx context.Context) ([]odoo.ChannelRecord, error)
	FetchChannelsByIDs(ctx context.Context, ids []int64) ([]odoo.ChannelRecord, error)
	FetchMessagesAfter(ctx context.Context, afterID int64, limit int) ([]odoo.MessageRecord, error)
	FetchChannelMessagesAfter(ctx context.Context, channelID, afterID int64, limit int) ([]odoo.MessageRecord, error)
	LatestMessageID(ctx context.Context) (int64, error)
}

// Engine state. A cycle runs only when the engine transitions Idle ->
// Polling; a re-entrant invocation observes Polling and returns
// immediately.
const (
	stateIdle int32 = iota
	statePolling
)

// Engine runs incremental polling cycles against the backend. At most one
// cycle is in flight per engine; both fetch policies share the guard.
type Engine struct {
	backend    Backend
	cursors    CursorStore
	pipeline   *Pipeline
	logger     *zap.Logger
	fetchLimit int

	state atomic.Int32
}

func NewEngine(backend Backend, cursors CursorStore, pipeline *Pipeline, fetchLimit int, logger *zap.Logger) *Engine {
	if fetchLimit <= 0 {
		fetchLimit = 100
	}
	return &Engine{
		backend:    backend,
		cursors:    cursors,
		pipeline:   pipeline,
		logger:     logger,
		fetchLimit: fetchLimit,
	}
}

// PollOnce runs one cycle under the global fetch policy: a single fetch
// across all channels bounded by the global watermark. O(1) remote calls
// per idle cycle, which is why it is the steady-state default.
func (e *Engine) PollOnce(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateIdle, statePolling) {
		e.logger.Info("Poll cycle already in flight, skipping")
		metrics.SyncCycleDuration.WithLabelValues("global", "busy").Observe(0)
		return nil
	}
	defer e.state.Store(stateIdle)

	start := time.Now()
	err := e.pollGlobal(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.SyncCycleDuration.WithLabelValues("global", result).Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) pollGlobal(ctx context.Context) error {
	watermark, found, err := e.cursors.LastMessageID(ctx, repository.GlobalScope)
	if err != nil {
		e.logger.Error("Failed to read watermark", zap.Error(err))
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	// First run: initialize the watermark to the newest pre-existing
	// message so the live path does not re-ingest full history. A stored
	// 0 is an operator's request to ingest from the beginning and must
	// not re-bootstrap.
	if !found {
		latest, err := e.backend.LatestMessageID(ctx)
		if err != nil {
			return fmt.Errorf("failed to bootstrap watermark: %w", err)
		}
		if latest > 0 {
			if err := e.cursors.Advance(ctx, repository.GlobalScope, latest); err != nil {
				return fmt.Errorf("failed to store bootstrap watermark: %w", err)
			}
			metrics.Watermark.Set(float64(latest))
			e.logger.Info("Watermark initialized from newest backend message",
				zap.Int64("message_id", latest),
			)
			return nil
		}
	}

	records, err := e.backend.FetchMessagesAfter(ctx, watermark, e.fetchLimit)
	if err != nil {
		e.logger.Error("Failed to fetch new messages",
			zap.Int64("watermark", watermark),
			zap.Error(err),
		)
		return fmt.Errorf("failed to fetch messages: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	channels, err := e.resolveChannels(ctx, records)
	if err != nil {
		// Whole cycle aborts with the watermark untouched; inserts are
		// idempotent so the next tick refetches safely.
		e.logger.Error("Failed to resolve channels for batch", zap.Error(err))
		return fmt.Errorf("failed to resolve channels: %w", err)
	}

	res := e.pipeline.Ingest(ctx, records, channels, "poll")

	if err := e.cursors.Advance(ctx, repository.GlobalScope, res.MaxID); err != nil {
		e.logger.Error("Failed to advance watermark",
			zap.Int64("message_id", res.MaxID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	metrics.Watermark.Set(float64(res.MaxID))

	e.logger.Info("Poll cycle complete",
		zap.Int("fetched", len(records)),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
		zap.Int64("watermark", res.MaxID),
	)
	return nil
}

// PollChannels runs one cycle under the per-channel fetch policy: iterate
// every channel and advance a per-channel watermark. O(channels) remote
// calls, kept for targeted re-syncs.
func (e *Engine) PollChannels(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateIdle, statePolling) {
		e.logger.Info("Poll cycle already in flight, skipping")
		metrics.SyncCycleDuration.WithLabelValues("per_channel", "busy").Observe(0)
		return nil
	}
	defer e.state.Store(stateIdle)

	start := time.Now()
	err := e.pollPerChannel(ctx)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.SyncCycleDuration.WithLabelValues("per_channel", result).Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) pollPerChannel(ctx context.Context) error {
	channels, err := e.backend.FetchChannels(ctx)
	if err != nil {
		e.logger.Error("Failed to fetch channels", zap.Error(err))
		return fmt.Errorf("failed to fetch channels: %w", err)
	}

	var total Result
	for _, ch := range channels {
		scope := repository.ChannelScope(ch.ID)

		// Per-channel scopes never bootstrap; an absent row means fetch
		// the channel's history from the start.
		watermark, _, err := e.cursors.LastMessageID(ctx, scope)
		if err != nil {
			e.logger.Error("Failed to read channel watermark",
				zap.Int64("channel_id", ch.ID),
				zap.Error(err),
			)
			continue
		}

		records, err := e.backend.FetchChannelMessagesAfter(ctx, ch.ID, watermark, e.fetchLimit)
		if err != nil {
			e.logger.Error("Failed to fetch channel messages",
				zap.Int64("channel_id", ch.ID),
				zap.String("channel_name", string(ch.Name)),
				zap.Error(err),
			)
			continue
		}
		if len(records) == 0 {
			continue
		}

		res := e.pipeline.Ingest(ctx, records, map[int64]odoo.ChannelRecord{ch.ID: ch}, "poll")

		if err := e.cursors.Advance(ctx, scope, res.MaxID); err != nil {
			e.logger.Error("Failed to advance channel watermark",
				zap.Int64("channel_id", ch.ID),
				zap.Error(err),
			)
			continue
		}

		total.Inserted += res.Inserted
		total.Duplicates += res.Duplicates
		total.Skipped += res.Skipped
	}

	e.logger.Info("Per-channel poll cycle complete",
		zap.Int("channels", len(channels)),
		zap.Int("inserted", total.Inserted),
		zap.Int("duplicates", total.Duplicates),
		zap.Int("skipped", total.Skipped),
	)
	return nil
}

func (e *Engine) resolveChannels(ctx context.Context, records []odoo.MessageRecord) (map[int64]odoo.ChannelRecord, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, rec := range records {
		if !seen[rec.ResID] {
			seen[rec.ResID] = true
			ids = append(ids, rec.ResID)
		}
	}

	rows, err := e.backend.FetchChannelsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	channels := make(map[int64]odoo.ChannelRecord, len(rows))
	for _, ch := range rows {
		channels[ch.ID] = ch
	}
	return channels, nil
}
