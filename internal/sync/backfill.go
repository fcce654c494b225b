package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"discussync/internal/classify"
	"discussync/internal/model"
	"discussync/internal/odoo"
	"discussync/internal/repository"
	"discussync/pkg/metrics"
)

// Strategy selects which historical slice a backfill run ingests.
type Strategy interface {
	fmt.Stringer
	strategy()
}

// TimeWindow ingests everything originated within the last Hours hours.
type TimeWindow struct {
	Hours int
}

func (TimeWindow) strategy()        {}
func (s TimeWindow) String() string { return fmt.Sprintf("last %d hours", s.Hours) }

// FixedCount ingests the most recent Count messages by id, regardless of
// age.
type FixedCount struct {
	Count int
}

func (FixedCount) strategy()        {}
func (s FixedCount) String() string { return fmt.Sprintf("last %d messages", s.Count) }

// ExplicitRange ingests messages originated within [From, To].
type ExplicitRange struct {
	From time.Time
	To   time.Time
}

func (ExplicitRange) strategy() {}
func (s ExplicitRange) String() string {
	return fmt.Sprintf("%s .. %s", odoo.FormatTime(s.From), odoo.FormatTime(s.To))
}

// BackfillBackend is the slice of the Odoo client a backfill run needs.
type BackfillBackend interface {
	FetchChannelsByIDs(ctx context.Context, ids []int64) ([]odoo.ChannelRecord, error)
	FetchMessagesSince(ctx context.Context, since time.Time, limit int) ([]odoo.MessageRecord, error)
	FetchMessagesBetween(ctx context.Context, from, to time.Time, limit int) ([]odoo.MessageRecord, error)
	FetchLatestMessages(ctx context.Context, limit int) ([]odoo.MessageRecord, error)
}

// Hard ceiling on one backfill fetch, whatever the strategy asks for.
const maxFetchCap = 10000

// Backfill is the one-shot variant of the sync engine: same
// classify/dedup/persist pipeline, input selected by a Strategy instead of
// the live watermark.
type Backfill struct {
	backend  BackfillBackend
	cursors  CursorStore
	pipeline *Pipeline
	logger   *zap.Logger
	fetchCap int
}

func NewBackfill(backend BackfillBackend, cursors CursorStore, pipeline *Pipeline, fetchCap int, logger *zap.Logger) *Backfill {
	if fetchCap <= 0 || fetchCap > maxFetchCap {
		fetchCap = maxFetchCap
	}
	return &Backfill{
		backend:  backend,
		cursors:  cursors,
		pipeline: pipeline,
		logger:   logger,
		fetchCap: fetchCap,
	}
}

// Run executes one backfill pass. With dryRun set it fetches and
// classifies but writes nothing, neither messages nor watermark.
func (b *Backfill) Run(ctx context.Context, s Strategy, dryRun bool) (*model.SyncReport, error) {
	b.logger.Info("Backfill starting",
		zap.String("strategy", s.String()),
		zap.Bool("dry_run", dryRun),
	)

	records, err := b.fetch(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("backfill fetch failed: %w", err)
	}

	report := &model.SyncReport{
		Fetched:    len(records),
		ByCategory: map[model.Category]int{},
	}
	if len(records) == 0 {
		b.logger.Info("Backfill found no messages", zap.String("strategy", s.String()))
		return report, nil
	}

	channels, err := b.resolveChannels(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("backfill channel lookup failed: %w", err)
	}

	if dryRun {
		for _, rec := range records {
			if rec.ID > report.MaxID {
				report.MaxID = rec.ID
			}
			ch, ok := channels[rec.ResID]
			if !ok {
				report.Skipped++
				continue
			}
			report.ByCategory[classify.Channel(string(ch.Name), string(ch.ChannelType))]++
		}
		return report, nil
	}

	res := b.pipeline.Ingest(ctx, records, channels, "backfill")
	report.Inserted = res.Inserted
	report.Duplicates = res.Duplicates
	report.Skipped = res.Skipped
	report.ByCategory = res.ByCategory
	report.MaxID = res.MaxID

	// Same rule as the live path: the watermark covers the whole fetched
	// set even when individual inserts were skipped. A historical run
	// must not drag the watermark backwards, so only advance past the
	// current value.
	current, found, err := b.cursors.LastMessageID(ctx, repository.GlobalScope)
	if err != nil {
		return report, fmt.Errorf("backfill watermark read failed: %w", err)
	}
	if !found || res.MaxID > current {
		if err := b.cursors.Advance(ctx, repository.GlobalScope, res.MaxID); err != nil {
			return report, fmt.Errorf("backfill watermark advance failed: %w", err)
		}
		metrics.Watermark.Set(float64(res.MaxID))
	}

	b.logger.Info("Backfill complete",
		zap.String("strategy", s.String()),
		zap.Int("fetched", report.Fetched),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("skipped", report.Skipped),
		zap.Int64("watermark", report.MaxID),
	)
	return report, nil
}

func (b *Backfill) fetch(ctx context.Context, s Strategy) ([]odoo.MessageRecord, error) {
	switch v := s.(type) {
	case TimeWindow:
		since := time.Now().Add(-time.Duration(v.Hours) * time.Hour)
		return b.backend.FetchMessagesSince(ctx, since, b.fetchCap)
	case FixedCount:
		limit := v.Count
		if limit > b.fetchCap {
			limit = b.fetchCap
		}
		return b.backend.FetchLatestMessages(ctx, limit)
	case ExplicitRange:
		return b.backend.FetchMessagesBetween(ctx, v.From, v.To, b.fetchCap)
	default:
		return nil, fmt.Errorf("unknown backfill strategy %T", s)
	}
}

func (b *Backfill) resolveChannels(ctx context.Context, records []odoo.MessageRecord) (map[int64]odoo.ChannelRecord, error) {
	seen := map[int64]bool{}
	var ids []int64
	for _, rec := range records {
		if !seen[rec.ResID] {
			seen[rec.ResID] = true
			ids = append(ids, rec.ResID)
		}
	}

	rows, err := b.backend.FetchChannelsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	channels := make(map[int64]odoo.ChannelRecord, len(rows))
	for _, ch := range rows {
		channels[ch.ID] = ch
	}
	return channels, nil
}
