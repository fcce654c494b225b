package sync

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"discussync/internal/model"
	"discussync/internal/odoo"
	"discussync/internal/repository"
)

func newTestBackfill(backend *fakeBackend, cursors *fakeCursors, store *fakeStore, fetchCap int) *Backfill {
	pipeline := NewPipeline(store, nil, nil, zap.NewNop())
	return NewBackfill(backend, cursors, pipeline, fetchCap, zap.NewNop())
}

func TestBackfillTimeWindowIngestsAndAdvances(t *testing.T) {
	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{record(101, 7, "a"), record(102, 7, "b")},
	}
	cursors := newFakeCursors()
	store := newFakeStore()
	backfill := newTestBackfill(backend, cursors, store, 5000)

	report, err := backfill.Run(context.Background(), TimeWindow{Hours: 24 * 365}, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if backend.lastMethod != "since" {
		t.Errorf("fetch method = %q, want since", backend.lastMethod)
	}
	if report.Fetched != 2 || report.Inserted != 2 {
		t.Errorf("report = %+v, want fetched=2 inserted=2", report)
	}
	if report.ByCategory[model.CategoryWhatsApp] != 2 {
		t.Errorf("whatsapp count = %d, want 2", report.ByCategory[model.CategoryWhatsApp])
	}
	if got := cursors.watermarks[repository.GlobalScope]; got != 102 {
		t.Errorf("watermark = %d, want 102", got)
	}
}

func TestBackfillCountsDuplicates(t *testing.T) {
	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{record(101, 7, "a"), record(102, 7, "b")},
	}
	cursors := newFakeCursors()
	store := newFakeStore()
	backfill := newTestBackfill(backend, cursors, store, 5000)

	ctx := context.Background()
	if _, err := backfill.Run(ctx, FixedCount{Count: 10}, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	report, err := backfill.Run(ctx, FixedCount{Count: 10}, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if report.Inserted != 0 || report.Duplicates != 2 {
		t.Errorf("report = %+v, want inserted=0 duplicates=2", report)
	}
	if len(store.inserted) != 2 {
		t.Errorf("store holds %d messages, want 2", len(store.inserted))
	}
}

func TestBackfillFixedCountRespectsCap(t *testing.T) {
	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
	}
	cursors := newFakeCursors()
	backfill := newTestBackfill(backend, cursors, newFakeStore(), 500)

	if _, err := backfill.Run(context.Background(), FixedCount{Count: 99999}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if backend.lastLimit != 500 {
		t.Errorf("fetch limit = %d, want 500", backend.lastLimit)
	}
}

func TestBackfillDryRunWritesNothing(t *testing.T) {
	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{record(101, 7, "a"), record(102, 99, "orphan")},
	}
	cursors := newFakeCursors()
	store := newFakeStore()
	backfill := newTestBackfill(backend, cursors, store, 5000)

	report, err := backfill.Run(context.Background(), FixedCount{Count: 10}, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.inserted) != 0 {
		t.Errorf("dry run inserted %d messages, want 0", len(store.inserted))
	}
	if cursors.advances != 0 {
		t.Errorf("dry run advanced the watermark %d times, want 0", cursors.advances)
	}
	if report.Fetched != 2 || report.Skipped != 1 {
		t.Errorf("report = %+v, want fetched=2 skipped=1", report)
	}
	if report.ByCategory[model.CategoryWhatsApp] != 1 {
		t.Errorf("whatsapp count = %d, want 1", report.ByCategory[model.CategoryWhatsApp])
	}
}

func TestBackfillExplicitRangeFiltersByDate(t *testing.T) {
	inRange := record(101, 7, "a")
	inRange.Date = odoo.Time{Time: time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)}
	outOfRange := record(102, 7, "b")
	outOfRange.Date = odoo.Time{Time: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)}

	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{inRange, outOfRange},
	}
	cursors := newFakeCursors()
	store := newFakeStore()
	backfill := newTestBackfill(backend, cursors, store, 5000)

	strategy := ExplicitRange{
		From: time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC),
	}
	report, err := backfill.Run(context.Background(), strategy, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if backend.lastMethod != "between" {
		t.Errorf("fetch method = %q, want between", backend.lastMethod)
	}
	if report.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", report.Inserted)
	}
	if _, ok := store.inserted[101]; !ok {
		t.Error("message 101 not inserted")
	}
}

func TestBackfillNeverRegressesWatermark(t *testing.T) {
	old := record(102, 7, "ancient")
	old.Date = odoo.Time{Time: time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)}

	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{old},
	}
	cursors := newFakeCursors()
	cursors.watermarks[repository.GlobalScope] = 500
	store := newFakeStore()
	backfill := newTestBackfill(backend, cursors, store, 5000)

	strategy := ExplicitRange{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	report, err := backfill.Run(context.Background(), strategy, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Inserted != 1 {
		t.Errorf("inserted = %d, want 1", report.Inserted)
	}
	if got := cursors.watermarks[repository.GlobalScope]; got != 500 {
		t.Errorf("watermark = %d, want 500 kept after historical run", got)
	}
}

func TestBackfillThenPollSeesNothingNew(t *testing.T) {
	backend := &fakeBackend{
		channels: map[int64]odoo.ChannelRecord{7: whatsappChannel(7, "966501234567")},
		messages: []odoo.MessageRecord{record(101, 7, "a"), record(102, 7, "b")},
	}
	cursors := newFakeCursors()
	store := newFakeStore()
	pipeline := NewPipeline(store, nil, nil, zap.NewNop())
	backfill := NewBackfill(backend, cursors, pipeline, 5000, zap.NewNop())
	engine := NewEngine(backend, cursors, pipeline, 100, zap.NewNop())

	ctx := context.Background()
	if _, err := backfill.Run(ctx, FixedCount{Count: 10}, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := engine.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if len(store.inserted) != 2 {
		t.Errorf("store holds %d messages, want 2", len(store.inserted))
	}
	if got := cursors.watermarks[repository.GlobalScope]; got != 102 {
		t.Errorf("watermark = %d, want 102", got)
	}
}
