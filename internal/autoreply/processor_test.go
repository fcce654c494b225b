package autoreply

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"discussync/internal/model"
)

type fakeBacklog struct {
	backlog   []model.Message
	history   map[int64][]model.Message
	processed map[int64]bool
}

func newFakeBacklog(backlog ...model.Message) *fakeBacklog {
	return &fakeBacklog{
		backlog:   backlog,
		history:   map[int64][]model.Message{},
		processed: map[int64]bool{},
	}
}

func (f *fakeBacklog) Unprocessed(ctx context.Context, limit int) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.backlog {
		if !f.processed[m.MessageID] && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBacklog) UnprocessedByCategory(ctx context.Context, category model.Category, limit int) ([]model.Message, error) {
	var out []model.Message
	for _, m := range f.backlog {
		if m.Category == category && !f.processed[m.MessageID] && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBacklog) MarkProcessed(ctx context.Context, messageID int64) error {
	f.processed[messageID] = true
	return nil
}

func (f *fakeBacklog) ByChannel(ctx context.Context, channelID int64, limit int) ([]model.Message, error) {
	return f.history[channelID], nil
}

type fakeDispatcher struct {
	posts []string
	err   error
}

func (f *fakeDispatcher) PostMessage(ctx context.Context, channelID int64, body string) error {
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, body)
	return nil
}

type fakeRetries struct {
	counts map[string]int64
}

func newFakeRetries() *fakeRetries {
	return &fakeRetries{counts: map[string]int64{}}
}

func (f *fakeRetries) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeRetries) Reset(ctx context.Context, key string) error {
	delete(f.counts, key)
	return nil
}

type fakeDLQ struct {
	published []any
}

func (f *fakeDLQ) PublishToDLQ(routingKey string, payload any, originalError string) error {
	f.published = append(f.published, payload)
	return nil
}

func customerMessage(id int64, body string) model.Message {
	return model.Message{
		MessageID:   id,
		ChannelID:   7,
		ChannelName: "966501234567",
		Category:    model.CategoryWhatsApp,
		Body:        body,
		Author:      &model.Author{ID: 50, Name: "Customer"},
	}
}

func newTestProcessor(backlog *fakeBacklog, dispatcher *fakeDispatcher, retries *fakeRetries, dlq *fakeDLQ, cfg Config) *Processor {
	if cfg.AllowedChannels == nil {
		cfg.AllowedChannels = []string{"966501234567"}
	}
	var retryCounter RetryCounter
	if retries != nil {
		retryCounter = retries
	}
	var dead DeadLetterPublisher
	if dlq != nil {
		dead = dlq
	}
	return NewProcessor(backlog, dispatcher, NewKeywordReplier(), retryCounter, dead, cfg, zap.NewNop())
}

func TestProcessOnceRepliesAndMarksProcessed(t *testing.T) {
	backlog := newFakeBacklog(customerMessage(101, "<p>كم السعر؟</p>"))
	dispatcher := &fakeDispatcher{}
	processor := newTestProcessor(backlog, dispatcher, newFakeRetries(), nil, Config{})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if len(dispatcher.posts) != 1 {
		t.Fatalf("dispatched %d replies, want 1", len(dispatcher.posts))
	}
	if !strings.Contains(dispatcher.posts[0], "عرض سعر") {
		t.Errorf("reply %q is not the price response", dispatcher.posts[0])
	}
	if !backlog.processed[101] {
		t.Error("message 101 not marked processed after dispatch")
	}
}

func TestProcessOnceSkipsTeamMembers(t *testing.T) {
	msg := customerMessage(101, "مرحبا")
	msg.Author = &model.Author{ID: 2, Name: "Operations Bot"}
	backlog := newFakeBacklog(msg)
	dispatcher := &fakeDispatcher{}
	processor := newTestProcessor(backlog, dispatcher, nil, nil, Config{
		TeamMembers: []string{"operations bot"},
	})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if len(dispatcher.posts) != 0 {
		t.Fatalf("dispatched %d replies to a team member, want 0", len(dispatcher.posts))
	}
	if !backlog.processed[101] {
		t.Error("team message not marked processed")
	}
}

func TestProcessOnceSkipsNonAllowlistedChannels(t *testing.T) {
	msg := customerMessage(101, "مرحبا")
	msg.ChannelName = "general"
	backlog := newFakeBacklog(msg)
	dispatcher := &fakeDispatcher{}
	processor := newTestProcessor(backlog, dispatcher, nil, nil, Config{})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if len(dispatcher.posts) != 0 {
		t.Fatalf("dispatched %d replies outside the allowlist, want 0", len(dispatcher.posts))
	}
	if !backlog.processed[101] {
		t.Error("non-allowlisted message not marked processed")
	}
}

func TestProcessOnceLeavesMessageOnDispatchFailure(t *testing.T) {
	backlog := newFakeBacklog(customerMessage(101, "مرحبا"))
	dispatcher := &fakeDispatcher{err: errors.New("connection refused")}
	retries := newFakeRetries()
	processor := newTestProcessor(backlog, dispatcher, retries, nil, Config{})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if backlog.processed[101] {
		t.Error("message marked processed despite failed dispatch")
	}
	if got := retries.counts["retry:autoreply:101"]; got != 1 {
		t.Errorf("retry count = %d, want 1", got)
	}
}

func TestProcessOnceDeadLettersAfterRetryBudget(t *testing.T) {
	backlog := newFakeBacklog(customerMessage(101, "مرحبا"))
	dispatcher := &fakeDispatcher{err: errors.New("connection refused")}
	retries := newFakeRetries()
	retries.counts["retry:autoreply:101"] = 3
	dlq := &fakeDLQ{}
	processor := newTestProcessor(backlog, dispatcher, retries, dlq, Config{MaxRetries: 3})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if len(dlq.published) != 1 {
		t.Fatalf("published %d dead letters, want 1", len(dlq.published))
	}
	if !backlog.processed[101] {
		t.Error("dead-lettered message not taken out of the backlog")
	}
	if _, ok := retries.counts["retry:autoreply:101"]; ok {
		t.Error("retry counter not reset after dead-lettering")
	}
}

func TestProcessOnceBreakerRejectionsSpareRetryBudget(t *testing.T) {
	backlog := newFakeBacklog(customerMessage(101, "مرحبا"))
	dispatcher := &fakeDispatcher{err: errors.New("connection refused")}
	retries := newFakeRetries()
	dlq := &fakeDLQ{}
	processor := newTestProcessor(backlog, dispatcher, retries, dlq, Config{MaxRetries: 100})

	// The default breaker opens after 5 consecutive failures; later ticks
	// are rejected before the dispatcher is reached and must not count
	// against the message's retry budget.
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if err := processor.ProcessOnce(ctx); err != nil {
			t.Fatalf("ProcessOnce #%d: %v", i, err)
		}
	}

	if got := retries.counts["retry:autoreply:101"]; got != 5 {
		t.Errorf("retry count = %d, want 5 real attempts", got)
	}
	if len(dlq.published) != 0 {
		t.Errorf("published %d dead letters during breaker rejection, want 0", len(dlq.published))
	}
	if backlog.processed[101] {
		t.Error("message marked processed while the breaker was open")
	}
}

func TestProcessOnceWhatsAppOnlyFiltersBacklog(t *testing.T) {
	teamMsg := customerMessage(102, "مرحبا")
	teamMsg.Category = model.CategoryTeamChannel
	backlog := newFakeBacklog(customerMessage(101, "مرحبا"), teamMsg)
	dispatcher := &fakeDispatcher{}
	processor := newTestProcessor(backlog, dispatcher, nil, nil, Config{WhatsAppOnly: true})

	if err := processor.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if len(dispatcher.posts) != 1 {
		t.Fatalf("dispatched %d replies, want 1", len(dispatcher.posts))
	}
	if backlog.processed[102] {
		t.Error("non-whatsapp message touched by whatsapp-only processor")
	}
}
