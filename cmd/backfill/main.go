package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"discussync/internal/config"
	"discussync/internal/model"
	"discussync/internal/odoo"
	"discussync/internal/repository"
	msgsync "discussync/internal/sync"
	"discussync/pkg/db"
	"discussync/pkg/logger"
	"discussync/pkg/util"
)

func main() {
	hours := flag.Int("hours", 0, "backfill messages from the last N hours")
	count := flag.Int("count", 0, "backfill the most recent N messages")
	from := flag.String("from", "", "backfill range start (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "", "backfill range end (YYYY-MM-DD HH:MM:SS)")
	dryRun := flag.Bool("dry-run", false, "fetch and classify without writing anything")
	report := flag.Bool("report", false, "print store stats and recent messages, no backfill")
	search := flag.String("search", "", "search stored messages instead of backfilling")
	flag.Parse()

	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := repository.EnsureSchema(ctx, dbConn); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}

	messageRepo := repository.NewMessageRepository(dbConn)

	if *report {
		if err := printReport(ctx, messageRepo); err != nil {
			log.Fatal("Report failed", zap.Error(err))
		}
		return
	}
	if *search != "" {
		if err := printSearch(ctx, messageRepo, *search); err != nil {
			log.Fatal("Search failed", zap.Error(err))
		}
		return
	}

	strategy, err := buildStrategy(*hours, *count, *from, *to)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	backend := odoo.NewClient(cfg.Odoo, nil)
	if err := backend.Authenticate(ctx); err != nil {
		if errors.Is(err, odoo.ErrInvalidCredentials) {
			log.Fatal("Backend rejected credentials, check odoo config", zap.Error(err))
		}
		log.Fatal("Backend authentication failed", zap.Error(err))
	}

	syncStateRepo := repository.NewSyncStateRepository(dbConn)
	// Backfill runs never publish events; the live poller owns the stream.
	pipeline := msgsync.NewPipeline(messageRepo, nil, nil, log)
	backfill := msgsync.NewBackfill(backend, syncStateRepo, pipeline, cfg.Sync.BackfillCap, log)

	result, err := backfill.Run(ctx, strategy, *dryRun)
	if err != nil {
		log.Fatal("Backfill failed", zap.Error(err))
	}

	printResult(strategy, result, *dryRun)
}

func buildStrategy(hours, count int, from, to string) (msgsync.Strategy, error) {
	set := 0
	if hours > 0 {
		set++
	}
	if count > 0 {
		set++
	}
	if from != "" || to != "" {
		set++
	}
	if set != 1 {
		return nil, errors.New("exactly one of -hours, -count or -from/-to is required")
	}

	switch {
	case hours > 0:
		return msgsync.TimeWindow{Hours: hours}, nil
	case count > 0:
		return msgsync.FixedCount{Count: count}, nil
	default:
		if from == "" || to == "" {
			return nil, errors.New("-from and -to must both be set")
		}
		fromTime, err := time.Parse("2006-01-02 15:04:05", from)
		if err != nil {
			return nil, fmt.Errorf("invalid -from: %w", err)
		}
		toTime, err := time.Parse("2006-01-02 15:04:05", to)
		if err != nil {
			return nil, fmt.Errorf("invalid -to: %w", err)
		}
		if toTime.Before(fromTime) {
			return nil, errors.New("-to must not precede -from")
		}
		return msgsync.ExplicitRange{From: fromTime, To: toTime}, nil
	}
}

func printResult(strategy msgsync.Strategy, result *model.SyncReport, dryRun bool) {
	mode := "backfill"
	if dryRun {
		mode = "dry run"
	}
	fmt.Printf("%s (%s)\n", mode, strategy)
	fmt.Printf("  fetched:    %d\n", result.Fetched)
	if !dryRun {
		fmt.Printf("  inserted:   %d\n", result.Inserted)
		fmt.Printf("  duplicates: %d\n", result.Duplicates)
	}
	fmt.Printf("  skipped:    %d\n", result.Skipped)
	for category, n := range result.ByCategory {
		fmt.Printf("  %-12s %d\n", string(category)+":", n)
	}
	if result.MaxID > 0 && !dryRun {
		fmt.Printf("  watermark:  %d\n", result.MaxID)
	}
}

// printReport is the operator's quick health check: store totals plus the
// most recent conversation activity.
func printReport(ctx context.Context, repo *repository.MessageRepository) error {
	stats, err := repo.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("store stats")
	fmt.Printf("  total:       %d\n", stats.TotalMessages)
	fmt.Printf("  unprocessed: %d\n", stats.Unprocessed)
	fmt.Printf("  last 24h:    %d\n", stats.Last24h)
	for category, n := range stats.ByCategory {
		fmt.Printf("  %-12s %d\n", string(category)+":", n)
	}

	recent, err := repo.ByTimeWindow(ctx, 24, 10)
	if err != nil {
		return err
	}

	fmt.Printf("\nlast %d messages (24h)\n", len(recent))
	for _, m := range recent {
		body := util.StripMarkup(m.Body)
		if len(body) > 60 {
			body = body[:60] + "..."
		}
		fmt.Printf("  [%d] %s | %s | %s | %q\n",
			m.MessageID,
			m.Date.Format("2006-01-02 15:04"),
			m.ChannelName,
			m.AuthorName(),
			body,
		)
	}
	return nil
}

func printSearch(ctx context.Context, repo *repository.MessageRepository, text string) error {
	matches, err := repo.Search(ctx, text, 20)
	if err != nil {
		return err
	}

	fmt.Printf("%d matches for %q\n", len(matches), text)
	for _, m := range matches {
		body := util.StripMarkup(m.Body)
		if len(body) > 60 {
			body = body[:60] + "..."
		}
		fmt.Printf("  [%d] %s | %s | %q\n",
			m.MessageID,
			m.Date.Format("2006-01-02 15:04"),
			m.ChannelName,
			body,
		)
	}
	return nil
}
