package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"discussync/internal/autoreply"
	"discussync/internal/config"
	"discussync/internal/httpserver"
	"discussync/internal/odoo"
	"discussync/internal/repository"
	msgsync "discussync/internal/sync"
	"discussync/pkg/db"
	"discussync/pkg/logger"
	"discussync/pkg/mq"
	"discussync/pkg/redis"
	"discussync/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting discussync poller...",
		zap.String("odoo_url", cfg.Odoo.URL),
		zap.String("db_host", cfg.DB.Host),
		zap.Int("poll_interval_seconds", cfg.Sync.PollIntervalSeconds),
		zap.Bool("per_channel", cfg.Sync.PerChannel),
		zap.Bool("autoreply_enabled", cfg.AutoReply.Enabled),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := repository.EnsureSchema(schemaCtx, dbConn); err != nil {
		schemaCancel()
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}
	schemaCancel()
	log.Info("Database schema ready")

	// Backend
	backend := odoo.NewClient(cfg.Odoo, nil)
	authCtx, authCancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = backend.Authenticate(authCtx)
	authCancel()
	if err != nil {
		if errors.Is(err, odoo.ErrInvalidCredentials) {
			log.Fatal("Backend rejected credentials, check odoo config", zap.Error(err))
		}
		log.Fatal("Backend authentication failed", zap.Error(err))
	}
	log.Info("Backend authentication succeeded")

	// MQ Publisher. Event publishing is advisory; a missing broker degrades
	// to sync-only operation instead of refusing to start.
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("Failed to init MQ publisher, events disabled", zap.Error(err))
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}
	// A nil *Publisher stored in the interface would not compare equal to
	// nil, so only assign when the publisher actually exists.
	var eventPub msgsync.EventPublisher
	if publisher != nil {
		eventPub = publisher
	}

	// Repositories
	messageRepo := repository.NewMessageRepository(dbConn)
	syncStateRepo := repository.NewSyncStateRepository(dbConn)

	// Sync engine
	pipeline := msgsync.NewPipeline(messageRepo, eventPub, cfg.Sync.AlertKeywords, log)
	engine := msgsync.NewEngine(backend, syncStateRepo, pipeline, cfg.Sync.FetchLimit, log)

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()

	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second)
		defer ticker.Stop()

		poll := engine.PollOnce
		if cfg.Sync.PerChannel {
			poll = engine.PollChannels
		}

		// Run immediately on startup
		if err := poll(syncCtx); err != nil {
			log.Error("Initial poll cycle failed", zap.Error(err))
		}

		for {
			select {
			case <-syncCtx.Done():
				log.Info("Sync loop stopped")
				return
			case <-ticker.C:
				if err := poll(syncCtx); err != nil {
					log.Error("Poll cycle failed", zap.Error(err))
				}
			}
		}
	}()

	// Auto-reply processor
	replyCtx, replyCancel := context.WithCancel(context.Background())
	defer replyCancel()

	if cfg.AutoReply.Enabled {
		rdb := redis.NewRedisClient(cfg.Redis)
		defer rdb.Close()

		var dlq autoreply.DeadLetterPublisher
		if publisher != nil {
			dlq = publisher
		}

		processor := autoreply.NewProcessor(
			messageRepo,
			backend,
			autoreply.NewKeywordReplier(),
			util.NewRetryCounter(rdb, 24*time.Hour),
			dlq,
			autoreply.Config{
				BatchSize:       cfg.AutoReply.BatchSize,
				HistoryDepth:    cfg.AutoReply.HistoryDepth,
				DispatchDelay:   time.Duration(cfg.AutoReply.DispatchDelayMS) * time.Millisecond,
				MaxRetries:      cfg.AutoReply.MaxRetries,
				WhatsAppOnly:    cfg.AutoReply.WhatsAppOnly,
				TeamMembers:     cfg.AutoReply.TeamMembers,
				AllowedChannels: cfg.AutoReply.AllowedChannels,
			},
			log,
		)

		log.Info("Starting auto-reply processor...",
			zap.Int("interval_seconds", cfg.AutoReply.IntervalSeconds),
			zap.Int("allowed_channels", len(cfg.AutoReply.AllowedChannels)),
		)
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.AutoReply.IntervalSeconds) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-replyCtx.Done():
					log.Info("Auto-reply processor stopped")
					return
				case <-ticker.C:
					if err := processor.ProcessOnce(replyCtx); err != nil {
						log.Error("Auto-reply batch failed", zap.Error(err))
					}
				}
			}
		}()
	}

	// Periodic stats snapshot for operators tailing the logs
	statsCtx, statsCancel := context.WithCancel(context.Background())
	defer statsCancel()

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				stats, err := messageRepo.Stats(statsCtx)
				if err != nil {
					log.Error("Failed to collect stats", zap.Error(err))
					continue
				}
				log.Info("Store snapshot",
					zap.Int64("total", stats.TotalMessages),
					zap.Int64("unprocessed", stats.Unprocessed),
					zap.Int64("last_24h", stats.Last24h),
				)
			}
		}
	}()

	// HTTP Server (health checks and metrics)
	log.Info("Initializing HTTP server...", zap.String("port", cfg.Server.Port))
	router := httpserver.NewRouter(dbConn, publisher)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("discussync poller is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down discussync poller gracefully...")

	syncCancel()
	replyCancel()
	statsCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("discussync poller shutdown complete")
}
