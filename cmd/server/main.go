package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"support-triage/backend/internal/ai"
	"support-triage/backend/internal/config"
	"support-triage/backend/internal/crypto"
	"support-triage/backend/internal/db"
	"support-triage/backend/internal/engine"
	"support-triage/backend/internal/generator"
	"support-triage/backend/internal/handlers"
	"support-triage/backend/internal/middleware"
	"support-triage/backend/internal/notify"
	"support-triage/backend/internal/queue"
	"support-triage/backend/internal/ratelimit"
	"support-triage/backend/internal/realtime"
	"support-triage/backend/internal/router"
	"support-triage/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	if err := database.InitSchema(ctx); err != nil {
		logger.Fatal("failed to init schema", zap.Error(err))
	}

	keyring, err := crypto.NewKeyring(cfg.MasterKey)
	if err != nil {
		logger.Fatal("failed to init keyring", zap.Error(err))
	}

	inbox, err := queue.New(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to init redis queue", zap.Error(err))
	}
	if err := inbox.Ping(ctx); err != nil {
		logger.Fatal("failed to reach redis", zap.Error(err))
	}

	st := store.New(database, keyring, cfg.Classifier, logger)
	factory := ai.NewFactory()
	limiter := ratelimit.New()
	gen := generator.New(limiter, logger, cfg.Engine.MaxRetries,
		time.Duration(cfg.Engine.CallTimeoutSeconds)*time.Second)
	hub := realtime.NewHub()
	notifier := notify.NewWebhook(cfg.Notify.ResponseWebhookURL, cfg.Notify.EscalationWebhookURL, logger)
	eng := engine.New(st, st, notifier, factory, gen, hub, cfg.Engine.EscalateTo, logger)

	// Messages stranded in processing by a previous crash are failed so they
	// show up for manual retry instead of hanging forever.
	if swept, err := eng.RecoverStuck(ctx); err != nil {
		logger.Warn("recovery sweep failed", zap.Error(err))
	} else if swept > 0 {
		logger.Info("recovery sweep complete", zap.Int("messages_failed", swept))
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := &queue.Worker{
		Queue:       inbox,
		Engine:      eng,
		Messages:    st,
		Logger:      logger,
		BatchSize:   cfg.Engine.BatchSize,
		Concurrency: cfg.Engine.Workers,
	}
	go worker.Start(workerCtx)

	api := handlers.NewAPI(st, eng, inbox, notifier, hub, logger)
	httpLimiter := middleware.NewRateLimiter(120, time.Minute)
	rt := router.New(api, httpLimiter, cfg.Server.FrontendOrigin, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      rt,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWorker()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
