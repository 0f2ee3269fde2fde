package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/db"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/queue"
	"schedule-import-db/internal/submit"
	"schedule-import-db/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().
		Str("version", cfg.App.Version).
		Str("backend", cfg.ExternalAPI.Backend.BaseURL).
		Float64("rate_limit", cfg.ExternalAPI.Backend.RateLimit).
		Msg("Starting submit worker")

	// Initialize database
	database, err := db.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize repository
	repo := db.NewRepository(database)

	// Initialize Redis client
	redisClient, err := queue.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Backend client shares one token cache
	client := submit.NewClient(cfg, submit.NewAuthManager(cfg))
	service := submit.NewService(cfg, repo, client)

	// Create submit worker
	submitWorker := worker.NewSubmitWorker(cfg, repo, service, redisClient)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker
	go func() {
		if err := submitWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("Submit worker failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down submit worker...")

	// Cancel context to stop worker
	cancel()
	submitWorker.Stop()

	log.Info().Msg("Submit worker exited")
}
