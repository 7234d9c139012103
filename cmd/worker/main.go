package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/engine"
	"github.com/harkaudio/hark/internal/events"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Msg("Starting worker...")

	// Open the shared store (created if missing); a store that cannot be
	// opened or an old SQLite library is unrecoverable at startup
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
	}
	defer st.Close()

	broker := events.NewBroker()
	defer broker.Close()

	taskQueue := queue.New(st, queue.WithPublisher(broker))
	files := store.NewFileRegistry(st)

	eng := engine.NewCommandEngine(
		cfg.Engine.Command,
		engine.WithModel(cfg.Engine.ModelSize, cfg.Engine.Device, cfg.Engine.ComputeType),
	)

	// SIGINT/SIGTERM set the shutdown flag; a task already mid-flight runs
	// to completion or observes cancellation
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sweeper runs alongside the poll loop so a swamped worker pool cannot
	// also stop reclaiming dead claims
	sweeper := queue.NewSweeper(taskQueue,
		cfg.Sweeper.Interval, cfg.Sweeper.TaskTimeout, cfg.Sweeper.HeartbeatTimeout)
	sweeper.Start(ctx)

	w := worker.New(&cfg.Worker, taskQueue, files, eng)
	if err := w.Run(ctx); err != nil {
		sweeper.Stop()
		log.Error().Err(err).Msg("Worker exited with error")
		os.Exit(1)
	}

	sweeper.Stop()
	log.Info().Msg("Worker stopped")
}
