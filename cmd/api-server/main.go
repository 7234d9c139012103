package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harkaudio/hark/internal/api"
	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/events"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
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
	log.Info().Msg("Starting API server...")

	// Open the shared store (creates the schema on first run)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open store")
	}
	defer st.Close()

	// Create event broker
	broker := events.NewBroker()
	defer broker.Close()

	taskQueue := queue.New(st, queue.WithPublisher(broker))
	files := store.NewFileRegistry(st)

	// Create server
	server := api.NewServer(cfg, taskQueue, files, broker)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start WebSocket hub and depth reporter
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	// Start HTTP server
	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
