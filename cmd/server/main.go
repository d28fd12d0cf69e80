package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dbutler-a11y/tradewatch/internal/api"
	"github.com/dbutler-a11y/tradewatch/internal/api/handlers"
	"github.com/dbutler-a11y/tradewatch/internal/cache"
	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/database"
	"github.com/dbutler-a11y/tradewatch/internal/logging"
	"github.com/dbutler-a11y/tradewatch/internal/services"
	"github.com/dbutler-a11y/tradewatch/internal/streamapi"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Core services
	repo := database.NewTradeRepository(db.Pool)
	parser := services.NewSignalParser(cfg.Parser, logger)
	extractor := services.NewOCRExtractor(parser, cfg.OCR, logger)
	correlator := services.NewCorrelator(repo, cfg.Correlator, logger)
	notifier := services.NewNotificationService(cfg.Telegram, logger)

	// Reload open positions so restarts don't orphan in-flight trades.
	if err := correlator.Rehydrate(context.Background()); err != nil {
		log.Fatalf("Failed to rehydrate open trades: %v", err)
	}

	// Live-status monitoring
	streamClient := streamapi.NewClient(cfg.Monitor)
	monitor := services.NewMonitorService(streamClient, cache.NewResolutionCache(), redis, cfg.Monitor, logger)
	if notifier.Enabled() {
		monitor.SetNotifier(notifier)
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, db, redis, api.Handlers{
		Signals:  handlers.NewSignalHandler(parser, extractor, correlator, notifier, logger),
		Trades:   handlers.NewTradeHandler(repo, logger),
		Channels: handlers.NewChannelHandler(monitor, cfg.Monitor.Channels, logger),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
