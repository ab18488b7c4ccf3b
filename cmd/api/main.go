// Package main provides the triggerd API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108 - pprof is intentionally exposed for debugging, isolated to separate port
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"triggerd/internal/api"
	"triggerd/internal/config"
	"triggerd/internal/logger"
	"triggerd/internal/metrics"
	"triggerd/internal/result"
	"triggerd/internal/service"
	"triggerd/internal/store"
	"triggerd/internal/timeparse"
)

// connectWithRetry attempts to connect to Redis with exponential backoff
func connectWithRetry(redisURL string, maxRetries int, log logger.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	var client *redis.Client
	for attempt := 0; attempt < maxRetries; attempt++ {
		client = redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err == nil {
			return client, nil
		}
		client.Close()

		// Calculate exponential backoff delay: 2^attempt seconds (max 30 seconds)
		delay := time.Duration(1<<uint(attempt)) * time.Second
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}

		log.Warn("Failed to connect to Redis, retrying",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"error", err,
			"retry_in", delay)

		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	// Set as default logger
	logger.SetDefault(log)

	// Create component-specific logger
	apiLog := log.WithComponent(logger.ComponentAPI).WithSource(logger.LogSourceInternal)

	apiLog.Info("API server starting",
		"redis_url", cfg.RedisURL,
		"api_port", cfg.APIPort,
		"default_timezone", cfg.DefaultTimezone)

	// Start pprof server on separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6060"
	}
	go func() {
		apiLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		pprofServer := &http.Server{
			Addr:              ":" + pprofPort,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := pprofServer.ListenAndServe(); err != nil {
			apiLog.Error("pprof server failed", "error", err)
		}
	}()

	// Connect to Redis with retry logic
	client, err := connectWithRetry(cfg.RedisURL, 5, apiLog)
	if err != nil {
		apiLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	apiLog.Info("Successfully connected to Redis")

	triggerStore := store.NewWithClient(client)
	svc := service.New(triggerStore, timeparse.New(nil), cfg.DefaultTimezone, log)

	var history result.Backend
	if cfg.FireHistoryEnabled {
		history = result.NewRedisBackend(client, cfg.FireHistoryTTLSuccess, cfg.FireHistoryTTLFailure, cfg.FireHistoryLimit)
	}

	server := api.NewServer(svc, history, metrics.NewCollector(), log)

	addr := ":" + cfg.APIPort
	apiLog.Info("API server listening", "address", addr)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			apiLog.Error("API server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := <-sigChan
	apiLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		apiLog.Error("API server shutdown failed", "error", err)
	}

	apiLog.Info("API server shut down successfully")
}
