// Package main provides the triggerd dispatcher, the process that fires due
// triggers. Multiple instances may run concurrently against the same Redis.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"triggerd/internal/agent"
	"triggerd/internal/config"
	"triggerd/internal/dispatcher"
	"triggerd/internal/logger"
	"triggerd/internal/metrics"
	"triggerd/internal/result"
	"triggerd/internal/store"
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
	defer log.Close()

	// Set as default logger
	logger.SetDefault(log)

	// Create component-specific logger
	dispatcherLog := log.WithComponent(logger.ComponentDispatcher).WithSource(logger.LogSourceInternal)

	dispatcherLog.Info("Dispatcher starting",
		"redis_url", cfg.RedisURL,
		"poll_interval", cfg.PollInterval,
		"concurrency", cfg.DispatcherConcurrency)

	// Start pprof server on separate port for profiling
	pprofPort := os.Getenv("PPROF_PORT")
	if pprofPort == "" {
		pprofPort = "6061"
	}
	go func() {
		dispatcherLog.Info("Starting pprof server", "port", pprofPort, "url", fmt.Sprintf("http://localhost:%s/debug/pprof/", pprofPort))
		if err := http.ListenAndServe(":"+pprofPort, nil); err != nil {
			dispatcherLog.Error("pprof server failed", "error", err)
		}
	}()

	// Connect to Redis with retry logic
	client, err := connectWithRetry(cfg.RedisURL, 5, dispatcherLog)
	if err != nil {
		dispatcherLog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	dispatcherLog.Info("Successfully connected to Redis")

	triggerStore := store.NewWithClient(client)

	// Route agent invocations: webhook when configured, log-only fallback
	// for everything unrouted
	registry := agent.NewRegistry()
	registry.SetFallback(agent.NewLogRunner(log))
	if cfg.AgentWebhookURL != "" {
		registry.SetFallback(agent.NewWebhookRunner(cfg.AgentWebhookURL, log))
		dispatcherLog.Info("Agent invocations routed to webhook", "url", cfg.AgentWebhookURL)
	}

	var history result.Backend
	if cfg.FireHistoryEnabled {
		history = result.NewRedisBackend(client, cfg.FireHistoryTTLSuccess, cfg.FireHistoryTTLFailure, cfg.FireHistoryLimit)
	}

	d := dispatcher.New(triggerStore, registry, dispatcher.Options{
		PollInterval: cfg.PollInterval,
		SpawnTimeout: cfg.SpawnTimeout,
		LeaseTTL:     cfg.LeaseTTL,
		Concurrency:  cfg.DispatcherConcurrency,
		History:      history,
		Metrics:      metrics.NewCollector(),
		Logger:       log,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	sig := <-sigChan
	dispatcherLog.Info("Received shutdown signal, initiating graceful shutdown", "signal", sig)

	cancel()
	<-done

	dispatcherLog.Info("Dispatcher shut down successfully")
}
