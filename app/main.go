package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/claim-comb/app/adapters"
	"github.com/lysyi3m/claim-comb/app/api"
	"github.com/lysyi3m/claim-comb/app/cache"
	"github.com/lysyi3m/claim-comb/app/cfg"
	"github.com/lysyi3m/claim-comb/app/evidence"
	"github.com/lysyi3m/claim-comb/app/llm"
	"github.com/lysyi3m/claim-comb/app/resolve"
	"github.com/lysyi3m/claim-comb/app/source"
	"github.com/lysyi3m/claim-comb/app/tasks"
	"github.com/lysyi3m/claim-comb/app/verify"
)

func main() {
	appConfig, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appConfig == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appConfig.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Claim Comb server", "version", appConfig.Version)

	configCache := source.NewConfigCache(appConfig.SourcesDir, appConfig.AdapterTimeout)
	if err := configCache.Run(); err != nil {
		fatal("Failed to load source configurations", err)
	}

	fetcher := adapters.NewFetcher(appConfig.AdapterTimeoutDuration(), adapters.WithUserAgent(appConfig.UserAgent))
	registered := fetcher.Reload(configCache.GetEnabledConfigs())
	slog.Info("Evidence sources loaded", "sources", configCache.GetConfigCount(), "adapters", registered)

	backend, err := newCacheBackend(appConfig)
	if err != nil {
		fatal("Failed to open verdict cache", err)
	}
	resultCache := cache.New(backend, appConfig.CacheTTL, appConfig.CacheMaxEntries)
	defer resultCache.Close()

	classifier := llm.NewClient(llm.Config{
		APIKey:    appConfig.AIAPIKey,
		BaseURL:   appConfig.AIBaseURL,
		Model:     appConfig.AIModel,
		Version:   appConfig.AIModelVersion,
		Fallbacks: appConfig.AIFallbackModels,
		Discover:  appConfig.AIDiscover,
		Timeout:   appConfig.AITimeoutDuration(),
	})

	resolver := resolve.NewResolver(&http.Client{Timeout: resolve.DefaultTimeout}, appConfig.UserAgent)
	aggregator := evidence.NewAggregator(appConfig.MaxEvidence, appConfig.DedupThreshold)

	// Verification can wait on several sources and the model in sequence.
	writeTimeout := appConfig.AdapterTimeoutDuration() + time.Duration(appConfig.AIRetries+1)*appConfig.AITimeoutDuration() + resolve.DefaultTimeout + 10*time.Second

	engine := verify.NewEngine(resolver, fetcher, classifier, resultCache, aggregator, verify.Options{
		Model:           appConfig.AIModel,
		ClassifyRetries: appConfig.AIRetries,
		RevalidateAfter: appConfig.CacheRevalidateAfter,
		RunTimeout:      writeTimeout,
	})

	slog.Info("Starting task scheduler", "workers", appConfig.WorkerCount, "purge_interval", appConfig.PurgeIntervalDuration().String())
	scheduler := tasks.NewScheduler(resultCache, appConfig.PurgeIntervalDuration(), appConfig.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()

	apiHandler := api.NewHandler(engine, configCache, fetcher, resultCache, scheduler)
	server := api.NewServer(apiHandler, appConfig.APIKey)

	httpServer := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appConfig.Port)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}
}

func newCacheBackend(appConfig *cfg.Cfg) (cache.Backend, error) {
	switch appConfig.CacheBackend {
	case "file":
		slog.Info("Using file verdict cache", "path", appConfig.CachePath)
		return cache.NewFileBackend(appConfig.CachePath)
	case "redis":
		slog.Info("Using redis verdict cache", "addr", appConfig.RedisAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return cache.NewRedisBackend(ctx, appConfig.RedisAddr, appConfig.CacheTTL)
	default:
		slog.Info("Using sqlite verdict cache", "path", appConfig.CachePath)
		return cache.NewSQLiteBackend(appConfig.CachePath)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
