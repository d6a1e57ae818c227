// MIT License
//
// Copyright (c) 2026 Kolin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authguard/internal/api"
	"authguard/internal/api/handlers"
	"authguard/internal/banner"
	"authguard/internal/config"
	"authguard/internal/database"
	"authguard/internal/database/repositories"
	"authguard/internal/enrichment"
	"authguard/internal/notification"
	"authguard/internal/protection"
	"authguard/internal/realtime"

	"github.com/pterm/pterm"
)

func main() {
	banner.Print()

	cfg, err := config.Load()
	if err != nil {
		pterm.DefaultLogger.Fatal("Invalid configuration", pterm.DefaultLogger.Args("error", err))
	}

	logger := pterm.DefaultLogger.WithLevel(logLevelFromString(cfg.LogLevel))
	logger.Info("Starting AuthGuard",
		logger.Args(
			"max_attempts", cfg.MaxAttempts,
			"block_duration", cfg.BlockDuration,
			"fail_mode", cfg.FailMode,
			"listen_addr", cfg.ListenAddr,
		))

	db, err := database.NewConnection(&database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", logger.Args("error", err))
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	repo := repositories.NewAddressRecordRepository(db, logger)

	// Provider chain: local GeoIP database first when configured, then the
	// public lookup services as fallback.
	httpClient := &http.Client{Timeout: 10 * time.Second}
	var providers []enrichment.Provider
	var geoProvider *enrichment.GeoIPProvider
	if cfg.GeoIPCityDBPath != "" {
		geoProvider, err = enrichment.NewGeoIPProvider(cfg.GeoIPCityDBPath, logger)
		if err == nil {
			providers = append(providers, geoProvider)
		}
	}
	providers = append(providers,
		enrichment.NewIPAPIProvider(httpClient),
		enrichment.NewIPWhoisProvider(httpClient),
	)
	resolver := enrichment.NewResolver(providers, cfg.GeoCacheDuration, cfg.GeoRateLimitPerHour, logger)
	if geoProvider != nil {
		defer geoProvider.Close()
	}

	var notifier notification.Notifier = notification.NewLogNotifier(logger)
	if cfg.WebhookURL != "" {
		notifier = notification.NewMultiNotifier(
			notification.NewLogNotifier(logger),
			notification.NewWebhookNotifier(cfg.WebhookURL, 10*time.Second, logger),
		)
	}

	collector := realtime.NewCollector(logger)
	collector.Start(5 * time.Second)
	defer collector.Stop()

	processor := protection.NewProcessor(repo, resolver, notifier, collector, protection.Limits{
		MaxAttempts:   cfg.MaxAttempts,
		BlockDuration: cfg.BlockDuration,
	}, logger)
	gate := protection.NewGate(repo, protection.FailMode(cfg.FailMode), logger)

	var cleanupService *database.CleanupService
	if cfg.RetentionDays > 0 {
		cleanupService = database.NewCleanupService(db, repo, logger,
			cfg.RetentionDays, time.Hour, cfg.CleanupTime, cfg.VacuumEnabled)
		cleanupService.Start()
		defer cleanupService.Stop()
	} else {
		logger.Warn("Retention disabled, records are kept forever")
	}

	if cfg.LimitsFile != "" {
		watcher, err := config.NewLimitsWatcher(cfg.LimitsFile, func(override config.LimitsOverride) {
			processor.SetLimits(protection.Limits{
				MaxAttempts:   override.MaxAttempts,
				BlockDuration: time.Duration(override.BlockDurationSeconds) * time.Second,
			})
		}, logger)
		if err != nil {
			logger.Fatal("Failed to start limits watcher", logger.Args("error", err))
		}
		defer watcher.Close()
	}

	protectionHandler := handlers.NewProtectionHandler(processor, gate, logger)
	systemHandler := handlers.NewSystemHandler(cleanupService, collector, logger, cfg.DBPath, cfg.RetentionDays)
	router := api.NewRouter(protectionHandler, systemHandler)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", logger.Args("addr", cfg.ListenAddr))
		serverErr <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutting down", logger.Args("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", logger.Args("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithCaller().Error("Graceful shutdown failed", logger.Args("error", err))
	}

	logger.Info("AuthGuard stopped")
}

func logLevelFromString(level string) pterm.LogLevel {
	switch level {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}
