package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-bindery/app/api"
	"github.com/lysyi3m/rss-bindery/app/book"
	"github.com/lysyi3m/rss-bindery/app/cfg"
	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/external"
	"github.com/lysyi3m/rss-bindery/app/feed"
	"github.com/lysyi3m/rss-bindery/app/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := cfg.Load()
	if err != nil {
		return err
	}
	if appCfg == nil {
		// Help was shown
		return nil
	}

	setupLogging(appCfg.Debug)

	slog.Info("Starting RSS Bindery", "version", appCfg.Version, "timezone", time.Local.String())

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	bookRepo := database.NewBookRepository(db)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	synced := tasks.SyncFeedConfigs(context.Background(), configCache, feedRepo)
	slog.Info("Feed configurations synced", "dir", appCfg.FeedsDir, "loaded", configCache.GetConfigCount(), "synced", synced)

	httpClient := &http.Client{}
	fetcher := feed.NewFetcher(httpClient, feed.FetcherOptions{
		UserAgent:     appCfg.UserAgent,
		Timeout:       appCfg.FetchTimeoutDuration(),
		ImageTimeout:  appCfg.ImageTimeoutDuration(),
		ImageMaxWidth: appCfg.ImageMaxWidth,
		ImageQuality:  appCfg.ImageQuality,
	})

	var scheduler tasks.SchedulerInterface
	if appCfg.GenerationEnabled {
		opts := tasks.Options{Language: appCfg.BookLanguage}
		if appCfg.ConvertEnabled {
			opts.Converter = external.NewEbookConvert(appCfg.ConvertCommand, appCfg.ConvertFormat)
			slog.Info("Secondary format conversion enabled", "format", appCfg.ConvertFormat)
		}
		if appCfg.CatalogEnabled() {
			opts.Registrar = external.NewCalibredb(appCfg.CalibredbCommand, appCfg.CalibreLibraryPath)
			slog.Info("Catalog registration enabled", "library", appCfg.CalibreLibraryPath)
		}

		s := tasks.NewScheduler(feedRepo, bookRepo, fetcher, book.NewGenerator(appCfg.OutputDir), opts)
		if err := s.Start(appCfg.ScheduleHour, appCfg.ScheduleMinute); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer s.Stop()
		scheduler = s
	} else {
		slog.Warn("Book generation disabled")
	}

	handler := api.NewHandler(feedRepo, bookRepo, configCache, fetcher, scheduler)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // generation requests run synchronously
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
