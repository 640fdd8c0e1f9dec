package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ofdeals/finder/internal/analyser"
	"github.com/ofdeals/finder/internal/api"
	"github.com/ofdeals/finder/internal/browser"
	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/jobs"
	"github.com/ofdeals/finder/internal/logging"
	"github.com/ofdeals/finder/internal/ratelimit"
	"github.com/ofdeals/finder/internal/scraper"
)

func main() {
	var (
		dbPath = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.Open(cfg.Database.Path, nil)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	b, err := browser.New(&browser.Options{
		Headless:         cfg.Browser.Headless,
		Timeout:          cfg.Browser.Timeout,
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
		TimezoneID:       cfg.Browser.TimezoneID,
		Locale:           cfg.Browser.Locale,
		ProxyServer:      cfg.Browser.ProxyServer,
		StorageStatePath: cfg.Browser.StorageStatePath,
		UserAgent:        browser.DefaultOptions().UserAgent,
		ExtraHeaders:     browser.DefaultOptions().ExtraHeaders,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	service := scraper.NewService(b, store, limiter, cfg.Scraper.ListURLTemplate, scraper.Options{
		ContainerTimeout: cfg.Scraper.ContainerTimeout,
		ReadyTimeout:     cfg.Scraper.ReadyTimeout,
		RenderTimeout:    cfg.Scraper.RenderTimeout,
		ExhaustThreshold: cfg.Scraper.ExhaustThreshold,
		WatchdogSettle:   cfg.Scraper.WatchdogSettle,
	}, logger)

	jobManager := jobs.NewManager(service, logger)
	go jobManager.StartWorker(ctx)

	handlers := api.NewHandlers(store, analyser.New(store, logger), jobManager, logger)
	router := api.NewRouter(handlers, database.NewOutboxRepository(store))

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
