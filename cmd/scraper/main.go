package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ofdeals/finder/internal/browser"
	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/export"
	"github.com/ofdeals/finder/internal/logging"
	"github.com/ofdeals/finder/internal/ratelimit"
	"github.com/ofdeals/finder/internal/scraper"
)

// snapshotFactory serves a saved HTML copy of the list view instead of
// opening a browser.
type snapshotFactory struct {
	path string
}

func (f snapshotFactory) NewListPage(ctx context.Context) (scraper.Page, error) {
	return browser.OpenSnapshot(f.path)
}

func main() {
	var (
		listID     = flag.String("list", "", "List ID to scrape (required)")
		dbPath     = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
		snapshot   = flag.String("snapshot", "", "Scrape a saved HTML snapshot instead of the live site")
		headless   = flag.Bool("headless", true, "Run browser in headless mode")
		exportPath = flag.String("export", "", "Write the run's profiles to this CSV file afterwards")
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

	if *listID == "" {
		fmt.Fprintln(os.Stderr, "usage: scraper -list <list-id> [-snapshot file.html] [-export out.csv]")
		os.Exit(2)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	store, err := database.Open(cfg.Database.Path, nil)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	var pages scraper.PageFactory
	if *snapshot != "" {
		pages = snapshotFactory{path: *snapshot}
	} else {
		b, err := browser.New(&browser.Options{
			Headless:         *headless && cfg.Browser.Headless,
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
		pages = b
	}

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	service := scraper.NewService(pages, store, limiter, cfg.Scraper.ListURLTemplate, scraper.Options{
		ContainerTimeout: cfg.Scraper.ContainerTimeout,
		ReadyTimeout:     cfg.Scraper.ReadyTimeout,
		RenderTimeout:    cfg.Scraper.RenderTimeout,
		ExhaustThreshold: cfg.Scraper.ExhaustThreshold,
		WatchdogSettle:   cfg.Scraper.WatchdogSettle,
	}, logger)

	summary, err := service.ScrapeList(ctx, *listID)
	if err != nil {
		logger.Error("scrape failed", "list_id", *listID, "error", err)
		os.Exit(1)
	}

	logger.Info("scrape finished",
		"run_id", summary.RunID,
		"profiles", summary.ProfileCount,
		"duration", summary.Duration.Round(1e9))

	if *exportPath != "" {
		f, err := os.Create(*exportPath)
		if err != nil {
			logger.Error("failed to create export file", "path", *exportPath, "error", err)
			os.Exit(1)
		}
		defer f.Close()

		if err := export.Export(ctx, store, f, summary.RunID); err != nil {
			logger.Error("export failed", "error", err)
			os.Exit(1)
		}
		logger.Info("profiles exported", "path", *exportPath)
	}
}
