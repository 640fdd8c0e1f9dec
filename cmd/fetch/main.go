package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ofdeals/finder/internal/apiclient"
	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/logging"
)

func main() {
	var (
		listID   = flag.Int64("list", 0, "Numeric list ID to fetch (required)")
		dbPath   = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
		authPath = flag.String("auth", "", "Auth file exported from a logged-in session (overrides API_AUTH_FILE)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if *listID == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetch -list <numeric-list-id> [-auth auth.json]")
		os.Exit(2)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *authPath != "" {
		cfg.API.AuthFile = *authPath
	}

	auth, err := loadAuth(cfg)
	if err != nil {
		logger.Error("failed to load auth material", "error", err)
		os.Exit(1)
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

	client := apiclient.New(auth, cfg.API.BaseURL, cfg.API.Timeout, logger)
	fetcher := apiclient.NewFetcher(client, store, logger)

	summary, err := fetcher.FetchList(ctx, *listID)
	if err != nil {
		if errors.Is(err, apiclient.ErrAuthRejected) || errors.Is(err, apiclient.ErrSignRejected) {
			logger.Error("fetch rejected by the API", "list_id", *listID, "error", err)
		} else {
			logger.Error("fetch failed", "list_id", *listID, "error", err)
		}
		os.Exit(1)
	}

	logger.Info("fetch finished",
		"run_id", summary.RunID,
		"profiles", summary.ProfileCount,
		"duration", summary.Duration.Round(1e9))
}

// loadAuth prefers an exported auth file and falls back to the
// individual env fields.
func loadAuth(cfg *config.Config) (*apiclient.Auth, error) {
	if _, err := os.Stat(cfg.API.AuthFile); err == nil {
		return apiclient.LoadAuth(cfg.API.AuthFile)
	}
	return apiclient.AuthFromParts(cfg.API.AuthID, cfg.API.SessionID, cfg.API.UserAgent, cfg.API.XBC)
}
