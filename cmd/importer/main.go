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

	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/export"
	"github.com/ofdeals/finder/internal/logging"
)

func main() {
	var (
		dbPath = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] file.csv [file.csv ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Imports historical CSV exports into the history store.\n")
		fmt.Fprintf(os.Stderr, "Files named output-YYYY-MM-DD.csv are backdated to that date.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

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

	failed := 0
	for _, path := range flag.Args() {
		runID, imported, err := export.ImportFile(ctx, store, path, logger)
		if err != nil {
			logger.Error("import failed", "file", path, "error", err)
			failed++
			continue
		}
		logger.Info("import complete", "file", path, "run_id", runID, "profiles", imported)
	}

	if failed > 0 {
		os.Exit(1)
	}
}
