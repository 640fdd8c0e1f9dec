package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/logging"
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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(store, redisClient, database.RelayConfig{
		PollInterval: cfg.Redis.RelayInterval,
		BatchSize:    cfg.Redis.RelayBatch,
	})

	logger.Info("relay started", "stream", cfg.Redis.Stream, "interval", cfg.Redis.RelayInterval)
	if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}
