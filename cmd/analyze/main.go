package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ofdeals/finder/internal/analyser"
	"github.com/ofdeals/finder/internal/config"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/logging"
)

func main() {
	var (
		dbPath = flag.String("db", "", "SQLite database path (overrides DB_PATH)")
		days   = flag.Int("days", analyser.DefaultWindowDays, "Trailing window for changes and trends")
		format = flag.String("format", "text", "Output format: text or json")
		tags   = flag.String("tags", "", "Comma-separated tag lists for the untagged report (default built-in set)")
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

	store, err := database.Open(cfg.Database.Path, nil)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	an := analyser.New(store, logger)
	if *tags != "" {
		an.SetTagLists(strings.Split(*tags, ","))
	}

	reports, err := an.Run(context.Background(), *days)
	if err != nil {
		logger.Error("analysis failed", "error", err)
		os.Exit(1)
	}

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			logger.Error("failed to encode reports", "error", err)
			os.Exit(1)
		}
		return
	}

	printReports(reports, *days)
}

func printReports(r *analyser.Reports, days int) {
	fmt.Printf("== Store ==\n")
	fmt.Printf("profiles: %d  observations: %d  completed runs: %d\n",
		r.Stats.TotalProfiles, r.Stats.Observations, r.Stats.CompletedRuns)
	if r.Stats.LastRunAt != "" {
		fmt.Printf("last run: %s\n", r.Stats.LastRunAt)
	}

	fmt.Printf("\n== Free accounts (%d) ==\n", len(r.FreeAccounts))
	for _, p := range r.FreeAccounts {
		fmt.Printf("  %-24s lists: %v\n", p.Username, p.Lists)
	}

	fmt.Printf("\n== Historical lows (%d) ==\n", len(r.HistoricalLows))
	for _, low := range r.HistoricalLows {
		fmt.Printf("  %-24s $%.2f (seen %d times)\n", low.Username, low.CurrentPrice, low.TimesSeen)
	}

	fmt.Printf("\n== Trending down, last %d days (%d) ==\n", days, len(r.TrendingDown))
	for _, t := range r.TrendingDown {
		fmt.Printf("  %-24s $%.2f -> $%.2f -> $%.2f\n", t.Username, t.Oldest, t.Middle, t.Latest)
	}

	fmt.Printf("\n== Price changes, last %d days (%d) ==\n", days, len(r.RecentChanges))
	for _, c := range r.RecentChanges {
		fmt.Printf("  %-24s $%.2f -> $%.2f at %s\n",
			c.Username, c.OldPrice, c.NewPrice, c.ChangedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\n== Categorization issues (%d) ==\n", len(r.CategorizationIssues))
	for _, issue := range r.CategorizationIssues {
		price := "n/a"
		if issue.Price != nil {
			price = fmt.Sprintf("$%.2f", *issue.Price)
		}
		fmt.Printf("  %-24s %-8s %s\n", issue.Username, price, issue.Problem)
	}

	fmt.Printf("\n== Untagged (%d) ==\n", len(r.Untagged))
	for _, issue := range r.Untagged {
		fmt.Printf("  %-24s lists: %v\n", issue.Username, issue.Lists)
	}
}
