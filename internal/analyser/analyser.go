package analyser

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
)

// Curation list names the reports reason about. Profiles are filed into
// these lists by hand on the platform; the reports flag rows where the
// observed state disagrees with the filing.
const (
	ListPaid      = "paid"
	ListFree      = "free"
	ListActiveSub = "activesub"
	ListInactive  = "inactive"
)

// DefaultWindowDays bounds the trailing window for change and trend
// reports.
const DefaultWindowDays = 30

// DefaultTagLists are the content-category lists every profile is
// expected to be filed under at least one of. Profiles in none of them
// surface in the untagged report.
var DefaultTagLists = []string{"femdom", "vanilla", "femboy", "qos", "male"}

// Issue flags one profile whose observed state disagrees with its list
// filing.
type Issue struct {
	Username string                   `json:"username"`
	Price    *float64                 `json:"price"`
	State    models.SubscriptionState `json:"subscription_status"`
	Lists    []string                 `json:"lists"`
	Problem  string                   `json:"problem"`
}

// Reports is the full read-only analysis of the history store.
type Reports struct {
	FreeAccounts         []models.Profile       `json:"free_accounts"`
	CategorizationIssues []Issue                `json:"categorization_issues"`
	Untagged             []Issue                `json:"untagged"`
	HistoricalLows       []models.HistoricalLow `json:"historical_lows"`
	TrendingDown         []models.PriceTrend    `json:"trending_down"`
	RecentChanges        []models.PriceChange   `json:"recent_changes"`
	Stats                *database.Stats        `json:"stats"`
}

// Analyser derives reports from the history store. It never writes.
type Analyser struct {
	store    *database.Store
	tagLists []string
	logger   *slog.Logger
}

func New(store *database.Store, logger *slog.Logger) *Analyser {
	return &Analyser{
		store:    store,
		tagLists: DefaultTagLists,
		logger:   logger.With("component", "analyser"),
	}
}

// SetTagLists overrides the content-category lists the untagged report
// checks against. An empty slice disables the report.
func (a *Analyser) SetTagLists(lists []string) {
	a.tagLists = lists
}

// Run assembles every report over the trailing window of the given
// number of days.
func (a *Analyser) Run(ctx context.Context, days int) (*Reports, error) {
	if days <= 0 {
		days = DefaultWindowDays
	}

	profiles, err := a.store.AllProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}

	lows, err := a.store.HistoricalLows(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading historical lows: %w", err)
	}

	trends, err := a.store.TrendingDown(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("loading trends: %w", err)
	}

	changes, err := a.store.PriceChanges(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("loading price changes: %w", err)
	}

	stats, err := a.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stats: %w", err)
	}

	reports := &Reports{
		FreeAccounts:         freeAccounts(profiles),
		CategorizationIssues: categorize(profiles),
		Untagged:             untagged(profiles, a.tagLists),
		HistoricalLows:       lows,
		TrendingDown:         trends,
		RecentChanges:        changes,
		Stats:                stats,
	}
	a.logger.Info("reports assembled",
		"free", len(reports.FreeAccounts),
		"issues", len(reports.CategorizationIssues),
		"untagged", len(reports.Untagged),
		"lows", len(reports.HistoricalLows),
		"trending", len(reports.TrendingDown),
		"changes", len(reports.RecentChanges))
	return reports, nil
}

// freeAccounts lists unsubscribed profiles that currently cost nothing.
func freeAccounts(profiles []models.Profile) []models.Profile {
	var result []models.Profile
	for _, p := range profiles {
		if inList(p, ListInactive) {
			continue
		}
		if p.State != models.StateNotSubscribed {
			continue
		}
		if p.Price == nil || *p.Price != 0 {
			continue
		}
		result = append(result, p)
	}
	return result
}

func categorize(profiles []models.Profile) []Issue {
	var issues []Issue
	for _, p := range profiles {
		if inList(p, ListInactive) {
			continue
		}
		if problem := categorizeOne(p); problem != "" {
			issues = append(issues, Issue{
				Username: p.Username,
				Price:    p.Price,
				State:    p.State,
				Lists:    p.Lists,
				Problem:  problem,
			})
		}
	}
	return issues
}

func categorizeOne(p models.Profile) string {
	switch p.State {
	case models.StateSubscribed:
		if !inList(p, ListActiveSub) {
			return "subscribed but missing from " + ListActiveSub
		}
	case models.StateNotSubscribed:
		if inList(p, ListActiveSub) {
			return "filed in " + ListActiveSub + " but subscription lapsed"
		}
		switch {
		case p.Price == nil:
			return "no readable price"
		case *p.Price == 0 && !inList(p, ListFree):
			return "free but missing from " + ListFree
		case *p.Price > 0 && !inList(p, ListPaid):
			return "paid but missing from " + ListPaid
		}
	case models.StateUnknown:
		return "subscription state unknown"
	}
	return ""
}

// untagged flags profiles filed in none of the given content-category
// lists.
func untagged(profiles []models.Profile, tagLists []string) []Issue {
	if len(tagLists) == 0 {
		return nil
	}

	var issues []Issue
	for _, p := range profiles {
		if inList(p, ListInactive) {
			continue
		}
		tagged := false
		for _, list := range tagLists {
			if inList(p, list) {
				tagged = true
				break
			}
		}
		if tagged {
			continue
		}
		issues = append(issues, Issue{
			Username: p.Username,
			Price:    p.Price,
			State:    p.State,
			Lists:    p.Lists,
			Problem:  "not filed in any tag list",
		})
	}
	return issues
}

func inList(p models.Profile, name string) bool {
	return slices.Contains(p.Lists, name)
}
