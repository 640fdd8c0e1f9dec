package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ofdeals/finder/internal/models"
)

// ProfilesFromRun returns the current-state rows touched by a run, each
// with its currently open list memberships.
func (s *Store) ProfilesFromRun(ctx context.Context, runID int64) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.username, p.current_price, p.subscription_status,
		        p.first_seen, p.last_seen, p.last_run_id,
		        GROUP_CONCAT(m.list_name)
		 FROM profiles p
		 LEFT JOIN list_memberships m
		   ON p.username = m.username AND m.removed_at IS NULL
		 WHERE p.last_run_id = ?
		 GROUP BY p.username
		 ORDER BY p.username`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// AllProfiles returns every current-state row with open memberships.
func (s *Store) AllProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.username, p.current_price, p.subscription_status,
		        p.first_seen, p.last_seen, p.last_run_id,
		        GROUP_CONCAT(m.list_name)
		 FROM profiles p
		 LEFT JOIN list_memberships m
		   ON p.username = m.username AND m.removed_at IS NULL
		 GROUP BY p.username
		 ORDER BY p.username`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func scanProfiles(rows *sql.Rows) ([]models.Profile, error) {
	var result []models.Profile
	for rows.Next() {
		var (
			p         models.Profile
			price     sql.NullFloat64
			firstSeen string
			lastSeen  string
			lists     sql.NullString
		)
		if err := rows.Scan(&p.Username, &price, &p.State, &firstSeen, &lastSeen, &p.LastRunID, &lists); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		if price.Valid {
			v := price.Float64
			p.Price = &v
		}
		var err error
		if p.FirstSeen, err = parseTime(firstSeen); err != nil {
			return nil, fmt.Errorf("failed to parse first_seen: %w", err)
		}
		if p.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("failed to parse last_seen: %w", err)
		}
		if lists.Valid && lists.String != "" {
			p.Lists = strings.Split(lists.String, ",")
			sort.Strings(p.Lists)
		} else {
			p.Lists = []string{}
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// PriceHistory returns every observation of a profile, newest first.
func (s *Store) PriceHistory(ctx context.Context, username string) ([]models.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price, subscription_status, scraped_at
		 FROM observations
		 WHERE username = ?
		 ORDER BY scraped_at DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	var result []models.PricePoint
	for rows.Next() {
		var (
			point     models.PricePoint
			price     sql.NullFloat64
			scrapedAt string
		)
		if err := rows.Scan(&price, &point.State, &scrapedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		if price.Valid {
			v := price.Float64
			point.Price = &v
		}
		if point.ScrapedAt, err = parseTime(scrapedAt); err != nil {
			return nil, fmt.Errorf("failed to parse scraped_at: %w", err)
		}
		result = append(result, point)
	}
	return result, rows.Err()
}

// PriceChanges pairs consecutive observations inside the trailing window
// where the price moved.
func (s *Store) PriceChanges(ctx context.Context, days int) ([]models.PriceChange, error) {
	cutoff := fmtTime(time.Now().AddDate(0, 0, -days))

	rows, err := s.db.QueryContext(ctx,
		`WITH ranked AS (
			SELECT username, price, scraped_at,
			       LAG(price) OVER (PARTITION BY username ORDER BY scraped_at) AS prev_price
			FROM observations
			WHERE scraped_at >= ? AND price IS NOT NULL
		)
		SELECT username, prev_price, price, scraped_at
		FROM ranked
		WHERE prev_price IS NOT NULL AND prev_price != price
		ORDER BY scraped_at DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query price changes: %w", err)
	}
	defer rows.Close()

	var result []models.PriceChange
	for rows.Next() {
		var (
			change    models.PriceChange
			changedAt string
		)
		if err := rows.Scan(&change.Username, &change.OldPrice, &change.NewPrice, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan price change: %w", err)
		}
		if change.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, fmt.Errorf("failed to parse change time: %w", err)
		}
		result = append(result, change)
	}
	return result, rows.Err()
}

// HistoricalLows returns profiles whose current price equals the lowest
// price ever observed for them. Single-sample profiles are excluded, and
// so are profiles with an active subscription: the point is to surface
// deals the operator has not taken yet, not renewal pricing.
func (s *Store) HistoricalLows(ctx context.Context) ([]models.HistoricalLow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.username, p.current_price, COUNT(o.id) AS seen
		 FROM profiles p
		 JOIN observations o ON p.username = o.username
		 WHERE p.subscription_status = ? AND o.price IS NOT NULL
		 GROUP BY p.username
		 HAVING p.current_price = MIN(o.price) AND seen >= 2
		 ORDER BY p.current_price`, models.StateNotSubscribed)
	if err != nil {
		return nil, fmt.Errorf("failed to query historical lows: %w", err)
	}
	defer rows.Close()

	var result []models.HistoricalLow
	for rows.Next() {
		var low models.HistoricalLow
		if err := rows.Scan(&low.Username, &low.CurrentPrice, &low.TimesSeen); err != nil {
			return nil, fmt.Errorf("failed to scan historical low: %w", err)
		}
		result = append(result, low)
	}
	return result, rows.Err()
}

// TrendingDown returns profiles whose last three observations inside the
// trailing window form a strictly decreasing price sequence.
func (s *Store) TrendingDown(ctx context.Context, days int) ([]models.PriceTrend, error) {
	cutoff := fmtTime(time.Now().AddDate(0, 0, -days))

	rows, err := s.db.QueryContext(ctx,
		`WITH trends AS (
			SELECT o.username, o.price, o.scraped_at,
			       LAG(o.price, 1) OVER (PARTITION BY o.username ORDER BY o.scraped_at) AS prev_price,
			       LAG(o.price, 2) OVER (PARTITION BY o.username ORDER BY o.scraped_at) AS prev_price_2
			FROM observations o
			JOIN profiles p ON p.username = o.username
			WHERE o.scraped_at >= ? AND o.price IS NOT NULL
			  AND p.subscription_status = ?
		)
		SELECT username, prev_price_2, prev_price, price
		FROM trends
		WHERE prev_price_2 IS NOT NULL
		  AND prev_price < prev_price_2
		  AND price < prev_price
		GROUP BY username
		ORDER BY (prev_price_2 - price) DESC`, cutoff, models.StateNotSubscribed)
	if err != nil {
		return nil, fmt.Errorf("failed to query price trends: %w", err)
	}
	defer rows.Close()

	var result []models.PriceTrend
	for rows.Next() {
		var trend models.PriceTrend
		if err := rows.Scan(&trend.Username, &trend.Oldest, &trend.Middle, &trend.Latest); err != nil {
			return nil, fmt.Errorf("failed to scan price trend: %w", err)
		}
		result = append(result, trend)
	}
	return result, rows.Err()
}

// Stats summarizes the store for operator output.
type Stats struct {
	TotalProfiles int    `json:"total_profiles"`
	CompletedRuns int    `json:"completed_runs"`
	Observations  int    `json:"observations"`
	LastRunAt     string `json:"last_run_at,omitempty"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&stats.TotalProfiles); err != nil {
		return nil, fmt.Errorf("failed to count profiles: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scrape_runs WHERE status = ?`, models.RunStatusCompleted).
		Scan(&stats.CompletedRuns); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&stats.Observations); err != nil {
		return nil, fmt.Errorf("failed to count observations: %w", err)
	}

	var lastRun sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM scrape_runs WHERE status = ?
		 ORDER BY started_at DESC LIMIT 1`, models.RunStatusCompleted).
		Scan(&lastRun); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	if lastRun.Valid {
		stats.LastRunAt = lastRun.String
	}

	return &stats, nil
}
