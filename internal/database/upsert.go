package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ofdeals/finder/internal/models"
)

// ErrInvalidObservation marks an observation the store refuses to write.
// Callers log and skip the record; the transaction is already rolled back.
var ErrInvalidObservation = errors.New("invalid observation")

// Upsert writes one observation into the history ledger, overwrites the
// profile's current state and reconciles its open list memberships, all
// in one transaction. Whenever the current price drops, or a profile is
// seen for the first time, a matching outbox event is recorded in the
// same transaction.
func (s *Store) Upsert(ctx context.Context, obs *models.Observation) error {
	if obs.Username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidObservation)
	}

	price := obs.Price
	if obs.Offer.ZeroPriced() {
		zero := 0.0
		price = &zero
	}
	if price != nil && *price < 0 {
		return fmt.Errorf("%w: negative price %.2f for %s", ErrInvalidObservation, *price, obs.Username)
	}

	scrapedAt := obs.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	listsJSON, err := json.Marshal(nonNil(obs.Lists))
	if err != nil {
		return fmt.Errorf("%w: lists not serializable: %v", ErrInvalidObservation, err)
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		var oldPrice sql.NullFloat64
		err := tx.QueryRowContext(ctx,
			`SELECT current_price FROM profiles WHERE username = ?`, obs.Username).
			Scan(&oldPrice)
		isNew := errors.Is(err, sql.ErrNoRows)
		if err != nil && !isNew {
			return fmt.Errorf("failed to read profile %s: %w", obs.Username, err)
		}

		now := fmtTime(scrapedAt)
		if isNew {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO profiles (username, current_price, subscription_status,
				                       first_seen, last_seen, last_run_id)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				obs.Username, nullFloat(price), obs.State, now, now, obs.RunID)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE profiles
				 SET current_price = ?, subscription_status = ?, last_seen = ?, last_run_id = ?
				 WHERE username = ?`,
				nullFloat(price), obs.State, now, obs.RunID, obs.Username)
		}
		if err != nil {
			return fmt.Errorf("failed to upsert profile %s: %w", obs.Username, err)
		}

		// History is append-only: every observation lands here unconditionally.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO observations (username, price, offer_kind, subscription_status,
			                           lists, scraped_at, run_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			obs.Username, nullFloat(price), obs.Offer.String(), obs.State,
			string(listsJSON), now, obs.RunID)
		if err != nil {
			return fmt.Errorf("failed to insert observation for %s: %w", obs.Username, err)
		}

		if err := s.reconcileLists(ctx, tx, obs.Username, obs.Lists, obs.RunID, now); err != nil {
			return err
		}

		return s.recordProfileEvents(ctx, tx, obs.Username, oldPrice, price, isNew, scrapedAt)
	})
}

// reconcileLists closes memberships the new observation no longer carries
// and opens rows for lists that newly appeared. Lists present in both
// stay untouched so their added_at is preserved.
func (s *Store) reconcileLists(ctx context.Context, tx *sql.Tx, username string, lists []string, runID int64, now string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT list_name FROM list_memberships
		 WHERE username = ? AND removed_at IS NULL`, username)
	if err != nil {
		return fmt.Errorf("failed to read open memberships for %s: %w", username, err)
	}
	defer rows.Close()

	open := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		open[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate memberships: %w", err)
	}

	current := make(map[string]bool, len(lists))
	for _, name := range lists {
		current[name] = true
		if !open[name] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO list_memberships (username, list_name, added_at, run_id)
				 VALUES (?, ?, ?, ?)`, username, name, now, runID); err != nil {
				return fmt.Errorf("failed to open membership %s/%s: %w", username, name, err)
			}
		}
	}

	for name := range open {
		if !current[name] {
			if _, err := tx.ExecContext(ctx,
				`UPDATE list_memberships SET removed_at = ?
				 WHERE username = ? AND list_name = ? AND removed_at IS NULL`,
				now, username, name); err != nil {
				return fmt.Errorf("failed to close membership %s/%s: %w", username, name, err)
			}
		}
	}

	return nil
}

// OpenMemberships returns the currently open list memberships of a profile.
func (s *Store) OpenMemberships(ctx context.Context, username string) ([]models.ListMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, list_name, added_at, removed_at, run_id
		 FROM list_memberships
		 WHERE username = ? AND removed_at IS NULL
		 ORDER BY list_name`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

// MembershipHistory returns all membership rows for a profile, open and
// closed, ordered by list name then added_at.
func (s *Store) MembershipHistory(ctx context.Context, username string) ([]models.ListMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, list_name, added_at, removed_at, run_id
		 FROM list_memberships
		 WHERE username = ?
		 ORDER BY list_name, added_at`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query membership history: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows)
}

func scanMemberships(rows *sql.Rows) ([]models.ListMembership, error) {
	var result []models.ListMembership
	for rows.Next() {
		var (
			m         models.ListMembership
			addedAt   string
			removedAt sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Username, &m.ListName, &addedAt, &removedAt, &m.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		var err error
		if m.AddedAt, err = parseTime(addedAt); err != nil {
			return nil, fmt.Errorf("failed to parse added_at: %w", err)
		}
		if removedAt.Valid {
			t, err := parseTime(removedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse removed_at: %w", err)
			}
			m.RemovedAt = &t
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nonNil(lists []string) []string {
	if lists == nil {
		return []string{}
	}
	return lists
}
