package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ofdeals/finder/internal/models"
)

var ErrRunNotFound = errors.New("scrape run not found")

// StartRun opens a new scrape run for the given list id and returns its id.
func (s *Store) StartRun(ctx context.Context, listID string) (int64, error) {
	return s.StartRunAt(ctx, listID, time.Now())
}

// StartRunAt opens a run with an explicit start time. CSV imports use it
// to backdate synthetic runs to the export date.
func (s *Store) StartRunAt(ctx context.Context, listID string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (list_id, started_at, status) VALUES (?, ?, ?)`,
		listID, fmtTime(startedAt), models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	s.logger.Info("scrape run started", "run_id", id, "list_id", listID)
	return id, nil
}

// CompleteRun closes a run with a final count and terminal status. Only a
// run still in 'running' state is touched, so the close is effective
// exactly once no matter how many exit paths race to it.
func (s *Store) CompleteRun(ctx context.Context, runID int64, profileCount int, status models.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scrape_runs
		 SET completed_at = ?, profile_count = ?, status = ?
		 WHERE id = ? AND status = ?`,
		fmtTime(time.Now()), profileCount, status, runID, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run %d: %w", runID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("run already closed", "run_id", runID)
		return nil
	}

	s.logger.Info("scrape run closed", "run_id", runID, "status", status, "profiles", profileCount)
	return nil
}

// GetRun returns one scrape run by id.
func (s *Store) GetRun(ctx context.Context, runID int64) (*models.ScrapeRun, error) {
	var (
		run         models.ScrapeRun
		startedAt   string
		completedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, list_id, started_at, completed_at, profile_count, status
		 FROM scrape_runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.ListID, &startedAt, &completedAt, &run.ProfileCount, &run.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", runID, err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse run start time: %w", err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run completion time: %w", err)
		}
		run.CompletedAt = &t
	}

	return &run, nil
}

// LatestRunID returns the id of the most recent completed run, or 0 when
// no run has completed yet.
func (s *Store) LatestRunID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM scrape_runs
		 WHERE status = ?
		 ORDER BY started_at DESC LIMIT 1`, models.RunStatusCompleted).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get latest run: %w", err)
	}
	return id, nil
}
