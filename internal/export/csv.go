package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/models"
)

var header = []string{"username", "price", "subscription_status", "lists"}

// filenameDate matches export files named like output-2024-11-03.csv.
var filenameDate = regexp.MustCompile(`output-(\d{4}-\d{2}-\d{2})`)

// Export writes the current-state rows of one run as CSV. A runID of 0
// exports every known profile instead.
func Export(ctx context.Context, store *database.Store, w io.Writer, runID int64) error {
	var (
		profiles []models.Profile
		err      error
	)
	if runID > 0 {
		profiles, err = store.ProfilesFromRun(ctx, runID)
	} else {
		profiles, err = store.AllProfiles(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, p := range profiles {
		price := ""
		if p.Price != nil {
			price = strconv.FormatFloat(*p.Price, 'f', 2, 64)
		}
		row := []string{p.Username, price, string(p.State), strings.Join(p.Lists, ",")}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row for %s: %w", p.Username, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportLatest exports the most recent completed run, falling back to
// all profiles when no run has completed yet.
func ExportLatest(ctx context.Context, store *database.Store, w io.Writer) error {
	runID, err := store.LatestRunID(ctx)
	if err != nil {
		return fmt.Errorf("finding latest run: %w", err)
	}
	return Export(ctx, store, w, runID)
}

// Import reads CSV rows back into the store under a synthetic run
// backdated to scrapedAt. Rows the store rejects as invalid are logged
// and skipped; any other failure closes the run as failed.
func Import(ctx context.Context, store *database.Store, r io.Reader, listID string, scrapedAt time.Time, logger *slog.Logger) (int64, int, error) {
	cr := csv.NewReader(r)

	head, err := cr.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("reading header: %w", err)
	}
	if len(head) < len(header) {
		return 0, 0, fmt.Errorf("unexpected header %v", head)
	}

	runID, err := store.StartRunAt(ctx, listID, scrapedAt)
	if err != nil {
		return 0, 0, fmt.Errorf("starting import run: %w", err)
	}

	count := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			failRun(ctx, store, runID, count, logger)
			return runID, count, fmt.Errorf("reading row: %w", err)
		}

		obs, err := rowToObservation(row, runID, scrapedAt)
		if err != nil {
			logger.Warn("skipping malformed row", "row", row, "error", err)
			continue
		}

		if err := store.Upsert(ctx, obs); err != nil {
			if errors.Is(err, database.ErrInvalidObservation) {
				logger.Warn("store rejected row", "username", obs.Username, "error", err)
				continue
			}
			failRun(ctx, store, runID, count, logger)
			return runID, count, fmt.Errorf("storing %s: %w", obs.Username, err)
		}
		count++
	}

	if err := store.CompleteRun(ctx, runID, count, models.RunStatusCompleted); err != nil {
		return runID, count, err
	}
	return runID, count, nil
}

// failRun closes the run as failed; its own failure is logged so it
// never masks the import error being returned.
func failRun(ctx context.Context, store *database.Store, runID int64, count int, logger *slog.Logger) {
	if err := store.CompleteRun(context.WithoutCancel(ctx), runID, count, models.RunStatusFailed); err != nil {
		logger.Error("closing import run", "run_id", runID, "error", err)
	}
}

// ImportFile imports path, backdating the synthetic run to the date in
// the filename when it carries one.
func ImportFile(ctx context.Context, store *database.Store, path string, logger *slog.Logger) (int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scrapedAt, ok := TimestampFromFilename(filepath.Base(path))
	if !ok {
		scrapedAt = time.Now()
	}

	return Import(ctx, store, f, "csv:"+filepath.Base(path), scrapedAt, logger)
}

// TimestampFromFilename extracts the export date from an
// output-YYYY-MM-DD style filename.
func TimestampFromFilename(name string) (time.Time, bool) {
	m := filenameDate.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func rowToObservation(row []string, runID int64, scrapedAt time.Time) (*models.Observation, error) {
	if len(row) < len(header) {
		return nil, fmt.Errorf("want %d columns, got %d", len(header), len(row))
	}

	username := strings.TrimSpace(row[0])
	if username == "" {
		return nil, fmt.Errorf("empty username")
	}

	var price *float64
	if raw := strings.TrimSpace(row[1]); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", raw, err)
		}
		price = &v
	}

	state := models.SubscriptionState(strings.TrimSpace(row[2]))
	switch state {
	case models.StateSubscribed, models.StateNotSubscribed, models.StateUnknown:
	default:
		state = models.StateUnknown
	}

	var lists []string
	if raw := strings.TrimSpace(row[3]); raw != "" {
		lists = strings.Split(raw, ",")
	}

	return &models.Observation{
		Username:  username,
		Price:     price,
		Offer:     offerForImport(price, state),
		State:     state,
		Lists:     lists,
		ScrapedAt: scrapedAt,
		RunID:     runID,
	}, nil
}

// offerForImport picks an offer kind consistent with the flat CSV
// columns, which never carried one.
func offerForImport(price *float64, state models.SubscriptionState) models.OfferKind {
	switch {
	case state == models.StateSubscribed:
		return models.OfferSubscribed
	case price == nil:
		return models.OfferUnknown
	case *price == 0:
		return models.OfferFree
	default:
		return models.OfferNone
	}
}
