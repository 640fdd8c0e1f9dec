package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ofdeals/finder/internal/models"
	"github.com/ofdeals/finder/internal/scraper"
)

const fetchPageSize = 100

// Fetcher walks a list through the JSON API and writes the members into
// the history store under a dedicated run.
type Fetcher struct {
	client *Client
	store  scraper.Store
	logger *slog.Logger
}

func NewFetcher(client *Client, store scraper.Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		store:  store,
		logger: logger.With("component", "fetcher"),
	}
}

// FetchList pages through the list until hasMore goes false.
func (f *Fetcher) FetchList(ctx context.Context, listID int64) (*models.RunSummary, error) {
	started := time.Now()

	runID, err := f.store.StartRun(ctx, "api:"+strconv.FormatInt(listID, 10))
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}

	status := models.RunStatusFailed
	count := 0
	defer func() {
		if cerr := f.store.CompleteRun(context.WithoutCancel(ctx), runID, count, status); cerr != nil {
			f.logger.Error("closing run", "run_id", runID, "error", cerr)
		}
	}()

	offset := 0
	for {
		page, err := f.client.ListUsers(ctx, listID, offset, fetchPageSize)
		if err != nil {
			status = models.RunStatusError
			return nil, err
		}

		for _, user := range page.List {
			if user.Username == "" {
				continue
			}
			obs := observationFor(user, runID)
			if err := f.store.Upsert(ctx, obs); err != nil {
				return nil, fmt.Errorf("storing %s: %w", user.Username, err)
			}
			count++
		}

		f.logger.Info("page fetched", "list_id", listID, "offset", offset, "total", count)
		if !page.HasMore {
			break
		}
		offset += len(page.List)
	}

	status = models.RunStatusCompleted
	return &models.RunSummary{
		RunID:        runID,
		ListID:       strconv.FormatInt(listID, 10),
		Status:       models.RunStatusCompleted,
		ProfileCount: count,
		Duration:     time.Since(started),
	}, nil
}

// observationFor maps an API user row onto the same normalized shape the
// page sampler produces.
func observationFor(user User, runID int64) *models.Observation {
	price := user.SubscribePrice

	obs := &models.Observation{
		Username:  user.Username,
		Price:     &price,
		ScrapedAt: time.Now().UTC(),
		RunID:     runID,
	}
	switch {
	case user.SubscribedBy:
		obs.Offer = models.OfferSubscribed
		obs.State = models.StateSubscribed
	case price == 0:
		obs.Offer = models.OfferFree
		obs.State = models.StateNotSubscribed
	default:
		obs.Offer = models.OfferNone
		obs.State = models.StateNotSubscribed
	}
	return obs
}
