package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofdeals/finder/internal/analyser"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/jobs"
	"github.com/ofdeals/finder/internal/models"
)

type noopRunner struct{}

func (noopRunner) ScrapeList(ctx context.Context, listID string) (*models.RunSummary, error) {
	return &models.RunSummary{ListID: listID, Status: models.RunStatusCompleted}, nil
}

func testServer(t *testing.T) (*httptest.Server, *database.Store) {
	t.Helper()
	store := database.OpenMemory(t)
	logger := slog.Default()

	handlers := NewHandlers(store, analyser.New(store, logger), jobs.NewManager(noopRunner{}, logger), logger)
	srv := httptest.NewServer(NewRouter(handlers, database.NewOutboxRepository(store)))
	t.Cleanup(srv.Close)
	return srv, store
}

func seedRun(t *testing.T, store *database.Store) int64 {
	t.Helper()
	ctx := context.Background()

	runID, err := store.StartRun(ctx, "77")
	require.NoError(t, err)
	price := 9.99
	require.NoError(t, store.Upsert(ctx, &models.Observation{
		Username: "alice",
		Price:    &price,
		Offer:    models.OfferNone,
		State:    models.StateNotSubscribed,
		Lists:    []string{"paid"},
		RunID:    runID,
	}))
	require.NoError(t, store.CompleteRun(ctx, runID, 1, models.RunStatusCompleted))
	return runID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	var health map[string]any
	code := getJSON(t, srv.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", health["status"])
}

func TestGetStatsAndReports(t *testing.T) {
	srv, store := testServer(t)
	seedRun(t, store)

	var stats database.Stats
	code := getJSON(t, srv.URL+"/api/v1/stats", &stats)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, stats.TotalProfiles)
	assert.Equal(t, 1, stats.CompletedRuns)

	var reports analyser.Reports
	code = getJSON(t, srv.URL+"/api/v1/reports?days=7", &reports)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, reports.Stats)

	code = getJSON(t, srv.URL+"/api/v1/reports?days=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetProfileHistory(t *testing.T) {
	srv, store := testServer(t)
	seedRun(t, store)

	var body struct {
		Username    string                  `json:"username"`
		History     []models.PricePoint     `json:"history"`
		Memberships []models.ListMembership `json:"memberships"`
	}
	code := getJSON(t, srv.URL+"/api/v1/profiles/alice/history", &body)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, body.History, 1)
	require.Len(t, body.Memberships, 1)
	assert.Equal(t, "paid", body.Memberships[0].ListName)

	code = getJSON(t, srv.URL+"/api/v1/profiles/nobody/history", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateRun(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"list_id":"77"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job jobs.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, jobs.StatusPending, job.Status)

	var fetched jobs.Job
	code := getJSON(t, srv.URL+"/api/v1/jobs/"+job.ID, &fetched)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, job.ID, fetched.ID)

	resp, err = http.Post(srv.URL+"/api/v1/runs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLatestRun(t *testing.T) {
	srv, store := testServer(t)

	code := getJSON(t, srv.URL+"/api/v1/runs/latest", nil)
	assert.Equal(t, http.StatusNotFound, code)

	runID := seedRun(t, store)

	var run models.ScrapeRun
	code = getJSON(t, srv.URL+"/api/v1/runs/latest", &run)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
}

func TestGetUnknownJob(t *testing.T) {
	srv, _ := testServer(t)
	code := getJSON(t, srv.URL+"/api/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}
