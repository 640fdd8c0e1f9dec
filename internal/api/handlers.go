package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ofdeals/finder/internal/analyser"
	"github.com/ofdeals/finder/internal/database"
	"github.com/ofdeals/finder/internal/jobs"
)

type Handlers struct {
	store    *database.Store
	analyser *analyser.Analyser
	jobs     *jobs.Manager
	logger   *slog.Logger
}

func NewHandlers(store *database.Store, an *analyser.Analyser, jobs *jobs.Manager, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:    store,
		analyser: an,
		jobs:     jobs,
		logger:   logger.With("component", "api"),
	}
}

// GetReports returns the full derived-report bundle. ?days bounds the
// trailing window for change and trend reports.
func (h *Handlers) GetReports(w http.ResponseWriter, r *http.Request) {
	days := analyser.DefaultWindowDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	reports, err := h.analyser.Run(r.Context(), days)
	if err != nil {
		h.logger.Error("failed to build reports", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to build reports")
		return
	}

	h.respondJSON(w, http.StatusOK, reports)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to read stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// GetProfileHistory returns the full observation history of one
// profile, newest first, plus its membership timeline.
func (h *Handlers) GetProfileHistory(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(chi.URLParam(r, "username"))
	if username == "" {
		h.respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	history, err := h.store.PriceHistory(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to read history", "username", username, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if len(history) == 0 {
		h.respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	memberships, err := h.store.MembershipHistory(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to read memberships", "username", username, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read memberships")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"username":    username,
		"history":     history,
		"memberships": memberships,
	})
}

type createRunRequest struct {
	ListID string `json:"list_id"`
}

// CreateRun enqueues a scrape job for a list and returns it without
// waiting for the worker.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ListID) == "" {
		h.respondError(w, http.StatusBadRequest, "list_id is required")
		return
	}

	job, err := h.jobs.Enqueue(strings.TrimSpace(req.ListID))
	if err != nil {
		h.logger.Error("failed to enqueue job", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "could not enqueue job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to read job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

// GetLatestRun returns the most recent completed run.
func (h *Handlers) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	runID, err := h.store.LatestRunID(r.Context())
	if err != nil {
		h.logger.Error("failed to find latest run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to find latest run")
		return
	}
	if runID == 0 {
		h.respondError(w, http.StatusNotFound, "no completed runs yet")
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.logger.Error("failed to read run", "run_id", runID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
