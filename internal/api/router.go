package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ofdeals/finder/internal/database"
)

// NewRouter wires the handlers behind the standard middleware stack.
func NewRouter(h *Handlers, outbox *database.OutboxRepository) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(h, outbox))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/reports", h.GetReports)
		r.Get("/stats", h.GetStats)
		r.Get("/profiles/{username}/history", h.GetProfileHistory)

		r.Post("/runs", h.CreateRun)
		r.Get("/runs/latest", h.GetLatestRun)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{jobID}", h.GetJob)
	})

	return r
}

func healthHandler(h *Handlers, outbox *database.OutboxRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{
			"status":      "ok",
			"queue_depth": h.jobs.QueueDepth(),
		}
		status := http.StatusOK

		if outbox != nil {
			pending, err := outbox.PendingCount(r.Context())
			if err != nil {
				health["status"] = "error"
				health["message"] = "outbox unavailable"
				status = http.StatusServiceUnavailable
			} else {
				health["outbox_pending"] = pending
				if pending > 1000 {
					health["status"] = "warning"
					health["message"] = "high number of pending outbox events"
				}
			}
		}

		h.respondJSON(w, status, health)
	}
}
