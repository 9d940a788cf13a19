// Package httpapi exposes the service-to-service HTTP surface of the
// compliance core.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/auth"
	"github.com/maes-platform/compliance-core/internal/compare"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/report"
	"github.com/maes-platform/compliance-core/internal/scheduler"
	"github.com/maes-platform/compliance-core/internal/store"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	Store      store.Store
	Queue      *queue.Queue
	Scheduler  *scheduler.Scheduler
	Comparator *compare.Comparator
	Reports    *report.Generator
	Graph      *graph.Factory
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// errorBody is the failure envelope of every endpoint.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes the JSON failure envelope.
func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorBody{Error: kind, Message: message})
}

// writeStoreError maps storage errors onto the API failure contract.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		log.Error().Err(err).Msg("storage error")
		writeError(w, http.StatusInternalServerError, "internal", "unexpected error")
	}
}

// parseLimit parses a limit query param with default and max.
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with all core endpoints.
func (s *Server) Routes(svc auth.ServiceCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Liveness and metrics are unauthenticated.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.ServiceMiddleware(svc))

		// Assessments
		r.Post("/assessment/start", s.StartAssessment)
		r.Get("/assessment/{id}", s.GetAssessment)
		r.Get("/assessments", s.ListAssessments)

		// Reports
		r.Post("/assessment/{id}/report", s.GenerateReport)
		r.Get("/assessment/{id}/reports", s.ListReports)
		r.Get("/assessment/{id}/report/{fileName}/download", s.DownloadReport)

		// Comparison
		r.Post("/compliance/compare/{baselineId}/{currentId}", s.CompareAssessments)

		// Schedules
		r.Post("/schedule", s.CreateSchedule)
		r.Put("/schedule/{id}", s.UpdateSchedule)
		r.Delete("/schedule/{id}", s.DeleteSchedule)
		r.Get("/schedule/{id}", s.GetSchedule)
		r.Get("/schedules", s.ListSchedules)
		r.Get("/scheduler/stats", s.SchedulerStats)

		// Jobs and queue
		r.Get("/job/{id}", s.GetJob)
		r.Post("/job/{id}/cancel", s.CancelJob)
		r.Get("/queue/stats", s.QueueStats)

		// Tenants
		r.Post("/tenant", s.CreateTenant)
		r.Get("/tenant/{id}", s.GetTenant)
		r.Get("/tenants", s.ListTenants)
		r.Post("/tenant/{id}/test", s.TestTenant)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
