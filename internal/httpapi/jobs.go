package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maes-platform/compliance-core/internal/queue"
)

// GetJob returns one job record.
func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob requests cancellation of a pending or running job.
func (s *Server) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Queue.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "cancelRequested"})
}

// QueueStats returns current queue depths.
func (s *Server) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Queue.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
