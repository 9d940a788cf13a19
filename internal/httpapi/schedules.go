package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/model"
)

// scheduleReq is the request body for schedule create/update.
type scheduleReq struct {
	TenantID   uuid.UUID           `json:"tenantId"`
	Name       string              `json:"name"`
	Benchmark  model.BenchmarkKind `json:"benchmark"`
	Frequency  model.Frequency     `json:"frequency"`
	Active     *bool               `json:"active,omitempty"`
	Parameters map[string]any      `json:"parameters,omitempty"`
	CreatedBy  string              `json:"createdBy,omitempty"`
}

func (req scheduleReq) validate() string {
	if req.TenantID == uuid.Nil {
		return "tenantId is required"
	}
	if req.Name == "" {
		return "name is required"
	}
	if !req.Benchmark.Valid() {
		return "unknown benchmark"
	}
	if !req.Frequency.Valid() {
		return "unknown frequency"
	}
	return ""
}

// CreateSchedule registers a recurring assessment.
func (s *Server) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "bad_request", msg)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	sched := model.Schedule{
		TenantID:   req.TenantID,
		Name:       req.Name,
		Benchmark:  req.Benchmark,
		Frequency:  req.Frequency,
		Active:     active,
		Parameters: req.Parameters,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.Scheduler.Create(r.Context(), &sched); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

// UpdateSchedule modifies a schedule and re-arms its timer.
func (s *Server) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid schedule id")
		return
	}
	existing, err := s.Store.Schedules().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Benchmark != "" {
		if !req.Benchmark.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown benchmark")
			return
		}
		existing.Benchmark = req.Benchmark
	}
	if req.Frequency != "" {
		if !req.Frequency.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown frequency")
			return
		}
		existing.Frequency = req.Frequency
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	if req.Parameters != nil {
		existing.Parameters = req.Parameters
	}

	if err := s.Scheduler.Update(r.Context(), &existing); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// DeleteSchedule removes a schedule, disarming its timer first.
func (s *Server) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid schedule id")
		return
	}
	if err := s.Scheduler.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSchedule returns one schedule.
func (s *Server) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid schedule id")
		return
	}
	sched, err := s.Store.Schedules().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// ListSchedules returns a tenant's schedules.
func (s *Server) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenantId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "tenantId query param is required")
		return
	}
	list, err := s.Store.Schedules().ListByTenant(r.Context(), tenantID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": list})
}

// SchedulerStats returns live scheduler counters.
func (s *Server) SchedulerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Scheduler.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
