package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/metrics"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
)

// startAssessmentReq is the request body for POST /assessment/start.
type startAssessmentReq struct {
	TenantID    uuid.UUID           `json:"tenantId"`
	Benchmark   model.BenchmarkKind `json:"benchmark"`
	Name        string              `json:"name,omitempty"`
	TriggeredBy string              `json:"triggeredBy,omitempty"`
	Priority    int                 `json:"priority,omitempty"`
	Parameters  map[string]any      `json:"parameters,omitempty"`
}

// startAssessmentResp returns the enqueued job and its assessment row.
type startAssessmentResp struct {
	JobID        string    `json:"jobId"`
	AssessmentID uuid.UUID `json:"assessmentId"`
}

// StartAssessment creates a pending assessment and enqueues its job.
func (s *Server) StartAssessment(w http.ResponseWriter, r *http.Request) {
	var req startAssessmentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.TenantID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "bad_request", "tenantId is required")
		return
	}
	if !req.Benchmark.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown benchmark %q", req.Benchmark))
		return
	}

	tenant, err := s.Store.Tenants().Get(r.Context(), req.TenantID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !tenant.Active {
		writeError(w, http.StatusBadRequest, "bad_request", "tenant is inactive")
		return
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	name := req.Name
	if name == "" {
		name = fmt.Sprintf("%s assessment - %s", req.Benchmark, time.Now().UTC().Format(time.RFC3339))
	}

	a := model.Assessment{
		TenantID:    req.TenantID,
		Benchmark:   req.Benchmark,
		Name:        name,
		TriggeredBy: triggeredBy,
		Status:      model.AssessmentPending,
		Parameters:  req.Parameters,
	}
	if err := s.Store.Assessments().Create(r.Context(), &a); err != nil {
		writeStoreError(w, err)
		return
	}

	job, err := s.Queue.Enqueue(r.Context(), queue.TypeAssessment, queue.AssessmentPayload{
		AssessmentID: a.ID,
		TenantID:     a.TenantID,
		Benchmark:    a.Benchmark,
		Name:         a.Name,
		TriggeredBy:  triggeredBy,
	}, queue.Options{Priority: req.Priority})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("enqueue assessment")
		writeError(w, http.StatusInternalServerError, "internal", "could not enqueue assessment")
		return
	}
	metrics.AssessmentsStarted.WithLabelValues(triggeredBy).Inc()

	writeJSON(w, http.StatusAccepted, startAssessmentResp{
		JobID:        job.ID,
		AssessmentID: a.ID,
	})
}

// assessmentResp joins an assessment with its control results.
type assessmentResp struct {
	Assessment model.Assessment      `json:"assessment"`
	Results    []model.ControlResult `json:"results"`
}

// GetAssessment returns one assessment with its results.
func (s *Server) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid assessment id")
		return
	}
	a, err := s.Store.Assessments().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	results, err := s.Store.Results().ListByAssessment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assessmentResp{Assessment: a, Results: results})
}

// ListAssessments returns a tenant's assessments, newest first.
func (s *Server) ListAssessments(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenantId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "tenantId query param is required")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	list, err := s.Store.Assessments().ListByTenant(r.Context(), tenantID, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assessments": list})
}
