package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/compare"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/report"
)

// generateReportReq is the request body for POST /assessment/{id}/report.
type generateReportReq struct {
	Format model.ReportFormat `json:"format"`
	Kind   model.ReportKind   `json:"kind,omitempty"`
}

// GenerateReport renders and catalogs one artifact for an assessment.
func (s *Server) GenerateReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid assessment id")
		return
	}
	var req generateReportReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if !req.Format.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown report format %q", req.Format))
		return
	}

	rep, err := s.Reports.Generate(r.Context(), id, req.Format, req.Kind)
	if err != nil {
		if errors.Is(err, report.ErrNotReady) {
			writeError(w, http.StatusBadRequest, "not_ready", err.Error())
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// ListReports returns the artifact catalog for one assessment.
func (s *Server) ListReports(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid assessment id")
		return
	}
	reports, err := s.Store.Reports().ListByAssessment(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// DownloadReport streams one artifact with its content type.
func (s *Server) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid assessment id")
		return
	}
	fileName := chi.URLParam(r, "fileName")

	rep, f, err := s.Reports.Open(r.Context(), id, fileName)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer f.Close()

	contentType := rep.Format.ContentType()
	if rep.Note != "" {
		// PDF fallback artifacts hold HTML content.
		contentType = model.ReportHTML.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.FileName))
	if _, err := io.Copy(w, f); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Str("fileName", fileName).Msg("artifact stream interrupted")
	}
}

// CompareAssessments diffs two completed assessments.
func (s *Server) CompareAssessments(w http.ResponseWriter, r *http.Request) {
	baselineID, err := uuid.Parse(chi.URLParam(r, "baselineId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid baseline id")
		return
	}
	currentID, err := uuid.Parse(chi.URLParam(r, "currentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid current id")
		return
	}

	diff, err := s.Comparator.Compare(r.Context(), baselineID, currentID)
	if err != nil {
		switch {
		case errors.Is(err, compare.ErrNotCompleted), errors.Is(err, compare.ErrTenantMismatch):
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			writeStoreError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, diff)
}
