package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
)

// createTenantReq is the request body for POST /tenant.
type createTenantReq struct {
	DisplayName       string            `json:"displayName"`
	DirectoryTenantID string            `json:"directoryTenantId"`
	DomainFQDN        string            `json:"domainFqdn,omitempty"`
	Credentials       model.Credentials `json:"credentials"`
}

// CreateTenant onboards a tenant record.
func (s *Server) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.DisplayName == "" || req.DirectoryTenantID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "displayName and directoryTenantId are required")
		return
	}
	if req.Credentials.ClientID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "credentials.clientId is required")
		return
	}

	t := model.Tenant{
		DisplayName:       req.DisplayName,
		DirectoryTenantID: req.DirectoryTenantID,
		DomainFQDN:        req.DomainFQDN,
		Credentials:       req.Credentials,
		Active:            true,
	}
	if err := s.Store.Tenants().Create(r.Context(), &t); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTenant returns one tenant.
func (s *Server) GetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	t, err := s.Store.Tenants().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListTenants returns all tenants.
func (s *Server) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := s.Store.Tenants().List(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": list})
}

// TestTenant probes a tenant's Graph connectivity and reports per-capability
// outcomes. Authentication failures are reported with their cause instead of
// a bare 500.
func (s *Server) TestTenant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tenant id")
		return
	}
	t, err := s.Store.Tenants().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	client, err := s.Graph.Client(t)
	if err != nil {
		var authErr *graph.AuthError
		if errors.As(err, &authErr) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"cause":   string(authErr.Cause),
				"message": authErr.Error(),
			})
			return
		}
		writeStoreError(w, err)
		return
	}

	probe := graph.TestConnection(r.Context(), client)
	writeJSON(w, http.StatusOK, probe)
}
