package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/maes-platform/compliance-core/internal/auth"
	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/compare"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/queue"
	"github.com/maes-platform/compliance-core/internal/report"
	"github.com/maes-platform/compliance-core/internal/scheduler"
	"github.com/maes-platform/compliance-core/internal/store/storetest"
)

const testServiceToken = "test-service-token"

type testAPI struct {
	srv   *httptest.Server
	store *storetest.Memory
	queue *queue.Queue
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := storetest.New()
	q := queue.New(rdb)
	sched := scheduler.New(st, q)
	t.Cleanup(sched.Stop)

	gen := report.New(report.Config{
		Store:   st,
		Catalog: catalog.Default(),
		Dir:     t.TempDir(),
		PDF: func(context.Context, []byte) ([]byte, error) {
			return nil, errors.New("no renderer in tests")
		},
	})
	factory := graph.NewFactory(graph.FactoryOptions{
		CredentialBuilder: func(string, model.Credentials, string) (azcore.TokenCredential, string, error) {
			return nil, "", &graph.AuthError{Cause: graph.CauseTenantNotFound, Err: errors.New("AADSTS90002: tenant not found")}
		},
	})

	s := &Server{
		Store:      st,
		Queue:      q,
		Scheduler:  sched,
		Comparator: compare.New(st),
		Reports:    gen,
		Graph:      factory,
	}
	srv := httptest.NewServer(s.Routes(auth.ServiceCfg{Token: testServiceToken}))
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, store: st, queue: q}
}

// do issues an authenticated request and decodes the JSON response into out.
func (a *testAPI) do(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(auth.HeaderServiceToken, testServiceToken)
	resp, err := a.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func (a *testAPI) createTenant(t *testing.T) model.Tenant {
	t.Helper()
	var tenant model.Tenant
	resp := a.do(t, http.MethodPost, "/tenant", map[string]any{
		"displayName":       "Contoso",
		"directoryTenantId": "11111111-2222-3333-4444-555555555555",
		"credentials":       map[string]string{"clientId": "app-1", "clientSecret": "s3cret"},
	}, &tenant)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create tenant: status %d", resp.StatusCode)
	}
	return tenant
}

func (a *testAPI) seedCompleted(t *testing.T, tenantID uuid.UUID) model.Assessment {
	t.Helper()
	ctx := context.Background()
	as := model.Assessment{
		TenantID:    tenantID,
		Benchmark:   model.BenchmarkCISv4,
		Name:        "completed run",
		TriggeredBy: "api",
		Status:      model.AssessmentPending,
	}
	if err := a.store.Assessments().Create(ctx, &as); err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	started := time.Now().UTC().Add(-time.Minute)
	if err := a.store.Assessments().MarkRunning(ctx, as.ID, started); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := a.store.Results().Upsert(ctx, &model.ControlResult{
		AssessmentID: as.ID,
		ControlID:    "1.1.1",
		Status:       model.ControlCompliant,
		Score:        100,
		CheckedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("upsert result: %v", err)
	}
	now := time.Now().UTC()
	as.Totals = model.Totals{Total: 1, Compliant: 1}
	as.OverallScore = 100
	as.WeightedScore = 100
	as.CompletedAt = &now
	if err := a.store.Assessments().Complete(ctx, &as); err != nil {
		t.Fatalf("complete: %v", err)
	}
	as.Status = model.AssessmentCompleted
	return as
}

func TestAuthBoundary(t *testing.T) {
	a := newTestAPI(t)

	resp, err := a.srv.Client().Get(a.srv.URL + "/assessments?tenantId=" + uuid.NewString())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: status %d, want 401", resp.StatusCode)
	}

	resp, err = a.srv.Client().Get(a.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: status %d, want 200", resp.StatusCode)
	}

	resp, err = a.srv.Client().Get(a.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: status %d, want 200", resp.StatusCode)
	}
}

func TestStartAssessmentFlow(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)

	var started startAssessmentResp
	resp := a.do(t, http.MethodPost, "/assessment/start", map[string]any{
		"tenantId":  tenant.ID,
		"benchmark": "cisV4",
	}, &started)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start: status %d, want 202", resp.StatusCode)
	}
	if started.JobID == "" || started.AssessmentID == uuid.Nil {
		t.Fatalf("start response = %+v", started)
	}

	var got assessmentResp
	resp = a.do(t, http.MethodGet, "/assessment/"+started.AssessmentID.String(), nil, &got)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get assessment: status %d", resp.StatusCode)
	}
	if got.Assessment.Status != model.AssessmentPending {
		t.Errorf("status = %s, want pending", got.Assessment.Status)
	}

	var stats queue.Stats
	a.do(t, http.MethodGet, "/queue/stats", nil, &stats)
	if stats.Pending != 1 {
		t.Errorf("pending jobs = %d, want 1", stats.Pending)
	}

	var job queue.Job
	resp = a.do(t, http.MethodGet, "/job/"+started.JobID, nil, &job)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job: status %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodPost, "/job/"+started.JobID+"/cancel", nil, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("cancel: status %d, want 202", resp.StatusCode)
	}
}

func TestStartAssessmentValidation(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"unknown benchmark", map[string]any{"tenantId": tenant.ID, "benchmark": "cisV99"}, http.StatusBadRequest},
		{"missing tenant id", map[string]any{"benchmark": "cisV4"}, http.StatusBadRequest},
		{"unknown tenant", map[string]any{"tenantId": uuid.New(), "benchmark": "cisV4"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := a.do(t, http.MethodPost, "/assessment/start", tc.body, nil)
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}

	t.Run("inactive tenant", func(t *testing.T) {
		inactive := model.Tenant{
			DisplayName:       "Dormant",
			DirectoryTenantID: "99999999-0000-0000-0000-000000000000",
			Credentials:       model.Credentials{ClientID: "app-2"},
		}
		if err := a.store.Tenants().Create(context.Background(), &inactive); err != nil {
			t.Fatalf("create tenant: %v", err)
		}
		resp := a.do(t, http.MethodPost, "/assessment/start", map[string]any{
			"tenantId": inactive.ID, "benchmark": "cisV4",
		}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestScheduleCRUD(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)

	body := map[string]any{
		"tenantId":  tenant.ID,
		"name":      "Nightly CIS",
		"benchmark": "cisV4",
		"frequency": "daily",
	}

	var sched model.Schedule
	resp := a.do(t, http.MethodPost, "/schedule", body, &sched)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	if sched.NextRunAt == nil {
		t.Error("nextRunAt not computed on create")
	}
	if !sched.Active {
		t.Error("active should default to true")
	}

	resp = a.do(t, http.MethodPost, "/schedule", body, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate name: status %d, want 409", resp.StatusCode)
	}

	var updated model.Schedule
	resp = a.do(t, http.MethodPut, "/schedule/"+sched.ID.String(), map[string]any{"frequency": "monthly"}, &updated)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d", resp.StatusCode)
	}
	if updated.Frequency != model.FrequencyMonthly {
		t.Errorf("frequency = %s, want monthly", updated.Frequency)
	}

	var listing struct {
		Schedules []model.Schedule `json:"schedules"`
	}
	a.do(t, http.MethodGet, fmt.Sprintf("/schedules?tenantId=%s", tenant.ID), nil, &listing)
	if len(listing.Schedules) != 1 {
		t.Errorf("schedules = %d, want 1", len(listing.Schedules))
	}

	var stats scheduler.Stats
	resp = a.do(t, http.MethodGet, "/scheduler/stats", nil, &stats)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	if stats.ActiveSchedules != 1 {
		t.Errorf("activeSchedules = %d, want 1", stats.ActiveSchedules)
	}

	resp = a.do(t, http.MethodDelete, "/schedule/"+sched.ID.String(), nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}
	resp = a.do(t, http.MethodGet, "/schedule/"+sched.ID.String(), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", resp.StatusCode)
	}
}

func TestCompareRequiresCompletedAssessments(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)

	done := a.seedCompleted(t, tenant.ID)
	pending := model.Assessment{
		TenantID:    tenant.ID,
		Benchmark:   model.BenchmarkCISv4,
		Name:        "in flight",
		TriggeredBy: "api",
		Status:      model.AssessmentPending,
	}
	if err := a.store.Assessments().Create(context.Background(), &pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	resp := a.do(t, http.MethodPost, fmt.Sprintf("/compliance/compare/%s/%s", done.ID, pending.ID), nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	other := a.seedCompleted(t, tenant.ID)
	var diff compare.Diff
	resp = a.do(t, http.MethodPost, fmt.Sprintf("/compliance/compare/%s/%s", done.ID, other.ID), nil, &diff)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if diff.BaselineID != done.ID || diff.CurrentID != other.ID {
		t.Errorf("diff ids = %s/%s", diff.BaselineID, diff.CurrentID)
	}
}

func TestReportLifecycle(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)
	as := a.seedCompleted(t, tenant.ID)

	var rep model.Report
	resp := a.do(t, http.MethodPost, "/assessment/"+as.ID.String()+"/report", map[string]string{"format": "json"}, &rep)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate: status %d", resp.StatusCode)
	}
	if rep.Format != model.ReportJSON || rep.FileName == "" {
		t.Fatalf("report = %+v", rep)
	}

	var listing struct {
		Reports []model.Report `json:"reports"`
	}
	a.do(t, http.MethodGet, "/assessment/"+as.ID.String()+"/reports", nil, &listing)
	if len(listing.Reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(listing.Reports))
	}

	dl := a.do(t, http.MethodGet, fmt.Sprintf("/assessment/%s/report/%s/download", as.ID, rep.FileName), nil, nil)
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}

	resp = a.do(t, http.MethodGet, fmt.Sprintf("/assessment/%s/report/%s/download", as.ID, "missing.json"), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing artifact: status %d, want 404", resp.StatusCode)
	}

	t.Run("not ready", func(t *testing.T) {
		pending := model.Assessment{
			TenantID:    tenant.ID,
			Benchmark:   model.BenchmarkCISv4,
			Name:        "still running",
			TriggeredBy: "api",
			Status:      model.AssessmentPending,
		}
		if err := a.store.Assessments().Create(context.Background(), &pending); err != nil {
			t.Fatalf("create: %v", err)
		}
		var body errorBody
		resp := a.do(t, http.MethodPost, "/assessment/"+pending.ID.String()+"/report", map[string]string{"format": "json"}, &body)
		if resp.StatusCode != http.StatusBadRequest || body.Error != "not_ready" {
			t.Errorf("status = %d error = %q, want 400/not_ready", resp.StatusCode, body.Error)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		resp := a.do(t, http.MethodPost, "/assessment/"+as.ID.String()+"/report", map[string]string{"format": "docx"}, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestTenantEndpoints(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/tenant", map[string]any{"displayName": "NoCreds", "directoryTenantId": "t-2"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing clientId: status %d, want 400", resp.StatusCode)
	}

	tenant := a.createTenant(t)

	var got model.Tenant
	a.do(t, http.MethodGet, "/tenant/"+tenant.ID.String(), nil, &got)
	if got.ID != tenant.ID {
		t.Errorf("get tenant id = %s, want %s", got.ID, tenant.ID)
	}

	var listing struct {
		Tenants []model.Tenant `json:"tenants"`
	}
	a.do(t, http.MethodGet, "/tenants", nil, &listing)
	if len(listing.Tenants) != 1 {
		t.Errorf("tenants = %d, want 1", len(listing.Tenants))
	}

	resp = a.do(t, http.MethodGet, "/tenant/"+uuid.NewString(), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown tenant: status %d, want 404", resp.StatusCode)
	}

	// The credential builder rejects everything, so the probe reports the
	// auth cause rather than failing the request.
	var probe struct {
		Success bool   `json:"success"`
		Cause   string `json:"cause"`
	}
	resp = a.do(t, http.MethodPost, "/tenant/"+tenant.ID.String()+"/test", nil, &probe)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test tenant: status %d", resp.StatusCode)
	}
	if probe.Success || probe.Cause != string(graph.CauseTenantNotFound) {
		t.Errorf("probe = %+v, want failure with tenant_not_found", probe)
	}
}

func TestListAssessmentsRequiresTenant(t *testing.T) {
	a := newTestAPI(t)
	tenant := a.createTenant(t)
	a.seedCompleted(t, tenant.ID)

	resp := a.do(t, http.MethodGet, "/assessments", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing tenantId: status %d, want 400", resp.StatusCode)
	}

	var listing struct {
		Assessments []model.Assessment `json:"assessments"`
	}
	a.do(t, http.MethodGet, "/assessments?tenantId="+tenant.ID.String(), nil, &listing)
	if len(listing.Assessments) != 1 {
		t.Errorf("assessments = %d, want 1", len(listing.Assessments))
	}
}
