package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/store/storetest"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New()
	defs := []model.ControlDefinition{
		{ID: "1.1.1", Benchmark: model.BenchmarkCustom, Section: "Identity", Title: "Admin MFA", Severity: model.SeverityLevel2, Weight: 1.0, Active: true},
		{ID: "1.2.1", Benchmark: model.BenchmarkCustom, Section: "Identity", Title: "CA MFA", Severity: model.SeverityLevel1, Weight: 1.0, Active: true},
		{ID: "8.2.2", Benchmark: model.BenchmarkCustom, Section: "Teams", Title: "External access", Severity: model.SeverityLevel1, Weight: 0.5, Active: true},
	}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return c
}

// seedCompleted builds a tenant with one completed assessment and results.
func seedCompleted(t *testing.T, st *storetest.Memory) model.Assessment {
	t.Helper()
	ctx := context.Background()

	tenant := model.Tenant{
		DisplayName:       "Contoso",
		DirectoryTenantID: "t-1",
		Credentials:       model.Credentials{ClientID: "app"},
		Active:            true,
	}
	if err := st.Tenants().Create(ctx, &tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	a := model.Assessment{
		TenantID:    tenant.ID,
		Benchmark:   model.BenchmarkCustom,
		Name:        "weekly run",
		TriggeredBy: "api",
		Status:      model.AssessmentPending,
	}
	if err := st.Assessments().Create(ctx, &a); err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	started := time.Date(2025, 1, 5, 2, 0, 0, 0, time.UTC)
	if err := st.Assessments().MarkRunning(ctx, a.ID, started); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	results := []model.ControlResult{
		{AssessmentID: a.ID, ControlID: "1.1.1", Status: model.ControlNonCompliant, Score: 50, RemediationGuidance: "register MFA", CheckedAt: started},
		{AssessmentID: a.ID, ControlID: "1.2.1", Status: model.ControlCompliant, Score: 100, CheckedAt: started},
		{AssessmentID: a.ID, ControlID: "8.2.2", Status: model.ControlManualReview, Score: 0, CheckedAt: started},
	}
	for i := range results {
		if err := st.Results().Upsert(ctx, &results[i]); err != nil {
			t.Fatalf("upsert result: %v", err)
		}
	}

	completedAt := started.Add(90 * time.Second)
	a.Totals = model.Totals{Total: 3, Compliant: 1, NonCompliant: 1, ManualReview: 1}
	a.OverallScore = 50.00
	a.WeightedScore = 70.00
	a.CompletedAt = &completedAt
	a.DurationSeconds = 90
	if err := st.Assessments().Complete(ctx, &a); err != nil {
		t.Fatalf("complete: %v", err)
	}
	a.Status = model.AssessmentCompleted
	return a
}

func newTestGenerator(t *testing.T, st *storetest.Memory, pdf PDFRenderer) *Generator {
	t.Helper()
	return New(Config{
		Store:   st,
		Catalog: testCatalog(t),
		Dir:     t.TempDir(),
		PDF:     pdf,
		Now:     func() time.Time { return time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC) },
	})
}

func TestGenerateJSONRoundTrip(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)
	g := newTestGenerator(t, st, nil)

	rep, err := g.Generate(context.Background(), a.ID, model.ReportJSON, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Format != model.ReportJSON || !strings.HasSuffix(rep.FileName, ".json") {
		t.Errorf("artifact = %+v, want json", rep)
	}

	raw, err := os.ReadFile(rep.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse artifact: %v", err)
	}

	if doc.Metadata.AssessmentID != a.ID.String() {
		t.Errorf("assessmentId = %s, want %s", doc.Metadata.AssessmentID, a.ID)
	}
	if doc.Summary.OverallScore != a.OverallScore || doc.Summary.WeightedScore != a.WeightedScore {
		t.Errorf("summary scores = %.2f/%.2f, want %.2f/%.2f",
			doc.Summary.OverallScore, doc.Summary.WeightedScore, a.OverallScore, a.WeightedScore)
	}
	if doc.Summary.Totals != a.Totals {
		t.Errorf("totals = %+v, want %+v", doc.Summary.Totals, a.Totals)
	}
	if len(doc.Controls) != a.Totals.Total {
		t.Errorf("controls = %d, want %d", len(doc.Controls), a.Totals.Total)
	}
}

func TestGenerateCSVRowCount(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)
	g := newTestGenerator(t, st, nil)

	rep, err := g.Generate(context.Background(), a.ID, model.ReportCSV, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := os.ReadFile(rep.ArtifactPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != a.Totals.Total+1 {
		t.Fatalf("rows = %d, want %d data rows plus header", len(rows), a.Totals.Total)
	}
	if rows[0][0] != "Control ID" || rows[0][9] != "CheckedAt" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestGenerateHTMLContainsSections(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)
	g := newTestGenerator(t, st, nil)

	rep, err := g.Generate(context.Background(), a.ID, model.ReportHTML, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, _ := os.ReadFile(rep.ArtifactPath)
	html := string(raw)

	for _, want := range []string{"Critical Findings", "Compliance by Section", "Recommendations", "Admin MFA", "Contoso"} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestGeneratePDFFallsBackToHTML(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)
	g := newTestGenerator(t, st, func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("no browser installed")
	})

	rep, err := g.Generate(context.Background(), a.ID, model.ReportPDF, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Format != model.ReportPDF {
		t.Errorf("format = %s, want pdf kept for bookkeeping", rep.Format)
	}
	if rep.Note == "" {
		t.Error("fallback note not set")
	}
	if !strings.HasSuffix(rep.FileName, ".html") {
		t.Errorf("fileName = %s, want .html fallback content", rep.FileName)
	}
}

func TestGeneratePDFUsesRenderer(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)
	g := newTestGenerator(t, st, func(_ context.Context, html []byte) ([]byte, error) {
		if len(html) == 0 {
			return nil, errors.New("empty html")
		}
		return []byte("%PDF-1.7 fake"), nil
	})

	rep, err := g.Generate(context.Background(), a.ID, model.ReportPDF, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Note != "" {
		t.Errorf("note = %q, want empty", rep.Note)
	}
	raw, _ := os.ReadFile(rep.ArtifactPath)
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Error("artifact is not the rendered pdf")
	}
}

func TestGenerateNotReady(t *testing.T) {
	st := storetest.New()
	ctx := context.Background()

	tenant := model.Tenant{DisplayName: "Contoso", DirectoryTenantID: "t-1", Credentials: model.Credentials{ClientID: "app"}, Active: true}
	if err := st.Tenants().Create(ctx, &tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	a := model.Assessment{TenantID: tenant.ID, Benchmark: model.BenchmarkCustom, Name: "run", TriggeredBy: "api", Status: model.AssessmentPending}
	if err := st.Assessments().Create(ctx, &a); err != nil {
		t.Fatalf("create assessment: %v", err)
	}

	g := newTestGenerator(t, st, nil)
	if _, err := g.Generate(ctx, a.ID, model.ReportJSON, model.ReportFull); !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestRecommendations(t *testing.T) {
	defs := map[string]model.ControlDefinition{
		"crit": {ID: "crit", Severity: model.SeverityLevel2},
		"low":  {ID: "low", Severity: model.SeverityLevel1},
	}

	a := model.Assessment{
		OverallScore: 40,
		Totals:       model.Totals{Total: 2, NonCompliant: 1, ManualReview: 1},
	}
	results := []model.ControlResult{
		{ControlID: "crit", Status: model.ControlNonCompliant},
		{ControlID: "low", Status: model.ControlManualReview},
	}

	recs := Recommend(a, results, defs)
	if len(recs) != 3 {
		t.Fatalf("got %d recommendations, want 3", len(recs))
	}
	if recs[0].Priority != "critical" || recs[0].Count != 1 {
		t.Errorf("recs[0] = %+v, want critical with count 1", recs[0])
	}

	// Healthy posture yields no advice.
	healthy := Recommend(model.Assessment{OverallScore: 95, Totals: model.Totals{Total: 1, Compliant: 1}},
		[]model.ControlResult{{ControlID: "low", Status: model.ControlCompliant}}, defs)
	if len(healthy) != 0 {
		t.Errorf("got %d recommendations for healthy posture, want 0", len(healthy))
	}
}

func TestCleanup(t *testing.T) {
	st := storetest.New()
	a := seedCompleted(t, st)

	dir := t.TempDir()
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	g := New(Config{
		Store:   st,
		Catalog: testCatalog(t),
		Dir:     dir,
		PDF:     func(context.Context, []byte) ([]byte, error) { return nil, errors.New("off") },
		Now:     func() time.Time { return now },
	})

	rep, err := g.Generate(context.Background(), a.ID, model.ReportJSON, model.ReportFull)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Age the artifact beyond the retention window.
	old := now.Add(-48 * time.Hour)
	if err := os.Chtimes(rep.ArtifactPath, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(dir, fmt.Sprintf("%s_%d.json", uuid.New(), now.UnixMilli()))
	if err := os.WriteFile(fresh, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	deleted, err := g.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := os.Stat(rep.ArtifactPath); !os.IsNotExist(err) {
		t.Error("old artifact still on disk")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh artifact was removed")
	}
	if _, err := st.Reports().GetByFileName(context.Background(), a.ID, rep.FileName); err == nil {
		t.Error("catalog row for removed artifact still present")
	}
}
