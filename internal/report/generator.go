// Package report materializes completed assessments into downloadable
// artifacts.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/metrics"
	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/store"
)

// ErrNotReady is returned when the assessment is not completed yet.
var ErrNotReady = errors.New("assessment is not completed")

// Generator renders report artifacts into a directory and catalogs them.
type Generator struct {
	store   store.Store
	catalog *catalog.Catalog
	dir     string
	pdf     PDFRenderer
	now     func() time.Time
}

// Config wires a Generator.
type Config struct {
	Store   store.Store
	Catalog *catalog.Catalog

	// Dir is the artifact directory. Created on first use.
	Dir string

	// PDF renders HTML to PDF. Default ChromiumPDF; nil after explicit
	// override disables PDF and always falls back to HTML.
	PDF PDFRenderer

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// New builds a Generator.
func New(cfg Config) *Generator {
	g := &Generator{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		dir:     cfg.Dir,
		pdf:     cfg.PDF,
		now:     cfg.Now,
	}
	if g.dir == "" {
		g.dir = "reports"
	}
	if g.pdf == nil {
		g.pdf = ChromiumPDF
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	return g
}

// Generate renders one artifact for a completed assessment and catalogs it.
// A PDF request falls back to HTML content with an explanatory note when no
// renderer is available; the artifact still records format=pdf.
func (g *Generator) Generate(ctx context.Context, assessmentID uuid.UUID, format model.ReportFormat, kind model.ReportKind) (model.Report, error) {
	if !format.Valid() {
		return model.Report{}, fmt.Errorf("unknown report format %q", format)
	}
	if kind == "" {
		kind = model.ReportFull
	}

	a, err := g.store.Assessments().Get(ctx, assessmentID)
	if err != nil {
		return model.Report{}, err
	}
	if a.Status != model.AssessmentCompleted {
		return model.Report{}, fmt.Errorf("assessment %s has status %s: %w", assessmentID, a.Status, ErrNotReady)
	}
	tenant, err := g.store.Tenants().Get(ctx, a.TenantID)
	if err != nil {
		return model.Report{}, err
	}
	results, err := g.store.Results().ListByAssessment(ctx, assessmentID)
	if err != nil {
		return model.Report{}, err
	}

	doc := BuildDocument(a, tenant, results, g.definitions(a.Benchmark), kind, g.now())

	var content []byte
	var note string
	ext := string(format)
	switch format {
	case model.ReportJSON:
		content, err = json.MarshalIndent(doc, "", "  ")
	case model.ReportCSV:
		content, err = renderCSV(doc)
	case model.ReportHTML:
		content, err = renderHTML(doc, "")
	case model.ReportPDF:
		var html []byte
		html, err = renderHTML(doc, "")
		if err == nil {
			content, err = g.pdf(ctx, html)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("pdf render unavailable, falling back to html")
				note = "PDF rendering unavailable; content delivered as HTML."
				content, err = renderHTML(doc, note)
				ext = "html"
			}
		}
	}
	if err != nil {
		return model.Report{}, fmt.Errorf("render %s: %w", format, err)
	}

	fileName := fmt.Sprintf("%s_%d.%s", assessmentID, g.now().UnixMilli(), ext)
	path := filepath.Join(g.dir, fileName)
	if err := writeAtomic(path, content); err != nil {
		return model.Report{}, err
	}

	rep := model.Report{
		AssessmentID: assessmentID,
		Format:       format,
		Kind:         kind,
		FileName:     fileName,
		ArtifactPath: path,
		SizeBytes:    int64(len(content)),
		Note:         note,
	}
	if err := g.store.Reports().Create(ctx, &rep); err != nil {
		os.Remove(path)
		return model.Report{}, err
	}
	metrics.ReportsGenerated.WithLabelValues(string(format)).Inc()

	log.Ctx(ctx).Info().
		Str("assessmentId", assessmentID.String()).
		Str("fileName", fileName).
		Str("format", string(format)).
		Int64("sizeBytes", rep.SizeBytes).
		Msg("report generated")
	return rep, nil
}

// Open returns the artifact's content and catalog entry for download.
func (g *Generator) Open(ctx context.Context, assessmentID uuid.UUID, fileName string) (model.Report, *os.File, error) {
	rep, err := g.store.Reports().GetByFileName(ctx, assessmentID, fileName)
	if err != nil {
		return model.Report{}, nil, err
	}
	f, err := os.Open(rep.ArtifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Report{}, nil, store.ErrNotFound
		}
		return model.Report{}, nil, err
	}
	return rep, f, nil
}

// Cleanup removes artifacts older than maxAge from disk and returns how many
// files were deleted. Catalog rows for removed files are deleted as well.
func (g *Generator) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := g.now().Add(-maxAge)
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(g.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("cleanup: could not remove artifact")
			continue
		}
		deleted++
		g.dropCatalogEntry(ctx, entry.Name())
	}
	if deleted > 0 {
		log.Ctx(ctx).Info().Int("deleted", deleted).Msg("report cleanup completed")
	}
	return deleted, nil
}

// dropCatalogEntry best-effort deletes the catalog row behind a removed file.
// The file name embeds the assessment id.
func (g *Generator) dropCatalogEntry(ctx context.Context, fileName string) {
	idPart := fileName
	if i := strings.IndexByte(fileName, '_'); i > 0 {
		idPart = fileName[:i]
	}
	assessmentID, err := uuid.Parse(idPart)
	if err != nil {
		return
	}
	rep, err := g.store.Reports().GetByFileName(ctx, assessmentID, fileName)
	if err != nil {
		return
	}
	if err := g.store.Reports().Delete(ctx, rep.ID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("fileName", fileName).Msg("cleanup: could not drop catalog row")
	}
}

func (g *Generator) definitions(benchmark model.BenchmarkKind) map[string]model.ControlDefinition {
	defs := make(map[string]model.ControlDefinition)
	for _, c := range g.catalog.ActiveControls(benchmark) {
		defs[c.ID] = c
	}
	return defs
}

// writeAtomic writes content via a temp file and rename so readers never see
// a partial artifact.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
