package report

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/maes-platform/compliance-core/internal/model"
)

// Document is the canonical report content. Every output format renders from
// it, and the JSON format is its direct serialization.
type Document struct {
	Metadata        Metadata         `json:"metadata"`
	Summary         Summary          `json:"summary"`
	Controls        []ControlEntry   `json:"controls"`
	Statistics      Statistics       `json:"statistics"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Metadata identifies the assessment behind a report.
type Metadata struct {
	AssessmentID   string              `json:"assessmentId"`
	AssessmentName string              `json:"assessmentName"`
	TenantID       string              `json:"tenantId"`
	TenantName     string              `json:"tenantName"`
	Benchmark      model.BenchmarkKind `json:"benchmark"`
	Kind           model.ReportKind    `json:"kind"`
	TriggeredBy    string              `json:"triggeredBy"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	GeneratedAt    time.Time           `json:"generatedAt"`
}

// Summary carries the headline numbers.
type Summary struct {
	OverallScore    float64      `json:"overallScore"`
	WeightedScore   float64      `json:"weightedScore"`
	Totals          model.Totals `json:"totals"`
	DurationSeconds float64      `json:"durationSeconds"`
}

// ControlEntry is one control's result joined with its definition.
type ControlEntry struct {
	ControlID           string              `json:"controlId"`
	Section             string              `json:"section"`
	Title               string              `json:"title"`
	Severity            model.Severity      `json:"severity"`
	Weight              float64             `json:"weight"`
	Status              model.ControlStatus `json:"status"`
	Score               float64             `json:"score"`
	ActualResult        json.RawMessage     `json:"actualResult,omitempty"`
	Evidence            json.RawMessage     `json:"evidence,omitempty"`
	RemediationGuidance string              `json:"remediationGuidance,omitempty"`
	ErrorMessage        string              `json:"errorMessage,omitempty"`
	CheckedAt           time.Time           `json:"checkedAt"`
}

// SectionStat is one benchmark section's rollup.
type SectionStat struct {
	Section   string  `json:"section"`
	Total     int     `json:"total"`
	Compliant int     `json:"compliant"`
	Percent   float64 `json:"percent"`
}

// Statistics aggregates results along the axes the executive summary needs.
type Statistics struct {
	ByStatus   map[model.ControlStatus]int `json:"byStatus"`
	BySeverity map[model.Severity]int      `json:"bySeverity"`
	BySection  []SectionStat               `json:"bySection"`
}

// Recommendation is one deterministic advisory derived from the results.
type Recommendation struct {
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Count    int    `json:"count,omitempty"`
}

// BuildDocument assembles the report content for one completed assessment.
// Executive reports omit per-control evidence to keep the artifact small.
func BuildDocument(a model.Assessment, tenant model.Tenant, results []model.ControlResult, defs map[string]model.ControlDefinition, kind model.ReportKind, now time.Time) Document {
	doc := Document{
		Metadata: Metadata{
			AssessmentID:   a.ID.String(),
			AssessmentName: a.Name,
			TenantID:       a.TenantID.String(),
			TenantName:     tenant.DisplayName,
			Benchmark:      a.Benchmark,
			Kind:           kind,
			TriggeredBy:    a.TriggeredBy,
			CompletedAt:    a.CompletedAt,
			GeneratedAt:    now,
		},
		Summary: Summary{
			OverallScore:    a.OverallScore,
			WeightedScore:   a.WeightedScore,
			Totals:          a.Totals,
			DurationSeconds: a.DurationSeconds,
		},
	}

	byStatus := make(map[model.ControlStatus]int)
	bySeverity := make(map[model.Severity]int)
	type sectionAgg struct {
		total     int
		compliant int
	}
	sections := make(map[string]*sectionAgg)

	for _, r := range results {
		def := defs[r.ControlID]
		entry := ControlEntry{
			ControlID:           r.ControlID,
			Section:             def.Section,
			Title:               def.Title,
			Severity:            def.Severity,
			Weight:              def.Weight,
			Status:              r.Status,
			Score:               r.Score,
			RemediationGuidance: r.RemediationGuidance,
			ErrorMessage:        r.ErrorMessage,
			CheckedAt:           r.CheckedAt,
		}
		if kind == model.ReportFull {
			entry.ActualResult = r.ActualResult
			entry.Evidence = r.Evidence
		}
		doc.Controls = append(doc.Controls, entry)

		byStatus[r.Status]++
		bySeverity[def.Severity]++
		agg := sections[def.Section]
		if agg == nil {
			agg = &sectionAgg{}
			sections[def.Section] = agg
		}
		agg.total++
		if r.Status == model.ControlCompliant {
			agg.compliant++
		}
	}

	sort.Slice(doc.Controls, func(i, j int) bool {
		return doc.Controls[i].ControlID < doc.Controls[j].ControlID
	})

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	bySection := make([]SectionStat, 0, len(names))
	for _, name := range names {
		agg := sections[name]
		pct := 0.0
		if agg.total > 0 {
			pct = model.Round2(float64(agg.compliant) / float64(agg.total) * 100)
		}
		bySection = append(bySection, SectionStat{
			Section:   name,
			Total:     agg.total,
			Compliant: agg.compliant,
			Percent:   pct,
		})
	}

	doc.Statistics = Statistics{
		ByStatus:   byStatus,
		BySeverity: bySeverity,
		BySection:  bySection,
	}
	doc.Recommendations = Recommend(a, results, defs)
	return doc
}

// Recommend derives the deterministic advisory list for an assessment.
func Recommend(a model.Assessment, results []model.ControlResult, defs map[string]model.ControlDefinition) []Recommendation {
	var recs []Recommendation

	criticalOpen := 0
	for _, r := range results {
		if r.Status == model.ControlNonCompliant && defs[r.ControlID].Severity == model.SeverityLevel2 {
			criticalOpen++
		}
	}
	if criticalOpen > 0 {
		recs = append(recs, Recommendation{
			Priority: "critical",
			Title:    "Address Critical Security Controls",
			Detail:   "Level 2 controls are non-compliant and should be remediated first.",
			Count:    criticalOpen,
		})
	}
	if a.Totals.ManualReview > 0 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Title:    "Complete Manual Reviews",
			Detail:   "Controls awaiting a manual decision do not count toward the automated posture.",
			Count:    a.Totals.ManualReview,
		})
	}
	if a.OverallScore < 70 {
		recs = append(recs, Recommendation{
			Priority: "high",
			Title:    "Improve Overall Compliance Posture",
			Detail:   "The overall compliance score is below the recommended 70% threshold.",
		})
	}
	return recs
}

// CriticalFindings returns the level2 non-compliant entries, lowest score
// first, capped at limit.
func CriticalFindings(doc Document, limit int) []ControlEntry {
	var out []ControlEntry
	for _, c := range doc.Controls {
		if c.Status == model.ControlNonCompliant && c.Severity == model.SeverityLevel2 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].ControlID < out[j].ControlID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
