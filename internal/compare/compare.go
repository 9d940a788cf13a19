// Package compare diffs two completed assessments of the same tenant.
package compare

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/maes-platform/compliance-core/internal/model"
	"github.com/maes-platform/compliance-core/internal/store"
)

// ErrNotCompleted is returned when either assessment is not completed.
var ErrNotCompleted = errors.New("assessment is not completed")

// ErrTenantMismatch is returned when the assessments belong to different
// tenants.
var ErrTenantMismatch = errors.New("assessments belong to different tenants")

// Trend summarizes the direction of the overall score change.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Significance grades the magnitude of the overall score change.
type Significance string

const (
	SignificanceMajor    Significance = "major"
	SignificanceModerate Significance = "moderate"
	SignificanceMinor    Significance = "minor"
)

// Change is one control's classified transition.
type Change struct {
	ControlID      string              `json:"controlId"`
	BaselineStatus model.ControlStatus `json:"baselineStatus,omitempty"`
	CurrentStatus  model.ControlStatus `json:"currentStatus,omitempty"`
	BaselineScore  float64             `json:"baselineScore"`
	CurrentScore   float64             `json:"currentScore"`
	ScoreDelta     float64             `json:"scoreDelta"`
}

// Diff is the structured comparison of two assessments.
type Diff struct {
	BaselineID          uuid.UUID    `json:"baselineId"`
	CurrentID           uuid.UUID    `json:"currentId"`
	TenantID            uuid.UUID    `json:"tenantId"`
	Resolved            []Change     `json:"resolved"`
	NewIssues           []Change     `json:"newIssues"`
	Improved            []Change     `json:"improved"`
	Degraded            []Change     `json:"degraded"`
	Unchanged           []Change     `json:"unchanged"`
	ScoreChange         float64      `json:"scoreChange"`
	WeightedScoreChange float64      `json:"weightedScoreChange"`
	Trend               Trend        `json:"trend"`
	Significance        Significance `json:"significance"`
}

// Counts returns per-class tallies.
func (d Diff) Counts() map[string]int {
	return map[string]int{
		"resolved":  len(d.Resolved),
		"newIssues": len(d.NewIssues),
		"improved":  len(d.Improved),
		"degraded":  len(d.Degraded),
		"unchanged": len(d.Unchanged),
	}
}

// Comparator loads assessments from the store and diffs them.
type Comparator struct {
	store store.Store
}

// New builds a Comparator.
func New(st store.Store) *Comparator {
	return &Comparator{store: st}
}

// Compare diffs two completed assessments of the same tenant.
func (c *Comparator) Compare(ctx context.Context, baselineID, currentID uuid.UUID) (Diff, error) {
	baseline, err := c.store.Assessments().Get(ctx, baselineID)
	if err != nil {
		return Diff{}, fmt.Errorf("baseline: %w", err)
	}
	current, err := c.store.Assessments().Get(ctx, currentID)
	if err != nil {
		return Diff{}, fmt.Errorf("current: %w", err)
	}
	if baseline.Status != model.AssessmentCompleted {
		return Diff{}, fmt.Errorf("baseline %s: %w", baselineID, ErrNotCompleted)
	}
	if current.Status != model.AssessmentCompleted {
		return Diff{}, fmt.Errorf("current %s: %w", currentID, ErrNotCompleted)
	}
	if baseline.TenantID != current.TenantID {
		return Diff{}, ErrTenantMismatch
	}

	baseResults, err := c.store.Results().ListByAssessment(ctx, baselineID)
	if err != nil {
		return Diff{}, err
	}
	curResults, err := c.store.Results().ListByAssessment(ctx, currentID)
	if err != nil {
		return Diff{}, err
	}

	diff := DiffResults(baseResults, curResults)
	diff.BaselineID = baselineID
	diff.CurrentID = currentID
	diff.TenantID = baseline.TenantID
	diff.ScoreChange = model.Round2(current.OverallScore - baseline.OverallScore)
	diff.WeightedScoreChange = model.Round2(current.WeightedScore - baseline.WeightedScore)
	diff.Trend = trendOf(diff.ScoreChange)
	diff.Significance = significanceOf(diff.ScoreChange)
	return diff, nil
}

// DiffResults classifies every control present in either result set.
//
// A nonCompliant control that disappears counts as resolved; a control that
// appears nonCompliant counts as a new issue. Transitions between states
// other than compliant and nonCompliant, including manualReview against
// compliant, are classified unchanged.
func DiffResults(baseline, current []model.ControlResult) Diff {
	base := resultsByControl(baseline)
	cur := resultsByControl(current)

	ids := make([]string, 0, len(base)+len(cur))
	seen := make(map[string]bool, len(base)+len(cur))
	for id := range base {
		ids = append(ids, id)
		seen[id] = true
	}
	for id := range cur {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var diff Diff
	for _, id := range ids {
		b, inBase := base[id]
		c, inCur := cur[id]

		change := Change{ControlID: id}
		if inBase {
			change.BaselineStatus = b.Status
			change.BaselineScore = b.Score
		}
		if inCur {
			change.CurrentStatus = c.Status
			change.CurrentScore = c.Score
		}
		change.ScoreDelta = model.Round2(change.CurrentScore - change.BaselineScore)

		switch classify(b.Status, c.Status, inBase, inCur, change.ScoreDelta) {
		case "resolved":
			diff.Resolved = append(diff.Resolved, change)
		case "newIssues":
			diff.NewIssues = append(diff.NewIssues, change)
		case "improved":
			diff.Improved = append(diff.Improved, change)
		case "degraded":
			diff.Degraded = append(diff.Degraded, change)
		default:
			diff.Unchanged = append(diff.Unchanged, change)
		}
	}
	return diff
}

func classify(base, cur model.ControlStatus, inBase, inCur bool, delta float64) string {
	switch {
	case !inBase && inCur && cur == model.ControlNonCompliant:
		return "newIssues"
	case inBase && !inCur && base == model.ControlNonCompliant:
		return "resolved"
	case !inBase || !inCur:
		return "unchanged"
	case base == model.ControlCompliant && cur == model.ControlNonCompliant:
		return "degraded"
	case base == model.ControlNonCompliant && cur == model.ControlCompliant:
		return "resolved"
	case base == model.ControlNonCompliant && cur == model.ControlNonCompliant && delta > 0:
		return "improved"
	case base == model.ControlNonCompliant && cur == model.ControlNonCompliant && delta < 0:
		return "degraded"
	}
	return "unchanged"
}

func resultsByControl(results []model.ControlResult) map[string]model.ControlResult {
	byID := make(map[string]model.ControlResult, len(results))
	for _, r := range results {
		byID[r.ControlID] = r
	}
	return byID
}

func trendOf(scoreChange float64) Trend {
	switch {
	case scoreChange > 2:
		return TrendImproving
	case scoreChange < -2:
		return TrendDeclining
	}
	return TrendStable
}

func significanceOf(scoreChange float64) Significance {
	abs := scoreChange
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 10:
		return SignificanceMajor
	case abs >= 5:
		return SignificanceModerate
	}
	return SignificanceMinor
}
