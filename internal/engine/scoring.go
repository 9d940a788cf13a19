package engine

import (
	"github.com/maes-platform/compliance-core/internal/model"
)

// Score computes the overall and weighted compliance scores for a finished
// run.
//
// The overall score is the compliant fraction of evaluated controls, where
// evaluated excludes notApplicable and manualReview: a control awaiting a
// human decision neither helps nor hurts the automated posture, while a
// checker error counts against it.
//
// The weighted score averages per-control scores over the same evaluated set,
// weighting each control by its definition weight times the severity
// multiplier (level2 counts 1.5x).
//
// Both scores are rounded half away from zero to two decimals and are 0 when
// nothing was evaluated.
func Score(controls map[string]model.ControlDefinition, results []model.ControlResult) (overall, weighted float64) {
	evaluated := 0
	compliant := 0
	var weightSum, weightedPoints float64

	for _, r := range results {
		switch r.Status {
		case model.ControlNotApplicable, model.ControlManualReview:
			continue
		}
		evaluated++
		if r.Status == model.ControlCompliant {
			compliant++
		}

		def, ok := controls[r.ControlID]
		if !ok {
			// Result for a control no longer in the catalog; weight 1.0.
			def = model.ControlDefinition{Weight: 1.0, Severity: model.SeverityLevel1}
		}
		w := def.EffectiveWeight()
		weightSum += w
		weightedPoints += r.Score / 100 * w
	}

	if evaluated > 0 {
		overall = model.Round2(float64(compliant) / float64(evaluated) * 100)
	}
	if weightSum > 0 {
		weighted = model.Round2(weightedPoints / weightSum * 100)
	}
	return overall, weighted
}
