package checkers

import (
	"context"
	"encoding/json"

	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
)

// Outcome is what a checker reports for one control. Evidence must be
// JSON-serializable; the engine bounds its size before persisting.
type Outcome struct {
	Status              model.ControlStatus
	Score               float64
	ActualResult        json.RawMessage
	Evidence            json.RawMessage
	RemediationGuidance string
	ErrorMessage        string
}

// Checker evaluates one control against a tenant through Graph. Checkers are
// deterministic and side-effect free apart from Graph reads. Ambiguous data
// yields manualReview, an empty precondition set yields notApplicable, and
// infrastructure failures are returned as errors for the engine to record.
type Checker interface {
	Key() string
	Evaluate(ctx context.Context, client graph.Caller, control model.ControlDefinition) (Outcome, error)
}

// Registry maps checker keys to implementations.
type Registry struct {
	byKey map[string]Checker
}

// NewRegistry returns a registry with all builtin checkers installed.
func NewRegistry() *Registry {
	r := &Registry{byKey: make(map[string]Checker)}
	r.Install(
		&adminMFAChecker{},
		&limitGlobalAdminsChecker{},
		&caMFAForAllChecker{},
		&blockLegacyAuthChecker{},
		&appPermissionsChecker{},
	)
	return r
}

// Install adds checkers, replacing any existing binding for the same key.
func (r *Registry) Install(checkers ...Checker) {
	for _, c := range checkers {
		r.byKey[c.Key()] = c
	}
}

// Lookup resolves a checker key.
func (r *Registry) Lookup(key string) (Checker, bool) {
	c, ok := r.byKey[key]
	return c, ok
}

// ManualReview is the default outcome for controls without an automated
// checker.
func ManualReview(guidance string) Outcome {
	if guidance == "" {
		guidance = "No automated checker is available for this control; review the configuration manually."
	}
	return Outcome{
		Status:              model.ControlManualReview,
		RemediationGuidance: guidance,
	}
}

func notApplicable(reason string) Outcome {
	return Outcome{
		Status:       model.ControlNotApplicable,
		ActualResult: mustJSON(map[string]any{"reason": reason}),
	}
}

// mustJSON marshals values produced by checkers themselves; these are plain
// maps and slices, so failure is a programming error.
func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
