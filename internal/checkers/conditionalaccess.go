package checkers

import (
	"context"
	"fmt"
	"slices"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
)

// caMFAForAllChecker verifies an enabled conditional access policy requires
// MFA for all users across all cloud apps.
type caMFAForAllChecker struct{}

func (caMFAForAllChecker) Key() string { return catalog.CheckerCAMFAForAll }

func (caMFAForAllChecker) Evaluate(ctx context.Context, client graph.Caller, control model.ControlDefinition) (Outcome, error) {
	policies, err := graph.ListConditionalAccessPolicies(ctx, client)
	if err != nil {
		if missingCAWorkload(err) {
			return ManualReview("Conditional access policies are not readable; the tenant may lack an Entra ID P1 license. Verify MFA enforcement manually."), nil
		}
		return Outcome{}, fmt.Errorf("conditional access policies: %w", err)
	}

	var satisfying []string
	for _, p := range policies {
		if p.Enabled() && p.RequiresMFA() &&
			slices.Contains(p.Conditions.Users.IncludeUsers, "All") &&
			slices.Contains(p.Conditions.Applications.IncludeApplications, "All") {
			satisfying = append(satisfying, p.DisplayName)
		}
	}

	out := Outcome{
		ActualResult: mustJSON(map[string]any{
			"policyCount":        len(policies),
			"satisfyingPolicies": satisfying,
		}),
		Evidence: mustJSON(policySummaries(policies)),
	}
	if len(satisfying) > 0 {
		out.Status = model.ControlCompliant
		out.Score = 100
	} else {
		out.Status = model.ControlNonCompliant
		out.RemediationGuidance = control.Remediation
	}
	return out, nil
}

// blockLegacyAuthChecker verifies an enabled policy blocks legacy
// authentication client app types.
type blockLegacyAuthChecker struct{}

func (blockLegacyAuthChecker) Key() string { return catalog.CheckerBlockLegacyAuth }

func (blockLegacyAuthChecker) Evaluate(ctx context.Context, client graph.Caller, control model.ControlDefinition) (Outcome, error) {
	policies, err := graph.ListConditionalAccessPolicies(ctx, client)
	if err != nil {
		if missingCAWorkload(err) {
			return ManualReview("Conditional access policies are not readable; verify legacy authentication blocking manually."), nil
		}
		return Outcome{}, fmt.Errorf("conditional access policies: %w", err)
	}

	var blocking []string
	for _, p := range policies {
		if !p.Enabled() {
			continue
		}
		coversLegacy := slices.Contains(p.Conditions.ClientAppTypes, "exchangeActiveSync") ||
			slices.Contains(p.Conditions.ClientAppTypes, "other")
		blocks := slices.Contains(p.GrantControls.BuiltInControls, "block")
		if coversLegacy && blocks {
			blocking = append(blocking, p.DisplayName)
		}
	}

	out := Outcome{
		ActualResult: mustJSON(map[string]any{
			"policyCount":      len(policies),
			"blockingPolicies": blocking,
		}),
		Evidence: mustJSON(policySummaries(policies)),
	}
	if len(blocking) > 0 {
		out.Status = model.ControlCompliant
		out.Score = 100
	} else {
		out.Status = model.ControlNonCompliant
		out.RemediationGuidance = control.Remediation
	}
	return out, nil
}

type policySummary struct {
	DisplayName string   `json:"displayName"`
	State       string   `json:"state"`
	Controls    []string `json:"builtInControls,omitempty"`
}

func policySummaries(policies []graph.ConditionalAccessPolicy) []policySummary {
	out := make([]policySummary, 0, len(policies))
	for _, p := range policies {
		out = append(out, policySummary{
			DisplayName: p.DisplayName,
			State:       p.State,
			Controls:    p.GrantControls.BuiltInControls,
		})
	}
	return out
}
