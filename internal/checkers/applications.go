package checkers

import (
	"context"
	"fmt"

	"github.com/maes-platform/compliance-core/internal/catalog"
	"github.com/maes-platform/compliance-core/internal/graph"
	"github.com/maes-platform/compliance-core/internal/model"
)

// appPermissionsChecker inventories app registrations requesting
// application-level permissions. Whether each grant is justified is a human
// decision, so any findings surface as manual review with evidence attached.
type appPermissionsChecker struct{}

func (appPermissionsChecker) Key() string { return catalog.CheckerAppPermissions }

func (appPermissionsChecker) Evaluate(ctx context.Context, client graph.Caller, control model.ControlDefinition) (Outcome, error) {
	apps, err := graph.ListApplications(ctx, client)
	if err != nil {
		return Outcome{}, fmt.Errorf("applications: %w", err)
	}

	type appFinding struct {
		DisplayName     string `json:"displayName"`
		AppID           string `json:"appId"`
		CreatedDateTime string `json:"createdDateTime,omitempty"`
		RoleCount       int    `json:"applicationPermissionCount"`
	}
	var findings []appFinding
	for _, app := range apps {
		roles := 0
		for _, rra := range app.RequiredResourceAccess {
			for _, access := range rra.ResourceAccess {
				if access.Type == "Role" {
					roles++
				}
			}
		}
		if roles > 0 {
			findings = append(findings, appFinding{
				DisplayName:     app.DisplayName,
				AppID:           app.AppID,
				CreatedDateTime: app.CreatedDateTime,
				RoleCount:       roles,
			})
		}
	}

	out := Outcome{
		ActualResult: mustJSON(map[string]any{
			"applicationCount":               len(apps),
			"appsWithApplicationPermissions": len(findings),
		}),
		Evidence: mustJSON(findings),
	}
	if len(findings) == 0 {
		out.Status = model.ControlCompliant
		out.Score = 100
		return out, nil
	}
	out.Status = model.ControlManualReview
	out.RemediationGuidance = fmt.Sprintf("%d app registrations request application-level permissions; review each grant. %s",
		len(findings), control.Remediation)
	return out, nil
}
