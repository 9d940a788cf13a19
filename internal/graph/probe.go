package graph

import (
	"context"

	"github.com/rs/zerolog/log"
)

// ProbeResult is the outcome of one capability probe.
type ProbeResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CapabilityReport summarizes what the granted app permissions can reach.
// Success requires at least two probes to pass; degraded tenants can still
// run a partial assessment.
type CapabilityReport struct {
	Success bool          `json:"success"`
	Probes  []ProbeResult `json:"probes"`
}

// TestConnection runs four independent read probes against the tenant.
// Probe failures are captured per probe and never propagated.
func TestConnection(ctx context.Context, c Caller) CapabilityReport {
	probes := []struct {
		name string
		run  func(context.Context) error
	}{
		{"organization", func(ctx context.Context) error {
			_, err := GetOrganization(ctx, c)
			return err
		}},
		{"users", func(ctx context.Context) error {
			_, err := ListUsers(ctx, c, "id,displayName", 1)
			return err
		}},
		{"conditionalAccessPolicies", func(ctx context.Context) error {
			_, err := ListConditionalAccessPolicies(ctx, c)
			return err
		}},
		{"directoryRoles", func(ctx context.Context) error {
			_, err := ListDirectoryRoles(ctx, c)
			return err
		}},
	}

	report := CapabilityReport{}
	succeeded := 0
	for _, p := range probes {
		result := ProbeResult{Name: p.name}
		if err := p.run(ctx); err != nil {
			result.Error = err.Error()
			log.Ctx(ctx).Debug().Str("probe", p.name).Err(err).Msg("capability probe failed")
		} else {
			result.OK = true
			succeeded++
		}
		report.Probes = append(report.Probes, result)
	}
	report.Success = succeeded >= 2
	return report
}

// compile-time check that Client satisfies Caller.
var _ Caller = (*Client)(nil)
