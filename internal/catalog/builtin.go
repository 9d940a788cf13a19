package catalog

import "github.com/maes-platform/compliance-core/internal/model"

// Checker keys bound by the builtin benchmarks. The registry in the checkers
// package implements them; controls without a key fall back to manual review.
const (
	CheckerAdminMFA          = "adminMfa"
	CheckerLimitGlobalAdmins = "limitGlobalAdmins"
	CheckerCAMFAForAll       = "caMfaForAll"
	CheckerBlockLegacyAuth   = "blockLegacyAuth"
	CheckerAppPermissions    = "appPermissionReview"
)

// builtinControls returns the compiled-in CIS Microsoft 365 benchmark
// definitions. Updating these is the out-of-band catalog migration path.
func builtinControls() []model.ControlDefinition {
	shared := []model.ControlDefinition{
		{
			ID:          "1.1.1",
			Section:     "1.1 Admin Accounts",
			Title:       "Ensure multifactor authentication is enabled for all users in administrative roles",
			Description: "Every member of a privileged directory role registers at least one strong authentication method.",
			Rationale:   "Compromise of an administrative account without MFA exposes the entire tenant.",
			Remediation: "Require MFA registration for all members of privileged roles via conditional access or per-user MFA.",
			Severity:    model.SeverityLevel2,
			Weight:      1.0,
			CheckerKey:  CheckerAdminMFA,
			Active:      true,
		},
		{
			ID:          "1.1.2",
			Section:     "1.1 Admin Accounts",
			Title:       "Ensure administrative accounts are cloud-only",
			Description: "Privileged accounts are not synchronized from on-premises directories.",
			Remediation: "Create dedicated cloud-only accounts for administrative roles.",
			Severity:    model.SeverityLevel1,
			Weight:      1.0,
			Active:      true,
		},
		{
			ID:          "1.1.3",
			Section:     "1.1 Admin Accounts",
			Title:       "Ensure that between two and four global admins are designated",
			Description: "A small pool of Global Administrators limits the attack surface while avoiding a single point of failure.",
			Remediation: "Reduce Global Administrator assignments; delegate with least-privileged roles.",
			Severity:    model.SeverityLevel1,
			Weight:      1.0,
			CheckerKey:  CheckerLimitGlobalAdmins,
			Active:      true,
		},
		{
			ID:          "1.2.1",
			Section:     "1.2 Conditional Access",
			Title:       "Ensure a conditional access policy requires MFA for all users",
			Description: "An enabled conditional access policy targets all users and all cloud apps and grants access only with MFA.",
			Remediation: "Create a conditional access policy scoped to all users and all cloud apps requiring multifactor authentication.",
			Severity:    model.SeverityLevel1,
			Weight:      1.0,
			CheckerKey:  CheckerCAMFAForAll,
			Active:      true,
		},
		{
			ID:          "1.2.2",
			Section:     "1.2 Conditional Access",
			Title:       "Ensure legacy authentication protocols are blocked",
			Description: "Legacy clients (POP, IMAP, SMTP AUTH, ActiveSync basic auth) bypass MFA and must be blocked.",
			Remediation: "Create a conditional access policy blocking legacy authentication client app types.",
			Severity:    model.SeverityLevel1,
			Weight:      1.0,
			CheckerKey:  CheckerBlockLegacyAuth,
			Active:      true,
		},
		{
			ID:          "2.1.1",
			Section:     "2.1 Email Security",
			Title:       "Ensure Safe Links for Office applications is enabled",
			Description: "Defender for Office 365 Safe Links rewrites and scans URLs at click time.",
			Remediation: "Enable Safe Links policies in the Microsoft Defender portal.",
			Severity:    model.SeverityLevel2,
			Weight:      1.0,
			Active:      true,
		},
		{
			ID:          "5.1.1",
			Section:     "5.1 Application Registrations",
			Title:       "Ensure application registrations with broad permissions are reviewed",
			Description: "App registrations requesting application-level Graph permissions are inventoried and reviewed.",
			Remediation: "Review app registrations and revoke unneeded application permissions.",
			Severity:    model.SeverityLevel2,
			Weight:      1.0,
			CheckerKey:  CheckerAppPermissions,
			Active:      true,
		},
		{
			ID:          "8.2.2",
			Section:     "8.2 Teams Sharing",
			Title:       "Ensure external file sharing in Teams is limited to approved services",
			Description: "Teams file sharing with third-party cloud storage is restricted to sanctioned providers.",
			Remediation: "Restrict third-party cloud storage providers in the Teams admin center.",
			Severity:    model.SeverityLevel1,
			Weight:      0.5,
			Active:      true,
		},
	}

	var out []model.ControlDefinition
	for _, def := range shared {
		v4 := def
		v4.Benchmark = model.BenchmarkCISv4
		out = append(out, v4)
	}
	// The v3 benchmark predates the application-registration section.
	for _, def := range shared {
		if def.ID == "5.1.1" {
			continue
		}
		v3 := def
		v3.Benchmark = model.BenchmarkCISv3
		out = append(out, v3)
	}
	return out
}
