package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BenchmarkKind identifies a versioned set of control definitions.
type BenchmarkKind string

const (
	BenchmarkCISv3  BenchmarkKind = "cisV3"
	BenchmarkCISv4  BenchmarkKind = "cisV4"
	BenchmarkCustom BenchmarkKind = "custom"
)

// Valid reports whether k is a known benchmark kind.
func (k BenchmarkKind) Valid() bool {
	switch k {
	case BenchmarkCISv3, BenchmarkCISv4, BenchmarkCustom:
		return true
	}
	return false
}

// Severity is the CIS profile level of a control.
type Severity string

const (
	SeverityLevel1 Severity = "level1"
	SeverityLevel2 Severity = "level2"
)

// Multiplier returns the scoring weight multiplier for the severity.
// Level 2 controls count 1.5x in the weighted score.
func (s Severity) Multiplier() float64 {
	if s == SeverityLevel2 {
		return 1.5
	}
	return 1.0
}

// ControlStatus is the outcome of evaluating one control.
type ControlStatus string

const (
	ControlCompliant     ControlStatus = "compliant"
	ControlNonCompliant  ControlStatus = "nonCompliant"
	ControlManualReview  ControlStatus = "manualReview"
	ControlNotApplicable ControlStatus = "notApplicable"
	ControlError         ControlStatus = "error"
)

// AssessmentStatus is the lifecycle state of an assessment run.
type AssessmentStatus string

const (
	AssessmentPending   AssessmentStatus = "pending"
	AssessmentRunning   AssessmentStatus = "running"
	AssessmentCompleted AssessmentStatus = "completed"
	AssessmentFailed    AssessmentStatus = "failed"
	AssessmentCancelled AssessmentStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s AssessmentStatus) Terminal() bool {
	switch s {
	case AssessmentCompleted, AssessmentFailed, AssessmentCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status machine allows moving to next.
// pending -> running -> {completed|failed}; {pending,running} -> cancelled.
func (s AssessmentStatus) CanTransition(next AssessmentStatus) bool {
	switch s {
	case AssessmentPending:
		return next == AssessmentRunning || next == AssessmentCancelled
	case AssessmentRunning:
		return next == AssessmentCompleted || next == AssessmentFailed || next == AssessmentCancelled
	}
	return false
}

// Totals is the per-status tally of an assessment.
type Totals struct {
	Total         int `json:"total"`
	Compliant     int `json:"compliant"`
	NonCompliant  int `json:"nonCompliant"`
	ManualReview  int `json:"manualReview"`
	NotApplicable int `json:"notApplicable"`
	Error         int `json:"error"`
}

// Add increments the tally for one control outcome.
func (t *Totals) Add(status ControlStatus) {
	t.Total++
	switch status {
	case ControlCompliant:
		t.Compliant++
	case ControlNonCompliant:
		t.NonCompliant++
	case ControlManualReview:
		t.ManualReview++
	case ControlNotApplicable:
		t.NotApplicable++
	case ControlError:
		t.Error++
	}
}

// Assessment is one execution of a benchmark against one tenant.
type Assessment struct {
	ID              uuid.UUID        `json:"id"`
	TenantID        uuid.UUID        `json:"tenantId"`
	Benchmark       BenchmarkKind    `json:"benchmark"`
	Name            string           `json:"name"`
	TriggeredBy     string           `json:"triggeredBy"`
	Status          AssessmentStatus `json:"status"`
	Progress        int              `json:"progress"`
	Totals          Totals           `json:"totals"`
	OverallScore    float64          `json:"overallScore"`
	WeightedScore   float64          `json:"weightedScore"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	DurationSeconds float64          `json:"durationSeconds"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	Parameters      map[string]any   `json:"parameters,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// ControlResult is the outcome of one checker within one assessment.
type ControlResult struct {
	ID                  uuid.UUID       `json:"id"`
	AssessmentID        uuid.UUID       `json:"assessmentId"`
	ControlID           string          `json:"controlId"`
	Status              ControlStatus   `json:"status"`
	Score               float64         `json:"score"`
	ActualResult        json.RawMessage `json:"actualResult,omitempty"`
	Evidence            json.RawMessage `json:"evidence,omitempty"`
	RemediationGuidance string          `json:"remediationGuidance,omitempty"`
	ErrorMessage        string          `json:"errorMessage,omitempty"`
	CheckedAt           time.Time       `json:"checkedAt"`
}

// ControlDefinition is a single benchmark control. Definitions are compiled in
// and shared across assessments; they are deactivated, never deleted.
type ControlDefinition struct {
	ID             string          `json:"id"`
	Benchmark      BenchmarkKind   `json:"benchmark"`
	Section        string          `json:"section"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Rationale      string          `json:"rationale,omitempty"`
	Remediation    string          `json:"remediation,omitempty"`
	Severity       Severity        `json:"severity"`
	Weight         float64         `json:"weight"`
	ExpectedResult json.RawMessage `json:"expectedResult,omitempty"`
	CheckerKey     string          `json:"checkerKey,omitempty"`
	Active         bool            `json:"active"`
}

// EffectiveWeight is the control weight with the severity multiplier applied.
func (d ControlDefinition) EffectiveWeight() float64 {
	w := d.Weight
	if w <= 0 {
		w = 1.0
	}
	return w * d.Severity.Multiplier()
}

// CredentialKind distinguishes the two supported app credential shapes.
type CredentialKind string

const (
	CredentialSecret      CredentialKind = "secret"
	CredentialCertificate CredentialKind = "certificate"
)

// Credentials references a tenant's Entra app registration credentials.
// Certificate material is referenced by path; the body is never persisted here.
type Credentials struct {
	ClientID        string `json:"clientId"`
	ClientSecret    string `json:"clientSecret,omitempty"`
	CertificatePath string `json:"certificatePath,omitempty"`
	PrivateKeyPath  string `json:"privateKeyPath,omitempty"`
}

// Kind returns the credential shape; certificate wins when both are present.
func (c Credentials) Kind() CredentialKind {
	if c.CertificatePath != "" {
		return CredentialCertificate
	}
	return CredentialSecret
}

// Tenant is an onboarded Microsoft 365 tenant.
type Tenant struct {
	ID                uuid.UUID   `json:"id"`
	DisplayName       string      `json:"displayName"`
	DirectoryTenantID string      `json:"directoryTenantId"`
	DomainFQDN        string      `json:"domainFqdn"`
	Credentials       Credentials `json:"credentials"`
	Active            bool        `json:"active"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// Frequency is a recurring schedule cadence.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// Schedule is a recurring assessment rule for one tenant.
type Schedule struct {
	ID               uuid.UUID      `json:"id"`
	TenantID         uuid.UUID      `json:"tenantId"`
	Name             string         `json:"name"`
	Benchmark        BenchmarkKind  `json:"benchmark"`
	Frequency        Frequency      `json:"frequency"`
	Active           bool           `json:"active"`
	NextRunAt        *time.Time     `json:"nextRunAt,omitempty"`
	LastRunAt        *time.Time     `json:"lastRunAt,omitempty"`
	LastAssessmentID *uuid.UUID     `json:"lastAssessmentId,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	CreatedBy        string         `json:"createdBy,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// ReportFormat is a report artifact encoding.
type ReportFormat string

const (
	ReportHTML ReportFormat = "html"
	ReportJSON ReportFormat = "json"
	ReportCSV  ReportFormat = "csv"
	ReportPDF  ReportFormat = "pdf"
)

// Valid reports whether f is a known report format.
func (f ReportFormat) Valid() bool {
	switch f {
	case ReportHTML, ReportJSON, ReportCSV, ReportPDF:
		return true
	}
	return false
}

// ContentType returns the MIME type served for the format.
func (f ReportFormat) ContentType() string {
	switch f {
	case ReportHTML:
		return "text/html; charset=utf-8"
	case ReportJSON:
		return "application/json"
	case ReportCSV:
		return "text/csv"
	case ReportPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// ReportKind selects the depth of a generated report.
type ReportKind string

const (
	ReportFull      ReportKind = "full"
	ReportExecutive ReportKind = "executive"
)

// Report is the catalog entry for a generated artifact on disk.
type Report struct {
	ID           uuid.UUID    `json:"id"`
	AssessmentID uuid.UUID    `json:"assessmentId"`
	Format       ReportFormat `json:"format"`
	Kind         ReportKind   `json:"kind"`
	FileName     string       `json:"fileName"`
	ArtifactPath string       `json:"artifactPath"`
	SizeBytes    int64        `json:"sizeBytes"`
	Note         string       `json:"note,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// MaxEvidenceBytes caps stored checker evidence to protect row sizes.
const MaxEvidenceBytes = 64 << 10

// BoundEvidence truncates oversized evidence, replacing it with a marker that
// preserves a prefix of the original payload.
func BoundEvidence(raw json.RawMessage) json.RawMessage {
	if len(raw) <= MaxEvidenceBytes {
		return raw
	}
	marker := struct {
		Truncated bool   `json:"truncated"`
		Size      int    `json:"originalSizeBytes"`
		Prefix    string `json:"prefix"`
	}{
		Truncated: true,
		Size:      len(raw),
		Prefix:    string(raw[:1024]),
	}
	out, err := json.Marshal(marker)
	if err != nil {
		return json.RawMessage(`{"truncated":true}`)
	}
	return out
}
