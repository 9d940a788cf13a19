package model

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestTotalsAdd(t *testing.T) {
	var totals Totals
	for _, s := range []ControlStatus{
		ControlCompliant, ControlCompliant,
		ControlNonCompliant,
		ControlManualReview,
		ControlNotApplicable,
		ControlError,
	} {
		totals.Add(s)
	}

	if totals.Total != 6 {
		t.Errorf("total = %d, want 6", totals.Total)
	}
	sum := totals.Compliant + totals.NonCompliant + totals.ManualReview + totals.NotApplicable + totals.Error
	if sum != totals.Total {
		t.Errorf("per-status sum = %d, want %d", sum, totals.Total)
	}
	if totals.Compliant != 2 || totals.Error != 1 {
		t.Errorf("totals = %+v", totals)
	}
}

func TestAssessmentStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to AssessmentStatus }{
		{AssessmentPending, AssessmentRunning},
		{AssessmentPending, AssessmentCancelled},
		{AssessmentRunning, AssessmentCompleted},
		{AssessmentRunning, AssessmentFailed},
		{AssessmentRunning, AssessmentCancelled},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to AssessmentStatus }{
		{AssessmentPending, AssessmentCompleted},
		{AssessmentCompleted, AssessmentRunning},
		{AssessmentFailed, AssessmentRunning},
		{AssessmentCancelled, AssessmentCancelled},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}

	for _, s := range []AssessmentStatus{AssessmentCompleted, AssessmentFailed, AssessmentCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if AssessmentRunning.Terminal() {
		t.Error("running should not be terminal")
	}
}

func TestRound2(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{66.666666, 66.67},
		{66.664, 66.66},
		{0.005, 0.01},
		{100, 100},
		{0, 0},
	}
	for _, tc := range tests {
		if got := Round2(tc.in); got != tc.want {
			t.Errorf("Round2(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEffectiveWeight(t *testing.T) {
	level1 := ControlDefinition{Weight: 1.0, Severity: SeverityLevel1}
	if got := level1.EffectiveWeight(); got != 1.0 {
		t.Errorf("level1 weight = %v, want 1.0", got)
	}
	level2 := ControlDefinition{Weight: 2.0, Severity: SeverityLevel2}
	if got := level2.EffectiveWeight(); got != 3.0 {
		t.Errorf("level2 weight = %v, want 3.0", got)
	}
	zero := ControlDefinition{Severity: SeverityLevel2}
	if got := zero.EffectiveWeight(); got != 1.5 {
		t.Errorf("defaulted weight = %v, want 1.5", got)
	}
}

func TestCredentialsKind(t *testing.T) {
	if k := (Credentials{ClientID: "a", ClientSecret: "s"}).Kind(); k != CredentialSecret {
		t.Errorf("kind = %s, want secret", k)
	}
	if k := (Credentials{ClientID: "a", CertificatePath: "/certs/app.crt"}).Kind(); k != CredentialCertificate {
		t.Errorf("kind = %s, want certificate", k)
	}
	// Certificate wins when both are configured.
	both := Credentials{ClientID: "a", ClientSecret: "s", CertificatePath: "/certs/app.crt"}
	if k := both.Kind(); k != CredentialCertificate {
		t.Errorf("kind = %s, want certificate", k)
	}
}

func TestBoundEvidence(t *testing.T) {
	small := json.RawMessage(`{"ok":true}`)
	if got := BoundEvidence(small); !bytes.Equal(got, small) {
		t.Errorf("small evidence modified: %s", got)
	}

	big := json.RawMessage(bytes.Repeat([]byte("x"), MaxEvidenceBytes+1))
	bounded := BoundEvidence(big)
	if len(bounded) >= len(big) {
		t.Fatalf("bounded size = %d, want < %d", len(bounded), len(big))
	}
	var marker struct {
		Truncated bool   `json:"truncated"`
		Size      int    `json:"originalSizeBytes"`
		Prefix    string `json:"prefix"`
	}
	if err := json.Unmarshal(bounded, &marker); err != nil {
		t.Fatalf("unmarshal marker: %v", err)
	}
	if !marker.Truncated || marker.Size != len(big) || len(marker.Prefix) != 1024 {
		t.Errorf("marker = %+v", marker)
	}
}

func TestReportFormatContentType(t *testing.T) {
	tests := []struct {
		format ReportFormat
		want   string
	}{
		{ReportHTML, "text/html; charset=utf-8"},
		{ReportJSON, "application/json"},
		{ReportCSV, "text/csv"},
		{ReportPDF, "application/pdf"},
		{"docx", "application/octet-stream"},
	}
	for _, tc := range tests {
		if got := tc.format.ContentType(); got != tc.want {
			t.Errorf("ContentType(%s) = %q, want %q", tc.format, got, tc.want)
		}
	}
	if ReportFormat("docx").Valid() {
		t.Error("docx should not be valid")
	}
}
