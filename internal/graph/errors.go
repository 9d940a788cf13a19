package graph

import (
	"errors"
	"fmt"
	"strings"
)

// AuthCause classifies why token acquisition failed.
type AuthCause string

const (
	CauseCertificateInvalid AuthCause = "certificate_invalid"
	CauseTenantNotFound     AuthCause = "tenant_not_found"
	CauseConsentMissing     AuthCause = "consent_missing"
	CauseTokenRejected      AuthCause = "token_rejected"
)

// AuthError is returned when the client-credentials flow fails. It carries a
// stable cause class so callers can present actionable guidance.
type AuthError struct {
	Cause AuthCause
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("graph auth failed (%s): %v", e.Cause, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// classifyAuthErr maps AADSTS error codes embedded in azidentity errors to a
// stable cause. Unknown codes fall back to token_rejected.
func classifyAuthErr(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	msg := err.Error()
	cause := CauseTokenRejected
	switch {
	case strings.Contains(msg, "AADSTS90002"), strings.Contains(msg, "AADSTS700016"):
		cause = CauseTenantNotFound
	case strings.Contains(msg, "AADSTS65001"), strings.Contains(msg, "AADSTS500011"):
		cause = CauseConsentMissing
	case strings.Contains(msg, "AADSTS700027"), strings.Contains(strings.ToLower(msg), "certificate"):
		cause = CauseCertificateInvalid
	}
	return &AuthError{Cause: cause, Err: err}
}

// RequestError is a non-2xx response from Microsoft Graph.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph request failed: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph request failed: %d", e.StatusCode)
}

// IsNotFound reports whether err is a Graph 404.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == 404
}
