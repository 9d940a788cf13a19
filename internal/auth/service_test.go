package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signJWT(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "maes-platform",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestServiceMiddleware(t *testing.T) {
	const secret = "service-secret"

	handler := ServiceMiddleware(ServiceCfg{Token: secret})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"valid service token", map[string]string{HeaderServiceToken: secret}, http.StatusNoContent},
		{"wrong service token", map[string]string{HeaderServiceToken: "nope"}, http.StatusUnauthorized},
		{"valid bearer jwt", map[string]string{"Authorization": "Bearer " + signJWT(t, secret, time.Now().Add(time.Hour))}, http.StatusNoContent},
		{"jwt signed with wrong secret", map[string]string{"Authorization": "Bearer " + signJWT(t, "other", time.Now().Add(time.Hour))}, http.StatusUnauthorized},
		{"expired jwt", map[string]string{"Authorization": "Bearer " + signJWT(t, secret, time.Now().Add(-time.Hour))}, http.StatusUnauthorized},
		{"garbage bearer", map[string]string{"Authorization": "Bearer not.a.jwt"}, http.StatusUnauthorized},
		{"no credentials", nil, http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/assessments", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Errorf("status = %d, want %d", rr.Code, tc.status)
			}
			if tc.status == http.StatusUnauthorized {
				if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("content type = %q", ct)
				}
			}
		})
	}
}

func TestServiceMiddlewareRejectsWhenUnconfigured(t *testing.T) {
	handler := ServiceMiddleware(ServiceCfg{})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler reached without configured token")
		}))

	req := httptest.NewRequest(http.MethodGet, "/assessments", nil)
	req.Header.Set(HeaderServiceToken, "anything")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}
