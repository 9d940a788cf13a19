package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// HeaderServiceToken carries the shared service secret on inbound calls.
const HeaderServiceToken = "X-Service-Token"

// ServiceCfg holds service-to-service authentication configuration.
type ServiceCfg struct {
	// Token is the shared secret. It validates X-Service-Token headers
	// directly and signs HS256 bearer tokens for callers that prefer JWTs.
	Token string
}

// ServiceMiddleware authenticates service callers. Two forms are accepted:
// the raw shared secret in X-Service-Token, or an HS256 JWT signed with it
// in the Authorization header.
func ServiceMiddleware(cfg ServiceCfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Token == "" {
				log.Warn().Msg("service auth token not configured, rejecting request")
				unauthorized(w)
				return
			}

			if tok := r.Header.Get(HeaderServiceToken); tok != "" {
				if subtle.ConstantTimeCompare([]byte(tok), []byte(cfg.Token)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				log.Warn().Str("path", r.URL.Path).Msg("invalid service token")
				unauthorized(w)
				return
			}

			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				if validServiceJWT(h[len("Bearer "):], cfg.Token) {
					next.ServeHTTP(w, r)
					return
				}
				log.Warn().Str("path", r.URL.Path).Msg("jwt validation failed")
				unauthorized(w)
				return
			}

			log.Warn().Str("path", r.URL.Path).Msg("missing service credentials")
			unauthorized(w)
		})
	}
}

func validServiceJWT(tok, secret string) bool {
	t, err := jwt.Parse(tok, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	return err == nil && t.Valid
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
