// Package auth guards the API with an optional shared bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// RequireToken rejects requests that do not carry the token, either as
// "Authorization: Bearer <token>" or as a "token" query parameter (browsers cannot set
// headers on WebSocket connections). An empty token disables the check.
func RequireToken(token string, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := TokenFromRequest(r)
			if provided == "" {
				logger.WithField("path", r.URL.Path).Debug("Auth: no token provided")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				logger.WithField("path", r.URL.Path).Warn("Auth: invalid token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenFromRequest returns the bearer token of the request, falling back to the
// "token" query parameter.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		// Bearer scheme is case-insensitive per RFC 7235
		fields := strings.Fields(authHeader)
		if len(fields) >= 2 && strings.EqualFold(fields[0], "Bearer") {
			return strings.TrimSpace(strings.Join(fields[1:], " "))
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
