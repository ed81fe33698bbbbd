// auth/apikey/apikey.go
package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dalemusser/sessionkeep/httputil"
	"go.uber.org/zap"
)

// DefaultRealm is sent in WWW-Authenticate when none is given.
const DefaultRealm = "sessionkeep-admin"

// Require returns a middleware that enforces a static API key, read from
// "Authorization: Bearer <key>" or the X-API-Key header. An empty expected
// key rejects everything with 500.
func Require(expected, realm string, logger *zap.Logger) func(next http.Handler) http.Handler {
	expected = strings.TrimSpace(expected)
	if strings.TrimSpace(realm) == "" {
		realm = DefaultRealm
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				logger.Warn("apikey.Require used with empty expected key")
				httputil.JSONError(w, http.StatusInternalServerError, "misconfigured", "admin key not configured")
				return
			}

			key, ok := FromRequest(r)
			if !ok || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				logger.Warn("API key unauthorized",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_ip", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="`+realm+`"`)
				httputil.JSONError(w, http.StatusUnauthorized, "unauthorized", "a valid API key is required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FromRequest extracts a key from the Authorization bearer token, falling
// back to the X-API-Key header.
func FromRequest(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		if token := strings.TrimSpace(auth[len("bearer "):]); token != "" {
			return token, true
		}
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, true
	}
	return "", false
}
