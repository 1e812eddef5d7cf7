// Gateway authentication: static bearer token.
//
// All API requests must carry the configured key via
// "Authorization: Bearer <key>", "X-API-Key: <key>", or a
// "?token=<key>" query parameter for streaming endpoints where custom
// headers are awkward (EventSource, browser WebSocket). /api/health is
// exempt.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pulsebot/pulse/pkg/logger"
)

// authMiddleware wraps a handler with bearer token checking. An empty
// key disables auth entirely; NewServer auto-generates one so that only
// happens when key generation itself failed.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("auth", "API auth DISABLED, key generation failed")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pulse"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing or invalid API key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}

func tokenValid(token, apiKey string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1
}

// corsMiddleware allows browser dashboards served from other origins to
// reach the API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
