// File path: internal/auth/middleware.go
package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coreflowai/agent-dog/internal/common"
)

// publicPrefixes are reachable without a credential: health probe, the auth
// endpoints themselves, and static assets. The websocket path is listed
// because the gateway authenticates the handshake itself and needs to send
// its own rejection message.
var publicPrefixes = []string{
	"/health",
	"/api/auth/",
	"/static/",
	"/ws",
}

// Public reports whether the path is served without authentication.
func Public(path string) bool {
	for _, prefix := range publicPrefixes {
		if path == strings.TrimSuffix(prefix, "/") || strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware rejects unauthenticated requests with 401 and stamps the
// resolved user id onto the context for everything else.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	logger := common.Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		userID, err := v.Verify(r)
		if err != nil {
			logger.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
