package server

import (
	"net/http"

	"cryptopulse/internal/logger"
)

// requireAPIKey guards the /api/v1 tree with the shared key. Requests carry
// it in the X-API-Key header. With no key configured the API stays closed
// rather than open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" {
			logger.Warn("api request rejected, no API key configured")
			respondError(w, http.StatusForbidden, "API is disabled. Set API_KEY to enable.")
			return
		}

		got := r.Header.Get("X-API-Key")
		if got == "" {
			respondError(w, http.StatusUnauthorized, "Missing X-API-Key header")
			return
		}
		if got != s.cfg.APIKey {
			logger.Warn("invalid api key attempt", "remote_addr", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
