// Package middleware provides HTTP middleware for the vidresolver server.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/Rorqualx/vidresolver-go/internal/config"
)

// apiKeyHeader carries the client's API key.
const apiKeyHeader = "X-API-Key"

// APIKey returns middleware that validates API key authentication.
// If API key authentication is disabled in config, requests pass through unchanged.
// Health and metrics endpoints are always allowed without authentication.
func APIKey(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIKeyEnabled {
				next.ServeHTTP(w, r)
				return
			}

			// Load balancers and scrapers probe these without credentials
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			// Header only: a key in the query string would end up in access logs
			apiKey := r.Header.Get(apiKeyHeader)

			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(cfg.APIKey)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
