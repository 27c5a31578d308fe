package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists the browser origins allowed to call the API.
	// "*" allows any origin. Empty rejects every cross-origin request.
	AllowedOrigins []string
}

// Headers a browser client may send and read.
var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", apiKeyHeader, RequestIDHeader}, ", ")
	corsExposeHeaders = strings.Join([]string{RequestIDHeader, "Retry-After"}, ", ")
)

// preflightMaxAge is how long browsers may cache a preflight answer, in seconds.
const preflightMaxAge = "600"

// CORS returns middleware that lets allowed browser origins call the
// read-only API. Preflights are answered here, before the API key check,
// with 204; OPTIONS requests that are not preflights reach the router.
// Credentials are never allowed: clients authenticate with the API key
// header, not cookies.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAny := false
	for _, origin := range cfg.AllowedOrigins {
		origin = normalizeOrigin(origin)
		if origin == "*" {
			allowAny = true
			continue
		}
		if origin != "" {
			allowed[origin] = true
		}
	}

	switch {
	case allowAny:
		log.Info().Msg("CORS allows any origin")
	case len(allowed) == 0:
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set, cross-origin browser requests will be rejected")
	}

	allowOrigin := func(origin string) string {
		if origin == "" {
			return ""
		}
		if allowAny {
			return "*"
		}
		if allowed[normalizeOrigin(origin)] {
			return origin
		}
		log.Debug().Str("origin", origin).Msg("CORS request from non-allowed origin")
		return ""
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			if !allowAny {
				// The answer depends on the caller's origin
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ao := allowOrigin(origin); ao != "" &&
					r.Header.Get("Access-Control-Request-Method") == http.MethodGet {
					h.Set("Access-Control-Allow-Origin", ao)
					h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", preflightMaxAge)
				}
				h.Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if ao := allowOrigin(origin); ao != "" {
				h.Set("Access-Control-Allow-Origin", ao)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// normalizeOrigin lowercases an origin and drops a trailing slash, so
// "https://App.example.com/" in the config matches the browser's header.
func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}
