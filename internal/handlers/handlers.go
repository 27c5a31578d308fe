// Package handlers provides the HTTP handlers of the vidresolver API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/cache"
	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/stats"
	"github.com/Rorqualx/vidresolver-go/internal/types"
	"github.com/Rorqualx/vidresolver-go/pkg/version"
)

// Resolver turns a target video URL into download rows.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) ([]types.ResultRow, error)
}

// PoolStatus reports the occupancy of the browser pool.
type PoolStatus interface {
	Size() int
	Available() int
	InUse() int
	Waiting() int
}

// Options wires the optional collaborators of a Handler.
type Options struct {
	Cache   *cache.Cache   // Reported on /health when set
	Stats   *stats.Manager // Served on /stats when set
	SiteURL func() string  // Current resolver site, reported on /health
}

// Handler handles all vidresolver API requests.
type Handler struct {
	resolver Resolver
	pool     PoolStatus
	cache    *cache.Cache
	stats    *stats.Manager
	siteURL  func() string
}

// New creates a new Handler.
func New(resolver Resolver, pool PoolStatus, opts Options) *Handler {
	siteURL := opts.SiteURL
	if siteURL == nil {
		siteURL = func() string { return "" }
	}
	return &Handler{
		resolver: resolver,
		pool:     pool,
		cache:    opts.Cache,
		stats:    opts.Stats,
		siteURL:  siteURL,
	}
}

// HandleResolve serves GET /api and GET /scrape.
//
// 200 carries the JSON array of rows, possibly empty. Failures carry
// {"detail"} with the status of their error kind.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL.Query().Get("url")
	logger := zerolog.Ctx(r.Context())
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}

	logger.Info().
		Str("url", security.RedactURL(targetURL)).
		Msg("Resolve request received")

	rows, err := h.resolver.Resolve(r.Context(), targetURL)
	if err != nil {
		kind := types.KindOf(err)
		// Scrape failures are logged by the resolver
		event := logger.Debug()
		if kind == types.KindValidation {
			event = logger.Warn()
		}
		event.Err(err).
			Str("kind", string(kind)).
			Str("url", security.RedactURL(targetURL)).
			Msg("Resolve failed")
		h.writeError(w, kind.HTTPStatus(), err.Error())
		return
	}

	if rows == nil {
		rows = []types.ResultRow{}
	}
	h.writeJSONResponse(w, http.StatusOK, rows)
}

// HandleHealth serves GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	resp := types.HealthResponse{
		Status:  types.StatusOK,
		Message: "vidresolver is ready",
		Version: version.Full(),
		Site:    h.siteURL(),
	}
	if h.pool != nil {
		resp.Pool = types.PoolStatus{
			Size:      h.pool.Size(),
			Available: h.pool.Available(),
			InUse:     h.pool.InUse(),
			Waiting:   h.pool.Waiting(),
		}
	}
	if h.cache != nil {
		resp.Cache = h.cache.Status()
	}
	resp.StartTime = startTime.UnixMilli()
	resp.EndTime = time.Now().UnixMilli()

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// statsResponse is the body of GET /stats.
type statsResponse struct {
	Domains map[string]stats.DomainStatsJSON `json:"domains"`
	Count   int                              `json:"count"`
}

// HandleStats serves GET /stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Domains: map[string]stats.DomainStatsJSON{}}
	if h.stats != nil {
		if domain := strings.ToLower(r.URL.Query().Get("domain")); domain != "" {
			if s := h.stats.Get(domain); s != nil {
				resp.Domains[domain] = s.ToJSON()
			}
		} else {
			resp.Domains = h.stats.AllStats()
		}
	}
	resp.Count = len(resp.Domains)
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found")
}

// writeError writes a {"detail"} error body.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, detail string) {
	h.writeJSONResponse(w, statusCode, types.ErrorResponse{Detail: detail})
}

// writeJSONResponse buffers JSON before writing so an encoding failure can
// still be reported with a proper status.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp any) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"internal encoding error"}`))
		return
	}

	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
