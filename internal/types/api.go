package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxURLLength = 8192
)

// StatusOK is the health status of a serving instance.
const StatusOK = "ok"

// FormatAny disables the format restriction of the result filter.
const FormatAny = "any"

// ResultRow is one download option scraped from the resolver site.
type ResultRow struct {
	Format     string `json:"format"`
	Resolution string `json:"res"`
	Link       string `json:"link"`
}

// ResolveRequest holds the parameters of one resolve call.
type ResolveRequest struct {
	URL string
}

// Validate checks the target URL is present and well formed.
// Deeper host checks are done by the security package.
func (r *ResolveRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return ErrURLRequired
	}
	if len(r.URL) > MaxURLLength {
		return fmt.Errorf("%w: url exceeds maximum length of %d", ErrInvalidURL, MaxURLLength)
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https, got: %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidURL)
	}
	return nil
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// PoolStatus is the pool part of the health response.
type PoolStatus struct {
	Size      int `json:"size"`
	Available int `json:"available"`
	InUse     int `json:"inUse"`
	Waiting   int `json:"waiting"`
}

// CacheStatus is the cache part of the health response.
type CacheStatus struct {
	Enabled bool  `json:"enabled"`
	Entries int   `json:"entries"`
	Redis   bool  `json:"redis"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// HealthResponse is returned by the /health endpoint.
type HealthResponse struct {
	Status    string       `json:"status"`
	Message   string       `json:"message"`
	Version   string       `json:"version"`
	Site      string       `json:"site"`
	Pool      PoolStatus   `json:"pool"`
	Cache     *CacheStatus `json:"cache,omitempty"`
	StartTime int64        `json:"startTimestamp"`
	EndTime   int64        `json:"endTimestamp"`
}
