// Package resolver turns one target video URL into download rows: it
// validates the URL, consults the result cache, borrows a browser from the
// pool for the scraper and always gives it back.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/cache"
	"github.com/Rorqualx/vidresolver-go/internal/metrics"
	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/stats"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// BrowserPool lends browsers one request at a time.
type BrowserPool interface {
	Acquire(ctx context.Context) (*rod.Browser, error)
	Release(b *rod.Browser)
	Size() int
	Available() int
	InUse() int
	Waiting() int
}

// PageScraper drives the resolver site in a borrowed browser.
type PageScraper interface {
	Scrape(ctx context.Context, b *rod.Browser, targetURL string) ([]types.ResultRow, error)
}

// Options wires the optional collaborators of a Resolver.
type Options struct {
	Cache  *cache.Cache   // nil disables caching
	Stats  *stats.Manager // nil disables per-domain stats
	Format string         // Target format, part of the cache key
}

// Resolver serves resolve requests. It is safe for concurrent use.
type Resolver struct {
	pool    BrowserPool
	scraper PageScraper
	cache   *cache.Cache
	stats   *stats.Manager
	format  string
}

// New creates a Resolver.
func New(pool BrowserPool, scraper PageScraper, opts Options) *Resolver {
	return &Resolver{
		pool:    pool,
		scraper: scraper,
		cache:   opts.Cache,
		stats:   opts.Stats,
		format:  opts.Format,
	}
}

// Resolve returns the filtered rows for rawURL.
//
// Exactly one browser is borrowed for a request that reaches the scraper,
// and it is released before Resolve returns whatever the outcome. Errors
// are *types.ScrapeError. A successful resolve never returns nil rows.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) ([]types.ResultRow, error) {
	start := time.Now()

	req := types.ResolveRequest{URL: rawURL}
	if err := validate(&req); err != nil {
		return nil, err
	}
	domain := stats.ExtractDomain(req.URL)

	var key string
	if r.cache != nil {
		key = cache.Key(req.URL, r.format)
		rows, ok := r.cache.Get(ctx, key)
		metrics.RecordCacheLookup(ok)
		if ok {
			r.record(domain, stats.Outcome{Latency: time.Since(start), Rows: len(rows), Cached: true})
			log.Debug().Str("domain", domain).Int("rows", len(rows)).Msg("Served from cache")
			return rows, nil
		}
	}

	rows, err := r.scrape(ctx, req.URL)
	r.record(domain, stats.Outcome{Latency: time.Since(start), Rows: len(rows), Err: err})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, rows)
	}
	return rows, nil
}

// scrape borrows a browser and runs the scraper with it.
func (r *Resolver) scrape(ctx context.Context, targetURL string) ([]types.ResultRow, error) {
	b, err := r.pool.Acquire(ctx)
	r.updatePoolMetrics()
	if err != nil {
		var scrapeErr *types.ScrapeError
		if errors.Is(err, types.ErrContextCanceled) {
			scrapeErr = types.NewUnknownScrapeError(err)
		} else {
			scrapeErr = types.NewPoolExhaustedError(err)
		}
		metrics.RecordScrape(string(scrapeErr.Kind), 0, 0)
		log.Warn().Err(err).Str("kind", string(scrapeErr.Kind)).Msg("Failed to acquire browser")
		return nil, scrapeErr
	}
	defer func() {
		r.pool.Release(b)
		r.updatePoolMetrics()
	}()

	start := time.Now()
	rows, err := r.scraper.Scrape(ctx, b, targetURL)
	elapsed := time.Since(start)

	if err != nil {
		err = asScrapeError(err)
		kind := types.KindOf(err)
		metrics.RecordScrape(string(kind), elapsed, 0)
		log.Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("url", security.RedactURL(targetURL)).
			Dur("duration", elapsed).
			Msg("Resolve failed")
		return nil, err
	}

	if rows == nil {
		rows = []types.ResultRow{}
	}
	metrics.RecordScrape("success", elapsed, len(rows))
	return rows, nil
}

func (r *Resolver) record(domain string, o stats.Outcome) {
	if r.stats != nil {
		r.stats.Record(domain, o)
	}
}

func (r *Resolver) updatePoolMetrics() {
	metrics.UpdatePoolMetrics(r.pool.Size(), r.pool.Available(), r.pool.InUse(), r.pool.Waiting())
}

// validate rejects missing, malformed and internal URLs before the pool is touched.
func validate(req *types.ResolveRequest) error {
	if err := req.Validate(); err != nil {
		if errors.Is(err, types.ErrURLRequired) {
			return types.NewValidationError("url is required", err)
		}
		return types.NewValidationError(err.Error(), err)
	}
	if err := security.ValidateTargetURL(req.URL); err != nil {
		return types.NewValidationError(
			fmt.Sprintf("invalid url: %v", err),
			fmt.Errorf("%w: %w", types.ErrInvalidURL, err),
		)
	}
	return nil
}

// asScrapeError makes sure err carries a kind.
func asScrapeError(err error) error {
	var se *types.ScrapeError
	if errors.As(err, &se) {
		return err
	}
	switch kind := types.KindOf(err); kind {
	case types.KindNavigationTimeout:
		return types.NewNavigationTimeoutError(err.Error(), err)
	case types.KindExtraction:
		return types.NewExtractionError(err.Error(), err)
	case types.KindPoolExhausted:
		return types.NewPoolExhaustedError(err)
	default:
		return types.NewUnknownScrapeError(err)
	}
}
