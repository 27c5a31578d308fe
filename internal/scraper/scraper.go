// Package scraper drives the resolver site in a borrowed browser and turns
// its results table into rows.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/browser"
	"github.com/Rorqualx/vidresolver-go/internal/config"
	"github.com/Rorqualx/vidresolver-go/internal/humanize"
	"github.com/Rorqualx/vidresolver-go/internal/metrics"
	"github.com/Rorqualx/vidresolver-go/internal/ratelimit"
	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/selectors"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// How long teardown steps may take once the request context is gone.
const cleanupTimeout = 5 * time.Second

// SiteSource provides the current site contract.
type SiteSource interface {
	Get() *selectors.Site
}

// Options tunes one Scraper.
type Options struct {
	SiteURL           string // Overrides the contract URL when set
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	ResultsTimeout    time.Duration
	Format            string // Target format; empty or "any" keeps all formats
	HumanizeTyping    bool
	Intercept         browser.InterceptOptions
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		SiteURL:           cfg.SiteURL,
		NavigationTimeout: cfg.NavigationTimeout,
		ElementTimeout:    cfg.ElementTimeout,
		ResultsTimeout:    cfg.ResultsTimeout,
		HumanizeTyping:    cfg.HumanizeTyping,
		Intercept: browser.InterceptOptions{
			BlockResources: cfg.BlockResources,
		},
	}
	if cfg.FormatFilterEnabled() {
		opts.Format = cfg.FormatFilter
	}
	if cfg.HasProxy() {
		opts.Intercept.ProxyUsername = cfg.ProxyUsername
		opts.Intercept.ProxyPassword = cfg.ProxyPassword
	}
	return opts
}

// Scraper submits video URLs to the resolver site.
// It holds no per-request state and is safe for concurrent use; each call
// works in its own incognito context of the browser it is given.
type Scraper struct {
	sites  SiteSource
	opts   Options
	timing *humanize.Timing
}

// New creates a Scraper reading the site contract from sites.
func New(sites SiteSource, opts Options) *Scraper {
	return &Scraper{
		sites:  sites,
		opts:   opts,
		timing: humanize.NewTiming(),
	}
}

// Site returns the contract the next scrape will use.
func (s *Scraper) Site() *selectors.Site {
	site := s.sites.Get()
	if s.opts.SiteURL != "" {
		site = site.WithURL(s.opts.SiteURL)
	}
	return site
}

// Filter returns the row filter applied to every scrape.
func (s *Scraper) Filter() Filter {
	return Filter{BackupMarker: s.Site().BackupMarker, Format: s.opts.Format}
}

// Scrape resolves targetURL using b, which the caller has borrowed.
//
// The page and its incognito context are closed before Scrape returns,
// whatever the outcome. Errors are *types.ScrapeError.
func (s *Scraper) Scrape(ctx context.Context, b *rod.Browser, targetURL string) ([]types.ResultRow, error) {
	site := s.Site()
	start := time.Now()
	logger := log.With().Str("url", security.RedactURL(targetURL)).Logger()

	incognito, err := b.Incognito()
	if err != nil {
		return nil, types.NewUnknownScrapeError(fmt.Errorf("failed to open browser context: %w", err))
	}
	defer func() {
		if err := incognito.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to dispose browser context")
		}
	}()

	base, err := browser.NewStealthPage(incognito)
	if err != nil {
		return nil, types.NewUnknownScrapeError(fmt.Errorf("failed to open page: %w", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := base.Context(closeCtx).Close(); err != nil {
			logger.Debug().Err(err).Msg("Failed to close page")
		}
	}()

	page := base.Context(ctx)

	if err := browser.SetUserAgent(page, browser.RandomUserAgent()); err != nil {
		logger.Warn().Err(err).Msg("Failed to set user agent")
	}
	if err := browser.SetViewport(page, browser.DefaultViewportWidth, browser.DefaultViewportHeight); err != nil {
		logger.Warn().Err(err).Msg("Failed to set viewport")
	}

	cleanup, err := browser.Intercept(ctx, page, s.opts.Intercept)
	if err != nil {
		logger.Warn().Err(err).Msg("Request interception disabled for this scrape")
	}
	defer cleanup()

	document, stopCapture := browser.CaptureDocument(ctx, page)
	defer stopCapture()

	if err := s.navigate(ctx, page, site.URL); err != nil {
		return nil, err
	}
	logger.Debug().
		Int("status", document.StatusCode()).
		Dur("elapsed", time.Since(start)).
		Msg("Resolver site loaded")

	if err := s.submit(ctx, page, site, targetURL); err != nil {
		return nil, err
	}

	html, err := s.waitForResults(ctx, page, site, document)
	if err != nil {
		return nil, err
	}

	rows, err := ExtractString(html, site)
	if err != nil {
		return nil, err
	}
	filtered := Filter{BackupMarker: site.BackupMarker, Format: s.opts.Format}.Apply(rows)

	logger.Info().
		Int("extracted", len(rows)).
		Int("returned", len(filtered)).
		Dur("duration", time.Since(start)).
		Msg("Scrape completed")

	if e := logger.Debug(); e.Enabled() {
		if data, err := json.Marshal(redactRows(filtered)); err == nil {
			e.RawJSON("rows", data).Msg("Scrape results")
		}
	}

	return filtered, nil
}

// redactRows returns a copy of rows with signed link parameters masked.
func redactRows(rows []types.ResultRow) []types.ResultRow {
	links := make([]string, len(rows))
	for i, r := range rows {
		links[i] = r.Link
	}
	links = security.RedactLinks(links)

	out := make([]types.ResultRow, len(rows))
	for i, r := range rows {
		r.Link = links[i]
		out[i] = r
	}
	return out
}

// navigate loads the resolver site and waits for DOMContentLoaded.
func (s *Scraper) navigate(ctx context.Context, page *rod.Page, siteURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	nav := page.Context(navCtx)
	wait := nav.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := nav.Navigate(siteURL); err != nil {
		return s.classify(ctx, err, func(err error) error {
			return types.NewNavigationTimeoutError(
				fmt.Sprintf("resolver site did not load within %s", s.opts.NavigationTimeout),
				fmt.Errorf("%w: %v", types.ErrNavigationTimeout, err),
			)
		})
	}
	wait()

	if err := navCtx.Err(); err != nil {
		return s.classify(ctx, err, func(err error) error {
			return types.NewNavigationTimeoutError(
				fmt.Sprintf("resolver site did not finish loading within %s", s.opts.NavigationTimeout),
				fmt.Errorf("%w: %v", types.ErrNavigationTimeout, err),
			)
		})
	}
	return nil
}

// submit types targetURL into the search form and presses its button.
func (s *Scraper) submit(ctx context.Context, page *rod.Page, site *selectors.Site, targetURL string) error {
	input, err := s.element(ctx, page, site.Input)
	if err != nil {
		return err
	}

	if s.opts.HumanizeTyping {
		if err := s.typeLikeHuman(ctx, page, input, targetURL); err != nil {
			return s.classify(ctx, err, nil)
		}
	} else if err := input.Input(targetURL); err != nil {
		return s.classify(ctx, err, nil)
	}

	button, err := s.element(ctx, page, site.Submit)
	if err != nil {
		return err
	}

	if s.opts.HumanizeTyping {
		if !humanize.SleepWithContext(ctx, s.timing.PreActionDelay()) {
			return s.classify(ctx, ctx.Err(), nil)
		}
		err := humanize.ClickElement(ctx, page, button, s.timing)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return s.classify(ctx, err, nil)
		}
		log.Debug().Err(err).Msg("Pointer click failed, falling back to a direct click")
	}
	if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return s.classify(ctx, err, nil)
	}
	return nil
}

// element finds selector within ElementTimeout.
func (s *Scraper) element(ctx context.Context, page *rod.Page, selector string) (*rod.Element, error) {
	elCtx, cancel := context.WithTimeout(ctx, s.opts.ElementTimeout)
	defer cancel()

	el, err := page.Context(elCtx).Element(selector)
	if err != nil {
		return nil, s.classify(ctx, err, func(err error) error {
			return types.NewExtractionError(
				fmt.Sprintf("element %q not found within %s", selector, s.opts.ElementTimeout),
				fmt.Errorf("%w: %v", types.ErrElementMissing, err),
			)
		})
	}
	// Detach from the lookup deadline for the actions that follow
	return el.Context(ctx), nil
}

// typeLikeHuman inserts text one character at a time with random pauses.
func (s *Scraper) typeLikeHuman(ctx context.Context, page *rod.Page, input *rod.Element, text string) error {
	if err := input.Focus(); err != nil {
		return err
	}
	for _, r := range text {
		if err := page.InsertText(string(r)); err != nil {
			return err
		}
		if !humanize.SleepWithContext(ctx, s.timing.TypingDelay()) {
			return ctx.Err()
		}
	}
	return nil
}

// waitForResults waits for the results container and returns the page HTML.
func (s *Scraper) waitForResults(ctx context.Context, page *rod.Page, site *selectors.Site, document *browser.DocumentCapture) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ResultsTimeout)
	defer cancel()

	if _, err := page.Context(waitCtx).Element(site.Results); err != nil {
		return "", s.classify(ctx, err, func(err error) error {
			msg := fmt.Sprintf("results did not appear within %s", s.opts.ResultsTimeout)
			if info := s.inspectBlockedPage(page, document.StatusCode()); info.Detected {
				msg += ": " + info.Description
			}
			return types.NewNavigationTimeoutError(msg, fmt.Errorf("%w: %v", types.ErrResultsTimeout, err))
		})
	}

	html, err := page.HTML()
	if err != nil {
		return "", s.classify(ctx, err, nil)
	}
	return html, nil
}

// inspectBlockedPage looks for rate-limit or block markers on a page that
// never rendered its results. statusCode is that of the last document
// response, 0 when unknown.
func (s *Scraper) inspectBlockedPage(page *rod.Page, statusCode int) ratelimit.Info {
	inspectCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	html, err := page.Context(inspectCtx).HTML()
	if err != nil {
		return ratelimit.Info{}
	}
	info := ratelimit.Detect(statusCode, html)
	if info.Detected {
		metrics.RecordSiteBlock(string(info.Category))
		log.Warn().
			Int("status", statusCode).
			Str("code", info.ErrorCode).
			Str("category", string(info.Category)).
			Msg("Resolver site appears to be blocking requests")
	}
	return info
}

// classify turns a rod error into a ScrapeError. A done request context
// always wins; otherwise onDeadline handles step timeouts.
func (s *Scraper) classify(ctx context.Context, err error, onDeadline func(error) error) error {
	if ctx.Err() != nil {
		return types.NewUnknownScrapeError(fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err()))
	}
	if onDeadline != nil && errors.Is(err, context.DeadlineExceeded) {
		return onDeadline(err)
	}
	return types.NewUnknownScrapeError(err)
}
