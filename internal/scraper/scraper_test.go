package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/vidresolver-go/internal/browser"
	"github.com/Rorqualx/vidresolver-go/internal/config"
	"github.com/Rorqualx/vidresolver-go/internal/selectors"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// skipCI skips tests that require a browser in CI environments.
func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
}

type staticSite struct{ site *selectors.Site }

func (s staticSite) Get() *selectors.Site { return s.site }

const formPage = `<!DOCTYPE html>
<html><body>
<div class="relative"><input name="text" type="text"></div>
<button class="bg-blue-500 text-md text-white uppercase" onclick="submitForm()">Download</button>
<script>
function submitForm() {
  const q = document.querySelector('input[name="text"]').value;
  if (!RESULTS_ENABLED) { return; }
  fetch('/results?url=' + encodeURIComponent(q))
    .then(r => r.text())
    .then(h => setTimeout(() => document.body.insertAdjacentHTML('beforeend', h), 100));
}
</script>
</body></html>`

// newResolverSite serves a stand-in for the resolver site. When withResults
// is false the form never renders a results section.
func newResolverSite(t *testing.T, withResults bool) *httptest.Server {
	t.Helper()
	fixture := readFixture(t, "results.html")
	start := strings.Index(fixture, "<section")
	end := strings.Index(fixture, "</section>") + len("</section>")
	section := fixture[start:end]

	enabled := "false"
	if withResults {
		enabled = "true"
	}
	page := strings.Replace(formPage, "RESULTS_ENABLED", enabled, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	mux.HandleFunc("/results", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(section))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPool(t *testing.T) *browser.Pool {
	t.Helper()
	pool, err := browser.NewPool(&config.Config{
		Headless:           true,
		BrowserPoolSize:    1,
		BrowserPoolTimeout: 10 * time.Second,
		BrowserMaxAge:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func testOptions() Options {
	return Options{
		NavigationTimeout: 15 * time.Second,
		ElementTimeout:    5 * time.Second,
		ResultsTimeout:    5 * time.Second,
		Format:            "mp4",
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		SiteURL:           "https://mirror.example.com/en",
		NavigationTimeout: 30 * time.Second,
		ElementTimeout:    10 * time.Second,
		ResultsTimeout:    30 * time.Second,
		FormatFilter:      "mp4",
		BlockResources:    true,
		ProxyURL:          "http://proxy:8080",
		ProxyUsername:     "user",
		ProxyPassword:     "pass",
	}
	opts := OptionsFromConfig(cfg)

	if opts.Format != "mp4" {
		t.Errorf("Expected format mp4, got %q", opts.Format)
	}
	if !opts.Intercept.BlockResources || opts.Intercept.ProxyUsername != "user" {
		t.Errorf("Unexpected intercept options %+v", opts.Intercept)
	}

	cfg.FormatFilter = "any"
	cfg.ProxyURL = ""
	opts = OptionsFromConfig(cfg)
	if opts.Format != "" {
		t.Errorf("Expected disabled format filter, got %q", opts.Format)
	}
	if opts.Intercept.ProxyUsername != "" {
		t.Error("Proxy credentials must be ignored without a proxy")
	}
}

func TestScraperSiteOverride(t *testing.T) {
	s := New(staticSite{selectors.Get()}, Options{SiteURL: "https://mirror.example.com/en"})
	if s.Site().URL != "https://mirror.example.com/en" {
		t.Errorf("Expected overridden URL, got %q", s.Site().URL)
	}
	if selectors.Get().URL == s.Site().URL {
		t.Error("Override must not modify the shared contract")
	}

	s = New(staticSite{selectors.Get()}, Options{Format: "webm"})
	if s.Site().URL != selectors.Get().URL {
		t.Errorf("Expected contract URL, got %q", s.Site().URL)
	}
	if f := s.Filter(); f.Format != "webm" || f.BackupMarker != "backup" {
		t.Errorf("Unexpected filter %+v", f)
	}
}

func TestScrapeWithChrome(t *testing.T) {
	skipCI(t)

	srv := newResolverSite(t, true)
	pool := newTestPool(t)
	s := New(staticSite{selectors.Get().WithURL(srv.URL)}, testOptions())

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(b)

	rows, err := s.Scrape(context.Background(), b, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 mp4 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Resolution != "1280x720" || rows[1].Resolution != "640x360" {
		t.Errorf("Unexpected rows %+v", rows)
	}

	// Page and context are gone after the scrape
	pages, err := b.Pages()
	if err != nil {
		t.Fatalf("Pages() error = %v", err)
	}
	for _, p := range pages {
		if info, err := p.Info(); err == nil && strings.HasPrefix(info.URL, srv.URL) {
			t.Errorf("Scrape left a page open at %s", info.URL)
		}
	}
}

func TestScrapeResultsTimeoutWithChrome(t *testing.T) {
	skipCI(t)

	srv := newResolverSite(t, false)
	pool := newTestPool(t)
	opts := testOptions()
	opts.ResultsTimeout = time.Second
	s := New(staticSite{selectors.Get().WithURL(srv.URL)}, opts)

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(b)

	_, err = s.Scrape(context.Background(), b, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if !errors.Is(err, types.ErrResultsTimeout) {
		t.Fatalf("Expected ErrResultsTimeout, got %v", err)
	}
	if types.KindOf(err) != types.KindNavigationTimeout {
		t.Errorf("Expected navigation_timeout kind, got %q", types.KindOf(err))
	}
}

func TestScrapeMissingInputWithChrome(t *testing.T) {
	skipCI(t)

	srv := newResolverSite(t, true)
	pool := newTestPool(t)
	site := selectors.Get().WithURL(srv.URL)
	site.Input = "textarea#nope"
	opts := testOptions()
	opts.ElementTimeout = time.Second
	s := New(staticSite{site}, opts)

	b, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer pool.Release(b)

	_, err = s.Scrape(context.Background(), b, "https://example.com/v")
	if !errors.Is(err, types.ErrElementMissing) {
		t.Fatalf("Expected ErrElementMissing, got %v", err)
	}
	if types.KindOf(err) != types.KindExtraction {
		t.Errorf("Expected extraction kind, got %q", types.KindOf(err))
	}
}

func TestRedactRows(t *testing.T) {
	rows := []types.ResultRow{
		{Format: "mp4", Resolution: "720p", Link: "https://rr1.googlevideo.com/videoplayback?itag=22&sig=AOq0&ip=203.0.113.7"},
		{Format: "mp4", Resolution: "360p", Link: "https://cdn.example.net/360.mp4"},
	}

	got := redactRows(rows)

	if strings.Contains(got[0].Link, "AOq0") || strings.Contains(got[0].Link, "203.0.113.7") {
		t.Errorf("Signed parameters leaked into log copy: %q", got[0].Link)
	}
	if !strings.Contains(got[0].Link, "itag=22") {
		t.Errorf("Expected itag to be kept, got %q", got[0].Link)
	}
	if got[0].Format != "mp4" || got[0].Resolution != "720p" {
		t.Errorf("Row fields changed: %+v", got[0])
	}
	if got[1].Link != rows[1].Link {
		t.Errorf("Unsigned link changed: %q", got[1].Link)
	}
	if !strings.Contains(rows[0].Link, "sig=AOq0") {
		t.Error("redactRows must not modify the rows returned to the client")
	}
}
