// Package selectors provides loading and management of the resolver site contract.
package selectors

import (
	"embed"
	"fmt"
	"net/url"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog/log"
)

//go:embed site.yaml
var defaultSiteFS embed.FS

// Site describes the resolver site: its URL and the CSS selectors of the
// elements the scraper drives and reads.
type Site struct {
	URL          string `yaml:"url"`
	Input        string `yaml:"input"`
	Submit       string `yaml:"submit"`
	Results      string `yaml:"results"`
	Row          string `yaml:"row"`
	Format       string `yaml:"format"`
	Resolution   string `yaml:"resolution"`
	Link         string `yaml:"link"`
	LinkAttr     string `yaml:"link_attr"`
	BackupMarker string `yaml:"backup_marker"`
}

var (
	instance *Site
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Site.
// The contract is loaded from the embedded site.yaml file.
func Get() *Site {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load site contract, using defaults")
			instance = defaultSite()
		}
	})
	return instance
}

// load reads the site contract from the embedded YAML file.
func load() (*Site, error) {
	data, err := defaultSiteFS.ReadFile("site.yaml")
	if err != nil {
		return nil, err
	}

	s, err := parseAndValidate(data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("url", s.URL).
		Str("results", s.Results).
		Msg("Site contract loaded")

	return s, nil
}

// WithURL returns a copy of the contract pointing at another site URL.
func (s *Site) WithURL(siteURL string) *Site {
	c := *s
	c.URL = siteURL
	return &c
}

// Validate checks the URL and compiles every selector.
func (s *Site) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("site url %q must be an absolute http(s) URL", s.URL)
	}

	fields := []struct {
		name, sel string
	}{
		{"input", s.Input},
		{"submit", s.Submit},
		{"results", s.Results},
		{"row", s.Row},
		{"format", s.Format},
		{"resolution", s.Resolution},
		{"link", s.Link},
	}
	for _, f := range fields {
		if f.sel == "" {
			return fmt.Errorf("site contract is missing the %s selector", f.name)
		}
		if _, err := cascadia.ParseGroup(f.sel); err != nil {
			return fmt.Errorf("invalid %s selector %q: %w", f.name, f.sel, err)
		}
	}
	if s.LinkAttr == "" {
		return fmt.Errorf("site contract is missing link_attr")
	}
	return nil
}

// defaultSite returns the hardcoded fallback contract.
func defaultSite() *Site {
	return &Site{
		URL:          "https://9xbuddy.xyz/en-1cd",
		Input:        `div.relative input[name="text"]`,
		Submit:       "button.bg-blue-500.text-md.text-white.uppercase",
		Results:      `section.px-4.sm\:px-0.container.mx-auto.mb-4.mt-10`,
		Row:          `div[class="lg:flex lg:justify-center items-center text-gray-600 dark:text-gray-200 capitalize sm:uppercase text-sm tracking-wide px-3 py-3 pb-5 mb-2 border-b-2 border-gray-200 dark:border-night-500"]`,
		Format:       `div[class="w-24 sm:w-1/3 lg:w-24 text-blue-500 uppercase"]`,
		Resolution:   `div[class="w-1/2 sm:w-1/3 lg:w-1/2 truncate"]`,
		Link:         "a[href]",
		LinkAttr:     "href",
		BackupMarker: "backup",
	}
}
