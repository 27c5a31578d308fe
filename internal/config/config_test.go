package config

import (
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads; empty values fall back to defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"HOST", "PORT", "HEADLESS", "BROWSER_PATH", "PUPPETEER_EXECUTABLE_PATH",
		"IGNORE_CERT_ERRORS", "BROWSER_POOL_SIZE", "BROWSER_POOL_TIMEOUT", "BROWSER_MAX_AGE",
		"PROXY_URL", "PROXY_USERNAME", "PROXY_PASSWORD",
		"RESOLVER_SITE_URL", "NAVIGATION_TIMEOUT", "ELEMENT_TIMEOUT", "RESULTS_TIMEOUT",
		"REQUEST_TIMEOUT", "FORMAT_FILTER", "HUMANIZE_TYPING", "BLOCK_RESOURCES",
		"CACHE_ENABLED", "CACHE_TTL", "CACHE_MAX_ENTRIES", "REDIS_URL",
		"LOG_LEVEL", "PPROF_ENABLED", "PPROF_PORT", "PPROF_BIND_ADDR",
		"PROMETHEUS_ENABLED", "PROMETHEUS_PORT",
		"RATE_LIMIT_ENABLED", "RATE_LIMIT_RPM", "RATE_LIMIT_BURST", "TRUST_PROXY",
		"CORS_ALLOWED_ORIGINS", "API_KEY_ENABLED", "API_KEY",
		"SELECTORS_PATH", "SELECTORS_HOT_RELOAD",
	}
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	// Server defaults
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Port)
	}

	// Browser defaults
	if !cfg.Headless {
		t.Error("Expected Headless to be true by default")
	}
	if cfg.BrowserPath != "" {
		t.Errorf("Expected empty BrowserPath by default, got %q", cfg.BrowserPath)
	}

	// Pool defaults
	if cfg.BrowserPoolSize != 3 {
		t.Errorf("Expected default pool size 3, got %d", cfg.BrowserPoolSize)
	}
	if cfg.BrowserPoolTimeout != 30*time.Second {
		t.Errorf("Expected default pool timeout 30s, got %v", cfg.BrowserPoolTimeout)
	}

	// Resolver defaults
	if cfg.ResultsTimeout != 30*time.Second {
		t.Errorf("Expected default results timeout 30s, got %v", cfg.ResultsTimeout)
	}
	if cfg.FormatFilter != "mp4" {
		t.Errorf("Expected default format filter 'mp4', got %q", cfg.FormatFilter)
	}
	if !cfg.FormatFilterEnabled() {
		t.Error("Expected format filter to be enabled by default")
	}
	if cfg.SiteURL != "" {
		t.Errorf("Expected empty SiteURL by default, got %q", cfg.SiteURL)
	}
	if !cfg.BlockResources {
		t.Error("Expected BlockResources to be true by default")
	}

	// Cache defaults
	if !cfg.CacheEnabled {
		t.Error("Expected cache to be enabled by default")
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("Expected default cache TTL 5m, got %v", cfg.CacheTTL)
	}

	// Logging defaults
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}

	// Metrics defaults
	if cfg.PrometheusEnabled {
		t.Error("Expected PrometheusEnabled to be false by default")
	}
	if cfg.PrometheusPort != 9090 {
		t.Errorf("Expected default Prometheus port 9090, got %d", cfg.PrometheusPort)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("BROWSER_POOL_SIZE", "5")
	t.Setenv("RESOLVER_SITE_URL", "https://resolver.example.com/en")
	t.Setenv("RESULTS_TIMEOUT", "45s")
	t.Setenv("FORMAT_FILTER", "any")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("HEADLESS", "false")

	cfg := Load()

	if cfg.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Port)
	}
	if cfg.BrowserPoolSize != 5 {
		t.Errorf("Expected pool size 5, got %d", cfg.BrowserPoolSize)
	}
	if cfg.SiteURL != "https://resolver.example.com/en" {
		t.Errorf("Unexpected SiteURL %q", cfg.SiteURL)
	}
	if cfg.ResultsTimeout != 45*time.Second {
		t.Errorf("Expected results timeout 45s, got %v", cfg.ResultsTimeout)
	}
	if cfg.FormatFilterEnabled() {
		t.Error("Expected FORMAT_FILTER=any to disable the format filter")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Errorf("Unexpected CORS origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.Headless {
		t.Error("Expected Headless false")
	}
}

func TestBrowserPathFallsBackToPuppeteerVariable(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUPPETEER_EXECUTABLE_PATH", "/usr/bin/chromium")

	cfg := Load()
	if cfg.BrowserPath != "/usr/bin/chromium" {
		t.Errorf("Expected fallback browser path, got %q", cfg.BrowserPath)
	}

	t.Setenv("BROWSER_PATH", "/opt/chrome/chrome")
	cfg = Load()
	if cfg.BrowserPath != "/opt/chrome/chrome" {
		t.Errorf("Expected BROWSER_PATH to win, got %q", cfg.BrowserPath)
	}
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-number")
	t.Setenv("HEADLESS", "maybe")
	t.Setenv("RESULTS_TIMEOUT", "-5s")
	t.Setenv("CACHE_TTL", "soon")

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Expected default port on parse failure, got %d", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Expected default Headless on parse failure")
	}
	if cfg.ResultsTimeout != 30*time.Second {
		t.Errorf("Expected default results timeout for negative duration, got %v", cfg.ResultsTimeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("Expected default cache TTL on parse failure, got %v", cfg.CacheTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		check  func(*testing.T, *Config)
	}{
		{
			name:   "pool size zero",
			modify: func(c *Config) { c.BrowserPoolSize = 0 },
			check: func(t *testing.T, c *Config) {
				if c.BrowserPoolSize != 3 {
					t.Errorf("Expected pool size 3, got %d", c.BrowserPoolSize)
				}
			},
		},
		{
			name:   "pool size too large",
			modify: func(c *Config) { c.BrowserPoolSize = 500 },
			check: func(t *testing.T, c *Config) {
				if c.BrowserPoolSize != maxBrowserPoolSize {
					t.Errorf("Expected pool size %d, got %d", maxBrowserPoolSize, c.BrowserPoolSize)
				}
			},
		},
		{
			name:   "invalid port",
			modify: func(c *Config) { c.Port = 70000 },
			check: func(t *testing.T, c *Config) {
				if c.Port != 8080 {
					t.Errorf("Expected port 8080, got %d", c.Port)
				}
			},
		},
		{
			name:   "path traversal in browser path",
			modify: func(c *Config) { c.BrowserPath = "/opt/../etc/chrome" },
			check: func(t *testing.T, c *Config) {
				if c.BrowserPath != "" {
					t.Errorf("Expected BrowserPath cleared, got %q", c.BrowserPath)
				}
			},
		},
		{
			name:   "results timeout too long",
			modify: func(c *Config) { c.ResultsTimeout = time.Hour },
			check: func(t *testing.T, c *Config) {
				if c.ResultsTimeout != maxTimeout {
					t.Errorf("Expected %v, got %v", maxTimeout, c.ResultsTimeout)
				}
			},
		},
		{
			name:   "format filter normalised",
			modify: func(c *Config) { c.FormatFilter = "  MP4 " },
			check: func(t *testing.T, c *Config) {
				if c.FormatFilter != "mp4" {
					t.Errorf("Expected 'mp4', got %q", c.FormatFilter)
				}
			},
		},
		{
			name:   "invalid log level",
			modify: func(c *Config) { c.LogLevel = "verbose" },
			check: func(t *testing.T, c *Config) {
				if c.LogLevel != "info" {
					t.Errorf("Expected 'info', got %q", c.LogLevel)
				}
			},
		},
		{
			name:   "hot reload without path",
			modify: func(c *Config) { c.SelectorsHotReload = true; c.SelectorsPath = "" },
			check: func(t *testing.T, c *Config) {
				if c.SelectorsHotReload {
					t.Error("Expected hot reload to be disabled without a path")
				}
			},
		},
		{
			name: "prometheus port conflict",
			modify: func(c *Config) {
				c.PrometheusEnabled = true
				c.PrometheusPort = c.Port
			},
			check: func(t *testing.T, c *Config) {
				if c.PrometheusEnabled {
					t.Error("Expected metrics server to be disabled on port conflict")
				}
			},
		},
		{
			name:   "cache size zero",
			modify: func(c *Config) { c.CacheMaxEntries = 0 },
			check: func(t *testing.T, c *Config) {
				if c.CacheMaxEntries != 1000 {
					t.Errorf("Expected 1000, got %d", c.CacheMaxEntries)
				}
			},
		},
		{
			name:   "rate limit burst zero",
			modify: func(c *Config) { c.RateLimitBurst = 0 },
			check: func(t *testing.T, c *Config) {
				if c.RateLimitBurst != 1 {
					t.Errorf("Expected burst 1, got %d", c.RateLimitBurst)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := Load()
			tt.modify(cfg)
			cfg.Validate()
			tt.check(t, cfg)
		})
	}
}
