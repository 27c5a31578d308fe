// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxBrowserPoolSize = 20
	maxTimeout         = 10 * time.Minute
	maxRateLimitRPM    = 10000 // Maximum requests per minute per IP
	maxCacheEntries    = 100000
	minAPIKeyLength    = 16 // Minimum API key length for security
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless         bool
	BrowserPath      string
	IgnoreCertErrors bool

	// Pool settings
	BrowserPoolSize    int
	BrowserPoolTimeout time.Duration // Longest an Acquire waits for a free browser
	BrowserMaxAge      time.Duration // Browsers older than this are replaced on release

	// Egress proxy for the browsers
	ProxyURL      string
	ProxyUsername string
	ProxyPassword string

	// Resolver site
	SiteURL           string        // Overrides the site contract URL when set
	NavigationTimeout time.Duration // Loading the resolver page
	ElementTimeout    time.Duration // Finding the form input and button
	ResultsTimeout    time.Duration // Waiting for the results container
	RequestTimeout    time.Duration // Whole HTTP request
	FormatFilter      string        // Only rows of this format are returned; "any" disables
	HumanizeTyping    bool
	BlockResources    bool

	// Result cache
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int
	RedisURL        string

	// Logging
	LogLevel string

	// Profiling
	PProfEnabled  bool
	PProfPort     int
	PProfBindAddr string // Bind address for pprof server (default: localhost only)

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Security
	RateLimitEnabled   bool
	RateLimitRPM       int      // Requests per minute per IP
	RateLimitBurst     int      // Requests a client may make back to back
	TrustProxy         bool     // Trust X-Forwarded-For headers (only enable behind a reverse proxy)
	CORSAllowedOrigins []string // Allowed CORS origins (empty = reject cross-origin)

	// API Key Authentication
	APIKeyEnabled bool
	APIKey        string

	// Selectors settings
	SelectorsPath      string // Path to external site contract override file
	SelectorsHotReload bool   // Enable file watching for hot-reload of the site contract
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost so the service is not exposed by accident
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8080),

		// Browser
		Headless:         getEnvBool("HEADLESS", true),
		BrowserPath:      getEnvString("BROWSER_PATH", getEnvString("PUPPETEER_EXECUTABLE_PATH", "")),
		IgnoreCertErrors: getEnvBool("IGNORE_CERT_ERRORS", false),

		// Pool
		BrowserPoolSize:    getEnvInt("BROWSER_POOL_SIZE", 3),
		BrowserPoolTimeout: getEnvDuration("BROWSER_POOL_TIMEOUT", 30*time.Second),
		BrowserMaxAge:      getEnvDuration("BROWSER_MAX_AGE", 30*time.Minute),

		// Proxy
		ProxyURL:      getEnvString("PROXY_URL", ""),
		ProxyUsername: getEnvString("PROXY_USERNAME", ""),
		ProxyPassword: getEnvString("PROXY_PASSWORD", ""),

		// Resolver site
		SiteURL:           getEnvString("RESOLVER_SITE_URL", ""),
		NavigationTimeout: getEnvDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		ElementTimeout:    getEnvDuration("ELEMENT_TIMEOUT", 10*time.Second),
		ResultsTimeout:    getEnvDuration("RESULTS_TIMEOUT", 30*time.Second),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 90*time.Second),
		FormatFilter:      getEnvString("FORMAT_FILTER", "mp4"),
		HumanizeTyping:    getEnvBool("HUMANIZE_TYPING", false),
		BlockResources:    getEnvBool("BLOCK_RESOURCES", true),

		// Cache
		CacheEnabled:    getEnvBool("CACHE_ENABLED", true),
		CacheTTL:        getEnvDuration("CACHE_TTL", 5*time.Minute),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),
		RedisURL:        getEnvString("REDIS_URL", ""),

		// Logging
		LogLevel: getEnvString("LOG_LEVEL", "info"),

		// Profiling - disabled by default
		PProfEnabled:  getEnvBool("PPROF_ENABLED", false),
		PProfPort:     getEnvInt("PPROF_PORT", 6060),
		PProfBindAddr: getEnvString("PPROF_BIND_ADDR", "127.0.0.1"),

		// Metrics
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9090),

		// Security
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", 60),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),
		TrustProxy:         getEnvBool("TRUST_PROXY", false),
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),

		// API Key Authentication
		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),

		// Selectors settings
		SelectorsPath:      getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("SELECTORS_HOT_RELOAD", false),
	}
}

// HasProxy returns true if an egress proxy is configured.
func (c *Config) HasProxy() bool {
	return c.ProxyURL != ""
}

// FormatFilterEnabled reports whether rows are restricted to one format.
func (c *Config) FormatFilterEnabled() bool {
	return c.FormatFilter != "" && !strings.EqualFold(c.FormatFilter, "any")
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	// Port validation - allow 0 for system-assigned ports
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8080")
		c.Port = 8080
	}

	c.BrowserPath = validatePath("BrowserPath", c.BrowserPath)

	// Pool size validation with upper bound
	if c.BrowserPoolSize < 1 {
		log.Warn().Int("size", c.BrowserPoolSize).Msg("Invalid pool size, using default 3")
		c.BrowserPoolSize = 3
	} else if c.BrowserPoolSize > maxBrowserPoolSize {
		log.Warn().
			Int("size", c.BrowserPoolSize).
			Int("max", maxBrowserPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.BrowserPoolSize = maxBrowserPoolSize
	}

	c.BrowserPoolTimeout = clampDuration("BROWSER_POOL_TIMEOUT", c.BrowserPoolTimeout, time.Second, 5*time.Minute)
	c.BrowserMaxAge = clampDuration("BROWSER_MAX_AGE", c.BrowserMaxAge, time.Minute, 24*time.Hour)
	c.NavigationTimeout = clampDuration("NAVIGATION_TIMEOUT", c.NavigationTimeout, time.Second, maxTimeout)
	c.ElementTimeout = clampDuration("ELEMENT_TIMEOUT", c.ElementTimeout, time.Second, maxTimeout)
	c.ResultsTimeout = clampDuration("RESULTS_TIMEOUT", c.ResultsTimeout, time.Second, maxTimeout)
	c.RequestTimeout = clampDuration("REQUEST_TIMEOUT", c.RequestTimeout, time.Second, maxTimeout)

	// The request bound must leave room for the acquire wait plus the scrape steps
	needed := c.NavigationTimeout + c.ElementTimeout + c.ResultsTimeout
	if c.RequestTimeout < needed {
		log.Warn().
			Dur("request_timeout", c.RequestTimeout).
			Dur("scrape_budget", needed).
			Msg("REQUEST_TIMEOUT is shorter than the scrape step timeouts combined, requests may be cut short")
	}

	c.FormatFilter = strings.ToLower(strings.TrimSpace(c.FormatFilter))

	// Cache validation
	if c.CacheEnabled {
		if c.CacheMaxEntries < 1 {
			log.Warn().Int("entries", c.CacheMaxEntries).Msg("Invalid cache size, using 1000")
			c.CacheMaxEntries = 1000
		} else if c.CacheMaxEntries > maxCacheEntries {
			log.Warn().
				Int("entries", c.CacheMaxEntries).
				Int("max", maxCacheEntries).
				Msg("Cache size too large, capping to maximum")
			c.CacheMaxEntries = maxCacheEntries
		}
		c.CacheTTL = clampDuration("CACHE_TTL", c.CacheTTL, time.Second, 24*time.Hour)
	}
	if c.RedisURL != "" && !c.CacheEnabled {
		log.Warn().Msg("REDIS_URL set but CACHE_ENABLED is false - Redis will not be used")
	}

	// Rate limit validation with upper bound
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 60 RPM")
			c.RateLimitRPM = 60
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
		if c.RateLimitBurst < 1 {
			log.Warn().Int("burst", c.RateLimitBurst).Msg("Invalid rate limit burst, using 1")
			c.RateLimitBurst = 1
		}
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	// PProf security warning
	if c.PProfEnabled && c.PProfBindAddr != "127.0.0.1" && c.PProfBindAddr != "localhost" {
		log.Warn().
			Str("addr", c.PProfBindAddr).
			Msg("WARNING: pprof exposed on non-localhost address - this is a security risk")
	}

	if c.IgnoreCertErrors {
		log.Warn().Msg("IGNORE_CERT_ERRORS enabled - browser certificate validation is off")
	}

	// Proxy URL and credential validation
	if c.ProxyURL != "" {
		if !strings.Contains(c.ProxyURL, "://") {
			log.Error().
				Str("proxy_url", c.ProxyURL).
				Msg("ProxyURL missing scheme (should be http://, https://, socks4://, or socks5://)")
		} else {
			scheme := strings.ToLower(strings.SplitN(c.ProxyURL, "://", 2)[0])
			validSchemes := map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true}
			if !validSchemes[scheme] {
				log.Error().
					Str("scheme", scheme).
					Msg("ProxyURL has invalid scheme (must be http, https, socks4, or socks5)")
			}
			if strings.Contains(c.ProxyURL, "@") {
				log.Warn().Msg("ProxyURL contains embedded credentials (@) - use PROXY_USERNAME and PROXY_PASSWORD instead")
			}
		}
	}
	if (c.ProxyUsername != "" || c.ProxyPassword != "") && c.ProxyURL == "" {
		log.Warn().Msg("Proxy credentials set but PROXY_URL is empty - credentials will not be used")
	}

	// Port conflict validation
	usedPorts := make(map[int]string)
	if c.Port > 0 {
		usedPorts[c.Port] = "PORT"
	}
	if c.PrometheusEnabled {
		if existing, ok := usedPorts[c.PrometheusPort]; ok {
			log.Error().
				Int("port", c.PrometheusPort).
				Str("conflicts_with", existing).
				Msg("PROMETHEUS_PORT conflicts with another port, disabling metrics server")
			c.PrometheusEnabled = false
		} else {
			usedPorts[c.PrometheusPort] = "PROMETHEUS_PORT"
		}
	}
	if c.PProfEnabled {
		if existing, ok := usedPorts[c.PProfPort]; ok {
			log.Error().
				Int("port", c.PProfPort).
				Str("conflicts_with", existing).
				Msg("PPROF_PORT conflicts with another port, disabling pprof")
			c.PProfEnabled = false
		}
	}

	c.SelectorsPath = validatePath("SelectorsPath", c.SelectorsPath)
	if c.SelectorsHotReload && c.SelectorsPath != "" {
		if _, err := os.Stat(c.SelectorsPath); os.IsNotExist(err) {
			log.Warn().
				Str("path", c.SelectorsPath).
				Msg("SelectorsPath does not exist - hot-reload will watch for file creation")
		}
	}
	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}

	// API key validation with minimum length enforcement
	if c.APIKeyEnabled {
		switch {
		case c.APIKey == "":
			log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - authentication will always fail")
		case len(c.APIKey) < minAPIKeyLength:
			log.Error().
				Int("length", len(c.APIKey)).
				Int("min_required", minAPIKeyLength).
				Msg("API_KEY is too short for secure authentication - consider using a longer key")
		}
	}
}

// validatePath rejects paths with traversal sequences and warns on relative paths.
func validatePath(name, path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "..") {
		log.Error().
			Str("path", path).
			Msg(name + " contains path traversal sequence (..), ignoring")
		return ""
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "C:") && !strings.HasPrefix(path, "c:") {
		log.Warn().
			Str("path", path).
			Msg(name + " should be an absolute path")
	}
	return path
}

// clampDuration bounds d to [min, max], logging when it has to.
func clampDuration(key string, d, min, max time.Duration) time.Duration {
	if d < min {
		log.Warn().
			Dur("value", d).
			Dur("min", min).
			Msg(key + " too short, using minimum")
		return min
	}
	if d > max {
		log.Warn().
			Dur("value", d).
			Dur("max", max).
			Msg(key + " too long, using maximum")
		return max
	}
	return d
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		// ParseInt with an explicit bit size catches overflow
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			// Reject negative or zero durations
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Parse comma-separated values, trimming whitespace
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
