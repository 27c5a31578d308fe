// Package main provides the entry point for vidresolver.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Registers pprof handlers on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/browser"
	"github.com/Rorqualx/vidresolver-go/internal/cache"
	"github.com/Rorqualx/vidresolver-go/internal/config"
	"github.com/Rorqualx/vidresolver-go/internal/handlers"
	"github.com/Rorqualx/vidresolver-go/internal/metrics"
	"github.com/Rorqualx/vidresolver-go/internal/middleware"
	"github.com/Rorqualx/vidresolver-go/internal/resolver"
	"github.com/Rorqualx/vidresolver-go/internal/scraper"
	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/selectors"
	"github.com/Rorqualx/vidresolver-go/internal/stats"
	"github.com/Rorqualx/vidresolver-go/pkg/version"
)

// Domains untouched for this long are dropped from /stats.
const statsStaleAfter = 24 * time.Hour

func main() {
	cfg := config.Load()

	// Logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)
	cfg.Validate()

	if err := security.ValidateProxyURL(cfg.ProxyURL, true); err != nil {
		log.Fatal().Err(err).Str("proxy", security.RedactProxyURL(cfg.ProxyURL)).Msg("Invalid PROXY_URL")
	}

	printBanner()

	sites, err := selectors.NewManager(cfg.SelectorsPath, cfg.SelectorsHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load site contract")
	}

	log.Info().Msg("Initializing browser pool...")
	pool, err := browser.NewPool(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}

	var resultCache *cache.Cache
	if cfg.CacheEnabled {
		resultCache = cache.New(cache.Options{
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.CacheMaxEntries,
			RedisURL:   cfg.RedisURL,
		})
	}

	domainStats := stats.NewManager(statsStaleAfter)

	scrapeOpts := scraper.OptionsFromConfig(cfg)
	sc := scraper.New(sites, scrapeOpts)
	res := resolver.New(pool, sc, resolver.Options{
		Cache:  resultCache,
		Stats:  domainStats,
		Format: scrapeOpts.Format,
	})

	handler := handlers.New(res, pool, handlers.Options{
		Cache:   resultCache,
		Stats:   domainStats,
		SiteURL: func() string { return sc.Site().URL },
	})

	// Outermost first
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}),
		middleware.APIKey(cfg),
	}

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimitEnabled {
		log.Info().
			Int("requests_per_minute", cfg.RateLimitRPM).
			Int("burst", cfg.RateLimitBurst).
			Bool("trust_proxy", cfg.TrustProxy).
			Msg("Rate limiting enabled")
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst, cfg.TrustProxy)
		chain = append(chain, rateLimiter.Middleware)
	}
	chain = append(chain, middleware.Timeout(cfg.RequestTimeout))

	finalHandler := middleware.Chain(chain...)(handlers.NewRouter(handler))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Closed on shutdown to stop background tasks
	stopCh := make(chan struct{})

	var metricsServer *http.Server
	if cfg.PrometheusEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		go metrics.StartMemoryCollector(10*time.Second, stopCh)

		metricsAddr := fmt.Sprintf(":%d", cfg.PrometheusPort)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())

		metricsServer = &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().
				Int("port", cfg.PrometheusPort).
				Msg("Prometheus metrics server started")

			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// pprof exposes runtime internals, debugging only
	var pprofServer *http.Server
	if cfg.PProfEnabled {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.PProfBindAddr, cfg.PProfPort)
		pprofServer = &http.Server{
			Addr:         pprofAddr,
			Handler:      http.DefaultServeMux,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second, // Profiles can take time
		}

		go func() {
			log.Warn().
				Str("addr", pprofAddr).
				Msg("WARNING: pprof profiling server started - exposes runtime internals, use for debugging only")

			if err := pprofServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go func() {
		log.Info().
			Str("address", addr).
			Str("site", sc.Site().URL).
			Int("pool_size", cfg.BrowserPoolSize).
			Bool("cache_enabled", cfg.CacheEnabled).
			Bool("metrics_enabled", cfg.PrometheusEnabled).
			Bool("rate_limit_enabled", cfg.RateLimitEnabled).
			Msg("vidresolver is ready to accept requests")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	close(stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// In-flight requests finish and release their browsers before the pool closes
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	if pprofServer != nil {
		if err := pprofServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("pprof server shutdown error")
		}
	}

	if rateLimiter != nil {
		rateLimiter.Close()
	}
	domainStats.Close()
	if resultCache != nil {
		if err := resultCache.Close(); err != nil {
			log.Error().Err(err).Msg("Result cache close error")
		}
	}
	if err := sites.Close(); err != nil {
		log.Error().Err(err).Msg("Site contract watcher close error")
	}
	if err := pool.Close(); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}

	log.Info().Msg("Shutdown complete")
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
       _     _                     _
__   _(_) __| |_ __ ___  ___  ___ | |_   _____ _ __
\ \ / / |/ _' | '__/ _ \/ __|/ _ \| \ \ / / _ \ '__|
 \ V /| | (_| | | |  __/\__ \ (_) | |\ V /  __/ |
  \_/ |_|\__,_|_|  \___||___/\___/|_| \_/ \___|_|
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting vidresolver")
}
