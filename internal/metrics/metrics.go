// Package metrics provides Prometheus metrics for monitoring the resolver.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP API requests by endpoint and status code.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidresolver_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration tracks API request duration by endpoint.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidresolver_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"endpoint"},
	)

	// ScrapesTotal counts resolve outcomes: "success" or an error kind.
	ScrapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidresolver_scrapes_total",
			Help: "Total resolve attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ScrapeDuration tracks the time spent driving the resolver site.
	ScrapeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidresolver_scrape_duration_seconds",
			Help:    "Time spent scraping the resolver site",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to 128s
		},
	)

	// RowsReturned tracks how many rows successful resolves return.
	RowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidresolver_rows_returned",
			Help:    "Rows returned per successful resolve",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// BrowserPoolSize shows the configured pool size.
	BrowserPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_browser_pool_size",
			Help: "Configured browser pool size",
		},
	)

	// BrowserPoolAvailable shows idle browsers in the pool.
	BrowserPoolAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_browser_pool_available",
			Help: "Available browsers in pool",
		},
	)

	// BrowserPoolInUse shows browsers currently lent out.
	BrowserPoolInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_browser_pool_in_use",
			Help: "Browsers currently lent to requests",
		},
	)

	// BrowserPoolWaiting shows requests blocked in Acquire.
	BrowserPoolWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_browser_pool_waiting",
			Help: "Requests waiting for a browser",
		},
	)

	// BrowserPoolAcquired counts total browser acquisitions.
	BrowserPoolAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vidresolver_browser_pool_acquired_total",
			Help: "Total browser acquisitions from pool",
		},
	)

	// BrowserPoolRecycled counts browsers replaced after dying or ageing out.
	BrowserPoolRecycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vidresolver_browser_pool_recycled_total",
			Help: "Total browsers recycled",
		},
	)

	// CacheLookups counts result cache lookups by result.
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidresolver_cache_lookups_total",
			Help: "Result cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	// SiteBlocks counts block pages seen on the resolver site by category.
	SiteBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidresolver_site_blocks_total",
			Help: "Block or rejection pages served by the resolver site",
		},
		[]string{"category"},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// MemorySysBytes shows system memory obtained.
	MemorySysBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_memory_sys_bytes",
			Help: "Total memory obtained from system",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidresolver_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vidresolver_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ScrapesTotal,
		ScrapeDuration,
		RowsReturned,
		BrowserPoolSize,
		BrowserPoolAvailable,
		BrowserPoolInUse,
		BrowserPoolWaiting,
		BrowserPoolAcquired,
		BrowserPoolRecycled,
		CacheLookups,
		SiteBlocks,
		MemoryUsageBytes,
		MemorySysBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// StartMemoryCollector periodically updates memory metrics until stopCh closes.
func StartMemoryCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateMemoryMetrics()
	for {
		select {
		case <-ticker.C:
			updateMemoryMetrics()
		case <-stopCh:
			return
		}
	}
}

func updateMemoryMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsageBytes.Set(float64(m.Alloc))
	MemorySysBytes.Set(float64(m.Sys))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RecordRequest records metrics for a completed API request.
func RecordRequest(endpoint, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordScrape records one resolve attempt that reached the browser.
// outcome is "success" or an error kind.
func RecordScrape(outcome string, duration time.Duration, rows int) {
	ScrapesTotal.WithLabelValues(outcome).Inc()
	ScrapeDuration.Observe(duration.Seconds())
	if outcome == "success" {
		RowsReturned.Observe(float64(rows))
	}
}

// RecordCacheLookup records a result cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordSiteBlock records a block page of the given category.
func RecordSiteBlock(category string) {
	SiteBlocks.WithLabelValues(category).Inc()
}

// UpdatePoolMetrics sets the browser pool gauges.
func UpdatePoolMetrics(size, available, inUse, waiting int) {
	BrowserPoolSize.Set(float64(size))
	BrowserPoolAvailable.Set(float64(available))
	BrowserPoolInUse.Set(float64(inUse))
	BrowserPoolWaiting.Set(float64(waiting))
}
