// Package browser provides browser pool management for efficient resource usage.
// The pool maintains a fixed number of browser instances that are lent to
// requests one at a time and reused across them.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/vidresolver-go/internal/config"
	"github.com/Rorqualx/vidresolver-go/internal/metrics"
	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

const (
	probeTimeout = 5 * time.Second
	spawnTimeout = 30 * time.Second
	closeTimeout = 10 * time.Second
)

// Pool manages a fixed set of reusable browser instances.
//
// The pool pre-warms every browser at startup. A browser is either waiting in
// the available channel, lent to exactly one caller, or being checked after
// its release. A released browser is probed in the background and goes back
// to the channel, or is replaced if it died or grew too old.
//
// Lock ordering: never hold mu while performing slow I/O operations.
type Pool struct {
	mu        sync.Mutex
	entries   map[*rod.Browser]*browserEntry
	available chan *rod.Browser
	config    *config.Config
	closed    atomic.Bool

	// Closed on shutdown so background recycles abandon their spawn
	stopCh chan struct{}

	// Tracks background release checks and recycles
	wg sync.WaitGroup

	availableCount atomic.Int32
	lentCount      atomic.Int32
	waiting        atomic.Int32

	spawn        func(ctx context.Context) (*rod.Browser, error)
	closeBrowser func(b *rod.Browser) error
	probe        func(b *rod.Browser) error

	stats PoolStats
}

// browserEntry tracks metadata for each browser owned by the pool.
type browserEntry struct {
	createdAt time.Time
	useCount  int64
	lent      bool
}

// PoolStats provides statistics about pool usage.
type PoolStats struct {
	Acquired atomic.Int64
	Released atomic.Int64
	Recycled atomic.Int64
	Errors   atomic.Int64
}

// NewPool creates a new browser pool with the specified configuration.
// It pre-warms the pool by launching the configured number of browsers.
//
// This function blocks until all browsers are ready or an error occurs.
// If any browser fails to launch, the browsers already started are closed
// and an error is returned.
func NewPool(cfg *config.Config) (*Pool, error) {
	p := newPool(cfg)
	p.spawn = p.spawnBrowser
	p.closeBrowser = func(b *rod.Browser) error { return b.Close() }
	p.probe = checkAlive
	if err := p.warm(); err != nil {
		return nil, err
	}
	return p, nil
}

// newPool allocates an empty pool; callers set the hooks and call warm.
func newPool(cfg *config.Config) *Pool {
	return &Pool{
		config:    cfg,
		entries:   make(map[*rod.Browser]*browserEntry, cfg.BrowserPoolSize),
		available: make(chan *rod.Browser, cfg.BrowserPoolSize),
		stopCh:    make(chan struct{}),
	}
}

// warm launches BrowserPoolSize browsers into the available channel.
func (p *Pool) warm() error {
	log.Info().
		Int("pool_size", p.config.BrowserPoolSize).
		Bool("headless", p.config.Headless).
		Str("browser_path", p.config.BrowserPath).
		Msg("Initializing browser pool")

	for i := 0; i < p.config.BrowserPoolSize; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
		b, err := p.spawn(ctx)
		cancel()
		if err != nil {
			log.Error().Err(err).Int("browser_index", i).Msg("Failed to spawn browser during pool initialization")
			if closeErr := p.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
			}
			return types.NewPoolLaunchError(i, err)
		}

		p.mu.Lock()
		p.entries[b] = &browserEntry{createdAt: time.Now()}
		p.mu.Unlock()
		p.available <- b
		p.availableCount.Add(1)

		log.Debug().Int("browser_index", i).Msg("Browser spawned and added to pool")
	}

	log.Info().
		Int("pool_size", p.config.BrowserPoolSize).
		Msg("Browser pool initialized successfully")
	return nil
}

// createLauncher creates a configured Rod launcher.
func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.config.BrowserPath != "" {
		l = l.Bin(p.config.BrowserPath)
	}

	if p.config.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if p.config.ProxyURL != "" {
		l = l.Set("proxy-server", p.config.ProxyURL)
		log.Debug().Str("proxy", security.RedactProxyURL(p.config.ProxyURL)).Msg("Browser proxy configured")
	}

	// Never leak the host address through WebRTC
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// navigator.webdriver must stay false
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,WebRtcHideLocalIpsWithMdns")

	if p.config.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors")
	}

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-renderer-backgrounding").
		Set("disable-gpu-sandbox")

	if isARM() {
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// spawnBrowser launches and connects one browser.
// Each call creates a fresh launcher since launchers can only be used once.
func (p *Pool) spawnBrowser(ctx context.Context) (*rod.Browser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	log.Debug().Msg("Spawning new browser instance")

	l := p.createLauncher().Context(ctx)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if p.config.IgnoreCertErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	log.Debug().Str("url", url).Msg("Browser spawned successfully")
	return b, nil
}

// checkAlive returns an error wrapping ErrBrowserUnhealthy when the browser
// no longer answers CDP calls.
func checkAlive(b *rod.Browser) error {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	if _, err := (proto.BrowserGetVersion{}).Call(b.Context(ctx)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBrowserUnhealthy, err)
	}
	return nil
}

// Acquire obtains a browser from the pool.
// It blocks until a browser is available, the context is canceled,
// or the pool timeout is reached.
//
// The caller MUST call Release() when done with the browser:
//
//	browser, err := pool.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Release(browser)
func (p *Pool) Acquire(ctx context.Context) (*rod.Browser, error) {
	if p.closed.Load() {
		return nil, types.ErrBrowserPoolClosed
	}

	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	timer := time.NewTimer(p.config.BrowserPoolTimeout)
	defer timer.Stop()

	log.Debug().
		Int32("available", p.availableCount.Load()).
		Int32("waiting", p.waiting.Load()).
		Msg("Acquiring browser from pool")

	select {
	case b, ok := <-p.available:
		if !ok {
			return nil, types.ErrBrowserPoolClosed
		}
		p.availableCount.Add(-1)

		p.mu.Lock()
		if p.closed.Load() {
			// Close drained the channel after we received; this one is ours to close
			delete(p.entries, b)
			p.mu.Unlock()
			p.closeQuietly(b, "pool closed during acquire")
			return nil, types.ErrBrowserPoolClosed
		}
		entry, tracked := p.entries[b]
		if !tracked {
			entry = &browserEntry{createdAt: time.Now()}
			p.entries[b] = entry
		}
		entry.lent = true
		entry.useCount++
		p.mu.Unlock()

		p.lentCount.Add(1)
		p.stats.Acquired.Add(1)
		metrics.BrowserPoolAcquired.Inc()

		log.Debug().
			Int64("total_acquired", p.stats.Acquired.Load()).
			Msg("Browser acquired from pool")
		return b, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, ctx.Err())

	case <-timer.C:
		p.stats.Errors.Add(1)
		return nil, types.ErrBrowserPoolTimeout
	}
}

// Release returns a browser to the pool, unblocking one waiter.
//
// Releasing nil or a browser that is not currently lent is a no-op, so a
// browser can never end up in the pool twice. Release does not wait for the
// liveness probe: the browser is checked in the background and replaced if
// it is dead or older than BrowserMaxAge.
func (p *Pool) Release(b *rod.Browser) {
	if b == nil {
		return
	}

	p.mu.Lock()
	entry, ok := p.entries[b]
	if !ok || !entry.lent {
		p.mu.Unlock()
		log.Warn().Msg("Release of a browser that is not lent, ignoring")
		return
	}
	entry.lent = false
	p.lentCount.Add(-1)
	p.stats.Released.Add(1)

	if p.closed.Load() {
		delete(p.entries, b)
		p.mu.Unlock()
		p.closeQuietly(b, "released after pool close")
		return
	}

	aged := p.config.BrowserMaxAge > 0 && time.Since(entry.createdAt) > p.config.BrowserMaxAge
	// Added under mu so Close cannot start waiting before the check is tracked
	p.wg.Add(1)
	p.mu.Unlock()
	go p.checkReleased(b, aged)
}

// checkReleased probes a released browser and puts it back in the channel,
// or hands it to recycleBrowser. Must be started with p.wg incremented.
func (p *Pool) checkReleased(b *rod.Browser, aged bool) {
	defer p.wg.Done()

	var probeErr error
	if !aged {
		// Outside the lock, it is a CDP round trip
		probeErr = p.probe(b)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		delete(p.entries, b)
		go p.closeQuietly(b, "pool closed during release")
		return
	}

	if aged || probeErr != nil {
		if probeErr != nil {
			log.Warn().Err(probeErr).Msg("Released browser failed liveness probe")
		}
		delete(p.entries, b)
		p.wg.Add(1)
		go p.recycleBrowser(b, probeErr == nil)
		return
	}

	select {
	case p.available <- b:
		p.availableCount.Add(1)
		log.Debug().
			Int64("total_released", p.stats.Released.Load()).
			Msg("Browser released to pool")
	default:
		// Cannot happen while entries is bounded by the channel capacity
		delete(p.entries, b)
		log.Warn().Msg("Pool is full, closing excess browser")
		go p.closeQuietly(b, "excess browser")
	}
}

// recycleBrowser closes old and launches its replacement.
// If the replacement fails to launch, the pool shrinks by one.
// Must be started with p.wg incremented.
func (p *Pool) recycleBrowser(old *rod.Browser, alive bool) {
	defer p.wg.Done()

	p.stats.Recycled.Add(1)
	metrics.BrowserPoolRecycled.Inc()
	if alive {
		log.Info().Int64("total_recycled", p.stats.Recycled.Load()).Msg("Recycling aged browser")
	} else {
		p.stats.Errors.Add(1)
		log.Warn().Int64("total_recycled", p.stats.Recycled.Load()).Msg("Recycling dead browser")
	}

	p.closeWithTimeout(old, closeTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), spawnTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	fresh, err := p.spawn(ctx)
	if err != nil {
		p.stats.Errors.Add(1)
		log.Error().
			Err(err).
			Int("live", p.Live()).
			Msg("Failed to spawn replacement browser, pool shrinks")
		return
	}

	p.addBrowserToPool(fresh)
}

// addBrowserToPool safely adds a freshly spawned browser to the pool.
func (p *Pool) addBrowserToPool(b *rod.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		go p.closeQuietly(b, "pool closed before replacement was added")
		return
	}

	select {
	case p.available <- b:
		p.entries[b] = &browserEntry{createdAt: time.Now()}
		p.availableCount.Add(1)
		log.Info().Msg("Replacement browser added to pool")
	default:
		log.Warn().Msg("Pool is full, closing replacement browser")
		go p.closeQuietly(b, "excess replacement")
	}
}

// closeWithTimeout closes a browser, giving up waiting after timeout.
func (p *Pool) closeWithTimeout(b *rod.Browser, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.closeQuietly(b, "recycle")
	}()

	select {
	case <-done:
	case <-p.stopCh:
		log.Warn().Msg("Browser close wait abandoned during pool shutdown")
	case <-time.After(timeout):
		p.stats.Errors.Add(1)
		log.Warn().Dur("timeout", timeout).Msg("Browser close timed out")
	}
}

func (p *Pool) closeQuietly(b *rod.Browser, reason string) {
	if err := p.closeBrowser(b); err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("Error closing browser")
	}
}

// Size returns the configured pool capacity.
func (p *Pool) Size() int {
	return p.config.BrowserPoolSize
}

// Live returns the number of browsers the pool currently owns, lent or not.
// It is below Size only after failed replacements.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Available returns the number of browsers ready to be acquired.
func (p *Pool) Available() int {
	if p.closed.Load() {
		return 0
	}
	return int(p.availableCount.Load())
}

// InUse returns the number of browsers currently lent.
func (p *Pool) InUse() int {
	return int(p.lentCount.Load())
}

// Waiting returns the number of callers blocked in Acquire.
func (p *Pool) Waiting() int {
	return int(p.waiting.Load())
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// PoolStatsSnapshot holds a point-in-time snapshot of pool statistics.
type PoolStatsSnapshot struct {
	Acquired int64
	Released int64
	Recycled int64
	Errors   int64
}

// Stats returns a snapshot of the current pool statistics.
func (p *Pool) Stats() PoolStatsSnapshot {
	return PoolStatsSnapshot{
		Acquired: p.stats.Acquired.Load(),
		Released: p.stats.Released.Load(),
		Recycled: p.stats.Recycled.Load(),
		Errors:   p.stats.Errors.Load(),
	}
}

// Close shuts down the pool and releases all resources.
// After Close is called, Acquire returns ErrBrowserPoolClosed.
// Browsers still lent are closed when they are released.
//
// Close is safe to call multiple times.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	// Closed under the lock so no Release or recycle can send afterwards
	close(p.available)
	p.mu.Unlock()

	log.Info().Msg("Closing browser pool")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(spawnTimeout):
		log.Warn().Msg("Timeout waiting for browser recycles to stop")
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)

	closedCount := 0
	for b := range p.available {
		p.availableCount.Add(-1)
		p.mu.Lock()
		delete(p.entries, b)
		p.mu.Unlock()

		browser := b
		closedCount++
		eg.Go(func() error {
			if err := p.closeBrowser(browser); err != nil {
				log.Warn().Err(err).Msg("Error closing browser during pool shutdown")
				return err
			}
			return nil
		})
	}
	closeErr := eg.Wait()

	log.Info().
		Int("closed", closedCount).
		Int("still_lent", p.InUse()).
		Int64("total_acquired", p.stats.Acquired.Load()).
		Int64("total_released", p.stats.Released.Load()).
		Int64("total_recycled", p.stats.Recycled.Load()).
		Int64("total_errors", p.stats.Errors.Load()).
		Msg("Browser pool closed")

	return closeErr
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
