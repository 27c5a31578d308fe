package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxClients is the maximum number of tracked clients to prevent memory exhaustion.
const maxClients = 10000

const (
	cleanupInterval = 5 * time.Minute
	staleAfter      = 10 * time.Minute
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*limiterEntry
	limit      rate.Limit
	burst      int
	trustProxy bool // whether to trust X-Forwarded-For headers
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter refilling requestsPerMinute tokens a
// minute with room for burst back to back requests. Close stops its
// cleanup goroutine.
func NewRateLimiter(requestsPerMinute, burst int, trustProxy bool) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}

	rl := &RateLimiter{
		clients:    make(map[string]*limiterEntry),
		limit:      rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:      burst,
		trustProxy: trustProxy,
		stopCh:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		rl.cleanupRoutine()
	}()

	return rl
}

// Allow reports whether a request from ip may proceed now.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.entry(ip).Allow()
}

// RetryAfter is how long ip must wait for its next token.
func (rl *RateLimiter) RetryAfter(ip string) time.Duration {
	r := rl.entry(ip).Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (rl *RateLimiter) entry(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, exists := rl.clients[ip]
	if !exists {
		if len(rl.clients) >= maxClients {
			rl.evictOldest()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStale(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanupStale(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, e := range rl.clients {
		if now.Sub(e.lastSeen) > staleAfter {
			delete(rl.clients, ip)
		}
	}
}

// evictOldest removes the least recently seen client.
// Must be called while holding rl.mu.
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time

	for ip, e := range rl.clients {
		if oldestIP == "" || e.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = e.lastSeen
		}
	}

	if oldestIP != "" {
		delete(rl.clients, oldestIP)
	}
}

// Close stops the cleanup routine and waits for it to finish. It is idempotent.
func (rl *RateLimiter) Close() {
	rl.closeOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

// GetClientIP extracts the client IP from the request.
func (rl *RateLimiter) GetClientIP(r *http.Request) string {
	return getClientIP(r, rl.trustProxy)
}

// Middleware rejects clients over their budget with 429. Health probes are
// never limited.
//
// Create one RateLimiter per server and reuse its Middleware for every route;
// separate instances keep separate counters.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ip := rl.GetClientIP(r)
		if !rl.Allow(ip) {
			retry := int(rl.RetryAfter(ip).Seconds()) + 1
			log.Debug().Str("client", maskIP(ip)).Int("retry_after", retry).Msg("Rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeErrorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// normalizeIP validates and normalizes an IP address string.
// Returns a canonical IP string or the original string if invalid.
// This prevents bypass attempts using IPv6 variations.
func normalizeIP(ipStr string) string {
	ipStr = strings.TrimSpace(ipStr)
	if ipStr == "" {
		return ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ipStr
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// getClientIP extracts the client IP from the request.
// When trustProxy is false (default), only RemoteAddr is used to prevent IP spoofing.
// When trustProxy is true, X-Forwarded-For and X-Real-IP headers are checked first.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Leftmost entry is the original client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ipStr, _, _ := strings.Cut(xff, ",")
			if normalized := normalizeIP(ipStr); normalized != "" {
				return normalized
			}
		}

		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if normalized := normalizeIP(xri); normalized != "" {
				return normalized
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return normalizeIP(ip)
}
