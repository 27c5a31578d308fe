// Package stats tracks resolve outcomes per target video domain.
package stats

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/types"
)

// maxDomains is the maximum number of domains to track before LRU eviction.
const maxDomains = 10000

// evictionBatchSize is the number of domains to evict at once to reduce eviction overhead.
const evictionBatchSize = 100

// maxCounterValue bounds counters well below int64 overflow.
const maxCounterValue int64 = 1 << 62

// Outcome describes one finished resolve request.
type Outcome struct {
	Latency time.Duration
	Rows    int
	Cached  bool
	Err     error // nil on success
}

// DomainStats tracks request statistics for a single domain.
type DomainStats struct {
	mu sync.RWMutex

	requestCount   int64
	successCount   int64
	cacheHits      int64
	rowsReturned   int64
	totalLatencyMs int64
	errorsByKind   map[types.ErrorKind]int64

	lastRequest time.Time
	lastSuccess time.Time
	lastError   string
	lastAccess  time.Time // For LRU eviction
}

// DomainStatsJSON is the serialized form served on /stats.
type DomainStatsJSON struct {
	RequestCount    int64                     `json:"requestCount"`
	SuccessCount    int64                     `json:"successCount"`
	ErrorCount      int64                     `json:"errorCount"`
	ErrorsByKind    map[types.ErrorKind]int64 `json:"errorsByKind,omitempty"`
	CacheHits       int64                     `json:"cacheHits"`
	RowsReturned    int64                     `json:"rowsReturned"`
	AvgLatencyMs    int64                     `json:"avgLatencyMs"`
	SuccessRate     float64                   `json:"successRate"`
	LastRequestTime *time.Time                `json:"lastRequestTime,omitempty"`
	LastSuccessTime *time.Time                `json:"lastSuccessTime,omitempty"`
	LastError       string                    `json:"lastError,omitempty"`
}

// ToJSON returns a consistent snapshot of s.
func (s *DomainStats) ToJSON() DomainStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := DomainStatsJSON{
		RequestCount: s.requestCount,
		SuccessCount: s.successCount,
		ErrorCount:   s.requestCount - s.successCount,
		CacheHits:    s.cacheHits,
		RowsReturned: s.rowsReturned,
		LastError:    s.lastError,
	}
	if s.requestCount > 0 {
		out.AvgLatencyMs = s.totalLatencyMs / s.requestCount
		out.SuccessRate = float64(s.successCount) / float64(s.requestCount)
	}
	if len(s.errorsByKind) > 0 {
		out.ErrorsByKind = make(map[types.ErrorKind]int64, len(s.errorsByKind))
		for k, v := range s.errorsByKind {
			out.ErrorsByKind[k] = v
		}
	}
	if !s.lastRequest.IsZero() {
		t := s.lastRequest
		out.LastRequestTime = &t
	}
	if !s.lastSuccess.IsZero() {
		t := s.lastSuccess
		out.LastSuccessTime = &t
	}
	return out
}

func (s *DomainStats) resetLocked() {
	s.requestCount = 0
	s.successCount = 0
	s.cacheHits = 0
	s.rowsReturned = 0
	s.totalLatencyMs = 0
	s.errorsByKind = nil
	s.lastRequest = time.Time{}
	s.lastSuccess = time.Time{}
	s.lastError = ""
}

// Manager manages statistics for all target domains.
type Manager struct {
	mu      sync.RWMutex
	domains map[string]*DomainStats

	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	staleTime time.Duration
}

// NewManager creates a Manager that forgets domains idle for more than
// staleAfter. A zero staleAfter keeps domains until LRU eviction.
func NewManager(staleAfter time.Duration) *Manager {
	m := &Manager{
		domains:   make(map[string]*DomainStats),
		stopCh:    make(chan struct{}),
		staleTime: staleAfter,
	}

	if staleAfter > 0 {
		m.wg.Add(1)
		go m.cleanupRoutine()
	}
	return m
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	interval := m.staleTime / 6
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStale(m.staleTime)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanupStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed int
	for domain, s := range m.domains {
		s.mu.RLock()
		lastAccess := s.lastAccess
		s.mu.RUnlock()

		if now.Sub(lastAccess) > maxAge {
			delete(m.domains, domain)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", len(m.domains)).
			Msg("Cleaned up stale domain stats")
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// ExtractDomain returns the lowercased host of rawURL without port, or ""
// when rawURL has none.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

func (m *Manager) getOrCreate(domain string) *DomainStats {
	m.mu.Lock()
	s, exists := m.domains[domain]
	if !exists {
		if len(m.domains) >= maxDomains {
			m.evictOldestBatchLocked(evictionBatchSize)
		}
		s = &DomainStats{lastAccess: time.Now()}
		m.domains[domain] = s
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
	return s
}

// evictOldestBatchLocked removes the count least recently used domains.
// Caller must hold m.mu.
func (m *Manager) evictOldestBatchLocked(count int) {
	if count <= 0 || len(m.domains) == 0 {
		return
	}
	if len(m.domains) <= count {
		clear(m.domains)
		return
	}

	type domainTime struct {
		domain     string
		lastAccess time.Time
	}
	candidates := make([]domainTime, 0, len(m.domains))
	for domain, s := range m.domains {
		s.mu.RLock()
		candidates = append(candidates, domainTime{domain, s.lastAccess})
		s.mu.RUnlock()
	}

	// Partial selection sort: the batch is small next to maxDomains
	for i := 0; i < count; i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].lastAccess.Before(candidates[minIdx].lastAccess) {
				minIdx = j
			}
		}
		candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
		delete(m.domains, candidates[i].domain)
	}
}

// Record adds one finished request for domain.
func (m *Manager) Record(domain string, o Outcome) {
	if domain == "" {
		return
	}
	s := m.getOrCreate(domain)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requestCount >= maxCounterValue {
		log.Warn().
			Str("domain", domain).
			Int64("request_count", s.requestCount).
			Msg("Counter overflow protection triggered, resetting stats")
		s.resetLocked()
	}

	now := time.Now()
	latencyMs := o.Latency.Milliseconds()
	s.requestCount++
	if s.totalLatencyMs < maxCounterValue-latencyMs {
		s.totalLatencyMs += latencyMs
	}
	s.lastRequest = now

	if o.Cached {
		s.cacheHits++
	}

	if o.Err == nil {
		s.successCount++
		s.rowsReturned += int64(o.Rows)
		s.lastSuccess = now
		return
	}

	if s.errorsByKind == nil {
		s.errorsByKind = make(map[types.ErrorKind]int64)
	}
	s.errorsByKind[types.KindOf(o.Err)]++
	s.lastError = o.Err.Error()
}

// Get returns the stats of domain, or nil if it is not tracked.
func (m *Manager) Get(domain string) *DomainStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.domains[domain]
}

// AllStats returns a snapshot of every tracked domain.
func (m *Manager) AllStats() map[string]DomainStatsJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]DomainStatsJSON, len(m.domains))
	for domain, s := range m.domains {
		result[domain] = s.ToJSON()
	}
	return result
}

// Reset forgets domain.
func (m *Manager) Reset(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, domain)
}

// ResetAll forgets every domain.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.domains)
}

// DomainCount returns the number of tracked domains.
func (m *Manager) DomainCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains)
}
