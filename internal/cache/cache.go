// Package cache keeps resolved rows for a short time so repeated requests
// for the same video skip the browser. L1 is in memory, L2 is an optional
// Redis that survives restarts and is shared between replicas.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/vidresolver-go/internal/security"
	"github.com/Rorqualx/vidresolver-go/internal/types"
)

const (
	keyPrefix        = "vr:"
	redisDialTimeout = 3 * time.Second
	redisOpTimeout   = time.Second
)

// Options configures a Cache.
type Options struct {
	TTL             time.Duration
	MaxEntries      int
	RedisURL        string // Empty disables L2
	CleanupInterval time.Duration
}

type entry struct {
	rows      []types.ResultRow
	expiresAt time.Time
}

// Cache is a two-tier TTL cache of result rows.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	rdb        *redis.Client // nil when L2 is disabled
	ttl        time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Cache. An invalid or unreachable Redis disables L2 with a
// warning; it is never an error.
func New(opts Options) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		stopCh:     make(chan struct{}),
	}

	if opts.RedisURL != "" {
		c.rdb = connectRedis(opts.RedisURL)
	}

	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	c.wg.Add(1)
	go c.cleanupLoop(interval)

	log.Info().
		Dur("ttl", c.ttl).
		Int("max_entries", c.maxEntries).
		Bool("redis", c.rdb != nil).
		Msg("Result cache initialized")
	return c
}

func connectRedis(rawURL string) *redis.Client {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid REDIS_URL, L2 cache disabled")
		return nil
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("redis", security.RedactProxyURL(rawURL)).
			Msg("Redis unreachable, L2 cache disabled")
		_ = rdb.Close()
		return nil
	}
	log.Info().Str("addr", opts.Addr).Msg("L2 cache connected to Redis")
	return rdb
}

// Key builds the cache key of a target URL under a format filter.
func Key(targetURL, format string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(targetURL) + "|" + strings.ToLower(format)))
	return keyPrefix + hex.EncodeToString(sum[:12])
}

// Get returns the rows cached under key. An L2 hit repopulates L1.
func (c *Cache) Get(ctx context.Context, key string) ([]types.ResultRow, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if time.Now().Before(e.expiresAt) {
			c.hits.Add(1)
			log.Debug().Str("key", key).Msg("Cache L1 hit")
			return e.rows, true
		}
		c.deleteIfExpired(key, time.Now())
	}

	if c.rdb != nil {
		if rows, ok := c.getRedis(ctx, key); ok {
			c.hits.Add(1)
			c.storeL1(key, rows)
			log.Debug().Str("key", key).Msg("Cache L2 hit")
			return rows, true
		}
	}

	c.misses.Add(1)
	return nil, false
}

// deleteIfExpired removes key unless a Set stored a fresh entry after the
// caller saw the stale one.
func (c *Cache) deleteIfExpired(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !now.Before(e.expiresAt) {
		delete(c.entries, key)
	}
}

func (c *Cache) getRedis(ctx context.Context, key string) ([]types.ResultRow, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("Cache L2 get failed")
		}
		return nil, false
	}
	var rows []types.ResultRow
	if err := json.Unmarshal(data, &rows); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Discarding corrupt L2 entry")
		return nil, false
	}
	return rows, true
}

// Set stores rows under key in both tiers.
func (c *Cache) Set(ctx context.Context, key string, rows []types.ResultRow) {
	if rows == nil {
		rows = []types.ResultRow{}
	}
	c.storeL1(key, rows)

	if c.rdb == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("Cache L2 set failed")
	}
}

func (c *Cache) storeL1(key string, rows []types.ResultRow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.evictLocked()
	}
	c.entries[key] = entry{rows: rows, expiresAt: time.Now().Add(c.ttl)}
}

// evictLocked makes room for one entry: expired entries go first, then the
// ones closest to expiry. Caller must hold c.mu.
func (c *Cache) evictLocked() {
	if c.maxEntries <= 0 || len(c.entries) < c.maxEntries {
		return
	}

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	for len(c.entries) >= c.maxEntries {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.expiresAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.expiresAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of L1 entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Status reports the cache for the health endpoint.
func (c *Cache) Status() *types.CacheStatus {
	return &types.CacheStatus{
		Enabled: true,
		Entries: c.Len(),
		Redis:   c.rdb != nil,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Close stops the cleanup goroutine and closes the Redis client.
func (c *Cache) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
		if c.rdb != nil {
			err = c.rdb.Close()
		}
	})
	return err
}
