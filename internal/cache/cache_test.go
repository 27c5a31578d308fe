package cache

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/vidresolver-go/internal/types"
)

func newTestCache(t *testing.T, ttl time.Duration, maxEntries int) *Cache {
	t.Helper()
	c := New(Options{TTL: ttl, MaxEntries: maxEntries, CleanupInterval: time.Hour})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var sampleRows = []types.ResultRow{
	{Format: "mp4", Resolution: "1280x720", Link: "https://cdn.example.com/720.mp4"},
	{Format: "mp4", Resolution: "640x360", Link: "https://cdn.example.com/360.mp4"},
}

func TestKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		if Key("https://example.com/v", "mp4") != Key("https://example.com/v", "mp4") {
			t.Error("Key is not deterministic")
		}
	})

	t.Run("format is part of the key", func(t *testing.T) {
		if Key("https://example.com/v", "mp4") == Key("https://example.com/v", "any") {
			t.Error("Different filters must not share a key")
		}
	})

	t.Run("format case and url whitespace ignored", func(t *testing.T) {
		if Key(" https://example.com/v ", "MP4") != Key("https://example.com/v", "mp4") {
			t.Error("Expected equivalent inputs to share a key")
		}
	})

	t.Run("prefix", func(t *testing.T) {
		if k := Key("x", ""); !strings.HasPrefix(k, keyPrefix) {
			t.Errorf("Key %q lacks prefix %q", k, keyPrefix)
		}
	})
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t, time.Minute, 10)
	ctx := context.Background()
	key := Key("https://example.com/v", "mp4")

	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("Expected a miss on an empty cache")
	}

	c.Set(ctx, key, sampleRows)

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("Expected a hit after Set")
	}
	if len(got) != 2 || got[0] != sampleRows[0] || got[1] != sampleRows[1] {
		t.Errorf("Get returned %+v, want %+v", got, sampleRows)
	}

	status := c.Status()
	if status.Hits != 1 || status.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", status.Hits, status.Misses)
	}
	if status.Redis {
		t.Error("Expected L2 to be disabled without REDIS_URL")
	}
}

func TestEmptyResultIsCached(t *testing.T) {
	c := newTestCache(t, time.Minute, 10)
	ctx := context.Background()

	c.Set(ctx, "k", nil)
	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Expected empty results to be cached")
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected a non-nil empty slice, got %#v", got)
	}
}

func TestExpiration(t *testing.T) {
	c := newTestCache(t, time.Millisecond, 10)
	ctx := context.Background()

	c.Set(ctx, "k", sampleRows)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Expected a miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Expected the expired entry to be dropped, Len = %d", c.Len())
	}
}

func TestStaleDeleteKeepsRefreshedEntry(t *testing.T) {
	c := newTestCache(t, time.Minute, 10)
	ctx := context.Background()

	// A Get saw an expired entry, then a Set refreshed the key before the
	// Get took the write lock.
	c.Set(ctx, "k", sampleRows)
	c.deleteIfExpired("k", time.Now())

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("Refreshed entry was deleted")
	}

	c.deleteIfExpired("k", time.Now().Add(2*time.Minute))
	if c.Len() != 0 {
		t.Errorf("Expected the expired entry to be dropped, Len = %d", c.Len())
	}
}

func TestEviction(t *testing.T) {
	c := newTestCache(t, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), sampleRows)
		time.Sleep(time.Millisecond)
	}

	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get(ctx, "k0"); ok {
		t.Error("Expected the oldest entry to be evicted")
	}
	if _, ok := c.Get(ctx, "k4"); !ok {
		t.Error("Expected the newest entry to be kept")
	}
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := newTestCache(t, time.Minute, 2)
	ctx := context.Background()

	c.Set(ctx, "a", sampleRows)
	c.Set(ctx, "b", sampleRows)
	c.Set(ctx, "b", sampleRows[:1])

	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("Overwriting an existing key must not evict another one")
	}
	if got, _ := c.Get(ctx, "b"); len(got) != 1 {
		t.Errorf("Expected the overwritten value, got %d rows", len(got))
	}
}

func TestPurgeExpired(t *testing.T) {
	c := newTestCache(t, time.Millisecond, 10)
	c.Set(context.Background(), "a", sampleRows)
	c.Set(context.Background(), "b", sampleRows)
	time.Sleep(5 * time.Millisecond)

	c.purgeExpired()
	if c.Len() != 0 {
		t.Errorf("Len = %d after purge, want 0", c.Len())
	}
}

func TestUnreachableRedisDisablesL2(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping redis dial in short mode")
	}
	c := New(Options{TTL: time.Minute, MaxEntries: 10, RedisURL: "redis://127.0.0.1:1/0"})
	defer c.Close()

	if c.Status().Redis {
		t.Error("Expected L2 to be disabled when Redis is unreachable")
	}
	c.Set(context.Background(), "k", sampleRows)
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Error("L1 must keep working without Redis")
	}
}

func TestInvalidRedisURL(t *testing.T) {
	c := New(Options{TTL: time.Minute, RedisURL: "not a url"})
	defer c.Close()

	if c.Status().Redis {
		t.Error("Expected L2 to be disabled for an invalid URL")
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := New(Options{TTL: time.Minute})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
