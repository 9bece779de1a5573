package search

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultCacheConfig()
	cfg.Addr = mr.Addr()
	cfg.TTL = time.Minute

	cache, err := NewResultCache(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResultCache failed: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func testResponse() *Response {
	return &Response{
		Results: []Result{
			{ChunkID: "c1", Text: "cached text", FusedScore: 0.8},
		},
		TotalResults: 1,
	}
}

func TestCacheSetAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key := CacheKey(&Request{Query: "test", Mode: ModeHybrid, TopK: 10})
	cache.Set(ctx, key, 3, testResponse())

	got, err := cache.Get(ctx, key, 3)
	if err != nil {
		t.Fatalf("expected hit, got %v", err)
	}
	if got.TotalResults != 1 || got.Results[0].ChunkID != "c1" {
		t.Errorf("cached response mangled: %+v", got)
	}
}

func TestCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(context.Background(), "search:missing", 1)
	if err != ErrCacheMiss {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestCacheStaleSnapshotVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key := CacheKey(&Request{Query: "test", Mode: ModeHybrid, TopK: 10})
	cache.Set(ctx, key, 3, testResponse())

	// 快照版本前进后，旧条目即使未过期也视为未命中
	_, err := cache.Get(ctx, key, 4)
	if err != ErrCacheMiss {
		t.Errorf("expected stale entry treated as miss, got %v", err)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	key := CacheKey(&Request{Query: "test", Mode: ModeHybrid, TopK: 10})
	cache.Set(ctx, key, 1, testResponse())

	mr.FastForward(2 * time.Minute)

	_, err := cache.Get(ctx, key, 1)
	if err != ErrCacheMiss {
		t.Errorf("expected expiry after TTL, got %v", err)
	}
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := newTestCache(t)

	mr.Set("search:bad", "not json")
	_, err := cache.Get(context.Background(), "search:bad", 1)
	if err != ErrCacheMiss {
		t.Errorf("expected corrupt entry treated as miss, got %v", err)
	}
}

func TestCacheKeyDeterminism(t *testing.T) {
	minQ := 0.5
	a := &Request{
		Query: "q", Mode: ModeHybrid, TopK: 10,
		Filters: Filters{Licenses: []string{"MIT", "Apache-2.0"}, Tags: []string{"go", "db"}, MinQualityScore: &minQ},
	}
	b := &Request{
		Query: "q", Mode: ModeHybrid, TopK: 10,
		Filters: Filters{Licenses: []string{"Apache-2.0", "MIT"}, Tags: []string{"db", "go"}, MinQualityScore: &minQ},
	}
	if CacheKey(a) != CacheKey(b) {
		t.Error("filter order must not change the cache key")
	}

	c := &Request{Query: "q", Mode: ModeLexical, TopK: 10}
	if CacheKey(a) == CacheKey(c) {
		t.Error("different mode must produce a different key")
	}

	d := &Request{Query: "q", Mode: ModeHybrid, TopK: 10, IncludeRationale: true}
	e := &Request{Query: "q", Mode: ModeHybrid, TopK: 10}
	if CacheKey(d) == CacheKey(e) {
		t.Error("include_rationale must be part of the key")
	}
}
