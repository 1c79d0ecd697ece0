package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	if _, ok, err := cache.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss for absent key, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, "credit", "1542.75", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := cache.Get(ctx, "credit")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if value != "1542.75" {
		t.Fatalf("expected stored value got %q", value)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.clock = func() time.Time { return now }

	if err := cache.Set(ctx, "credit", "10", 10*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = now.Add(9 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "credit"); !ok {
		t.Fatal("expected entry to still be live")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "credit"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestMemoryCacheZeroTTLPersists(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.clock = func() time.Time { return now }

	if err := cache.Set(ctx, "pinned", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(48 * time.Hour)
	if _, ok, _ := cache.Get(ctx, "pinned"); !ok {
		t.Fatal("expected zero-ttl entry to persist")
	}
}
