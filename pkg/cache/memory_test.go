package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	if err := mc.Set(ctx, "q", quote{Symbol: "BTC", Price: 42}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := GetTyped[quote](ctx, mc, "q")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Symbol != "BTC" || got.Price != 42 {
		t.Fatalf("unexpected value: %+v", got)
	}

	var s string
	if err := mc.Get(ctx, "missing", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if ok, _ := mc.Exists(ctx, "k"); ok {
		t.Fatalf("expired key still exists")
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	time.Sleep(2 * time.Millisecond)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	time.Sleep(2 * time.Millisecond)
	var s string
	if err := mc.Get(ctx, "a", &s); err != nil {
		t.Fatalf("get a: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	_ = mc.Set(ctx, "c", "3", time.Minute)

	if ok, _ := mc.Exists(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if ok, _ := mc.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("a and c should remain")
	}
}

func TestMemoryCacheTryLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, "lock:BTC", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ok, _ := mc.TryLock(ctx, "lock:BTC", time.Minute); ok {
		t.Fatalf("second lock should fail while held")
	}
	if err := mc.Unlock(ctx, "lock:BTC"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if ok, _ := mc.TryLock(ctx, "lock:BTC", time.Minute); !ok {
		t.Fatalf("lock after unlock should succeed")
	}
}

func TestMemoryCacheIncrement(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := mc.Increment(ctx, "hits", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}
}
