package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[string]()
	defer c.Close()
	if err := c.Set(ctx, "foo", "bar", 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v, ok, err := c.Get(ctx, "foo"); err != nil || !ok || v != "bar" {
		t.Fatalf("expected bar, got %v ok %v err %v", v, ok, err)
	}

	time.Sleep(10 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "foo"); ok {
		t.Fatalf("expected key to expire")
	}

	m := c.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.Size != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestInMemoryCacheNoTTL(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[int](WithSweepInterval[int](0))
	defer c.Close()
	if err := c.Set(ctx, "n", 1, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := c.Get(ctx, "n"); !ok || v != 1 {
		t.Fatalf("expected persistent entry, got %v %v", v, ok)
	}
}

func TestInMemoryCacheSweeper(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[string](WithSweepInterval[string](5 * time.Millisecond))
	defer c.Close()
	if err := c.Set(ctx, "foo", "bar", 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	c.mu.Lock()
	_, ok := c.entries["foo"]
	c.mu.Unlock()
	if ok {
		t.Fatalf("expected key to be swept")
	}
}

func TestInMemoryCacheMaxEntries(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[int](WithMaxEntries[int](2), WithSweepInterval[int](0))
	defer c.Close()
	_ = c.Set(ctx, "a", 1, time.Minute)
	_ = c.Set(ctx, "b", 2, time.Minute)
	// touch a so that b is the least recently used
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", 3, time.Minute)

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("expected b to be evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Fatalf("expected %s to survive", k)
		}
	}
}

func TestInMemoryCacheInvalidateClear(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory[string]()
	defer c.Close()
	_ = c.Set(ctx, "a", "1", time.Minute)
	_ = c.Set(ctx, "b", "2", time.Minute)

	if err := c.Invalidate(ctx, "a"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Fatal("a should be gone")
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if c.Metrics().Size != 0 {
		t.Fatalf("expected empty cache, got %d", c.Metrics().Size)
	}
}

func TestInMemoryCacheContext(t *testing.T) {
	c := NewInMemory[string]()
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Set(ctx, "a", "b", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
	if _, _, err := c.Get(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
	if _, ok, _ := c.Get(context.Background(), "a"); ok {
		t.Fatal("item should not be stored when context is canceled")
	}
}

func TestInMemoryCacheMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	c := NewInMemory[string](WithMetrics[string](reg), WithTracing[string]())
	defer c.Close()

	_ = c.Set(ctx, "a", "1", time.Minute)
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "missing")
	_ = c.Invalidate(ctx, "a")

	if v := testutil.ToFloat64(c.hitCounter); v != 1 {
		t.Fatalf("expected 1 hit, got %v", v)
	}
	if v := testutil.ToFloat64(c.missCounter); v != 1 {
		t.Fatalf("expected 1 miss, got %v", v)
	}
	if v := testutil.ToFloat64(c.evictionCounter); v != 1 {
		t.Fatalf("expected 1 eviction, got %v", v)
	}
}

func TestNewStrategy(t *testing.T) {
	lru, err := New[string](ParseStrategy("lru"))
	if err != nil {
		t.Fatalf("lru: %v", err)
	}
	if _, ok := lru.(*InMemoryCache[string]); !ok {
		t.Fatalf("expected InMemoryCache, got %T", lru)
	}
	lru.(Closer).Close()

	lfu, err := New[string](ParseStrategy("lfu"))
	if err != nil {
		t.Fatalf("lfu: %v", err)
	}
	if _, ok := lfu.(*RistrettoCache[string]); !ok {
		t.Fatalf("expected RistrettoCache, got %T", lfu)
	}
	lfu.(Closer).Close()

	ad, err := New[string](ParseStrategy("adaptive"))
	if err != nil {
		t.Fatalf("adaptive: %v", err)
	}
	if _, ok := ad.(*AdaptiveCache[string]); !ok {
		t.Fatalf("expected AdaptiveCache, got %T", ad)
	}
	ad.(Closer).Close()
}
