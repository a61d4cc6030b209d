package cache

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func benchmarkSet(b *testing.B, c Cache[string]) {
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.Set(ctx, strconv.Itoa(i), "val", time.Minute); err != nil {
			b.Fatalf("set failed: %v", err)
		}
	}
}

func benchmarkGet(b *testing.B, c Cache[string]) {
	ctx := context.Background()
	if err := c.Set(ctx, "key", "val", time.Minute); err != nil {
		b.Fatalf("setup failed: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok, err := c.Get(ctx, "key"); err != nil || !ok {
			b.Fatalf("get failed: %v ok=%v", err, ok)
		}
	}
}

func BenchmarkInMemoryCacheSet(b *testing.B) {
	c := NewInMemory[string](WithMaxEntries[string](100_000))
	defer c.Close()
	benchmarkSet(b, c)
}

func BenchmarkInMemoryCacheGet(b *testing.B) {
	c := NewInMemory[string]()
	defer c.Close()
	benchmarkGet(b, c)
}

func BenchmarkRistrettoCacheSet(b *testing.B) {
	c, err := NewRistretto[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	benchmarkSet(b, c)
}

func BenchmarkRistrettoCacheGet(b *testing.B) {
	c, err := NewRistretto[string]()
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	benchmarkGet(b, c)
}
