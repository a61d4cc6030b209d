package cache

import (
	"context"
	"sync/atomic"
	"time"
)

const defaultAdaptiveWindow = 100

// AdaptiveCache writes to an LRU and an LFU cache and serves reads from
// whichever currently fits the traffic. Every window lookups it compares
// hits with misses: a miss-dominated window moves reads to the LFU side,
// otherwise reads go back to LRU.
type AdaptiveCache[T any] struct {
	lru *InMemoryCache[T]
	lfu *RistrettoCache[T]

	useLFU atomic.Bool
	hits   atomic.Uint64
	misses atomic.Uint64
	window uint64
}

// NewAdaptive returns an AdaptiveCache evaluating its hit ratio every window
// lookups. A non-positive window uses 100.
func NewAdaptive[T any](window int) (*AdaptiveCache[T], error) {
	lfu, err := NewRistretto[T]()
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = defaultAdaptiveWindow
	}
	return &AdaptiveCache[T]{
		lru:    NewInMemory[T](),
		lfu:    lfu,
		window: uint64(window),
	}, nil
}

func (a *AdaptiveCache[T]) active() Cache[T] {
	if a.useLFU.Load() {
		return a.lfu
	}
	return a.lru
}

// UsingLFU reports whether reads are currently served by the LFU side.
func (a *AdaptiveCache[T]) UsingLFU() bool { return a.useLFU.Load() }

func (a *AdaptiveCache[T]) record(hit bool) {
	var h, m uint64
	if hit {
		h, m = a.hits.Add(1), a.misses.Load()
	} else {
		h, m = a.hits.Load(), a.misses.Add(1)
	}
	if h+m < a.window {
		return
	}
	a.useLFU.Store(m > h)
	a.hits.Store(0)
	a.misses.Store(0)
}

// Get implements Cache.Get.
func (a *AdaptiveCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	v, ok, err := a.active().Get(ctx, key)
	if err != nil {
		var zero T
		return zero, false, err
	}
	a.record(ok)
	return v, ok, nil
}

// Set stores the value on both sides.
func (a *AdaptiveCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := a.lru.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return a.lfu.Set(ctx, key, value, ttl)
}

// Invalidate removes the key from both sides.
func (a *AdaptiveCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := a.lru.Invalidate(ctx, key); err != nil {
		return err
	}
	return a.lfu.Invalidate(ctx, key)
}

// Clear implements Cache.Clear.
func (a *AdaptiveCache[T]) Clear(ctx context.Context) error {
	if err := a.lru.Clear(ctx); err != nil {
		return err
	}
	return a.lfu.Clear(ctx)
}

// Close stops the LRU sweeper and releases the LFU cache.
func (a *AdaptiveCache[T]) Close() {
	a.lru.Close()
	a.lfu.Close()
}

var (
	_ Cache[int] = (*AdaptiveCache[int])(nil)
	_ Closer     = (*AdaptiveCache[int])(nil)
)
