package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache implements Cache on top of dgraph-io/ristretto (TinyLFU
// admission, sampled LFU eviction). Writes are made visible before Set
// returns.
type RistrettoCache[T any] struct {
	c *ristretto.Cache
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistretto replaces the whole configuration. A nil cfg keeps defaults.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// WithMaxCost bounds the total cost held by the cache. With the default cost
// function a string or []byte costs its length and any other value costs 1.
func WithMaxCost(n int64) RistrettoOption {
	return func(c *ristretto.Config) {
		c.MaxCost = n
		c.NumCounters = 10 * n
	}
}

// NewRistretto returns a Cache backed by ristretto.
func NewRistretto[T any](opts ...RistrettoOption) (*RistrettoCache[T], error) {
	cfg := &ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 24,
		BufferItems: 64,
		Cost:        valueCost,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoCache[T]{c: rc}, nil
}

func valueCost(v interface{}) int64 {
	switch x := v.(type) {
	case string:
		return int64(len(x)) + 1
	case []byte:
		return int64(len(x)) + 1
	default:
		return 1
	}
}

// Get implements Cache.Get.
func (r *RistrettoCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, ok := v.(T)
	if !ok {
		return zero, false, nil
	}
	return val, true, nil
}

// Set implements Cache.Set. Ristretto may reject an entry under pressure;
// a rejected write is not an error, the next Get simply misses.
func (r *RistrettoCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	r.c.SetWithTTL(key, value, 0, ttl)
	r.c.Wait()
	return nil
}

// Invalidate implements Cache.Invalidate.
func (r *RistrettoCache[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Del(key)
	r.c.Wait()
	return nil
}

// Clear implements Cache.Clear.
func (r *RistrettoCache[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.Clear()
	return nil
}

// Close releases resources held by the cache.
func (r *RistrettoCache[T]) Close() {
	r.c.Close()
}
