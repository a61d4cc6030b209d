package core

import (
	"context"
	"fmt"
	"time"

	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
	"github.com/mirkobrombin/go-tiercache/v1/keys"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
)

// Get returns the value cached under key, running loader on a miss in both
// tiers and caching its result.
//
// When key has a non-positive TTL the loader runs on every call and nothing
// is stored. Concurrent misses for the same key share one loader call; every
// caller receives its result or its error, and a failed load is not cached
// so the next call retries. The shared load does not observe the
// cancellation of any single caller; a caller whose ctx ends stops waiting
// and gets ctx.Err().
//
// A stored value that fails to decode is returned as an error, never as a
// miss.
func Get[T any](ctx context.Context, m *Manager, key keys.CacheKey, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if !key.Persistent() {
		return loader(ctx)
	}
	ctx, span := m.span(ctx, "Manager.Get", key.Key)
	defer span.End()

	if v, ok, err := localGet[T](ctx, m, key.Key); err != nil || ok {
		return v, err
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key.Key, func() (any, error) {
		if v, ok, err := localGet[T](flightCtx, m, key.Key); err != nil || ok {
			return v, err
		}
		if v, ok, err := distributedGet[T](flightCtx, m, key); err != nil || ok {
			return v, err
		}

		metrics.MissCounter.Inc()
		start := time.Now()
		v, err := callLoader(flightCtx, loader)
		metrics.LoadDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.LoaderErrorCounter.Inc()
			return nil, err
		}
		if err := m.Set(flightCtx, key, v); err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			return zero, res.Err
		}
		if res.Val == nil {
			return zero, nil
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s holds %T", tierrors.ErrTypeMismatch, key.Key, res.Val)
		}
		return v, nil
	}
}

// callLoader runs loader and turns a panic into ErrLoadPanic. A panic inside
// a DoChan flight would otherwise be re-raised on a goroutine no caller can
// recover.
func callLoader[T any](ctx context.Context, loader func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", tierrors.ErrLoadPanic, r)
		}
	}()
	return loader(ctx)
}

// Lookup reads key from the local tier, then the distributed store, without
// loading. A distributed hit is copied into the local tier.
func Lookup[T any](ctx context.Context, m *Manager, key keys.CacheKey) (T, bool, error) {
	if !key.Persistent() {
		var zero T
		return zero, false, nil
	}
	ctx, span := m.span(ctx, "Manager.Lookup", key.Key)
	defer span.End()

	if v, ok, err := localGet[T](ctx, m, key.Key); err != nil || ok {
		return v, ok, err
	}
	return distributedGet[T](ctx, m, key)
}

func localGet[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	var zero T
	raw, ok, err := m.local.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s holds %T", tierrors.ErrTypeMismatch, key, raw)
	}
	metrics.HitCounter.WithLabelValues(metrics.TierLocal).Inc()
	return v, true, nil
}

func distributedGet[T any](ctx context.Context, m *Manager, key keys.CacheKey) (T, bool, error) {
	var zero T
	raw, ok, err := m.store.GetString(ctx, m.storeKey(key.Key))
	if err != nil {
		return zero, false, fmt.Errorf("tiercache: read %s: %w", key.Key, err)
	}
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := m.codec.Unmarshal([]byte(raw), &v); err != nil {
		return zero, false, fmt.Errorf("tiercache: decode %s: %w", key.Key, err)
	}
	metrics.HitCounter.WithLabelValues(metrics.TierDistributed).Inc()
	m.setLocal(ctx, key, v)
	return v, true, nil
}
