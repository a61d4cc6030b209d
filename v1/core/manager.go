// Package core implements the two-tier cache: a process-local tier in front
// of a distributed store shared by every process.
//
// Reads consult the local tier, then the store, then a loader. Concurrent
// misses for the same key within one process share a single loader call.
// Nothing pushes remote changes into the local tier: a value written or
// removed by another process becomes visible here once the local copy
// expires or is removed explicitly in this process.
package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	"github.com/mirkobrombin/go-tiercache/v1/cache"
	"github.com/mirkobrombin/go-tiercache/v1/codec"
	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
	"github.com/mirkobrombin/go-tiercache/v1/keys"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
	"github.com/mirkobrombin/go-tiercache/v1/registry"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-tiercache/v1/core")

const keyStripes = 64

// Manager coordinates the local tier, the key registry and the distributed
// store. It is safe for concurrent use.
type Manager struct {
	store     adapter.Store
	local     cache.Cache[any]
	ownsLocal bool
	codec     codec.Codec
	reg       *registry.Registry
	log       logging.Logger
	namespace string

	flights singleflight.Group
	// stripes serialize registry and local tier updates per key, so an
	// eviction never leaves a local entry the registry does not know.
	stripes [keyStripes]sync.Mutex

	metricsReg   prometheus.Registerer
	traceEnabled bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocal sets the local tier. The caller keeps ownership; Close does not
// close it.
func WithLocal(c cache.Cache[any]) Option {
	return func(m *Manager) {
		m.local = c
	}
}

// WithCodec sets the codec used for the distributed tier. The default is JSON.
func WithCodec(c codec.Codec) Option {
	return func(m *Manager) {
		m.codec = c
	}
}

// WithLogger sets the logger. The default logs through slog.Default().
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithMetrics registers the shared collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.metricsReg = reg
	}
}

// WithTracing enables OpenTelemetry spans for Manager operations.
func WithTracing() Option {
	return func(m *Manager) {
		m.traceEnabled = true
	}
}

// WithNamespace prefixes every key the Manager writes to the distributed
// store with ns. Clear and RemoveByPrefix then stay inside ns, so the store
// can be shared with a lock.Coordinator whose key prefix lies outside it.
// Keys seen by callers, the registry and the local tier are unprefixed.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		m.namespace = ns
	}
}

// WithRegistry shares a key registry, e.g. between a manager and tooling
// that inspects it.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) {
		m.reg = r
	}
}

// New returns a Manager on top of store.
func New(store adapter.Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, tierrors.ErrNilStore
	}
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	if m.local == nil {
		m.local = cache.NewInMemory[any]()
		m.ownsLocal = true
	}
	if m.codec == nil {
		m.codec = codec.JSON{}
	}
	if m.reg == nil {
		m.reg = registry.New()
	}
	m.log = logging.OrDefault(m.log)
	if m.metricsReg != nil {
		if err := metrics.Register(m.metricsReg); err != nil {
			return nil, fmt.Errorf("tiercache: register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) storeKey(key string) string { return m.namespace + key }

func (m *Manager) stripe(key string) *sync.Mutex {
	return &m.stripes[xxhash.Sum64String(key)%keyStripes]
}

func (m *Manager) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	if !m.traceEnabled {
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := tracer.Start(ctx, name)
	if key != "" {
		span.SetAttributes(attribute.String("tiercache.key", key))
	}
	return ctx, span
}

// Set writes value under key in both tiers. It does nothing when the key
// has a non-positive TTL or value is nil (including typed nil pointers,
// maps and slices). The distributed store is written first; a store failure
// leaves the local tier untouched.
func (m *Manager) Set(ctx context.Context, key keys.CacheKey, value any) error {
	if !key.Persistent() || isNil(value) {
		return nil
	}
	ctx, span := m.span(ctx, "Manager.Set", key.Key)
	defer span.End()

	data, err := m.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("tiercache: encode %s: %w", key.Key, err)
	}
	if err := m.store.SetString(ctx, m.storeKey(key.Key), string(data), key.Duration()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("tiercache: write %s: %w", key.Key, err)
	}
	m.setLocal(ctx, key, value)
	metrics.SetCounter.Inc()
	return nil
}

// setLocal registers key before writing the local tier, so the registry is
// always a superset of the local keys. Both steps run under the key's
// stripe; evictions take the same stripe before invalidating.
func (m *Manager) setLocal(ctx context.Context, key keys.CacheKey, value any) {
	mu := m.stripe(key.Key)
	mu.Lock()
	defer mu.Unlock()

	m.reg.Add(key.Key)
	metrics.RegistryKeysGauge.Set(float64(m.reg.Len()))
	if err := m.local.Set(ctx, key.Key, value, key.Duration()); err != nil {
		m.log.Warn("local tier write failed", logging.Fields{"key": key.Key, "error": err})
	}
}

// evictLocal drops key from the registry and the local tier.
func (m *Manager) evictLocal(ctx context.Context, key string) error {
	mu := m.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	m.reg.Remove(key)
	return m.local.Invalidate(ctx, key)
}

// Remove evicts key from both tiers.
func (m *Manager) Remove(ctx context.Context, key keys.CacheKey) error {
	return m.RemoveKey(ctx, key.Key)
}

// RemoveKey evicts an already resolved key from both tiers.
func (m *Manager) RemoveKey(ctx context.Context, key string) error {
	ctx, span := m.span(ctx, "Manager.Remove", key)
	defer span.End()

	err := m.evictLocal(ctx, key)
	metrics.RegistryKeysGauge.Set(float64(m.reg.Len()))
	if err != nil {
		return fmt.Errorf("tiercache: local remove %s: %w", key, err)
	}
	if err := m.store.RemoveString(ctx, m.storeKey(key)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("tiercache: remove %s: %w", key, err)
	}
	metrics.RemoveCounter.Inc()
	return nil
}

// RemoveRelated evicts key and every prefix declared with its definition.
func (m *Manager) RemoveRelated(ctx context.Context, key keys.CacheKey) error {
	if err := m.RemoveKey(ctx, key.Key); err != nil {
		return err
	}
	for _, p := range key.Prefixes {
		if err := m.removePrefix(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RemoveByPrefix resolves template with params into a prefix (see
// keys.ResolvePrefix) and evicts every key starting with it. Local keys are
// found through the registry. The store drops the prefix itself when it
// implements adapter.PrefixRemover; otherwise only keys known to this
// process are removed from it. Without WithNamespace an empty or very broad
// prefix also matches foreign keys in a shared store.
func (m *Manager) RemoveByPrefix(ctx context.Context, template string, params ...keys.Param) error {
	prefix, err := keys.ResolvePrefix(template, params...)
	if err != nil {
		return err
	}
	return m.removePrefix(ctx, prefix)
}

func (m *Manager) removePrefix(ctx context.Context, prefix string) error {
	ctx, span := m.span(ctx, "Manager.RemoveByPrefix", prefix)
	defer span.End()

	removed := m.reg.RemoveByPrefix(prefix)
	for _, k := range removed {
		if err := m.evictLocal(ctx, k); err != nil {
			return fmt.Errorf("tiercache: local remove %s: %w", k, err)
		}
	}
	metrics.RegistryKeysGauge.Set(float64(m.reg.Len()))
	metrics.PrefixRemoveCounter.Inc()
	return m.removeStorePrefix(ctx, span, prefix, removed)
}

// removeStorePrefix drops prefix from the store, or the given keys when the
// store cannot remove by prefix.
func (m *Manager) removeStorePrefix(ctx context.Context, span trace.Span, prefix string, known []string) error {
	if pr, ok := m.store.(adapter.PrefixRemover); ok {
		if err := pr.RemoveByPrefix(ctx, m.storeKey(prefix)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("tiercache: remove prefix %q: %w", prefix, err)
		}
		return nil
	}
	for _, k := range known {
		if err := m.store.RemoveString(ctx, m.storeKey(k)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("tiercache: remove %s: %w", k, err)
		}
	}
	return nil
}

// Clear empties the registry and the local tier. With a namespace it then
// removes the namespace from the store (see WithNamespace); without one it
// flushes the store when it implements adapter.Flusher.
func (m *Manager) Clear(ctx context.Context) error {
	ctx, span := m.span(ctx, "Manager.Clear", "")
	defer span.End()

	for i := range m.stripes {
		m.stripes[i].Lock()
	}
	known := m.reg.Keys()
	m.reg.Clear()
	err := m.local.Clear(ctx)
	for i := range m.stripes {
		m.stripes[i].Unlock()
	}
	metrics.RegistryKeysGauge.Set(0)
	if err != nil {
		return fmt.Errorf("tiercache: local clear: %w", err)
	}

	if m.namespace != "" {
		return m.removeStorePrefix(ctx, span, "", known)
	}
	f, ok := m.store.(adapter.Flusher)
	if !ok {
		m.log.Info("store does not support flush, distributed entries kept", nil)
		return nil
	}
	if err := f.Flush(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("tiercache: flush: %w", err)
	}
	return nil
}

// Keys returns the keys registered by this process, sorted.
func (m *Manager) Keys() []string {
	return m.reg.Keys()
}

// Registry exposes the key registry.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// Close releases the local tier when the manager created it.
func (m *Manager) Close() {
	if !m.ownsLocal {
		return
	}
	if c, ok := m.local.(cache.Closer); ok {
		c.Close()
	}
}

// isNil reports whether v is nil or a typed nil.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
