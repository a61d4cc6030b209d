package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-tiercache/v1/cache")

// Cache is the process-local tier.
//
// T represents the type of values stored in the cache.
type Cache[T any] interface {
	// Get retrieves a value for the given key. The boolean return
	// indicates whether the key was found.
	Get(ctx context.Context, key string) (T, bool, error)
	// Set stores the value for the given key for the specified TTL.
	// A non-positive TTL keeps the entry until it is evicted.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	// Invalidate removes the key from the cache.
	Invalidate(ctx context.Context, key string) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// InMemoryCache is an LRU cache with per-entry TTL.
type InMemoryCache[T any] struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	maxEntries int

	hits   atomic.Uint64
	misses atomic.Uint64

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	hitCounter      prometheus.Counter
	missCounter     prometheus.Counter
	evictionCounter prometheus.Counter
	latencyHist     prometheus.Histogram
	traceEnabled    bool
}

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

func (e *entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryOption configures an InMemoryCache.
type InMemoryOption[T any] func(*InMemoryCache[T])

// WithSweepInterval sets how often expired entries are purged in the
// background. Zero or negative disables the sweeper; entries still expire
// lazily on read.
func WithSweepInterval[T any](d time.Duration) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.sweepInterval = d
	}
}

// WithMaxEntries bounds the cache; the least recently used entry is dropped
// when the bound is exceeded. Non-positive means unbounded.
func WithMaxEntries[T any](n int) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.maxEntries = n
	}
}

// WithMetrics registers Prometheus collectors for this cache on reg.
func WithMetrics[T any](reg prometheus.Registerer) InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.hitCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_local_hits_total",
			Help: "Total number of local tier hits",
		})
		c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_local_misses_total",
			Help: "Total number of local tier misses",
		})
		c.evictionCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tiercache_local_evictions_total",
			Help: "Total number of local tier evictions",
		})
		c.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tiercache_local_latency_seconds",
			Help:    "Latency of local tier operations",
			Buckets: prometheus.DefBuckets,
		})
		reg.MustRegister(c.hitCounter, c.missCounter, c.evictionCounter, c.latencyHist)
	}
}

// WithTracing enables OpenTelemetry spans for cache operations.
func WithTracing[T any]() InMemoryOption[T] {
	return func(c *InMemoryCache[T]) {
		c.traceEnabled = true
	}
}

const defaultSweepInterval = time.Minute

// NewInMemory returns an InMemoryCache. Unless disabled with
// WithSweepInterval(0), a background goroutine purges expired entries every
// minute; call Close to stop it.
func NewInMemory[T any](opts ...InMemoryOption[T]) *InMemoryCache[T] {
	c := &InMemoryCache[T]{
		entries:       make(map[string]*list.Element),
		lru:           list.New(),
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweepInterval > 0 {
		c.wg.Add(1)
		go c.sweeper()
	}
	return c
}

// observe starts a span and latency measurement for op. The returned
// function records the outcome; result may be empty.
func (c *InMemoryCache[T]) observe(ctx context.Context, op string) (context.Context, func(result string)) {
	if !c.traceEnabled && c.latencyHist == nil {
		return ctx, func(string) {}
	}
	var span trace.Span
	if c.traceEnabled {
		ctx, span = tracer.Start(ctx, op)
	}
	start := time.Now()
	return ctx, func(result string) {
		latency := time.Since(start)
		if c.latencyHist != nil {
			c.latencyHist.Observe(latency.Seconds())
		}
		if span != nil {
			if result != "" {
				span.SetAttributes(attribute.String("tiercache.local.result", result))
			}
			span.SetAttributes(attribute.Int64("tiercache.local.latency_ms", latency.Milliseconds()))
			span.End()
		}
	}
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// Get implements Cache.Get.
func (c *InMemoryCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	ctx, done := c.observe(ctx, "Cache.Get")
	if err := ctx.Err(); err != nil {
		done("")
		return zero, false, err
	}

	c.mu.Lock()
	el, ok := c.entries[key]
	if ok && el.Value.(*entry[T]).expired(time.Now()) {
		c.removeElement(el)
		inc(c.evictionCounter)
		ok = false
	}
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		inc(c.missCounter)
		done("miss")
		return zero, false, nil
	}
	c.lru.MoveToFront(el)
	value := el.Value.(*entry[T]).value
	c.mu.Unlock()

	c.hits.Add(1)
	inc(c.hitCounter)
	done("hit")
	return value, true, nil
}

// Set implements Cache.Set.
func (c *InMemoryCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	ctx, done := c.observe(ctx, "Cache.Set")
	defer done("")
	if err := ctx.Err(); err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[T])
		e.value, e.expiresAt = value, exp
		c.lru.MoveToFront(el)
		return nil
	}
	c.entries[key] = c.lru.PushFront(&entry[T]{key: key, value: value, expiresAt: exp})
	if c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		if tail := c.lru.Back(); tail != nil {
			c.removeElement(tail)
			inc(c.evictionCounter)
		}
	}
	return nil
}

// Invalidate implements Cache.Invalidate.
func (c *InMemoryCache[T]) Invalidate(ctx context.Context, key string) error {
	ctx, done := c.observe(ctx, "Cache.Invalidate")
	defer done("")
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
		inc(c.evictionCounter)
	}
	return nil
}

// Clear implements Cache.Clear.
func (c *InMemoryCache[T]) Clear(ctx context.Context) error {
	ctx, done := c.observe(ctx, "Cache.Clear")
	defer done("")
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	n := c.lru.Len()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
	if c.evictionCounter != nil {
		c.evictionCounter.Add(float64(n))
	}
	return nil
}

// removeElement must be called with c.mu held.
func (c *InMemoryCache[T]) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*entry[T]).key)
}

// sweeper purges expired entries. Each round samples a handful of entries
// and repeats while more than a quarter of the sample had expired.
func (c *InMemoryCache[T]) sweeper() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for c.sweepOnce() {
			}
		case <-c.stop:
			return
		}
	}
}

func (c *InMemoryCache[T]) sweepOnce() (again bool) {
	const (
		sampleSize    = 20
		evictionRatio = 0.25
	)
	now := time.Now()
	expired, checked := 0, 0

	c.mu.Lock()
	for _, el := range c.entries {
		checked++
		if el.Value.(*entry[T]).expired(now) {
			c.removeElement(el)
			inc(c.evictionCounter)
			expired++
		}
		if checked >= sampleSize {
			break
		}
	}
	c.mu.Unlock()

	return checked > 0 && float64(expired) >= sampleSize*evictionRatio
}

// Close stops the sweeper and drops every entry. It is safe to call twice.
func (c *InMemoryCache[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
}

// Stats reports basic usage counters.
type Stats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Metrics returns current counters for the cache.
func (c *InMemoryCache[T]) Metrics() Stats {
	c.mu.Lock()
	size := c.lru.Len()
	c.mu.Unlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}
