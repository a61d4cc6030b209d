package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
)

const (
	defaultKeyPrefix     = "tier.lock."
	defaultRetryInterval = 50 * time.Millisecond
)

// Coordinator hands out locks and runs heartbeat-tracked tasks against a
// shared store. It is safe for concurrent use.
type Coordinator struct {
	store         adapter.Store
	prefix        string
	retryInterval time.Duration
	log           logging.Logger
	metricsReg    prometheus.Registerer

	tasks *xsync.MapOf[string, *task]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default logs through slog.Default().
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithMetrics registers the shared collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metricsReg = reg
	}
}

// WithKeyPrefix sets the prefix of sentinel keys. The default is
// "tier.lock.".
func WithKeyPrefix(p string) Option {
	return func(c *Coordinator) {
		c.prefix = p
	}
}

// WithRetryInterval sets how often Acquire polls a held lock.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// New returns a Coordinator using store as its ledger.
func New(store adapter.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		prefix:        defaultKeyPrefix,
		retryInterval: defaultRetryInterval,
		tasks:         xsync.NewMapOf[string, *task](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrDefault(c.log)
	if c.metricsReg != nil {
		if err := metrics.Register(c.metricsReg); err != nil {
			c.log.Warn("metrics registration failed", logging.Fields{"error": err})
		}
	}
	return c
}

func (c *Coordinator) key(name string) string { return c.prefix + name }

// Lock is a held lock. Release it exactly once; later calls are no-ops.
type Lock struct {
	c        *Coordinator
	resource string
	key      string
	value    string
	once     sync.Once
}

// Resource returns the locked resource name.
func (l *Lock) Resource() string { return l.resource }

// Release removes the sentinel. On stores implementing
// adapter.ConditionalRemover the sentinel is only removed while it is still
// ours, so a lock that expired and was taken by another holder survives.
func (l *Lock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		ctx := context.WithoutCancel(ctx)
		if cr, ok := l.c.store.(adapter.ConditionalRemover); ok {
			var removed bool
			removed, err = cr.RemoveIfEquals(ctx, l.key, l.value)
			if err == nil && !removed {
				l.c.log.Debug("lock no longer held at release", logging.Fields{"resource": l.resource})
			}
			return
		}
		err = l.c.store.RemoveString(ctx, l.key)
	})
	return err
}

// TryLock attempts to take resource for ttl without waiting. A store error
// is returned as is; it never counts as a free resource.
func (c *Coordinator) TryLock(ctx context.Context, resource string, ttl time.Duration) (*Lock, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("%w: lock ttl %s", tierrors.ErrInvalidTTL, ttl)
	}
	key := c.key(resource)
	value, err := newSentinel(StateLocked, uuid.NewString(), ttl).encode()
	if err != nil {
		return nil, false, err
	}
	ok, err := c.setIfAbsent(ctx, key, value, ttl)
	if err != nil {
		metrics.LockCounter.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, false, fmt.Errorf("lock: acquire %s: %w", resource, err)
	}
	if !ok {
		metrics.LockCounter.WithLabelValues(metrics.OutcomeContended).Inc()
		return nil, false, nil
	}
	metrics.LockCounter.WithLabelValues(metrics.OutcomeAcquired).Inc()
	return &Lock{c: c, resource: resource, key: key, value: value}, true, nil
}

// Acquire blocks until resource is taken or ctx ends.
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()
	for {
		l, ok, err := c.TryLock(ctx, resource, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WithLock runs action while holding resource. It reports false without
// running action when another holder owns the sentinel. The sentinel is
// released on every exit path, panics included; a failed release is logged
// and the TTL reclaims the sentinel. An action error is returned together
// with acquired == true.
func (c *Coordinator) WithLock(ctx context.Context, resource string, ttl time.Duration, action func(context.Context) error) (bool, error) {
	l, ok, err := c.TryLock(ctx, resource, ttl)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if err := l.Release(ctx); err != nil {
			c.log.Warn("lock release failed", logging.Fields{"resource": resource, "error": err})
		}
	}()
	return true, action(ctx)
}

// setIfAbsent writes value only when key holds nothing. Without
// adapter.ConditionalSetter the check and the write are two round trips.
func (c *Coordinator) setIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if cs, ok := c.store.(adapter.ConditionalSetter); ok {
		return cs.SetIfAbsent(ctx, key, value, ttl)
	}
	_, exists, err := c.store.GetString(ctx, key)
	if err != nil || exists {
		return false, err
	}
	if err := c.store.SetString(ctx, key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Status returns the sentinel stored for name, if any.
func (c *Coordinator) Status(ctx context.Context, name string) (Sentinel, bool, error) {
	raw, ok, err := c.store.GetString(ctx, c.key(name))
	if err != nil || !ok {
		return Sentinel{}, false, err
	}
	s, err := decodeSentinel(raw)
	if err != nil {
		return Sentinel{}, true, fmt.Errorf("lock: decode sentinel %s: %w", name, err)
	}
	return s, true, nil
}

// LocalTasks returns the heartbeat tasks running in this process, sorted.
func (c *Coordinator) LocalTasks() []string {
	var out []string
	c.tasks.Range(func(k string, _ *task) bool {
		out = append(out, k)
		return true
	})
	sort.Strings(out)
	return out
}
