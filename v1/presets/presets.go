// Package presets wires a Manager, a lock Coordinator and a key Builder on
// top of one distributed store, configured from config.Config.
package presets

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	"github.com/mirkobrombin/go-tiercache/v1/cache"
	"github.com/mirkobrombin/go-tiercache/v1/codec"
	"github.com/mirkobrombin/go-tiercache/v1/config"
	"github.com/mirkobrombin/go-tiercache/v1/core"
	"github.com/mirkobrombin/go-tiercache/v1/keys"
	"github.com/mirkobrombin/go-tiercache/v1/lock"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
)

// CacheNamespace prefixes cache entries in the shared store. Lock and task
// sentinels live outside it, so flushing or evicting the cache never drops a
// held lock.
const CacheNamespace = "cache."

// Stack is a ready to use cache and lock coordinator sharing one store.
type Stack struct {
	Manager *core.Manager
	Locks   *lock.Coordinator
	Keys    *keys.Builder
	Store   adapter.Store

	local   cache.Cache[any]
	closers []func() error
}

// Close releases the local tier and the store connection.
func (s *Stack) Close() error {
	s.Manager.Close()
	if c, ok := s.local.(cache.Closer); ok {
		c.Close()
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type settings struct {
	log     logging.Logger
	metrics prometheus.Registerer
	tracing bool
}

// Option configures a preset.
type Option func(*settings)

// WithLogger sets the logger used by the manager and the coordinator.
func WithLogger(l logging.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// WithMetrics registers the shared collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.metrics = reg
	}
}

// WithTracing enables spans on Manager operations.
func WithTracing() Option {
	return func(s *settings) {
		s.tracing = true
	}
}

// NewInMemory returns a stack on an in-process store. Useful for tests and
// single-process deployments.
func NewInMemory(cfg config.Config, opts ...Option) (*Stack, error) {
	return build(adapter.NewMemoryStore(), cfg, opts, nil)
}

// NewRedis connects to cfg.Redis and returns a stack on it. Keys are
// namespaced with cfg.Redis.Prefix.
func NewRedis(cfg config.Config, opts ...Option) (*Stack, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewRedisClient(client, cfg, opts...)
}

// NewRedisClient is NewRedis with a caller supplied client. Close closes the
// client.
func NewRedisClient(client redis.UniversalClient, cfg config.Config, opts ...Option) (*Stack, error) {
	store := adapter.NewRedisStore(client,
		adapter.WithNamespace(cfg.Redis.Prefix),
		adapter.WithTimeout(cfg.Redis.Timeout),
	)
	s, err := build(store, cfg, opts, []func() error{client.Close})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewGorm returns a stack on a SQL table managed through db. The caller
// owns db.
func NewGorm(db *gorm.DB, cfg config.Config, opts ...Option) (*Stack, error) {
	store, err := adapter.NewGormStore(db)
	if err != nil {
		return nil, err
	}
	return build(store, cfg, opts, nil)
}

// NewBolt returns a stack on the bbolt file at path. Close closes the file.
func NewBolt(path string, cfg config.Config, opts ...Option) (*Stack, error) {
	store, err := adapter.OpenBoltStore(path)
	if err != nil {
		return nil, err
	}
	s, err := build(store, cfg, opts, []func() error{store.Close})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func build(store adapter.Store, cfg config.Config, opts []Option, closers []func() error) (*Stack, error) {
	var st settings
	for _, opt := range opts {
		opt(&st)
	}
	c, err := codec.ByName(cfg.Local.Codec)
	if err != nil {
		return nil, err
	}
	local, err := cache.New[any](cache.ParseStrategy(cfg.Local.Strategy))
	if err != nil {
		return nil, err
	}

	mopts := []core.Option{
		core.WithLocal(local),
		core.WithCodec(c),
		core.WithLogger(st.log),
		core.WithNamespace(CacheNamespace),
	}
	lopts := []lock.Option{lock.WithLogger(st.log)}
	if st.metrics != nil {
		mopts = append(mopts, core.WithMetrics(st.metrics))
		lopts = append(lopts, lock.WithMetrics(st.metrics))
	}
	if st.tracing {
		mopts = append(mopts, core.WithTracing())
	}
	m, err := core.New(store, mopts...)
	if err != nil {
		if cl, ok := local.(cache.Closer); ok {
			cl.Close()
		}
		return nil, err
	}
	return &Stack{
		Manager: m,
		Locks:   lock.New(store, lopts...),
		Keys:    keys.NewBuilder(cfg.Cache),
		Store:   store,
		local:   local,
		closers: closers,
	}, nil
}
