package keys

import "github.com/mirkobrombin/go-tiercache/v1/config"

// Builder resolves definitions and fills in lifetimes from configuration.
type Builder struct {
	cfg config.CacheConfig
}

// NewBuilder returns a Builder using cfg for default lifetimes.
func NewBuilder(cfg config.CacheConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Prepare resolves def keeping its own TTL.
func (b *Builder) Prepare(def Definition, params ...Param) (CacheKey, error) {
	return resolve(def, params)
}

// PrepareForDefault resolves def with the configured default cache time.
func (b *Builder) PrepareForDefault(def Definition, params ...Param) (CacheKey, error) {
	def.TTL = b.cfg.DefaultCacheTime
	return resolve(def, params)
}

// PrepareForShortTerm resolves def with the configured short-term cache time.
func (b *Builder) PrepareForShortTerm(def Definition, params ...Param) (CacheKey, error) {
	def.TTL = b.cfg.ShortTermCacheTime
	return resolve(def, params)
}
