// Package config loads tiercache settings from .env files, environment
// variables and (optionally) a config file. Environment variables use the
// TIERCACHE_ prefix with '-' replaced by '_', e.g. TIERCACHE_DEFAULT_CACHE_TIME=30.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "tiercache"

// Keys understood by Load. They double as CLI flag names.
const (
	KeyDefaultCacheTime   = "default-cache-time"
	KeyShortTermCacheTime = "short-term-cache-time"
	KeyRedisAddr          = "redis-addr"
	KeyRedisPassword      = "redis-password"
	KeyRedisDB            = "redis-db"
	KeyRedisPrefix        = "redis-prefix"
	KeyRedisTimeout       = "redis-timeout"
	KeyLockTTL            = "lock-ttl"
	KeyHeartbeatInterval  = "heartbeat-interval"
	KeyLogLevel           = "log-level"
	KeyCodec              = "codec"
	KeyLocalStrategy      = "local-strategy"
)

// CacheConfig supplies default key lifetimes, in minutes.
type CacheConfig struct {
	DefaultCacheTime   int
	ShortTermCacheTime int
}

// RedisConfig describes the distributed store connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

// LockConfig holds lock and heartbeat defaults.
type LockConfig struct {
	TTL               time.Duration
	HeartbeatInterval time.Duration
}

// LocalConfig selects the local tier and the distributed value encoding.
type LocalConfig struct {
	// Strategy is "lru" (default), "lfu" or "adaptive".
	Strategy string
	// Codec is json, gob, msgpack or cbor.
	Codec string
}

type Config struct {
	Cache    CacheConfig
	Redis    RedisConfig
	Lock     LockConfig
	Local    LocalConfig
	LogLevel string
}

// DefaultCacheConfig matches the defaults registered by New.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{DefaultCacheTime: 60, ShortTermCacheTime: 3}
}

// New returns a viper instance with defaults and environment binding set up.
// .env and .env.local are loaded first when present; existing environment
// variables win.
func New() *viper.Viper {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	def := DefaultCacheConfig()
	v.SetDefault(KeyDefaultCacheTime, def.DefaultCacheTime)
	v.SetDefault(KeyShortTermCacheTime, def.ShortTermCacheTime)
	v.SetDefault(KeyRedisAddr, "localhost:6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisPrefix, "tiercache:")
	v.SetDefault(KeyRedisTimeout, 5*time.Second)
	v.SetDefault(KeyLockTTL, 30*time.Second)
	v.SetDefault(KeyHeartbeatInterval, 10*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyCodec, "json")
	v.SetDefault(KeyLocalStrategy, "lru")
	return v
}

// ReadFile merges a config file (yaml, toml, json...) into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// Load reads the settings from v and validates them.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Cache: CacheConfig{
			DefaultCacheTime:   v.GetInt(KeyDefaultCacheTime),
			ShortTermCacheTime: v.GetInt(KeyShortTermCacheTime),
		},
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
			Prefix:   v.GetString(KeyRedisPrefix),
			Timeout:  v.GetDuration(KeyRedisTimeout),
		},
		Lock: LockConfig{
			TTL:               v.GetDuration(KeyLockTTL),
			HeartbeatInterval: v.GetDuration(KeyHeartbeatInterval),
		},
		Local: LocalConfig{
			Strategy: strings.ToLower(v.GetString(KeyLocalStrategy)),
			Codec:    strings.ToLower(v.GetString(KeyCodec)),
		},
		LogLevel: v.GetString(KeyLogLevel),
	}
	if cfg.Cache.DefaultCacheTime < 0 || cfg.Cache.ShortTermCacheTime < 0 {
		return Config{}, fmt.Errorf("config: cache times must not be negative")
	}
	switch cfg.Local.Strategy {
	case "lru", "lfu", "adaptive":
	default:
		return Config{}, fmt.Errorf("config: unknown %s %q", KeyLocalStrategy, cfg.Local.Strategy)
	}
	if cfg.Lock.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("config: %s must be positive", KeyHeartbeatInterval)
	}
	if cfg.Lock.TTL <= cfg.Lock.HeartbeatInterval {
		return Config{}, fmt.Errorf("config: %s (%s) must be longer than %s (%s)",
			KeyLockTTL, cfg.Lock.TTL, KeyHeartbeatInterval, cfg.Lock.HeartbeatInterval)
	}
	return cfg, nil
}
