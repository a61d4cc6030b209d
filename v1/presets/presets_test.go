package presets

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mirkobrombin/go-tiercache/v1/config"
	"github.com/mirkobrombin/go-tiercache/v1/core"
	"github.com/mirkobrombin/go-tiercache/v1/keys"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
	"github.com/mirkobrombin/go-tiercache/v1/metrics"
)

var productByID = keys.Definition{Template: "tier.product.byid.{0}", Prefixes: []string{"tier.product."}}

func testConfig() config.Config {
	return config.Config{
		Cache: config.DefaultCacheConfig(),
		Redis: config.RedisConfig{Prefix: "test:", Timeout: time.Second},
		Lock:  config.LockConfig{TTL: time.Second, HeartbeatInterval: 100 * time.Millisecond},
		Local: config.LocalConfig{Strategy: "lru", Codec: "json"},
	}
}

// exercise runs a cache round trip and a lock through s.
func exercise(t *testing.T, s *Stack) {
	t.Helper()
	ctx := context.Background()
	key, err := s.Keys.PrepareForDefault(productByID, keys.Int(7))
	if err != nil {
		t.Fatalf("PrepareForDefault: %v", err)
	}
	if key.Key != "tier.product.byid.7" || key.TTL != 60 {
		t.Fatalf("unexpected key %+v", key)
	}
	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "widget", nil
	}
	for i := 0; i < 2; i++ {
		v, err := core.Get(ctx, s.Manager, key, load)
		if err != nil || v != "widget" {
			t.Fatalf("Get: %q %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected loader once, got %d", calls)
	}
	if _, ok, err := s.Store.GetString(ctx, CacheNamespace+key.Key); err != nil || !ok {
		t.Fatalf("expected value in store, ok %v err %v", ok, err)
	}

	ok, err := s.Locks.WithLock(ctx, "rebuild", time.Minute, func(context.Context) error { return nil })
	if err != nil || !ok {
		t.Fatalf("WithLock: ok %v err %v", ok, err)
	}
}

func TestNewInMemory(t *testing.T) {
	s, err := NewInMemory(testConfig(), WithLogger(logging.Nop{}))
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	cfg := testConfig()
	cfg.Local = config.LocalConfig{Strategy: "lfu", Codec: "msgpack"}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisClient(client, cfg, WithLogger(logging.Nop{}), WithMetrics(metrics.NewRegistry()), WithTracing())
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	exercise(t, s)
	if !mr.Exists("test:cache.tier.product.byid.7") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Ping(context.Background()).Err(); err == nil {
		t.Fatal("expected client closed with the stack")
	}
}

func TestNewRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	s, err := NewRedis(cfg, WithLogger(logging.Nop{}))
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestNewGorm(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:presets?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	cfg := testConfig()
	cfg.Local.Codec = "cbor"
	s, err := NewGorm(db, cfg, WithLogger(logging.Nop{}))
	if err != nil {
		t.Fatalf("NewGorm: %v", err)
	}
	defer s.Close()
	exercise(t, s)
}

func TestNewBolt(t *testing.T) {
	cfg := testConfig()
	cfg.Local.Strategy = "adaptive"
	s, err := NewBolt(filepath.Join(t.TempDir(), "tiercache.db"), cfg, WithLogger(logging.Nop{}))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	exercise(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnknownCodec(t *testing.T) {
	cfg := testConfig()
	cfg.Local.Codec = "xml"
	if _, err := NewInMemory(cfg); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestCacheFlushKeepsLocks(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	s, err := NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testConfig(), WithLogger(logging.Nop{}))
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer s.Close()

	held, ok, err := s.Locks.TryLock(ctx, "report", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok %v err %v", ok, err)
	}
	defer held.Release(ctx)

	key, _ := s.Keys.PrepareForDefault(productByID, keys.Int(7))
	if err := s.Manager.Set(ctx, key, "widget"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Manager.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Manager.RemoveByPrefix(ctx, ""); err != nil {
		t.Fatalf("RemoveByPrefix: %v", err)
	}
	if mr.Exists("test:cache.tier.product.byid.7") {
		t.Fatal("expected cache entry flushed")
	}
	if _, ok, err := s.Locks.TryLock(ctx, "report", time.Minute); err != nil || ok {
		t.Fatalf("flush released a held lock, ok %v err %v", ok, err)
	}
}
