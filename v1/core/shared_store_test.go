package core

import (
	"context"
	"testing"
	"time"

	"github.com/mirkobrombin/go-tiercache/v1/adapter"
	"github.com/mirkobrombin/go-tiercache/v1/lock"
	"github.com/mirkobrombin/go-tiercache/v1/logging"
)

func TestNamespaceKeepsLocksAcrossEviction(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewMemoryStore()
	m := newManager(t, store, WithNamespace("cache."))
	locks := lock.New(store, lock.WithLogger(logging.Nop{}))

	held, ok, err := locks.TryLock(ctx, "report", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock: ok %v err %v", ok, err)
	}
	defer held.Release(ctx)

	key := productKey(t, 5)
	if err := m.Set(ctx, key, product{ID: 5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := store.GetString(ctx, "cache."+key.Key); !ok {
		t.Fatal("expected namespaced entry in the store")
	}

	for name, evict := range map[string]func() error{
		"clear":        func() error { return m.Clear(ctx) },
		"empty prefix": func() error { return m.RemoveByPrefix(ctx, "") },
		"broad prefix": func() error { return m.RemoveByPrefix(ctx, "tier.") },
	} {
		_ = m.Set(ctx, key, product{ID: 5})
		if err := evict(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if _, ok, _ := store.GetString(ctx, "cache."+key.Key); ok {
			t.Fatalf("%s: expected cache entry removed", name)
		}
		if _, ok, err := locks.TryLock(ctx, "report", time.Minute); err != nil || ok {
			t.Fatalf("%s: second holder acquired a held lock, ok %v err %v", name, ok, err)
		}
	}
}

func TestNamespaceClearWithoutPrefixRemover(t *testing.T) {
	ctx := context.Background()
	mem := adapter.NewMemoryStore()
	m := newManager(t, storeOnly{mem}, WithNamespace("cache."))
	_ = mem.SetString(ctx, "tier.lock.job", "held", time.Minute)

	if err := m.Set(ctx, productKey(t, 1), product{ID: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := mem.GetString(ctx, "cache."+productKey(t, 1).Key); ok {
		t.Fatal("expected known key removed from the store")
	}
	if _, ok, _ := mem.GetString(ctx, "tier.lock.job"); !ok {
		t.Fatal("foreign key must survive Clear")
	}
}

func TestNamespaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewMemoryStore()
	writer := newManager(t, store, WithNamespace("cache."))
	reader := newManager(t, store, WithNamespace("cache."))
	key := productKey(t, 8)

	if err := writer.Set(ctx, key, product{ID: 8, Name: "bolt"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, err := Lookup[product](ctx, reader, key); err != nil || !ok || v.Name != "bolt" {
		t.Fatalf("Lookup: %+v ok %v err %v", v, ok, err)
	}
	if err := reader.Remove(ctx, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected store empty, have %d", store.Len())
	}
}
