// Package adapter defines the distributed store contract used by the cache
// manager and the lock coordinator, plus implementations for memory, Redis,
// SQL databases through GORM, and bbolt files.
package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
)

// Store is the minimal string key/value contract. A missing or expired key
// is reported as ok == false with a nil error.
type Store interface {
	GetString(ctx context.Context, key string) (value string, ok bool, err error)
	// SetString stores value for ttl. A non-positive ttl stores without expiry.
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
	RemoveString(ctx context.Context, key string) error
}

// PrefixRemover is implemented by stores able to drop every key under a
// prefix server side.
type PrefixRemover interface {
	RemoveByPrefix(ctx context.Context, prefix string) error
}

// Flusher is implemented by stores able to drop all of their keys. Stores
// with a namespace only drop keys inside it.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ConditionalSetter is implemented by stores with an atomic "set if absent".
type ConditionalSetter interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ConditionalRemover is implemented by stores able to delete a key only
// while it still holds an expected value.
type ConditionalRemover interface {
	RemoveIfEquals(ctx context.Context, key, value string) (bool, error)
}

// Swapper is implemented by stores able to replace a value only while the
// key still holds old. The new value gets a fresh ttl.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error)
}

// KeyLister is implemented by stores able to enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// translate maps transport level failures onto the package sentinel errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return tierrors.ErrTimeout
	default:
		return err
	}
}

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. It is mostly useful for tests and
// single-node deployments. Expired entries are dropped when touched.
type MemoryStore struct {
	items *xsync.MapOf[string, memoryEntry]
}

var (
	_ Store              = (*MemoryStore)(nil)
	_ PrefixRemover      = (*MemoryStore)(nil)
	_ Flusher            = (*MemoryStore)(nil)
	_ ConditionalSetter  = (*MemoryStore)(nil)
	_ KeyLister          = (*MemoryStore)(nil)
	_ ConditionalRemover = (*MemoryStore)(nil)
	_ Swapper            = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: xsync.NewMapOf[string, memoryEntry]()}
}

// GetString implements Store.
func (s *MemoryStore) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, translate(err)
	}
	e, ok := s.items.Load(key)
	if !ok {
		return "", false, nil
	}
	if e.expired(time.Now()) {
		s.items.Compute(key, func(cur memoryEntry, loaded bool) (memoryEntry, bool) {
			return cur, !loaded || cur.expired(time.Now())
		})
		return "", false, nil
	}
	return e.value, true, nil
}

// SetString implements Store.
func (s *MemoryStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	s.items.Store(key, memoryEntry{value: value, expiresAt: expiry(ttl)})
	return nil
}

// RemoveString implements Store.
func (s *MemoryStore) RemoveString(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	s.items.Delete(key)
	return nil
}

// SetIfAbsent implements ConditionalSetter. An expired entry counts as absent.
func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	set := false
	s.items.Compute(key, func(cur memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && !cur.expired(time.Now()) {
			return cur, false
		}
		set = true
		return memoryEntry{value: value, expiresAt: expiry(ttl)}, false
	})
	return set, nil
}

// RemoveIfEquals implements ConditionalRemover.
func (s *MemoryStore) RemoveIfEquals(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	removed := false
	s.items.Compute(key, func(cur memoryEntry, loaded bool) (memoryEntry, bool) {
		if !loaded {
			return cur, true
		}
		if cur.value == value && !cur.expired(time.Now()) {
			removed = true
			return cur, true
		}
		return cur, false
	})
	return removed, nil
}

// CompareAndSwap implements Swapper.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	swapped := false
	s.items.Compute(key, func(cur memoryEntry, loaded bool) (memoryEntry, bool) {
		if !loaded {
			return cur, true
		}
		if cur.value != old || cur.expired(time.Now()) {
			return cur, false
		}
		swapped = true
		return memoryEntry{value: value, expiresAt: expiry(ttl)}, false
	})
	return swapped, nil
}

// RemoveByPrefix implements PrefixRemover.
func (s *MemoryStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	s.items.Range(func(k string, _ memoryEntry) bool {
		if strings.HasPrefix(k, prefix) {
			s.items.Delete(k)
		}
		return true
	})
	return nil
}

// Flush implements Flusher.
func (s *MemoryStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	s.items.Clear()
	return nil
}

// Keys implements KeyLister. The result is not sorted.
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, translate(err)
	}
	now := time.Now()
	var keys []string
	s.items.Range(func(k string, e memoryEntry) bool {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
		return true
	})
	return keys, nil
}

// Len returns the number of live entries.
func (s *MemoryStore) Len() int {
	now := time.Now()
	n := 0
	s.items.Range(func(_ string, e memoryEntry) bool {
		if !e.expired(now) {
			n++
		}
		return true
	})
	return n
}
