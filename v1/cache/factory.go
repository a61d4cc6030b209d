package cache

// Strategy selects the eviction policy used by New.
type Strategy int

const (
	// LRUStrategy uses InMemoryCache.
	LRUStrategy Strategy = iota
	// LFUStrategy uses RistrettoCache.
	LFUStrategy
	// AdaptiveStrategy uses AdaptiveCache.
	AdaptiveStrategy
)

// ParseStrategy maps "lru", "lfu" and "adaptive" to a Strategy; anything else
// is LRU.
func ParseStrategy(s string) Strategy {
	switch s {
	case "lfu":
		return LFUStrategy
	case "adaptive":
		return AdaptiveStrategy
	default:
		return LRUStrategy
	}
}

// Closer is implemented by caches owning background resources.
type Closer interface {
	Close()
}

// New returns a local cache using the selected strategy.
func New[T any](s Strategy) (Cache[T], error) {
	switch s {
	case LFUStrategy:
		rc, err := NewRistretto[T]()
		if err != nil {
			return nil, err
		}
		return rc, nil
	case AdaptiveStrategy:
		ac, err := NewAdaptive[T](0)
		if err != nil {
			return nil, err
		}
		return ac, nil
	default:
		return NewInMemory[T](), nil
	}
}
