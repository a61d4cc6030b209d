// Package lock provides advisory mutual exclusion and heartbeat-tracked
// long-running tasks on top of an adapter.Store.
//
// Both features keep a small JSON sentinel in the store under a key prefix.
// A missing sentinel means the resource is free. Sentinels carry a TTL so a
// crashed holder never blocks a resource forever.
//
// Exclusion is only as strong as the store. Stores implementing
// adapter.ConditionalSetter get an atomic acquire; other stores fall back to
// a read followed by a write, which narrows duplicate work but does not
// prevent it. Do not rely on this package for correctness-critical
// exclusion.
package lock
