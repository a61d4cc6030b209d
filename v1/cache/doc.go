// Package cache provides the process-local tier: an LRU cache with per-entry
// TTL and a background sweeper, a ristretto-backed LFU alternative, and an
// adaptive cache switching between the two.
package cache
