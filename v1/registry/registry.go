// Package registry tracks which cache keys the local tier may hold, so that
// a whole group can be evicted by prefix.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// Registry is a set of keys stored in an immutable radix tree. Writers
// serialize on a mutex and publish a new tree; readers never block.
type Registry struct {
	mu   sync.Mutex
	tree atomic.Pointer[iradix.Tree]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.tree.Store(iradix.New())
	return r
}

// Add records key. Adding an existing key is a no-op.
func (r *Registry) Add(key string) {
	if r.Contains(key) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _, _ := r.tree.Load().Insert([]byte(key), struct{}{})
	r.tree.Store(t)
}

// Remove drops key and reports whether it was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, _, ok := r.tree.Load().Delete([]byte(key))
	if ok {
		r.tree.Store(t)
	}
	return ok
}

// RemoveByPrefix drops every key starting with prefix and returns them in
// ascending order. Only the subtree below prefix is visited.
func (r *Registry) RemoveByPrefix(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.tree.Load()
	var removed []string
	cur.Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		removed = append(removed, string(k))
		return false
	})
	if len(removed) == 0 {
		return nil
	}
	txn := cur.Txn()
	txn.DeletePrefix([]byte(prefix))
	r.tree.Store(txn.Commit())
	return removed
}

// Clear drops every key.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tree.Store(iradix.New())
	r.mu.Unlock()
}

// Contains reports whether key is registered.
func (r *Registry) Contains(key string) bool {
	_, ok := r.tree.Load().Get([]byte(key))
	return ok
}

// Keys returns a sorted snapshot of the registered keys.
func (r *Registry) Keys() []string {
	return r.KeysWithPrefix("")
}

// KeysWithPrefix returns the registered keys under prefix, sorted.
func (r *Registry) KeysWithPrefix(prefix string) []string {
	var out []string
	r.tree.Load().Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		out = append(out, string(k))
		return false
	})
	// radix walks are already lexicographic; keep the guarantee explicit
	if !sort.StringsAreSorted(out) {
		sort.Strings(out)
	}
	return out
}

func (r *Registry) Len() int {
	return r.tree.Load().Len()
}
