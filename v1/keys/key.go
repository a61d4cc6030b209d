// Package keys resolves cache key templates into stable string keys.
//
// Templates use positional placeholders ({0}, {1}, ...) and segments are
// separated by '.', so that prefix invalidation lines up with logical groups:
//
//	tier.product.byid.{0}   ->  tier.product.byid.7
//	tier.product.           ->  every product key
//
// Collections of ids are hashed after sorting, which makes the key
// independent of the input order and bounded in length.
package keys

import (
	"time"
)

// Definition declares a key once, usually as a package-level variable.
// TTL is in minutes; Prefixes are templates resolved with the same params.
type Definition struct {
	Template string
	TTL      int
	Prefixes []string
}

// CacheKey is a resolved, immutable key.
type CacheKey struct {
	Template string
	Key      string
	// TTL in minutes. Zero or negative disables caching for this key.
	TTL      int
	Prefixes []string
}

// Persistent reports whether values under this key may be stored.
func (k CacheKey) Persistent() bool { return k.TTL > 0 }

// Duration returns the TTL as a time.Duration.
func (k CacheKey) Duration() time.Duration {
	if k.TTL <= 0 {
		return 0
	}
	return time.Duration(k.TTL) * time.Minute
}

func (k CacheKey) String() string { return k.Key }

// Resolve substitutes params into template. The number of params must match
// the placeholders exactly.
func Resolve(template string, params ...Param) (CacheKey, error) {
	return resolve(Definition{Template: template}, params)
}

// MustResolve is like Resolve but panics on a malformed template.
func MustResolve(template string, params ...Param) CacheKey {
	k, err := Resolve(template, params...)
	if err != nil {
		panic(err)
	}
	return k
}

// ResolvePrefix substitutes the given params and truncates the result at the
// first placeholder left without a param.
func ResolvePrefix(template string, params ...Param) (string, error) {
	return formatPrefix(template, params)
}

func resolve(def Definition, params []Param) (CacheKey, error) {
	key, err := format(def.Template, params)
	if err != nil {
		return CacheKey{}, err
	}
	var prefixes []string
	for _, p := range def.Prefixes {
		segs, err := parseTemplate(p)
		if err != nil {
			return CacheKey{}, err
		}
		prefixes = append(prefixes, render(segs, params, true))
	}
	return CacheKey{
		Template: def.Template,
		Key:      key,
		TTL:      def.TTL,
		Prefixes: prefixes,
	}, nil
}
