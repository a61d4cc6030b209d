package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	tierrors "github.com/mirkobrombin/go-tiercache/v1/errors"
)

// delScript removes KEYS[1] only while it holds ARGV[1].
var delScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// swapScript replaces KEYS[1] with ARGV[2] only while it holds ARGV[1].
// ARGV[3] is the new ttl in milliseconds, zero for none.
var swapScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
    return 0
end
if tonumber(ARGV[3]) > 0 then
    redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
    redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

const (
	defaultRedisOpTimeout = 5 * time.Second
	redisScanCount        = 256
)

// RedisStore implements Store on a Redis server. Every key is stored under
// an optional namespace so several applications can share one database.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	timeout   time.Duration
}

var (
	_ Store              = (*RedisStore)(nil)
	_ PrefixRemover      = (*RedisStore)(nil)
	_ Flusher            = (*RedisStore)(nil)
	_ ConditionalSetter  = (*RedisStore)(nil)
	_ KeyLister          = (*RedisStore)(nil)
	_ ConditionalRemover = (*RedisStore)(nil)
	_ Swapper            = (*RedisStore)(nil)
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTimeout sets the per-operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNamespace prefixes every key with ns.
func WithNamespace(ns string) RedisOption {
	return func(s *RedisStore) {
		s.namespace = ns
	}
}

// NewRedisStore returns a RedisStore using client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string { return s.namespace + k }

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, translate(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

func translateRedis(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return tierrors.ErrConnectionClosed
	}
	return translate(err)
}

// GetString implements Store.
func (s *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()
	v, err := s.client.Get(cctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translateRedis(err)
	}
	return v, true, nil
}

// SetString implements Store.
func (s *RedisStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	return translateRedis(s.client.Set(cctx, s.key(key), value, ttl).Err())
}

// RemoveString implements Store.
func (s *RedisStore) RemoveString(ctx context.Context, key string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return translateRedis(s.client.Del(cctx, s.key(key)).Err())
}

// SetIfAbsent implements ConditionalSetter with SET NX.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(cctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, translateRedis(err)
	}
	return ok, nil
}

// RemoveIfEquals implements ConditionalRemover with a compare-and-delete
// Lua script.
func (s *RedisStore) RemoveIfEquals(ctx context.Context, key, value string) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	n, err := delScript.Run(cctx, s.client, []string{s.key(key)}, value).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, translateRedis(err)
	}
	return n == 1, nil
}

// CompareAndSwap implements Swapper with a Lua script.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	var ms int64
	if ttl > 0 {
		ms = max(ttl.Milliseconds(), 1)
	}
	n, err := swapScript.Run(cctx, s.client, []string{s.key(key)}, old, value, ms).Int()
	if err != nil {
		return false, translateRedis(err)
	}
	return n == 1, nil
}

// RemoveByPrefix implements PrefixRemover using SCAN and UNLINK. Keys
// written concurrently with the scan may survive.
func (s *RedisStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return s.unlinkMatching(cctx, escapeGlob(s.key(prefix))+"*")
}

// Flush implements Flusher. Without a namespace the whole database is
// flushed; otherwise only the namespace is scanned and removed.
func (s *RedisStore) Flush(ctx context.Context) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if s.namespace == "" {
		return translateRedis(s.client.FlushDB(cctx).Err())
	}
	return s.unlinkMatching(cctx, escapeGlob(s.namespace)+"*")
}

func (s *RedisStore) unlinkMatching(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, redisScanCount).Result()
		if err != nil {
			return translateRedis(err)
		}
		if len(batch) > 0 {
			if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
				return translateRedis(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Keys implements KeyLister. Returned keys do not carry the namespace.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(cctx, cursor, escapeGlob(s.key(prefix))+"*", redisScanCount).Result()
		if err != nil {
			return nil, translateRedis(err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
