package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

const defaultBoltBucket = "tiercache"

// BoltStore implements Store on a single bbolt file. Values are stored as an
// 8-byte big-endian expiry (Unix nanoseconds, zero for none) followed by the
// raw value. It suits a single process: bbolt holds an exclusive file lock
// while the database is open read-write, so a second process blocks in Open.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

var (
	_ Store              = (*BoltStore)(nil)
	_ PrefixRemover      = (*BoltStore)(nil)
	_ Flusher            = (*BoltStore)(nil)
	_ ConditionalSetter  = (*BoltStore)(nil)
	_ KeyLister          = (*BoltStore)(nil)
	_ ConditionalRemover = (*BoltStore)(nil)
	_ Swapper            = (*BoltStore)(nil)
)

// BoltOption configures a BoltStore.
type BoltOption func(*boltOptions)

type boltOptions struct {
	bucket  string
	timeout time.Duration
}

// WithBoltBucket sets the bucket name.
func WithBoltBucket(name string) BoltOption {
	return func(o *boltOptions) {
		o.bucket = name
	}
}

// WithBoltOpenTimeout bounds how long Open waits for the file lock.
func WithBoltOpenTimeout(d time.Duration) BoltOption {
	return func(o *boltOptions) {
		o.timeout = d
	}
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string, opts ...BoltOption) (*BoltStore, error) {
	o := boltOptions{bucket: defaultBoltBucket, timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, err
	}
	bucket := []byte(o.bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, bucket: bucket}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeBolt(value string, ttl time.Duration) []byte {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(exp))
	copy(buf[8:], value)
	return buf
}

// decodeBolt returns the value and whether it is still live. Records shorter
// than the header are treated as absent.
func decodeBolt(raw []byte, now int64) (string, bool) {
	if len(raw) < 8 {
		return "", false
	}
	exp := int64(binary.BigEndian.Uint64(raw[:8]))
	if exp != 0 && now >= exp {
		return "", false
	}
	return string(raw[8:]), true
}

// GetString implements Store. Expired records are left for the next write
// or PurgeExpired.
func (s *BoltStore) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, translate(err)
	}
	var (
		out string
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(s.bucket).Get([]byte(key)); raw != nil {
			out, ok = decodeBolt(raw, time.Now().UnixNano())
		}
		return nil
	})
	return out, ok, err
}

// SetString implements Store.
func (s *BoltStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), encodeBolt(value, ttl))
	})
}

// RemoveString implements Store.
func (s *BoltStore) RemoveString(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

// SetIfAbsent implements ConditionalSetter. bbolt serializes writers, so
// the check and the put are atomic.
func (s *BoltStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	set := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if raw := b.Get([]byte(key)); raw != nil {
			if _, live := decodeBolt(raw, time.Now().UnixNano()); live {
				return nil
			}
		}
		set = true
		return b.Put([]byte(key), encodeBolt(value, ttl))
	})
	return set, err
}

// RemoveIfEquals implements ConditionalRemover.
func (s *BoltStore) RemoveIfEquals(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if cur, live := decodeBolt(raw, time.Now().UnixNano()); !live || cur != value {
			return nil
		}
		removed = true
		return b.Delete([]byte(key))
	})
	return removed, err
}

// CompareAndSwap implements Swapper.
func (s *BoltStore) CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, translate(err)
	}
	swapped := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		if cur, live := decodeBolt(raw, time.Now().UnixNano()); !live || cur != old {
			return nil
		}
		swapped = true
		return b.Put([]byte(key), encodeBolt(value, ttl))
	})
	return swapped, err
}

// RemoveByPrefix implements PrefixRemover with a cursor range scan.
func (s *BoltStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	p := []byte(prefix)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		var doomed [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush implements Flusher by recreating the bucket.
func (s *BoltStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return translate(err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

// Keys implements KeyLister. Keys are returned in ascending order.
func (s *BoltStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, translate(err)
	}
	p := []byte(prefix)
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		now := time.Now().UnixNano()
		c := tx.Bucket(s.bucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if _, live := decodeBolt(v, now); live {
				keys = append(keys, string(k))
			}
		}
		return nil
	})
	return keys, err
}

// PurgeExpired deletes expired records and returns how many were removed.
func (s *BoltStore) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, translate(err)
	}
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		now := time.Now().UnixNano()
		var doomed [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if _, live := decodeBolt(v, now); !live {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(doomed)
		return nil
	})
	return n, err
}
