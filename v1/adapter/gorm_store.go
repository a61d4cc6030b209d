package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultGormTableName = "tiercache_kv"
	defaultGormOpTimeout = 5 * time.Second
)

// gormKV is the row model. ExpiresAt is a Unix nanosecond timestamp; zero
// means no expiry.
type gormKV struct {
	Key       string `gorm:"primaryKey;column:key_id"`
	Value     string `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at;index"`
}

// GormStore implements Store on any SQL database supported by GORM.
// Expired rows read as absent and are deleted when touched.
type GormStore struct {
	db        *gorm.DB
	tableName string
	timeout   time.Duration
}

var (
	_ Store              = (*GormStore)(nil)
	_ PrefixRemover      = (*GormStore)(nil)
	_ Flusher            = (*GormStore)(nil)
	_ ConditionalSetter  = (*GormStore)(nil)
	_ KeyLister          = (*GormStore)(nil)
	_ ConditionalRemover = (*GormStore)(nil)
	_ Swapper            = (*GormStore)(nil)
)

// GormOption configures a GormStore.
type GormOption func(*GormStore)

// WithGormTableName sets the table name.
func WithGormTableName(name string) GormOption {
	return func(s *GormStore) {
		s.tableName = name
	}
}

// WithGormTimeout sets the per-operation timeout.
func WithGormTimeout(d time.Duration) GormOption {
	return func(s *GormStore) {
		s.timeout = d
	}
}

// NewGormStore returns a GormStore and migrates its table.
func NewGormStore(db *gorm.DB, opts ...GormOption) (*GormStore, error) {
	s := &GormStore{
		db:        db,
		tableName: defaultGormTableName,
		timeout:   defaultGormOpTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.Table(s.tableName).AutoMigrate(&gormKV{}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.tableName)
}

func (s *GormStore) opContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, translate(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	return cctx, cancel, nil
}

func unixExpiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixNano()
}

// live restricts a query to rows that have not expired.
func live(tx *gorm.DB) *gorm.DB {
	return tx.Where("expires_at = 0 OR expires_at > ?", time.Now().UnixNano())
}

// GetString implements Store.
func (s *GormStore) GetString(ctx context.Context, key string) (string, bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return "", false, err
	}
	defer cancel()

	var kv gormKV
	err = s.table(cctx).Where("key_id = ?", key).Take(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate(err)
	}
	if kv.ExpiresAt != 0 && kv.ExpiresAt <= time.Now().UnixNano() {
		_ = s.table(cctx).Where("key_id = ? AND expires_at = ?", key, kv.ExpiresAt).Delete(&gormKV{}).Error
		return "", false, nil
	}
	return kv.Value, true, nil
}

// SetString implements Store.
func (s *GormStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	kv := gormKV{Key: key, Value: value, ExpiresAt: unixExpiry(ttl)}
	err = s.table(cctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&kv).Error
	return translate(err)
}

// RemoveString implements Store.
func (s *GormStore) RemoveString(ctx context.Context, key string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return translate(s.table(cctx).Where("key_id = ?", key).Delete(&gormKV{}).Error)
}

// SetIfAbsent implements ConditionalSetter. An expired row is replaced.
func (s *GormStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	set := false
	err = s.db.WithContext(cctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.tableName).
			Where("key_id = ? AND expires_at <> 0 AND expires_at <= ?", key, time.Now().UnixNano()).
			Delete(&gormKV{}).Error; err != nil {
			return err
		}
		res := tx.Table(s.tableName).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&gormKV{Key: key, Value: value, ExpiresAt: unixExpiry(ttl)})
		if res.Error != nil {
			return res.Error
		}
		set = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return set, nil
}

// RemoveIfEquals implements ConditionalRemover.
func (s *GormStore) RemoveIfEquals(ctx context.Context, key, value string) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	res := live(s.table(cctx).Where("key_id = ? AND value = ?", key, value)).Delete(&gormKV{})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CompareAndSwap implements Swapper.
func (s *GormStore) CompareAndSwap(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	res := live(s.table(cctx).Where("key_id = ? AND value = ?", key, old)).
		Updates(map[string]any{"value": value, "expires_at": unixExpiry(ttl)})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// likeEscaper escapes LIKE wildcards with '!'. A backslash escape is not
// portable: MySQL reads '\' as an unterminated literal.
var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

// RemoveByPrefix implements PrefixRemover.
func (s *GormStore) RemoveByPrefix(ctx context.Context, prefix string) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	err = s.table(cctx).
		Where(`key_id LIKE ? ESCAPE '!'`, likeEscaper.Replace(prefix)+"%").
		Delete(&gormKV{}).Error
	return translate(err)
}

// Flush implements Flusher by deleting every row of the table.
func (s *GormStore) Flush(ctx context.Context) error {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return translate(s.table(cctx).Where("1 = 1").Delete(&gormKV{}).Error)
}

// Keys implements KeyLister. Keys are returned in ascending order.
func (s *GormStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	var keys []string
	err = live(s.table(cctx)).
		Where(`key_id LIKE ? ESCAPE '!'`, likeEscaper.Replace(prefix)+"%").
		Order("key_id").
		Pluck("key_id", &keys).Error
	if err != nil {
		return nil, translate(err)
	}
	return keys, nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	cctx, cancel, err := s.opContext(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	res := s.table(cctx).
		Where("expires_at <> 0 AND expires_at <= ?", time.Now().UnixNano()).
		Delete(&gormKV{})
	return res.RowsAffected, translate(res.Error)
}
