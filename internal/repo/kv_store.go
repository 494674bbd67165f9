package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/kv"
)

// KVStore implements kv.Backend on the kv_entries table. Atomic batches run
// inside a database transaction.
type KVStore struct {
	db *gorm.DB
}

// NewKVStore returns a backend bound to db. The table must already exist
// (see AutoMigrate).
func NewKVStore(db *gorm.DB) *KVStore { return &KVStore{db: db} }

var _ kv.Backend = (*KVStore)(nil)

func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	var e domain.KVEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return e.Value, nil
}

// Set upserts the row for key.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	e := domain.KVEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("key IN ?", keys).Delete(&domain.KVEntry{}).Error
}

func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := s.db.WithContext(ctx).Model(&domain.KVEntry{})
	if prefix != "" {
		q = q.Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	var keys []string
	if err := q.Order("key ASC").Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Atomic runs fn in a transaction; a non-nil error rolls everything back.
func (s *KVStore) Atomic(ctx context.Context, fn func(tx kv.Backend) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&KVStore{db: tx})
	})
}

// escapeLike quotes LIKE wildcards so prefixes such as "real_chat_" match
// literally ("_" is a single-character wildcard in SQL).
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
