package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetCache 返回未过期的缓存内容；不存在或已过期时返回 ErrNotFound。
func (s *Storage) GetCache(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var row SearchCache
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, time.Now().UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache: %w", err)
	}
	return row.Payload, nil
}

func (s *Storage) PutCache(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	row := SearchCache{Key: key, Payload: payload, ExpiresAt: time.Now().UTC().Add(ttl)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("put cache: %w", err)
	}
	return nil
}

func (s *Storage) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&SearchCache{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}
