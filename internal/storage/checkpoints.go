package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Storage) LoadCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var cp Checkpoint
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("checkpoint %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint 以单条 upsert 语句覆盖写线程快照，写入是原子的。
func (s *Storage) SaveCheckpoint(ctx context.Context, threadID string, state []byte) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if threadID == "" {
		return errors.New("thread id is empty")
	}
	now := time.Now().UTC()
	cp := Checkpoint{ThreadID: threadID, State: state, Version: 1, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"state":      state,
			"updated_at": now,
			"version":    gorm.Expr("version + 1"),
		}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Storage) DeleteCheckpoint(ctx context.Context, threadID string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&Checkpoint{}).Error; err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteCheckpointsIdleSince 删除 before 之后再未更新过的线程快照。
func (s *Storage) DeleteCheckpointsIdleSince(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&Checkpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete idle checkpoints: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountCheckpoints(ctx context.Context) (int64, error) {
	return s.count(ctx, &Checkpoint{})
}
