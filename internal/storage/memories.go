package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Storage) InsertMemory(ctx context.Context, namespace, content string) (*Memory, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	content = strings.TrimSpace(content)
	if namespace == "" || content == "" {
		return nil, errors.New("namespace and content are required")
	}
	m := &Memory{ID: uuid.NewString(), Namespace: namespace, Content: content}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	return m, nil
}

// DeleteMemory 只删除属于 namespace 的条目，防止跨用户删除。
func (s *Storage) DeleteMemory(ctx context.Context, namespace, id string) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("namespace = ? AND id = ?", namespace, id).Delete(&Memory{})
	if res.Error != nil {
		return fmt.Errorf("delete memory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListMemories 返回 namespace 下最新的记忆，按创建时间倒序。
func (s *Storage) ListMemories(ctx context.Context, namespace string, limit int) ([]Memory, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []Memory
	err := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("created_at DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return out, nil
}
