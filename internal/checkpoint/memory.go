package checkpoint

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore 进程内实现，用于测试与 checkpoint.driver=memory。
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, threadID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.items[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Save(_ context.Context, threadID string, state []byte) error {
	if threadID == "" {
		return fmt.Errorf("thread id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[threadID] = append([]byte(nil), state...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, threadID)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
