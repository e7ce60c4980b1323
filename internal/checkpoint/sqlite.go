package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/wwwzy/EstateAgent/internal/storage"
)

// SQLiteStore 复用主库的 checkpoints 表。
type SQLiteStore struct {
	store *storage.Storage
}

func NewSQLiteStore(store *storage.Storage) (*SQLiteStore, error) {
	if store == nil {
		return nil, errors.New("storage is nil")
	}
	return &SQLiteStore{store: store}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) ([]byte, error) {
	cp, err := s.store.LoadCheckpoint(ctx, threadID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return cp.State, nil
}

func (s *SQLiteStore) Save(ctx context.Context, threadID string, state []byte) error {
	return s.store.SaveCheckpoint(ctx, threadID, state)
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	return s.store.DeleteCheckpoint(ctx, threadID)
}
