// Package checkpoint 保存每个会话线程最新的状态快照。
// Store 只处理原始字节，状态的编解码由 agent 包负责。
package checkpoint

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("checkpoint not found")

// Store 按 thread id 读写快照。同一线程的写入由调用方串行化，Save 本身必须是原子覆盖。
type Store interface {
	Load(ctx context.Context, threadID string) ([]byte, error)
	Save(ctx context.Context, threadID string, state []byte) error
	Delete(ctx context.Context, threadID string) error
}
