package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wwwzy/EstateAgent/internal/checkpoint"
)

const snapshotVersion = 1

type snapshot struct {
	Version int               `json:"version"`
	State   ConversationState `json:"state"`
}

// Checkpointer 负责 ConversationState 与 checkpoint.Store 之间的编解码。
type Checkpointer struct {
	store checkpoint.Store
}

func NewCheckpointer(store checkpoint.Store) *Checkpointer {
	return &Checkpointer{store: store}
}

// Load 返回线程的最新快照；线程不存在时 found 为 false 且 err 为 nil。
func (c *Checkpointer) Load(ctx context.Context, threadID string) (st ConversationState, found bool, err error) {
	raw, err := c.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return ConversationState{}, false, nil
	}
	if err != nil {
		return ConversationState{}, false, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return ConversationState{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if snap.Version > snapshotVersion {
		return ConversationState{}, false, fmt.Errorf("checkpoint version %d is newer than supported %d", snap.Version, snapshotVersion)
	}
	return snap.State, true, nil
}

func (c *Checkpointer) Save(ctx context.Context, threadID string, st ConversationState) error {
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, State: st})
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return c.store.Save(ctx, threadID, raw)
}

func (c *Checkpointer) Delete(ctx context.Context, threadID string) error {
	return c.store.Delete(ctx, threadID)
}
