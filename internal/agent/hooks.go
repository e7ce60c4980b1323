package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NodeHook 在每个图节点执行前后被调用，用于观察状态迁移。实现不得修改 st。
type NodeHook interface {
	BeforeNode(ctx context.Context, node string, st *ConversationState)
	AfterNode(ctx context.Context, node string, st *ConversationState, elapsed time.Duration, err error)
}

// LogHook 把节点迁移写入 context 中的 zerolog logger。
type LogHook struct {
	Level zerolog.Level
}

func (h LogHook) BeforeNode(ctx context.Context, node string, st *ConversationState) {
	log.Ctx(ctx).WithLevel(h.Level).
		Str("node", node).
		Int("messages", len(st.Messages)).
		Int("iterations", st.Iterations).
		Msg("node start")
}

func (h LogHook) AfterNode(ctx context.Context, node string, st *ConversationState, elapsed time.Duration, err error) {
	ev := log.Ctx(ctx).WithLevel(h.Level)
	if err != nil {
		ev = log.Ctx(ctx).Warn().Err(err)
	}
	ev.Str("node", node).
		Int("messages", len(st.Messages)).
		Int("artifacts", len(st.SavedArtifacts)).
		Str("signal", string(st.RoutingSignal)).
		Dur("elapsed", elapsed).
		Msg("node end")
}

// MultiHook 依次调用多个 hook。
type MultiHook []NodeHook

func (m MultiHook) BeforeNode(ctx context.Context, node string, st *ConversationState) {
	for _, h := range m {
		if h != nil {
			h.BeforeNode(ctx, node, st)
		}
	}
}

func (m MultiHook) AfterNode(ctx context.Context, node string, st *ConversationState, elapsed time.Duration, err error) {
	for _, h := range m {
		if h != nil {
			h.AfterNode(ctx, node, st, elapsed, err)
		}
	}
}

// NewCallbackHandler 以 debug 级别记录 eino 组件（模型、lambda）的开始、结束与错误。
func NewCallbackHandler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			if info != nil {
				log.Ctx(ctx).Debug().Str("component", string(info.Component)).Str("name", info.Name).Msg("component start")
			}
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			if info != nil {
				log.Ctx(ctx).Debug().Str("component", string(info.Component)).Str("name", info.Name).Msg("component end")
			}
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			name := ""
			if info != nil {
				name = info.Name
			}
			log.Ctx(ctx).Warn().Err(err).Str("name", name).Msg("component error")
			return ctx
		}).
		Build()
}
