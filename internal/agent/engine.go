package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/checkpoint"
)

// ProfileProvider 为每一轮对话提供最新的用户画像。对 core 来说画像是只读的。
type ProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
}

type Options struct {
	MaxIterations int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	// TurnTimeout 限制一轮对话的总时长，超时后本轮以失败答复结束。0 表示不限制。
	TurnTimeout time.Duration
	// Hook 与 debug 级别的 LogHook 一起调用。
	Hook NodeHook
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 8
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = 60 * time.Second
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 45 * time.Second
	}
	logHook := LogHook{Level: zerolog.DebugLevel}
	if o.Hook == nil {
		o.Hook = logHook
	} else {
		o.Hook = MultiHook{logHook, o.Hook}
	}
	return o
}

type Deps struct {
	Model    model.ToolCallingChatModel
	Tools    []tool.BaseTool
	Store    checkpoint.Store
	Profiles ProfileProvider
}

// TurnResult 是一轮对话的对外结果。
type TurnResult struct {
	ThreadID string
	TraceID  string
	Reply    string
	Plan     string
	// Artifacts 只包含本轮新增的成果。
	Artifacts []Artifact
	// Messages 为本轮新增的消息（含用户消息）。
	Messages   []*schema.Message
	Iterations int
	// Failed 表示 reasoner 未能完成，Reply 为重试提示，本轮失败的那一步没有写入快照。
	Failed bool
}

// Engine 持有编译好的图，可被多个线程并发调用；同一线程同一时刻只允许一轮对话。
type Engine struct {
	registry     *Registry
	checkpointer *Checkpointer
	profiles     ProfileProvider
	runnable     compose.Runnable[ConversationState, ConversationState]
	callbacks    []compose.Option
	turnTimeout  time.Duration

	inflight sync.Map // thread id -> struct{}
}

func NewEngine(ctx context.Context, deps Deps, opts Options) (*Engine, error) {
	if deps.Model == nil {
		return nil, errors.New("chat model is nil")
	}
	if deps.Store == nil {
		return nil, errors.New("checkpoint store is nil")
	}
	opts = opts.withDefaults()

	registry, err := NewRegistry(ctx, deps.Tools)
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}
	reasoner, err := NewReasoner(deps.Model, registry, opts.ModelTimeout)
	if err != nil {
		return nil, err
	}
	cp := NewCheckpointer(deps.Store)

	runnable, err := buildGraph(ctx, graphDeps{
		planner:       NewPlanner(deps.Model, registry, opts.ModelTimeout),
		reasoner:      reasoner,
		dispatcher:    NewDispatcher(registry, opts.ToolTimeout),
		checkpointer:  cp,
		hook:          opts.Hook,
		maxIterations: opts.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("compile graph: %w", err)
	}

	return &Engine{
		registry:     registry,
		checkpointer: cp,
		profiles:     deps.Profiles,
		runnable:     runnable,
		callbacks:    []compose.Option{compose.WithCallbacks(NewCallbackHandler())},
		turnTimeout:  opts.TurnTimeout,
	}, nil
}

func (e *Engine) Registry() *Registry { return e.registry }

// HandleMessage 载入线程快照、刷新画像、追加用户消息并运行一轮图。
// 只有 checkpoint 失败、线程忙或参数非法时返回 error；模型与工具失败都体现在 TurnResult 中。
func (e *Engine) HandleMessage(ctx context.Context, threadID, userID, text string) (TurnResult, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return TurnResult{}, ErrEmptyThread
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}

	release, err := e.acquire(threadID)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	traceID := uuid.NewString()
	logger := log.Logger.With().Str("thread_id", threadID).Str("trace_id", traceID).Logger()
	ctx = logger.WithContext(ctx)
	ctx = WithTraceID(WithThreadID(ctx, threadID), traceID)

	st, found, err := e.checkpointer.Load(ctx, threadID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("%w: load: %v", ErrCheckpoint, err)
	}
	if !found {
		logger.Debug().Msg("starting new thread")
	}

	if e.profiles != nil && userID != "" {
		p, err := e.profiles.GetProfile(ctx, userID)
		if err != nil {
			// 画像取不到时沿用快照里的旧画像
			logger.Warn().Err(err).Str("user_id", userID).Msg("refresh profile failed")
		} else {
			st.UserProfile = p
		}
	}
	if st.UserProfile.Email != "" {
		ctx = WithUserEmail(ctx, st.UserProfile.Email)
	}

	msgsBefore := len(st.Messages)
	artifactsBefore := len(st.SavedArtifacts)
	st.Messages = appendMessages(st.Messages, []*schema.Message{schema.UserMessage(text)})
	st.RoutingSignal = SignalNone

	runCtx := ctx
	if e.turnTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.turnTimeout)
		defer cancel()
	}

	scope := &turnScope{threadID: threadID}
	out, err := e.runnable.Invoke(withTurnScope(runCtx, scope), st, e.callbacks...)
	if scope.checkpointErr != nil {
		return TurnResult{}, fmt.Errorf("%w: %v", ErrCheckpoint, scope.checkpointErr)
	}
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			// 本轮超时：已完成节点的快照保留，调用方拿到失败答复
			logger.Warn().Err(err).Dur("turn_timeout", e.turnTimeout).Msg("turn deadline exceeded")
			return TurnResult{ThreadID: threadID, TraceID: traceID, Reply: ReasonerFailureMsg, Failed: true}, nil
		}
		return TurnResult{}, fmt.Errorf("run graph: %w", err)
	}

	res := TurnResult{
		ThreadID:   threadID,
		TraceID:    traceID,
		Plan:       out.Plan,
		Iterations: out.Iterations,
	}
	if len(out.SavedArtifacts) > artifactsBefore {
		res.Artifacts = append([]Artifact(nil), out.SavedArtifacts[artifactsBefore:]...)
	}
	if len(out.Messages) > msgsBefore {
		res.Messages = append([]*schema.Message(nil), out.Messages[msgsBefore:]...)
	}

	if out.failed {
		res.Failed = true
		res.Reply = ReasonerFailureMsg
		return res, nil
	}
	if last := LastAssistant(res.Messages); last != nil {
		res.Reply = last.Content
	}
	return res, nil
}

// History 返回线程快照中的完整消息记录。
func (e *Engine) History(ctx context.Context, threadID string) (ConversationState, bool, error) {
	return e.checkpointer.Load(ctx, threadID)
}

// ClearThread 删除线程快照，下一条消息将从空白状态开始。
func (e *Engine) ClearThread(ctx context.Context, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return ErrEmptyThread
	}
	release, err := e.acquire(threadID)
	if err != nil {
		return err
	}
	defer release()
	return e.checkpointer.Delete(ctx, threadID)
}

// acquire 占用线程；同一线程同时只允许一轮对话或一次清空。
func (e *Engine) acquire(threadID string) (func(), error) {
	if _, busy := e.inflight.LoadOrStore(threadID, struct{}{}); busy {
		return nil, ErrThreadBusy
	}
	return func() { e.inflight.Delete(threadID) }, nil
}
