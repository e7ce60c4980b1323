package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/checkpoint"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

type engineFixture struct {
	engine *Engine
	script *script
	hook   *recordingHook
	store  checkpoint.Store
}

func newEngineFixture(t *testing.T, s *script, store checkpoint.Store, opts Options, tools ...tool.BaseTool) *engineFixture {
	t.Helper()
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	hook := &recordingHook{}
	if opts.Hook == nil {
		opts.Hook = hook
	}
	e, err := NewEngine(context.Background(), Deps{
		Model: newFakeModel(s),
		Tools: tools,
		Store: store,
		Profiles: staticProfiles{
			"u1": {ID: "u1", Name: "Mona", Email: "mona@example.com", Budget: 5_000_000, FamilySize: 4},
		},
	}, opts)
	require.NoError(t, err)
	return &engineFixture{engine: e, script: s, hook: hook, store: store}
}

func TestEngine_ProjectSearchRunsOneDispatchCycle(t *testing.T) {
	var seenEmail, seenThread string
	matcher := &fakeTool{name: "intelligent_project_matcher", run: func(ctx context.Context, _ map[string]any) (string, error) {
		seenEmail = UserEmailFrom(ctx)
		seenThread = ThreadIDFrom(ctx)
		return "Palm Hills New Cairo: 3BR from 4,500,000 EGP", nil
	}}
	s := &script{
		planner: []reply{{msg: schema.AssistantMessage(`{"steps":[{"tool":"intelligent_project_matcher","reason":"match budget and location"}]}`, nil)}},
		reasoner: []reply{
			{msg: assistantCalls(call("call_a", "intelligent_project_matcher", `{"location":"New Cairo","max_price":5000000,"bedrooms":3}`))},
			{msg: schema.AssistantMessage("Palm Hills New Cairo has a 3-bedroom unit at 4,500,000 EGP.", nil)},
		},
	}
	f := newEngineFixture(t, s, nil, Options{}, matcher)

	res, err := f.engine.HandleMessage(context.Background(), "t-a", "u1",
		"find me a 3-bedroom apartment in New Cairo under 5,000,000 EGP")
	require.NoError(t, err)

	assert.False(t, res.Failed)
	assert.Equal(t, "Palm Hills New Cairo has a 3-bedroom unit at 4,500,000 EGP.", res.Reply)
	assert.Contains(t, res.Plan, "intelligent_project_matcher")
	assert.NotEmpty(t, res.TraceID)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{NodePlanner, NodeReasoner, NodeDispatcher, NodeReasoner}, f.hook.seen())

	require.Equal(t, 1, matcher.callCount())
	args := matcher.args[0]
	assert.Equal(t, "New Cairo", args["location"])
	assert.EqualValues(t, 5000000, args["max_price"])
	assert.EqualValues(t, 3, args["bedrooms"])
	assert.Equal(t, "mona@example.com", seenEmail)
	assert.Equal(t, "t-a", seenThread)

	// user, plan directive, assistant(call), tool, assistant(final)
	require.Len(t, res.Messages, 5)
	assert.Equal(t, schema.User, res.Messages[0].Role)
	assert.Equal(t, schema.System, res.Messages[1].Role)
	assert.Equal(t, schema.Tool, res.Messages[3].Role)
	assert.Equal(t, "call_a", res.Messages[3].ToolCallID)

	// reasoner 的提示词里包含刷新后的画像
	require.Equal(t, 2, s.reasonerCallCount())
	assert.Contains(t, s.reasonerCalls[0][0].Content, "- Budget: 5,000,000 EGP")
	assert.Contains(t, s.reasonerCalls[0][0].Content, "1. intelligent_project_matcher: match budget and location")
	assert.Contains(t, s.reasonerCalls[0][0].Content, "Steps completed this turn:\nNone yet.")
	assert.Contains(t, s.reasonerCalls[1][0].Content, "Steps completed this turn:\n1. intelligent_project_matcher\n\nGuidelines")

	st, found, err := f.engine.History(context.Background(), "t-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, st.Messages, 5)
	assert.Equal(t, SignalTerminate, st.RoutingSignal)
	assert.Equal(t, []string{"intelligent_project_matcher"}, st.CompletedSteps)
}

func TestEngine_EmptyToolCallsSkipDispatcher(t *testing.T) {
	s := &script{reasoner: []reply{{msg: schema.AssistantMessage("Hello! How can I help?", []schema.ToolCall{})}}}
	lookup := &fakeTool{name: "lookup"}
	f := newEngineFixture(t, s, nil, Options{}, lookup)

	res, err := f.engine.HandleMessage(context.Background(), "t-d", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", res.Reply)
	assert.Equal(t, []string{NodePlanner, NodeReasoner}, f.hook.seen())
	assert.Zero(t, lookup.callCount())
}

func TestEngine_PatchesInOneBatchAccumulate(t *testing.T) {
	s := &script{reasoner: []reply{
		{msg: assistantCalls(call("c1", "save_plot", `{"title":"p1"}`), call("c2", "save_plot", `{"title":"p2"}`))},
		{msg: schema.AssistantMessage("Saved both charts.", nil)},
	}}
	f := newEngineFixture(t, s, nil, Options{}, plotTool{})

	res, err := f.engine.HandleMessage(context.Background(), "t-c", "", "plot prices")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, artifactIDs(res.Artifacts))

	// 每个调用恰好有一条 tool 消息
	var toolIDs []string
	for _, m := range res.Messages {
		if m.Role == schema.Tool {
			toolIDs = append(toolIDs, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"c1", "c2"}, toolIDs)
}

func TestEngine_ResumedThreadKeepsHistory(t *testing.T) {
	s := &script{reasoner: []reply{
		{msg: assistantCalls(call("c1", "save_plot", `{"title":"price-trend"}`))},
		{msg: schema.AssistantMessage("Here is the price trend.", nil)},
		{msg: schema.AssistantMessage("Sheikh Zayed is a bit cheaper.", nil)},
	}}
	f := newEngineFixture(t, s, nil, Options{}, plotTool{})
	ctx := context.Background()

	first, err := f.engine.HandleMessage(ctx, "t-e", "u1", "show me New Cairo prices")
	require.NoError(t, err)
	require.Len(t, first.Artifacts, 1)

	// 第二轮不带 userID：画像来自快照
	second, err := f.engine.HandleMessage(ctx, "t-e", "", "and in Sheikh Zayed?")
	require.NoError(t, err)
	assert.Equal(t, "Sheikh Zayed is a bit cheaper.", second.Reply)
	assert.Empty(t, second.Artifacts)
	assert.Equal(t, 1, second.Iterations)

	st, found, err := f.engine.History(ctx, "t-e")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"price-trend"}, artifactIDs(st.SavedArtifacts))
	assert.Equal(t, "Mona", st.UserProfile.Name)
	assert.Equal(t, "show me New Cairo prices", st.Messages[0].Content)
	assert.Equal(t, "Sheikh Zayed is a bit cheaper.", st.Messages[len(st.Messages)-1].Content)

	// planner 只看最新问题，reasoner 的输入从新的用户消息开始
	require.Len(t, s.plannerCalls, 2)
	assert.Equal(t, "and in Sheikh Zayed?", s.plannerCalls[1][1].Content)
	last := s.reasonerCalls[2]
	require.GreaterOrEqual(t, len(last), 2)
	assert.Equal(t, schema.System, last[0].Role)
	assert.Equal(t, "and in Sheikh Zayed?", last[1].Content)
	assert.Contains(t, last[0].Content, "- Name: Mona")
	// 上一轮的 save_plot 不算作本轮已完成的步骤
	assert.Contains(t, last[0].Content, "Steps completed this turn:\nNone yet.")
	assert.Equal(t, []string{"save_plot"}, st.CompletedSteps)
	assert.Empty(t, st.StepsThisTurn())
}

func TestEngine_IterationGuardGivesUp(t *testing.T) {
	s := &script{loopReasoner: func(n int) reply {
		return reply{msg: assistantCalls(call(fmt.Sprintf("loop_%d", n), "lookup", `{}`))}
	}}
	lookup := &fakeTool{name: "lookup"}
	f := newEngineFixture(t, s, nil, Options{MaxIterations: 3}, lookup)

	res, err := f.engine.HandleMessage(context.Background(), "t-loop", "", "keep looking")
	require.NoError(t, err)

	assert.Equal(t, giveUpMessage, res.Reply)
	assert.Equal(t, 3, s.reasonerCallCount())
	assert.Equal(t, 2, lookup.callCount())
	assert.Equal(t, NodeGiveUp, f.hook.seen()[len(f.hook.seen())-1])

	n := len(res.Messages)
	require.GreaterOrEqual(t, n, 2)
	skipped := res.Messages[n-2]
	assert.Equal(t, schema.Tool, skipped.Role)
	assert.Equal(t, "loop_3", skipped.ToolCallID)
	assert.Equal(t, skippedToolMessage, skipped.Content)
}

func TestEngine_ReasonerFailureIsNotCheckpointed(t *testing.T) {
	s := &script{reasoner: []reply{{err: errors.New("upstream 500")}}}
	f := newEngineFixture(t, s, nil, Options{})

	res, err := f.engine.HandleMessage(context.Background(), "t-fail", "", "hello")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, ReasonerFailureMsg, res.Reply)

	st, found, err := f.engine.History(context.Background(), "t-fail")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, LastAssistant(st.Messages))
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "hello", st.Messages[0].Content)
}

func TestEngine_CheckpointFailureIsFatal(t *testing.T) {
	s := &script{reasoner: []reply{{msg: schema.AssistantMessage("never delivered", nil)}}}
	f := newEngineFixture(t, s, failingStore{}, Options{})

	_, err := f.engine.HandleMessage(context.Background(), "t-cp", "", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCheckpoint)
	assert.Zero(t, s.reasonerCallCount())
}

func TestEngine_RejectsInvalidInput(t *testing.T) {
	f := newEngineFixture(t, &script{}, nil, Options{})

	_, err := f.engine.HandleMessage(context.Background(), " ", "", "hi")
	assert.ErrorIs(t, err, ErrEmptyThread)
	_, err = f.engine.HandleMessage(context.Background(), "t", "", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEngine_ThreadBusyAndClear(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := &fakeTool{name: "slow_lookup", run: func(ctx context.Context, _ map[string]any) (string, error) {
		once.Do(func() { close(entered) })
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	s := &script{reasoner: []reply{
		{msg: assistantCalls(call("c1", "slow_lookup", `{}`))},
		{msg: schema.AssistantMessage("finished", nil)},
	}}
	f := newEngineFixture(t, s, nil, Options{}, blocking)
	ctx := context.Background()

	type outcome struct {
		res TurnResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.engine.HandleMessage(ctx, "t-busy", "", "first")
		done <- outcome{res, err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tool was never invoked")
	}

	_, err := f.engine.HandleMessage(ctx, "t-busy", "", "second")
	assert.ErrorIs(t, err, ErrThreadBusy)
	assert.ErrorIs(t, f.engine.ClearThread(ctx, "t-busy"), ErrThreadBusy)

	close(release)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, "finished", out.res.Reply)

	require.NoError(t, f.engine.ClearThread(ctx, "t-busy"))
	_, found, err := f.engine.History(ctx, "t-busy")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_AuditRecordsToolCalls(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	failing := &fakeTool{name: "broken", run: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("backend down")
	}}
	tools := WrapWithAudit([]tool.BaseTool{&fakeTool{name: "lookup"}, failing, plotTool{}}, st)
	s := &script{reasoner: []reply{
		{msg: assistantCalls(call("c1", "lookup", `{"q":"maadi"}`), call("c2", "broken", `{}`), call("c3", "save_plot", `{"title":"x"}`))},
		{msg: schema.AssistantMessage("ok", nil)},
	}}
	f := newEngineFixture(t, s, nil, Options{}, tools...)

	res, err := f.engine.HandleMessage(ctx, "t-audit", "", "audit me")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, artifactIDs(res.Artifacts))

	recs, err := st.QueryAuditRecords(ctx, storage.AuditQuery{ThreadID: "t-audit"})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byAction := map[string]storage.AuditRecord{}
	for _, r := range recs {
		assert.Equal(t, res.TraceID, r.TraceID)
		byAction[r.Action] = r
	}
	assert.Equal(t, "success", byAction["lookup"].Status)
	assert.Equal(t, `{"q":"maadi"}`, byAction["lookup"].ParamsJSON)
	assert.Equal(t, "failed", byAction["broken"].Status)
	assert.Contains(t, byAction["broken"].ErrorMessage, "backend down")
	assert.Contains(t, byAction["save_plot"].ResultJSON, `"saved_artifacts":1`)
}

func TestEngine_TurnTimeoutEndsTurnAndKeepsProgress(t *testing.T) {
	slow := &fakeTool{name: "slow_lookup", run: func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s := &script{reasoner: []reply{
		{msg: assistantCalls(call("slow1", "slow_lookup", `{}`))},
		{msg: schema.AssistantMessage("too late", nil)},
	}}
	f := newEngineFixture(t, s, nil, Options{TurnTimeout: 100 * time.Millisecond}, slow)

	res, err := f.engine.HandleMessage(context.Background(), "t-slow", "", "look it up")
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, ReasonerFailureMsg, res.Reply)

	st, found, err := f.engine.History(context.Background(), "t-slow")
	require.NoError(t, err)
	require.True(t, found)
	var toolMsg *schema.Message
	for _, m := range st.Messages {
		if m.Role == schema.Tool {
			toolMsg = m
		}
	}
	require.NotNil(t, toolMsg, "the finished dispatch is checkpointed after the deadline")
	assert.Equal(t, "slow1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "deadline exceeded")
	assert.Equal(t, schema.Tool, st.Messages[len(st.Messages)-1].Role)

	// 线程已释放
	s.reasoner = []reply{{msg: schema.AssistantMessage("back", nil)}}
	res, err = f.engine.HandleMessage(context.Background(), "t-slow", "", "again")
	require.NoError(t, err)
	assert.Equal(t, "back", res.Reply)
}

// gatedDeleteStore 的 Delete 会阻塞到 release 关闭。
type gatedDeleteStore struct {
	*checkpoint.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (g gatedDeleteStore) Delete(ctx context.Context, threadID string) error {
	close(g.entered)
	<-g.release
	return g.MemoryStore.Delete(ctx, threadID)
}

func TestEngine_ClearThreadHoldsThreadGuard(t *testing.T) {
	store := gatedDeleteStore{MemoryStore: checkpoint.NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	s := &script{reasoner: []reply{{msg: schema.AssistantMessage("fresh start", nil)}}}
	f := newEngineFixture(t, s, store, Options{})
	ctx := context.Background()

	cleared := make(chan error, 1)
	go func() { cleared <- f.engine.ClearThread(ctx, "t-clear") }()

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("delete was never reached")
	}
	_, err := f.engine.HandleMessage(ctx, "t-clear", "", "hello")
	assert.ErrorIs(t, err, ErrThreadBusy)
	assert.ErrorIs(t, f.engine.ClearThread(ctx, "t-clear"), ErrThreadBusy)

	close(store.release)
	require.NoError(t, <-cleared)

	res, err := f.engine.HandleMessage(ctx, "t-clear", "", "hello")
	require.NoError(t, err)
	assert.Equal(t, "fresh start", res.Reply)
}

func TestMultiHook_CallsEveryHookAndSkipsNil(t *testing.T) {
	a, b := &recordingHook{}, &recordingHook{}
	m := MultiHook{a, nil, b}
	m.BeforeNode(context.Background(), NodePlanner, &ConversationState{})
	m.AfterNode(context.Background(), NodePlanner, &ConversationState{}, time.Millisecond, nil)
	assert.Equal(t, []string{NodePlanner}, a.seen())
	assert.Equal(t, []string{NodePlanner}, b.seen())

	opts := Options{Hook: a}.withDefaults()
	combined, ok := opts.Hook.(MultiHook)
	require.True(t, ok)
	require.Len(t, combined, 2)
	assert.IsType(t, LogHook{}, combined[0])
	assert.Same(t, a, combined[1])
}
