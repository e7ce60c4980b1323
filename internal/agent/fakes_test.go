package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/wwwzy/EstateAgent/internal/checkpoint"
)

// msgCmpOpts 允许 cmp 比较 schema.Message 中可能存在的未导出字段。
var msgCmpOpts = []cmp.Option{cmp.Exporter(func(reflect.Type) bool { return true })}

// script 是 fakeModel 共享的剧本：planner 与 reasoner 各自按顺序取回复。
type script struct {
	mu            sync.Mutex
	planner       []reply
	reasoner      []reply
	plannerCalls  [][]*schema.Message
	reasonerCalls [][]*schema.Message
	// loopReasoner 不为 nil 时，剧本用完后 reasoner 一直返回它。
	loopReasoner func(n int) reply
}

type reply struct {
	msg *schema.Message
	err error
}

func (s *script) next(bound bool, input []*schema.Message) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !bound {
		s.plannerCalls = append(s.plannerCalls, input)
		if len(s.planner) == 0 {
			return schema.AssistantMessage(`{"steps": []}`, nil), nil
		}
		r := s.planner[0]
		s.planner = s.planner[1:]
		return r.msg, r.err
	}
	s.reasonerCalls = append(s.reasonerCalls, input)
	if len(s.reasoner) == 0 {
		if s.loopReasoner != nil {
			r := s.loopReasoner(len(s.reasonerCalls))
			return r.msg, r.err
		}
		return nil, errors.New("script exhausted")
	}
	r := s.reasoner[0]
	s.reasoner = s.reasoner[1:]
	return r.msg, r.err
}

func (s *script) reasonerCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reasonerCalls)
}

type fakeModel struct {
	s     *script
	bound bool
	tools []*schema.ToolInfo
}

func newFakeModel(s *script) *fakeModel { return &fakeModel{s: s} }

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.s.next(f.bound, input)
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (f *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &fakeModel{s: f.s, bound: true, tools: tools}, nil
}

// fakeTool 是可编排的文本工具。
type fakeTool struct {
	name  string
	mu    sync.Mutex
	args  []map[string]any
	run   func(ctx context.Context, args map[string]any) (string, error)
	calls int
}

func (t *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "fake " + t.name}, nil
}

func (t *fakeTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	t.mu.Lock()
	t.args = append(t.args, args)
	t.calls++
	t.mu.Unlock()
	if t.run != nil {
		return t.run(ctx, args)
	}
	return fmt.Sprintf("%s ok", t.name), nil
}

func (t *fakeTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// plotTool 每次调用保存一个图表成果。
type plotTool struct{}

func (plotTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "save_plot", Desc: "saves a plot"}, nil
}

func (plotTool) InvokePatch(_ context.Context, argumentsInJSON string, callID string) (StatePatch, error) {
	var args struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal([]byte(argumentsInJSON), &args)
	return StatePatch{
		SavedArtifacts: []Artifact{{ID: args.Title, Kind: "plot", Title: args.Title, ToolCallID: callID}},
	}, nil
}

// failingStore 的 Save 总是失败，Load 总是视为新线程。
type failingStore struct{}

func (failingStore) Load(context.Context, string) ([]byte, error) { return nil, checkpoint.ErrNotFound }
func (failingStore) Save(context.Context, string, []byte) error   { return errors.New("disk full") }
func (failingStore) Delete(context.Context, string) error         { return nil }

type staticProfiles map[string]UserProfile

func (p staticProfiles) GetProfile(_ context.Context, id string) (UserProfile, error) {
	if v, ok := p[id]; ok {
		return v, nil
	}
	return UserProfile{}, errors.New("no such user")
}

// recordingHook 记录节点执行顺序。
type recordingHook struct {
	mu    sync.Mutex
	nodes []string
}

func (h *recordingHook) BeforeNode(_ context.Context, node string, _ *ConversationState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = append(h.nodes, node)
}

func (h *recordingHook) AfterNode(context.Context, string, *ConversationState, time.Duration, error) {}

func (h *recordingHook) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.nodes...)
}

func assistantCalls(calls ...schema.ToolCall) *schema.Message {
	return schema.AssistantMessage("", calls)
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}
