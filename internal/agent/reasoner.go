package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Reasoner 渲染系统提示词、压缩历史并调用已绑定工具的模型。
type Reasoner struct {
	model    model.ToolCallingChatModel
	template prompt.ChatTemplate
	timeout  time.Duration
	now      func() time.Time
}

// NewReasoner 将注册表中的全部工具绑定到模型上。
func NewReasoner(m model.ToolCallingChatModel, registry *Registry, timeout time.Duration) (*Reasoner, error) {
	bound, err := m.WithTools(registry.Infos())
	if err != nil {
		return nil, fmt.Errorf("bind tools to chat model failed: %w", err)
	}
	return &Reasoner{
		model:    bound,
		template: newReasonerTemplate(),
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// Reason 返回模型的回复以及路由信号：有工具调用则 continue_to_tools，否则 terminate。
func (r *Reasoner) Reason(ctx context.Context, st ConversationState) (*schema.Message, RoutingSignal, error) {
	plan := st.Plan
	if plan == "" {
		plan = "No plan for this turn. Decide the next step yourself."
	}
	msgs, err := r.template.Format(ctx, map[string]any{
		"time":      r.now().Format(time.RFC3339),
		"profile":   RenderProfile(st.UserProfile),
		"plan":      plan,
		"completed": renderSteps(st.StepsThisTurn()),
		"history":   Compact(st.Messages),
	})
	if err != nil {
		return nil, SignalNone, fmt.Errorf("format chat template failed: %w", err)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	out, err := r.model.Generate(callCtx, msgs)
	if err != nil {
		return nil, SignalNone, fmt.Errorf("%w: %v", ErrModelInvoke, err)
	}
	if out == nil {
		return nil, SignalNone, fmt.Errorf("%w: empty response", ErrModelInvoke)
	}

	// 复制后再改，模型实现可能复用返回的消息
	msg := *out
	msg.Role = schema.Assistant
	msg.ToolCalls = sanitizeToolCalls(out.ToolCalls, turnCallIDs(st.Messages))
	return &msg, routeFor(&msg), nil
}

func routeFor(msg *schema.Message) RoutingSignal {
	if msg != nil && len(msg.ToolCalls) > 0 {
		return SignalContinueToTools
	}
	return SignalTerminate
}

func (r *Reasoner) reasonNode(ctx context.Context, st ConversationState) (StateUpdate, error) {
	msg, signal, err := r.Reason(ctx, st)
	if err != nil {
		return StateUpdate{}, err
	}
	return StateUpdate{
		Messages:      []*schema.Message{msg},
		RoutingSignal: signal,
		Iterations:    intPtr(st.Iterations + 1),
	}, nil
}

// turnCallIDs 收集本轮（最后一条用户消息之后）已出现的调用 id。
func turnCallIDs(msgs []*schema.Message) map[string]bool {
	seen := make(map[string]bool)
	start := LastUserIndex(msgs)
	if start < 0 {
		start = 0
	}
	for _, m := range msgs[start:] {
		if m == nil {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID != "" {
				seen[tc.ID] = true
			}
		}
		if m.ToolCallID != "" {
			seen[m.ToolCallID] = true
		}
	}
	return seen
}

func renderSteps(steps []string) string {
	if len(steps) == 0 {
		return "None yet."
	}
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
