package agent

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

// Dispatcher 按请求顺序逐个执行工具调用，并把异构结果规约为一个 StateUpdate。
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
}

func NewDispatcher(registry *Registry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, timeout: timeout}
}

// Dispatch 处理 msg 中的全部调用。没有调用时返回 terminate，避免图空转。
func (d *Dispatcher) Dispatch(ctx context.Context, msg *schema.Message) StateUpdate {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return StateUpdate{RoutingSignal: SignalTerminate}
	}

	up := StateUpdate{Messages: make([]*schema.Message, 0, len(msg.ToolCalls))}
	for _, raw := range msg.ToolCalls {
		req, ok := Sanitize(raw)
		if !ok {
			continue
		}

		h, err := d.registry.Lookup(req.Name)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("call_id", req.ID).Msg("unknown tool requested")
			up.Messages = append(up.Messages, toolMessage(req, "Unknown tool: "+req.Name))
			continue
		}

		res := d.invoke(ctx, h, req)
		if res.IsError {
			log.Ctx(ctx).Warn().Str("tool", req.Name).Str("call_id", req.ID).Str("error", res.Text).Msg("tool failed")
		}
		up.merge(reduce(req, res))
		up.CompletedSteps = append(up.CompletedSteps, req.Name)
	}
	up.Messages = toolMessagesFirst(up.Messages)
	up.RoutingSignal = SignalReturnToReasoner
	return up
}

// toolMessagesFirst 让本批次的 tool 消息紧跟在 assistant 消息之后，补丁带来的其它消息排在其后；
// 各组内部保持原有顺序。
func toolMessagesFirst(msgs []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	var rest []*schema.Message
	for _, m := range msgs {
		if m.Role == schema.Tool {
			out = append(out, m)
		} else {
			rest = append(rest, m)
		}
	}
	return append(out, rest...)
}

func (d *Dispatcher) invoke(ctx context.Context, h Handle, req ToolCallRequest) ToolResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return h.Invoke(ctx, req.Arguments, req.ID)
}

// reduce 把一个结果转成局部更新。StatePatch 中没有应答本次调用的 tool 消息时补一条确认消息，
// 保证每个调用都恰好有一条对应的 tool 消息。
func reduce(req ToolCallRequest, res ToolResult) StateUpdate {
	if res.Kind == ResultText {
		return StateUpdate{Messages: []*schema.Message{toolMessage(req, res.Text)}}
	}

	up := res.Patch.update()
	answered := false
	msgs := make([]*schema.Message, 0, len(up.Messages)+1)
	for _, m := range up.Messages {
		if m == nil {
			continue
		}
		if m.Role == schema.Tool {
			if answered || (m.ToolCallID != "" && m.ToolCallID != req.ID) {
				// 每个调用只对应一条 tool 消息，多余或指向其它调用的内容降为系统附注
				msgs = append(msgs, schema.SystemMessage(m.Content))
				continue
			}
			nm := *m
			nm.ToolCallID = req.ID
			if nm.ToolName == "" {
				nm.ToolName = req.Name
			}
			m = &nm
			answered = true
		}
		msgs = append(msgs, m)
	}
	if !answered {
		msgs = append([]*schema.Message{toolMessage(req, "Tool "+req.Name+" updated the conversation state.")}, msgs...)
	}
	up.Messages = msgs
	return up
}

func toolMessage(req ToolCallRequest, content string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    content,
		ToolCallID: req.ID,
		ToolName:   req.Name,
	}
}

func (d *Dispatcher) dispatchNode(ctx context.Context, st ConversationState) (StateUpdate, error) {
	last := st.Messages
	var msg *schema.Message
	if n := len(last); n > 0 && last[n-1] != nil && last[n-1].Role == schema.Assistant {
		msg = last[n-1]
	}
	return d.Dispatch(ctx, msg), nil
}
