package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const fallbackTailSize = 3

// Compact 只保留最后一条用户消息及其之后的消息，把其中 assistant 的工具调用规整为标准形态，
// 并丢弃找不到对应调用的 tool 消息。没有任何用户消息时保留最后 3 条。
// 输入切片不会被修改；无需规整时原样返回同一批指针。
func Compact(msgs []*schema.Message) []*schema.Message {
	start := LastUserIndex(msgs)
	if start < 0 {
		start = max(len(msgs)-fallbackTailSize, 0)
	}

	tail := msgs[start:]
	out := make([]*schema.Message, 0, len(tail))
	callIDs := map[string]bool{}
	for _, m := range tail {
		if m == nil {
			continue
		}
		if m.Role == schema.Tool && !callIDs[m.ToolCallID] {
			continue
		}
		m = normalizeToolCalls(m)
		for _, tc := range m.ToolCalls {
			callIDs[tc.ID] = true
		}
		out = append(out, m)
	}
	return out
}

// normalizeToolCalls 在需要时返回 m 的浅拷贝，调用 id 缺失时按下标补为 call_<idx>。
func normalizeToolCalls(m *schema.Message) *schema.Message {
	if m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
		return m
	}

	var calls []schema.ToolCall
	for j, tc := range m.ToolCalls {
		fixed := tc
		if strings.TrimSpace(fixed.ID) == "" {
			fixed.ID = fmt.Sprintf("call_%d", j)
		}
		if !isJSONObject(fixed.Function.Arguments) {
			fixed.Function.Arguments = "{}"
		}
		if fixed.ID == tc.ID && fixed.Function.Arguments == tc.Function.Arguments {
			continue
		}
		if calls == nil {
			calls = append([]schema.ToolCall(nil), m.ToolCalls...)
		}
		calls[j] = fixed
	}
	if calls == nil {
		return m
	}
	nm := *m
	nm.ToolCalls = calls
	return &nm
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}
