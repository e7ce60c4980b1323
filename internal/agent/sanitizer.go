package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ToolCallRequest 是经过规整的一次工具调用。Arguments 永远非 nil。
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolCall 转回 eino 的消息形态，参数重新编码为 JSON 对象。
func (r ToolCallRequest) ToolCall() schema.ToolCall {
	raw, err := json.Marshal(r.Arguments)
	if err != nil {
		raw = []byte("{}")
	}
	return schema.ToolCall{
		ID:   r.ID,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      r.Name,
			Arguments: string(raw),
		},
	}
}

// NewCallID 生成本地调用 id。
func NewCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Sanitize 把模型给出的原始调用规整为 ToolCallRequest，永不 panic。
// 形态不是映射或缺少名字时返回 false，调用方应丢弃该调用。
func Sanitize(raw any) (ToolCallRequest, bool) {
	var (
		name string
		id   string
		args any
	)

	switch v := raw.(type) {
	case schema.ToolCall:
		name, id, args = v.Function.Name, v.ID, v.Function.Arguments
	case *schema.ToolCall:
		if v == nil {
			log.Warn().Msg("sanitizer: dropped nil tool call")
			return ToolCallRequest{}, false
		}
		name, id, args = v.Function.Name, v.ID, v.Function.Arguments
	case map[string]any:
		name, _ = v["name"].(string)
		id, _ = v["id"].(string)
		args, _ = lookupArgs(v)
		if fn, ok := v["function"].(map[string]any); ok {
			if name == "" {
				name, _ = fn["name"].(string)
			}
			if a, ok := lookupArgs(fn); ok && args == nil {
				args = a
			}
		}
	default:
		log.Warn().Str("type", fmt.Sprintf("%T", raw)).Msg("sanitizer: dropped non-mapping tool call")
		return ToolCallRequest{}, false
	}

	name = strings.TrimSpace(name)
	if name == "" {
		log.Warn().Str("call_id", id).Msg("sanitizer: dropped tool call without name")
		return ToolCallRequest{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewCallID()
	}
	return ToolCallRequest{ID: id, Name: name, Arguments: coerceArgs(args)}, true
}

func lookupArgs(m map[string]any) (any, bool) {
	for _, k := range []string{"args", "arguments"} {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// coerceArgs 把 nil、非对象或非法 JSON 都归为空映射。
func coerceArgs(v any) map[string]any {
	switch a := v.(type) {
	case map[string]any:
		return a
	case string:
		s := strings.TrimSpace(a)
		if s == "" || s == "null" {
			return map[string]any{}
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
			return map[string]any{}
		}
		return out
	case json.RawMessage:
		return coerceArgs(string(a))
	default:
		return map[string]any{}
	}
}

// sanitizeToolCalls 规整模型输出中的全部调用：丢弃无名调用、补齐缺失 id，
// 并为与 seen 重复的 id 重新分配，保证一轮之内 id 唯一。
func sanitizeToolCalls(calls []schema.ToolCall, seen map[string]bool) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		req, ok := Sanitize(c)
		if !ok {
			continue
		}
		for seen[req.ID] {
			req.ID = NewCallID()
		}
		seen[req.ID] = true
		tc := req.ToolCall()
		tc.Index = c.Index
		tc.Extra = c.Extra
		out = append(out, tc)
	}
	return out
}
