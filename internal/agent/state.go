package agent

import (
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"
)

// RoutingSignal 是每个节点执行后给图分支的路由信号。
type RoutingSignal string

const (
	SignalNone             RoutingSignal = ""
	SignalContinueToTools  RoutingSignal = "continue_to_tools"
	SignalReturnToReasoner RoutingSignal = "return_to_reasoner"
	SignalTerminate        RoutingSignal = "terminate"
)

// Artifact 是工具产出的结构化成果（例如图表 JSON），随线程累积保存。
type Artifact struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Title      string          `json:"title,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// UserProfile 是注入 prompt 的用户画像快照。零值字段在 prompt 中渲染为 "not set"。
type UserProfile struct {
	ID                 string   `json:"id,omitempty"`
	Name               string   `json:"name,omitempty"`
	Email              string   `json:"email,omitempty"`
	PreferredLocations []string `json:"preferred_locations,omitempty"`
	Budget             int64    `json:"budget,omitempty"`
	FamilySize         int      `json:"family_size,omitempty"`
	IsInvestor         *bool    `json:"is_investor,omitempty"`
}

// ConversationState 在图中流转，并在每个节点之后整体写入 checkpoint。
type ConversationState struct {
	// Messages 跨轮次只追加。
	Messages []*schema.Message `json:"messages"`
	// SavedArtifacts 跨轮次只追加。
	SavedArtifacts []Artifact     `json:"saved_artifacts,omitempty"`
	RoutingSignal  RoutingSignal  `json:"routing_signal,omitempty"`
	UserProfile    UserProfile    `json:"user_profile"`
	Plan           string         `json:"plan,omitempty"`
	CompletedSteps []string       `json:"completed_steps,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	// Iterations 为本轮 reasoner 已执行次数，在 planning 时归零。
	Iterations int `json:"iterations"`
	// TurnStepsStart 为本轮开始时 CompletedSteps 的长度，由 planning 设置。
	TurnStepsStart int `json:"turn_steps_start,omitempty"`

	// failed 标记本轮 reasoner 失败；只在图内有效，不落盘。
	failed bool
}

// StateUpdate 是节点返回的局部更新，由 Apply 按字段策略合并。
type StateUpdate struct {
	Messages       []*schema.Message
	SavedArtifacts []Artifact
	CompletedSteps []string

	// 以下为覆盖写；零值/nil 表示不修改。
	RoutingSignal RoutingSignal
	Plan          *string
	UserProfile   *UserProfile
	Extra          map[string]any
	Iterations     *int
	TurnStepsStart *int
}

// Apply 合并 update：日志型字段追加，标量字段后写覆盖。
func (s *ConversationState) Apply(up StateUpdate) {
	if len(up.Messages) > 0 {
		s.Messages = appendMessages(s.Messages, up.Messages)
	}
	if len(up.SavedArtifacts) > 0 {
		s.SavedArtifacts = append(append([]Artifact(nil), s.SavedArtifacts...), up.SavedArtifacts...)
	}
	if len(up.CompletedSteps) > 0 {
		s.CompletedSteps = append(append([]string(nil), s.CompletedSteps...), up.CompletedSteps...)
	}
	if up.RoutingSignal != SignalNone {
		s.RoutingSignal = up.RoutingSignal
	}
	if up.Plan != nil {
		s.Plan = *up.Plan
	}
	if up.UserProfile != nil {
		s.UserProfile = *up.UserProfile
	}
	if len(up.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any, len(up.Extra))
		}
		for k, v := range up.Extra {
			s.Extra[k] = v
		}
	}
	if up.Iterations != nil {
		s.Iterations = *up.Iterations
	}
	if up.TurnStepsStart != nil {
		s.TurnStepsStart = *up.TurnStepsStart
	}
}

// StepsThisTurn 返回本轮已完成的工具调用名。
func (s ConversationState) StepsThisTurn() []string {
	if s.TurnStepsStart < 0 || s.TurnStepsStart > len(s.CompletedSteps) {
		return nil
	}
	return s.CompletedSteps[s.TurnStepsStart:]
}

// merge 把另一个 update 累加进 u，规则与 Apply 相同。dispatcher 用它规约同一批次的多个结果。
func (u *StateUpdate) merge(o StateUpdate) {
	u.Messages = append(u.Messages, o.Messages...)
	u.SavedArtifacts = append(u.SavedArtifacts, o.SavedArtifacts...)
	u.CompletedSteps = append(u.CompletedSteps, o.CompletedSteps...)
	if o.RoutingSignal != SignalNone {
		u.RoutingSignal = o.RoutingSignal
	}
	if o.Plan != nil {
		u.Plan = o.Plan
	}
	if o.UserProfile != nil {
		u.UserProfile = o.UserProfile
	}
	if len(o.Extra) > 0 {
		if u.Extra == nil {
			u.Extra = make(map[string]any, len(o.Extra))
		}
		for k, v := range o.Extra {
			u.Extra[k] = v
		}
	}
	if o.Iterations != nil {
		u.Iterations = o.Iterations
	}
	if o.TurnStepsStart != nil {
		u.TurnStepsStart = o.TurnStepsStart
	}
}

// appendMessages 总是分配新的底层数组，避免与调用方持有的切片互相覆盖。
func appendMessages(base, more []*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(base)+len(more))
	out = append(out, base...)
	return append(out, more...)
}

// LastUserIndex 返回最后一条用户消息的下标，没有则返回 -1。
func LastUserIndex(msgs []*schema.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.User {
			return i
		}
	}
	return -1
}

// LastAssistant 返回最后一条 assistant 消息。
func LastAssistant(msgs []*schema.Message) *schema.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] != nil && msgs[i].Role == schema.Assistant {
			return msgs[i]
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
