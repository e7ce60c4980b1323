package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

const maxPlanSteps = 3

// PlanStep 是计划中的一项。计划只作为 reasoner 的参考，不强制执行。
type PlanStep struct {
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

type planResponse struct {
	Steps []PlanStep `json:"steps"`
}

// Planner 用一次模型调用为最新的用户消息挑选 1~3 个工具。
type Planner struct {
	model    model.BaseChatModel
	registry *Registry
	template prompt.ChatTemplate
	parser   schema.MessageParser[planResponse]
	timeout  time.Duration
}

func NewPlanner(m model.BaseChatModel, registry *Registry, timeout time.Duration) *Planner {
	return &Planner{
		model:    m,
		registry: registry,
		template: newPlannerTemplate(),
		parser: schema.NewMessageJSONParser[planResponse](&schema.MessageJSONParseConfig{
			ParseFrom: schema.MessageParseFromContent,
		}),
		timeout: timeout,
	}
}

// Plan 返回过滤后的计划步骤；只保留注册表中存在的工具，最多 3 项。
func (p *Planner) Plan(ctx context.Context, query string, profile UserProfile) ([]PlanStep, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msgs, err := p.template.Format(ctx, map[string]any{
		"tools":   p.registry.Describe(),
		"profile": RenderProfile(profile),
		"query":   query,
	})
	if err != nil {
		return nil, fmt.Errorf("format planner prompt: %w", err)
	}

	out, err := p.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("%w: planner: %v", ErrModelInvoke, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: planner returned no message", ErrModelInvoke)
	}

	cleaned := &schema.Message{Role: out.Role, Content: stripCodeFence(out.Content)}
	resp, err := p.parser.Parse(ctx, cleaned)
	steps := resp.Steps
	if err != nil {
		// 模型没按 JSON 回复时，逐行找工具名
		steps = p.parseLines(out.Content)
	}
	return p.filter(steps), nil
}

func (p *Planner) filter(steps []PlanStep) []PlanStep {
	out := make([]PlanStep, 0, maxPlanSteps)
	for _, s := range steps {
		s.Tool = strings.TrimSpace(s.Tool)
		if _, ok := p.registry.Resolve(s.Tool); !ok {
			continue
		}
		s.Reason = strings.TrimSpace(s.Reason)
		out = append(out, s)
		if len(out) == maxPlanSteps {
			break
		}
	}
	return out
}

func (p *Planner) parseLines(content string) []PlanStep {
	var steps []PlanStep
	names := p.registry.Names()
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, name := range names {
			idx := strings.Index(line, name)
			if idx < 0 {
				continue
			}
			reason := strings.TrimLeft(line[idx+len(name):], " :-*`")
			steps = append(steps, PlanStep{Tool: name, Reason: reason})
			break
		}
	}
	return steps
}

// FormatPlan 渲染为编号列表，例如 "1. intelligent_project_matcher: find matches"。
func FormatPlan(steps []PlanStep) string {
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, s.Tool)
		if s.Reason != "" {
			b.WriteString(": ")
			b.WriteString(s.Reason)
		}
	}
	return b.String()
}

// planNode 找到最后一条用户消息并生成计划。模型失败时降级为空计划，流程照常进入 reasoner。
func (p *Planner) planNode(ctx context.Context, st ConversationState) (StateUpdate, error) {
	up := StateUpdate{
		Plan:           strPtr(""),
		Iterations:     intPtr(0),
		TurnStepsStart: intPtr(len(st.CompletedSteps)),
		RoutingSignal:  SignalReturnToReasoner,
	}

	idx := LastUserIndex(st.Messages)
	if idx < 0 {
		return up, nil
	}

	steps, err := p.Plan(ctx, st.Messages[idx].Content, st.UserProfile)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("planner failed, continuing without a plan")
		return up, nil
	}
	if len(steps) == 0 {
		return up, nil
	}

	text := FormatPlan(steps)
	up.Plan = strPtr(text)
	up.Messages = []*schema.Message{schema.SystemMessage(planDirectivePrefix + text + planDirectiveSuffix)}
	return up, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
