package agent

import (
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const notSet = "not set"

// reasonerSystemTemplate 动态变量: {time}, {profile}, {plan}, {completed}
const reasonerSystemTemplate = `You are EstateAgent, a real-estate advisor for the Egyptian property market.

Current time: {time}

User profile:
{profile}

Current plan:
{plan}

Steps completed this turn:
{completed}

Guidelines:
1. Personalize recommendations with the profile above. Never assume a value marked "not set"; ask a short follow-up question when it matters.
2. Use the available tools to look up projects, prices, availability, neighborhoods and market data before answering. The plan is guidance, not a contract.
3. Cite your sources: name the project records, map links or web pages the answer relies on.
4. Prices are in EGP. Be explicit about budgets and payment plans.
5. If a tool fails, say what you could not check and continue with what you know.
6. End with a helpful next step or follow-up question.`

// plannerSystemTemplate 动态变量: {tools}, {profile}。JSON 示例中的花括号需要转义。
const plannerSystemTemplate = `You are the planning step of a real-estate assistant. Choose at most 3 tools that would best answer the user's latest message, in the order they should run.

Available tools:
{tools}
User profile:
{profile}

Respond with JSON only, in this shape:
{{"steps": [{{"tool": "<tool name>", "reason": "<one line>"}}]}}
Return {{"steps": []}} when no tool is needed.`

// planner 追加到会话中的系统消息由前后缀包裹计划文本。
const planDirectivePrefix = "**EXECUTION PLAN**:\n"
const planDirectiveSuffix = "\n\nI'll now execute this plan step by step, adapting if the results call for it."

const (
	giveUpMessage      = "I wasn't able to complete this request. Please try rephrasing or narrowing it down."
	ReasonerFailureMsg = "Something went wrong while preparing your answer. Please try again."
	skippedToolMessage = "Skipped: the step limit for this request was reached."
)

func newReasonerTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(reasonerSystemTemplate),
		schema.MessagesPlaceholder("history", false),
	)
}

func newPlannerTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(plannerSystemTemplate),
		schema.UserMessage("{query}"),
	)
}

// RenderProfile 逐项渲染用户画像，缺失项显式写成 "not set"，不省略。
func RenderProfile(p UserProfile) string {
	var b strings.Builder
	line := func(k, v string) {
		if strings.TrimSpace(v) == "" {
			v = notSet
		}
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\n")
	}

	line("Name", p.Name)
	line("Preferred locations", strings.Join(p.PreferredLocations, ", "))
	budget := ""
	if p.Budget > 0 {
		budget = FormatEGP(p.Budget)
	}
	line("Budget", budget)
	family := ""
	if p.FamilySize > 0 {
		family = strconv.Itoa(p.FamilySize)
	}
	line("Family size", family)
	investor := ""
	if p.IsInvestor != nil {
		investor = "no"
		if *p.IsInvestor {
			investor = "yes"
		}
	}
	line("Investor", investor)
	return strings.TrimRight(b.String(), "\n")
}

// FormatEGP 以千分位格式化金额，例如 5,000,000 EGP。
func FormatEGP(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + " EGP"
	if neg {
		return "-" + out
	}
	return out
}
