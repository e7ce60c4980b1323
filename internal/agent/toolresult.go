package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

type ResultKind int

const (
	ResultText ResultKind = iota
	ResultPatch
)

// StatePatch 是工具对会话状态的直接修改。Messages/SavedArtifacts/CompletedSteps 累积，
// 其余字段后写覆盖。
type StatePatch struct {
	Messages       []*schema.Message
	SavedArtifacts []Artifact
	CompletedSteps []string
	Plan           *string
	UserProfile    *UserProfile
	Extra          map[string]any
}

func (p StatePatch) update() StateUpdate {
	return StateUpdate{
		Messages:       p.Messages,
		SavedArtifacts: p.SavedArtifacts,
		CompletedSteps: p.CompletedSteps,
		Plan:           p.Plan,
		UserProfile:    p.UserProfile,
		Extra:          p.Extra,
	}
}

// ToolResult 为 TextResult 或 PatchResult 二者之一。
type ToolResult struct {
	Kind  ResultKind
	Text  string
	Patch StatePatch
	// IsError 标记文本为工具失败信息。
	IsError bool
}

func TextResult(s string) ToolResult {
	return ToolResult{Kind: ResultText, Text: s}
}

func PatchResult(p StatePatch) ToolResult {
	return ToolResult{Kind: ResultPatch, Patch: p}
}

// ErrorResult 把失败转成模型可读的文本，统一以 "Error executing tool" 开头。
func ErrorResult(toolName string, err error) ToolResult {
	return ToolResult{
		Kind:    ResultText,
		Text:    fmt.Sprintf("Error executing tool %s: %v", toolName, err),
		IsError: true,
	}
}

// PatchingTool 由需要直接修改会话状态的工具实现（例如保存图表）。
// callID 用于构造应答该调用的 tool 消息。
type PatchingTool interface {
	tool.BaseTool
	InvokePatch(ctx context.Context, argumentsInJSON string, callID string) (StatePatch, error)
}
