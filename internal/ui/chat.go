package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/agent"
)

// ChatBackend 是前端驱动的对话引擎，*agent.Engine 实现了它。
type ChatBackend interface {
	HandleMessage(ctx context.Context, threadID, userID, text string) (agent.TurnResult, error)
	ClearThread(ctx context.Context, threadID string) error
}

// Session 标识当前对话的用户与其线程。
type Session struct {
	UserID   string
	UserName string
	ThreadID string
	// History 为进入对话前线程里已有的消息，用于回显。
	History []*schema.Message
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, sess Session, opts ChatOptions) error
}

type ChatOptions struct {
	// ShowPlan 在回复前打印 planner 产出的计划。
	ShowPlan bool
	// ShowTools 打印本轮调用过的工具名。
	ShowTools bool
}

// 前端通用的输入命令。
const (
	CmdClear = "/clear"
)

// IsExit 判断输入是否为退出命令。
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}

// ToolCalls 按调用顺序返回本轮 assistant 请求过的工具名。
func ToolCalls(msgs []*schema.Message) []string {
	var out []string
	for _, m := range msgs {
		if m == nil || m.Role != schema.Assistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			out = append(out, tc.Function.Name)
		}
	}
	return out
}

// ArtifactLines 把成果渲染为一行一个的摘要。
func ArtifactLines(arts []agent.Artifact) []string {
	out := make([]string, 0, len(arts))
	for _, a := range arts {
		title := a.Title
		if title == "" {
			title = a.ID
		}
		out = append(out, fmt.Sprintf("[%s] %s (%d bytes)", a.Kind, title, len(a.Data)))
	}
	return out
}
