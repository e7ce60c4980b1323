package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/agent"
)

type fakeBackend struct {
	turns   []string
	cleared []string
	results map[string]agent.TurnResult
	errs    map[string]error
}

func (f *fakeBackend) HandleMessage(_ context.Context, threadID, userID, text string) (agent.TurnResult, error) {
	f.turns = append(f.turns, threadID+"/"+userID+"/"+text)
	if err := f.errs[text]; err != nil {
		return agent.TurnResult{}, err
	}
	if res, ok := f.results[text]; ok {
		return res, nil
	}
	return agent.TurnResult{ThreadID: threadID, Reply: "ok: " + text}, nil
}

func (f *fakeBackend) ClearThread(_ context.Context, threadID string) error {
	f.cleared = append(f.cleared, threadID)
	return nil
}

func runConsole(t *testing.T, backend ChatBackend, sess Session, opts ChatOptions, input string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	u := &ConsoleChatUI{In: strings.NewReader(input), Out: &out}
	err := u.Run(context.Background(), backend, sess, opts)
	return out.String(), err
}

func TestConsoleChat_BasicTurns(t *testing.T) {
	b := &fakeBackend{}
	sess := Session{UserID: "u1", UserName: "Sara", ThreadID: "t1"}

	out, err := runConsole(t, b, sess, ChatOptions{}, "hello\n\n  \nshow me villas\nexit\nnever sent\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"t1/u1/hello", "t1/u1/show me villas"}, b.turns)
	assert.Contains(t, out, "你好，Sara。")
	assert.Contains(t, out, "助手: ok: hello")
	assert.Contains(t, out, "助手: ok: show me villas")
	assert.True(t, strings.HasSuffix(out, "已退出。\n"))
}

func TestConsoleChat_EOFWithoutNewline(t *testing.T) {
	b := &fakeBackend{}
	out, err := runConsole(t, b, Session{ThreadID: "t1"}, ChatOptions{}, "last words")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1//last words"}, b.turns)
	assert.Contains(t, out, "助手: ok: last words")
}

func TestConsoleChat_ClearCommand(t *testing.T) {
	b := &fakeBackend{}
	out, err := runConsole(t, b, Session{UserID: "u1", ThreadID: "t1"}, ChatOptions{}, "/CLEAR\nquit\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, b.cleared)
	assert.Empty(t, b.turns)
	assert.Contains(t, out, "对话已清空。")
}

func TestConsoleChat_PlanToolsAndArtifacts(t *testing.T) {
	b := &fakeBackend{results: map[string]agent.TurnResult{
		"compare": {
			Plan:  "1. compare projects\n2. chart prices",
			Reply: "Palm Hills is cheaper.",
			Messages: []*schema.Message{
				schema.UserMessage("compare"),
				schema.AssistantMessage("", []schema.ToolCall{
					{ID: "c1", Function: schema.FunctionCall{Name: "compare_projects_tool"}},
					{ID: "c2", Function: schema.FunctionCall{Name: "python_data_analysis_tool"}},
				}),
				schema.ToolMessage("{}", "c1"),
				schema.AssistantMessage("Palm Hills is cheaper.", nil),
			},
			Artifacts: []agent.Artifact{{ID: "a1", Kind: "plotly_figure", Title: "Price chart", Data: json.RawMessage(`{"x":1}`)}},
		},
	}}

	out, err := runConsole(t, b, Session{ThreadID: "t1"}, ChatOptions{ShowPlan: true, ShowTools: true}, "compare\n")
	require.NoError(t, err)
	assert.Contains(t, out, "计划:\n1. compare projects\n2. chart prices\n")
	assert.Contains(t, out, "工具: compare_projects_tool, python_data_analysis_tool\n")
	assert.Contains(t, out, "助手: Palm Hills is cheaper.\n")
	assert.Contains(t, out, "  成果 [plotly_figure] Price chart (7 bytes)\n")

	out, err = runConsole(t, b, Session{ThreadID: "t1"}, ChatOptions{}, "compare\n")
	require.NoError(t, err)
	assert.NotContains(t, out, "计划:")
	assert.NotContains(t, out, "工具:")
}

func TestConsoleChat_FailedTurnAndErrors(t *testing.T) {
	b := &fakeBackend{
		results: map[string]agent.TurnResult{"hard": {Failed: true, Reply: agent.ReasonerFailureMsg}},
		errs: map[string]error{
			"busy":  agent.ErrThreadBusy,
			"crash": errors.New("checkpoint store down"),
		},
	}

	out, err := runConsole(t, b, Session{ThreadID: "t1"}, ChatOptions{}, "hard\nbusy\ncrash\nhello\n")
	require.EqualError(t, err, "checkpoint store down")
	assert.Contains(t, out, "助手 (未完成): "+agent.ReasonerFailureMsg)
	assert.Contains(t, out, "上一条消息仍在处理中")
	assert.Len(t, b.turns, 3)
}

func TestConsoleChat_ResumedHistory(t *testing.T) {
	hist := []*schema.Message{
		schema.UserMessage("hi"),
		schema.AssistantMessage("Welcome back!", nil),
	}
	out, err := runConsole(t, &fakeBackend{}, Session{ThreadID: "t1", History: hist}, ChatOptions{}, "exit\n")
	require.NoError(t, err)
	assert.Contains(t, out, "(已恢复 2 条历史消息)")
	assert.Contains(t, out, "助手: Welcome back!")
}

func TestConsoleChat_RequiresIO(t *testing.T) {
	err := (&ConsoleChatUI{Out: &bytes.Buffer{}}).Run(context.Background(), &fakeBackend{}, Session{}, ChatOptions{})
	assert.Error(t, err)
	err = (&ConsoleChatUI{In: strings.NewReader(""), Out: &bytes.Buffer{}}).Run(context.Background(), nil, Session{}, ChatOptions{})
	assert.Error(t, err)
}

func TestIsExit(t *testing.T) {
	for _, s := range []string{"exit", " QUIT ", "/exit", "/quit"} {
		assert.True(t, IsExit(s), s)
	}
	assert.False(t, IsExit("exit now"))
}
