package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/ui"
)

type stubBackend struct {
	texts   []string
	cleared int
}

func (s *stubBackend) HandleMessage(_ context.Context, threadID, _ string, text string) (agent.TurnResult, error) {
	s.texts = append(s.texts, text)
	return agent.TurnResult{ThreadID: threadID, Reply: "reply to " + text}, nil
}

func (s *stubBackend) ClearThread(context.Context, string) error {
	s.cleared++
	return nil
}

func typeAndSubmit(t *testing.T, m chatModel, text string) (chatModel, tea.Cmd) {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(chatModel), cmd
}

func kinds(m chatModel) []entryKind {
	var out []entryKind
	for _, e := range m.entries {
		out = append(out, e.kind)
	}
	return out
}

func TestHistoryEntries_SkipsToolRoundTrips(t *testing.T) {
	hist := []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("villas in new cairo?"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "intelligent_project_matcher"}}}),
		schema.ToolMessage("{}", "c1"),
		schema.AssistantMessage("Here are three options.", nil),
	}
	m := newChatModel(context.Background(), &stubBackend{}, ui.Session{History: hist}, ui.ChatOptions{})
	assert.Equal(t, []entryKind{entryUser, entryAssistant}, kinds(m))
	assert.Equal(t, "Here are three options.", m.entries[1].content)
}

func TestSubmit_RunsTurnAndStreamsReply(t *testing.T) {
	b := &stubBackend{}
	m := newChatModel(context.Background(), b, ui.Session{ThreadID: "t1", UserID: "u1"}, ui.ChatOptions{})

	m, cmd := typeAndSubmit(t, m, "hello")
	require.NotNil(t, cmd)
	assert.True(t, m.thinking)
	assert.Equal(t, []entryKind{entryUser}, kinds(m))

	// 处理中时再次回车不会发起新的一轮
	m2, cmd2 := typeAndSubmit(t, m, "again")
	assert.Nil(t, cmd2)
	assert.Len(t, m2.entries, 1)

	msg := cmd()
	next, tick := m.Update(msg)
	m = next.(chatModel)
	assert.False(t, m.thinking)
	assert.Equal(t, []string{"hello"}, b.texts)
	require.Equal(t, []entryKind{entryUser, entryAssistant}, kinds(m))
	assert.Equal(t, "reply to hello", m.entries[1].content)
	assert.NotNil(t, tick)
	assert.True(t, m.streaming)

	for m.streaming {
		next, _ = m.Update(streamTickMsg{})
		m = next.(chatModel)
	}
	assert.Contains(t, m.renderChat(), "reply to hello")
}

func TestTurnEntries(t *testing.T) {
	res := agent.TurnResult{
		Plan:  "1. search",
		Reply: "",
		Messages: []*schema.Message{
			schema.AssistantMessage("", []schema.ToolCall{{ID: "c1", Function: schema.FunctionCall{Name: "google_maps_link_tool"}}}),
		},
		Artifacts: []agent.Artifact{{ID: "a1", Kind: "plotly_figure"}},
		Failed:    true,
	}
	entries := turnEntries(res, ui.ChatOptions{ShowPlan: true, ShowTools: true})
	require.Len(t, entries, 4)
	assert.Equal(t, entryNotice, entries[0].kind)
	assert.Equal(t, "google_maps_link_tool", entries[1].content)
	assert.Contains(t, entries[2].content, "[plotly_figure] a1")
	assert.Equal(t, "⚠ (无文本输出)", entries[3].content)

	entries = turnEntries(res, ui.ChatOptions{})
	assert.Len(t, entries, 2)
}

func TestClearAndErrors(t *testing.T) {
	b := &stubBackend{}
	m := newChatModel(context.Background(), b, ui.Session{ThreadID: "t1"}, ui.ChatOptions{})
	m.entries = []entry{{kind: entryUser, content: "old"}}

	m, cmd := typeAndSubmit(t, m, "/clear")
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(chatModel)
	assert.Equal(t, 1, b.cleared)
	require.Len(t, m.entries, 1)
	assert.Equal(t, "对话已清空。", m.entries[0].content)

	next, _ = m.Update(turnResultMsg{err: agent.ErrThreadBusy})
	m = next.(chatModel)
	assert.Equal(t, "上一条消息仍在处理中，请稍后再试。", m.entries[len(m.entries)-1].content)

	next, _ = m.Update(turnResultMsg{err: errors.New("boom")})
	m = next.(chatModel)
	assert.Equal(t, "发生错误：boom", m.entries[len(m.entries)-1].content)
}

func TestSubmit_ExitQuits(t *testing.T) {
	m := newChatModel(context.Background(), &stubBackend{}, ui.Session{}, ui.ChatOptions{})
	_, cmd := typeAndSubmit(t, m, "quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
