package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/ui"
)

// ChatUI 是基于 bubbletea 的全屏对话界面。
type ChatUI struct {
	// LogWriter 接收界面运行期间的全局日志；为 nil 时丢弃，避免日志打乱屏幕。
	LogWriter io.Writer
}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, sess ui.Session, opts ui.ChatOptions) error {
	if backend == nil {
		return errors.New("tui: backend is nil")
	}
	w := u.LogWriter
	if w == nil {
		w = io.Discard
	}
	prev := log.Logger
	log.Logger = log.Logger.Output(w)
	defer func() { log.Logger = prev }()

	m := newChatModel(ctx, backend, sess, opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryTool
	entryNotice
)

// entry 是界面上的一条气泡。
type entry struct {
	kind    entryKind
	content string
}

type turnResultMsg struct {
	res agent.TurnResult
	err error
}

type clearedMsg struct{ err error }

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	sess    ui.Session
	opts    ui.ChatOptions

	entries []entry

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	// 流式回显最后一条 assistant 回复
	streaming  bool
	streamIdx  int
	streamPos  int
	streamFull string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, sess ui.Session, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "问问楼盘、区域、付款方案… 回车发送，/clear 清空"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	m := chatModel{
		ctx:        ctx,
		backend:    backend,
		sess:       sess,
		opts:       opts,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
	m.entries = append(m.entries, historyEntries(sess.History)...)
	return m
}

// historyEntries 只回显用户与最终回复，跳过中间的工具往返。
func historyEntries(msgs []*schema.Message) []entry {
	var out []entry
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		switch {
		case msg.Role == schema.User:
			out = append(out, entry{kind: entryUser, content: msg.Content})
		case msg.Role == schema.Assistant && len(msg.ToolCalls) == 0 && strings.TrimSpace(msg.Content) != "":
			out = append(out, entry{kind: entryAssistant, content: msg.Content})
		}
	}
	return out
}

// turnEntries 把一轮结果转换为气泡：工具调用、成果与最终回复。
func turnEntries(res agent.TurnResult, opts ui.ChatOptions) []entry {
	var out []entry
	if opts.ShowPlan && strings.TrimSpace(res.Plan) != "" {
		out = append(out, entry{kind: entryNotice, content: "PLAN\n" + strings.TrimSpace(res.Plan)})
	}
	if opts.ShowTools {
		if calls := ui.ToolCalls(res.Messages); len(calls) > 0 {
			out = append(out, entry{kind: entryTool, content: strings.Join(calls, "\n")})
		}
	}
	if lines := ui.ArtifactLines(res.Artifacts); len(lines) > 0 {
		out = append(out, entry{kind: entryNotice, content: "ARTIFACTS\n" + strings.Join(lines, "\n")})
	}

	reply := strings.TrimSpace(res.Reply)
	if reply == "" {
		reply = "(无文本输出)"
	}
	if res.Failed {
		reply = "⚠ " + reply
	}
	out = append(out, entry{kind: entryAssistant, content: reply})
	return out
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		headerHeight := 1
		footerHeight := 1
		m.viewport.Width = m.width
		m.viewport.Height = max(1, m.height-inputHeight-headerHeight-footerHeight)
		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.thinking {
			m.updateViewportContent(m.renderChat())
		}
		return m, cmd

	case turnResultMsg:
		m.thinking = false
		m.followTail = true
		if msg.err != nil {
			text := fmt.Sprintf("发生错误：%v", msg.err)
			if errors.Is(msg.err, agent.ErrThreadBusy) {
				text = "上一条消息仍在处理中，请稍后再试。"
			}
			m.entries = append(m.entries, entry{kind: entryNotice, content: text})
			m.updateViewportContent(m.renderChat())
			return m, nil
		}
		m.entries = append(m.entries, turnEntries(msg.res, m.opts)...)
		m.startStreaming(len(m.entries) - 1)
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case clearedMsg:
		m.thinking = false
		if msg.err != nil {
			m.entries = append(m.entries, entry{kind: entryNotice, content: fmt.Sprintf("清空失败：%v", msg.err)})
		} else {
			m.entries = []entry{{kind: entryNotice, content: "对话已清空。"}}
		}
		m.updateViewportContent(m.renderChat())
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		if msg.String() == "enter" {
			return m.submit()
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit 处理回车：退出、清空或发送一轮消息。处理中时忽略新的输入。
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.thinking {
		return m, nil
	}
	if ui.IsExit(text) {
		return m, tea.Quit
	}
	m.input.SetValue("")
	m.thinking = true
	m.streaming = false

	if strings.EqualFold(text, ui.CmdClear) {
		return m, clearThread(m.ctx, m.backend, m.sess.ThreadID)
	}

	m.entries = append(m.entries, entry{kind: entryUser, content: text})
	m.followTail = true
	m.updateViewportContent(m.renderChat())
	return m, handleMessage(m.ctx, m.backend, m.sess, text)
}

func handleMessage(ctx context.Context, backend ui.ChatBackend, sess ui.Session, text string) tea.Cmd {
	return func() tea.Msg {
		res, err := backend.HandleMessage(ctx, sess.ThreadID, sess.UserID, text)
		return turnResultMsg{res: res, err: err}
	}
}

func clearThread(ctx context.Context, backend ui.ChatBackend, threadID string) tea.Cmd {
	return func() tea.Msg {
		return clearedMsg{err: backend.ClearThread(ctx, threadID)}
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m *chatModel) startStreaming(idx int) {
	m.streaming = false
	m.streamIdx = -1
	if idx < 0 || idx >= len(m.entries) || m.entries[idx].kind != entryAssistant {
		return
	}
	m.streaming = true
	m.streamIdx = idx
	m.streamFull = m.entries[idx].content
	m.streamPos = min(len(m.streamFull), 32)
}

func (m chatModel) View() string {
	title := "EstateAgent"
	if m.sess.UserName != "" {
		title += " · " + m.sess.UserName
	}
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1).Render(title)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), m.inputView(), m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter 发送 | /clear 清空 | PgUp/PgDn 滚动 | Ctrl+C 退出"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
	}
	gap := lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render("")
	return lipgloss.NewStyle().Width(m.width).Padding(0, 1).Render(lipgloss.JoinHorizontal(lipgloss.Left, left, gap, right))
}

func (m chatModel) inputView() string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(m.input.View())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	var b strings.Builder
	for i, e := range m.entries {
		content := strings.TrimRight(e.content, "\n")
		if m.streaming && i == m.streamIdx {
			content = m.streamFull[:m.streamPos]
		}
		b.WriteString(m.renderEntry(e.kind, content))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) renderEntry(kind entryKind, content string) string {
	switch kind {
	case entryUser:
		return m.renderUser(content)
	case entryAssistant:
		return m.renderAssistant(content)
	case entryTool:
		return m.renderMuted("TOOLS", content)
	default:
		return m.renderMuted("", content)
	}
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	return min(m.bubbleMaxContentWidth(), max(10, maxLineWidth(s)))
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	maxW := 0
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) bubbleStyle(color string) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(color)).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4))
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	// 流式阶段不做 markdown 渲染，避免半截语法闪烁
	if m.renderer != nil && !m.streaming && strings.TrimSpace(md) != "" {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return m.bubbleStyle("63").Render(md)
}

func (m chatModel) renderUser(content string) string {
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := m.bubbleStyle("205").Render(content)
	return lipgloss.NewStyle().Width(max(1, m.width)).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderMuted(label, content string) string {
	body := content
	if strings.TrimSpace(body) == "" {
		body = "(无输出)"
	}
	if label != "" {
		body = label + "\n" + body
	}
	body = m.wrapToWidth(body, m.desiredContentWidth(body))
	return m.bubbleStyle("240").Foreground(lipgloss.Color("245")).Render(body)
}
