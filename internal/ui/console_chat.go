package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/EstateAgent/internal/agent"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, sess Session, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	if backend == nil {
		return fmt.Errorf("console ui: backend is nil")
	}

	reader := bufio.NewReader(in)

	greeting := "你好"
	if sess.UserName != "" {
		greeting += "，" + sess.UserName
	}
	fmt.Fprintf(out, "%s。进入 EstateAgent 对话模式，输入 %s 清空对话，exit/quit 退出。\n", greeting, CmdClear)
	if n := len(sess.History); n > 0 {
		fmt.Fprintf(out, "(已恢复 %d 条历史消息)\n", n)
		printLastAssistant(out, sess.History)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "已退出。")
			return nil
		default:
		}

		fmt.Fprint(out, "你: ")
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\n已退出。")
				return nil
			}
			return fmt.Errorf("读取输入失败: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if IsExit(line) {
			fmt.Fprintln(out, "已退出。")
			return nil
		}
		if strings.EqualFold(line, CmdClear) {
			if err := backend.ClearThread(ctx, sess.ThreadID); err != nil {
				fmt.Fprintf(out, "清空失败: %v\n\n", err)
				continue
			}
			fmt.Fprintln(out, "对话已清空。")
			fmt.Fprintln(out)
			continue
		}

		res, err := backend.HandleMessage(ctx, sess.ThreadID, sess.UserID, line)
		if err != nil {
			if errors.Is(err, agent.ErrThreadBusy) {
				fmt.Fprintln(out, "上一条消息仍在处理中，请稍后再试。")
				fmt.Fprintln(out)
				continue
			}
			return err
		}
		printTurn(out, res, opts)
	}
}

func printTurn(w io.Writer, res agent.TurnResult, opts ChatOptions) {
	if opts.ShowPlan && strings.TrimSpace(res.Plan) != "" {
		fmt.Fprintf(w, "计划:\n%s\n", strings.TrimSpace(res.Plan))
	}
	if opts.ShowTools {
		if calls := ToolCalls(res.Messages); len(calls) > 0 {
			fmt.Fprintf(w, "工具: %s\n", strings.Join(calls, ", "))
		}
	}

	reply := strings.TrimSpace(res.Reply)
	switch {
	case res.Failed:
		fmt.Fprintf(w, "助手 (未完成): %s\n", reply)
	case reply == "":
		fmt.Fprintln(w, "助手: (无文本输出)")
	default:
		fmt.Fprintf(w, "助手: %s\n", reply)
	}

	for _, l := range ArtifactLines(res.Artifacts) {
		fmt.Fprintf(w, "  成果 %s\n", l)
	}
	fmt.Fprintln(w)
}

func printLastAssistant(w io.Writer, messages []*schema.Message) bool {
	last := agent.LastAssistant(messages)
	if last == nil {
		return false
	}
	fmt.Fprintf(w, "助手: %s\n\n", strings.TrimSpace(last.Content))
	return true
}
