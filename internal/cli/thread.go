package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/agent"
)

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "查看或清空用户的对话线程",
}

var threadShowCmd = &cobra.Command{
	Use:   "show <id|email>",
	Short: "打印线程快照中的对话记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := resolveUser(ctx, store, args[0])
		if err != nil {
			return err
		}
		cps, closeCP, err := openCheckpointStore(ctx, cfg.Checkpoint, store)
		if err != nil {
			return err
		}
		if closeCP != nil {
			defer closeCP()
		}

		st, found, err := agent.NewCheckpointer(cps).Load(ctx, u.ThreadID)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("Thread %s is empty.\n", u.ThreadID)
			return nil
		}

		fmt.Printf("Thread %s (%d messages, %d artifacts)\n\n", u.ThreadID, len(st.Messages), len(st.SavedArtifacts))
		for _, m := range st.Messages {
			fmt.Println(formatMessage(m))
		}
		if st.Plan != "" {
			fmt.Printf("\nLast plan:\n%s\n", st.Plan)
		}
		return nil
	},
}

var threadClearCmd = &cobra.Command{
	Use:   "clear <id|email>",
	Short: "删除线程快照，下一条消息从空白对话开始",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		u, err := resolveUser(ctx, store, args[0])
		if err != nil {
			return err
		}
		cps, closeCP, err := openCheckpointStore(ctx, cfg.Checkpoint, store)
		if err != nil {
			return err
		}
		if closeCP != nil {
			defer closeCP()
		}
		if err := agent.NewCheckpointer(cps).Delete(ctx, u.ThreadID); err != nil {
			return err
		}
		fmt.Printf("Cleared thread %s.\n", u.ThreadID)
		return nil
	},
}

func formatMessage(m *schema.Message) string {
	if m == nil {
		return ""
	}
	switch m.Role {
	case schema.Assistant:
		if len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, fmt.Sprintf("%s(%s)", tc.Function.Name, clip(tc.Function.Arguments, 80)))
			}
			return "[assistant → tools] " + strings.Join(names, ", ")
		}
		return "[assistant] " + m.Content
	case schema.Tool:
		return fmt.Sprintf("[tool %s] %s", m.ToolCallID, clip(m.Content, 160))
	default:
		return fmt.Sprintf("[%s] %s", m.Role, m.Content)
	}
}

func init() {
	rootCmd.AddCommand(threadCmd)
	threadCmd.AddCommand(threadShowCmd, threadClearCmd)
}
