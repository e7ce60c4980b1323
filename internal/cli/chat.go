package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/tui"
	"github.com/wwwzy/EstateAgent/internal/ui"
)

var (
	chatUI        string
	chatUser      string
	chatShowPlan  bool
	chatShowTools bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "以指定用户身份进入交互式对话",
	Long: `进入控制台 REPL 或全屏 TUI，与房产助手对话。
对话保存在该用户唯一的线程中，重新进入时会接着上次的上下文继续。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		var uiImpl ui.ChatUI
		switch chatUI {
		case "console", "":
			uiImpl = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			uiImpl = &tui.ChatUI{}
		default:
			return fmt.Errorf("未知 ui 类型: %s (支持: console, tui)", chatUI)
		}

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := resolveUser(ctx, a.store, chatUser)
		if err != nil {
			return fmt.Errorf("查找用户失败: %w", err)
		}

		sess := ui.Session{UserID: u.ID, UserName: u.Name, ThreadID: u.ThreadID}
		st, found, err := a.engine.History(ctx, u.ThreadID)
		if err != nil {
			return fmt.Errorf("读取对话历史失败: %w", err)
		}
		if found {
			sess.History = st.Messages
		}

		return uiImpl.Run(ctx, a.engine, sess, ui.ChatOptions{
			ShowPlan:  chatShowPlan,
			ShowTools: chatShowTools,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "交互界面类型: console/tui")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "用户 ID 或邮箱")
	chatCmd.Flags().BoolVar(&chatShowPlan, "show-plan", false, "在回复前显示本轮计划")
	chatCmd.Flags().BoolVar(&chatShowTools, "show-tools", true, "显示本轮调用的工具")
	_ = chatCmd.MarkFlagRequired("user")
}
