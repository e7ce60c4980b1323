package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/retention"
	"github.com/wwwzy/EstateAgent/internal/server"
)

var serveAddr string

// serveCmd 启动 HTTP 服务与后台清理任务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 EstateAgent HTTP 服务",
	Long: `启动 HTTP 对话服务。
这将初始化数据库与模型，注册可用工具，并按 retention 配置在后台清理过期数据。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 上下文用于优雅退出
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// 2. 装配存储、模型与工具
		log.Info().Msg("正在初始化 agent...")
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		// 3. 后台清理
		rcfg := cfg.Retention
		rcfg.OnError = func(err error) {
			log.Warn().Err(err).Msg("retention task failed")
		}
		collector, err := retention.NewCollector(rcfg, a.store)
		if err != nil {
			return fmt.Errorf("创建 retention 采集器失败: %w", err)
		}
		mgr, err := retention.NewManager(rcfg, collector)
		if err != nil {
			return fmt.Errorf("创建 retention 管理器失败: %w", err)
		}
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("启动 retention 管理器失败: %w", err)
		}

		// 4. HTTP 服务
		scfg := cfg.Server
		if serveAddr != "" {
			scfg.Addr = serveAddr
		}
		srv, err := server.New(scfg, a.engine, a.store)
		if err != nil {
			return err
		}
		srvErr := make(chan error, 1)
		go func() { srvErr <- srv.ListenAndServe(ctx) }()

		// 5. 等待信号
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		log.Info().Str("addr", scfg.Addr).Msg("EstateAgent 已启动。按 Ctrl+C 停止。")

		var runErr error
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("收到信号，正在关闭...")
			cancel()
			runErr = <-srvErr
		case runErr = <-srvErr:
			cancel()
		}

		// 6. 优雅停止
		mgr.Stop()
		if err := mgr.Wait(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("retention 管理器停止时发生错误: %w", err))
		}
		if runErr != nil {
			return runErr
		}
		log.Info().Msg("关闭完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址，覆盖 server.addr")
}
