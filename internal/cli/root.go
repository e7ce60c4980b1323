package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/config"
	"github.com/wwwzy/EstateAgent/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd 是没有子命令时调用的基础命令
var rootCmd = &cobra.Command{
	Use:   "estateagent",
	Short: "EstateAgent 是一个房产咨询 AI 助手",
	Long: `EstateAgent 基于楼盘数据库、地图与网页检索，
通过 "规划 → 调用工具 → 推理" 的 agent 循环回答购房问题。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并适当设置标志。
// 这由 main.main() 调用。它只需要对 rootCmd 调用一次。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件（默认按 ./config.yaml、$HOME/.estateagent/config.yaml 搜索）")
}

// initConfig 读取配置文件和环境变量（如果已设置），并初始化全局日志。
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logCfg, err := logger.FromEnv(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading LOG_* env: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logCfg)
}
