package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/cli/hubclient"
)

var (
	// 全局变量
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "agenthub",
	Short: "Agent Hub CLI - 自动化平台Agent编排命令行工具",
	Long: `Agent Hub CLI 用于管理接入的自动化平台、Agent 与任务队列。

支持的功能：
  - 管理Task（创建、列出、查看、取消、重试、删除）
  - 查看与调整任务队列
  - 管理Agent（注册、列出、健康检查）
  - 管理Platform（注册、列出、发现Agent）
  - 启动HTTP API服务

使用示例：
  # 创建任务
  agenthub task create --agent <agent-id> --name "同步线索" --priority HIGH

  # 查看队列
  agenthub queue status

  # 启动HTTP服务
  agenthub server start --config ./configs/agenthub.yaml`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *hubclient.Client {
	return hubclient.New(serverURL)
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Agent Hub服务器地址")
	rootCmd.PersistentFlags().BoolVarP(&outputJSON, "json", "j", false, "使用JSON格式输出")

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(platformCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}
