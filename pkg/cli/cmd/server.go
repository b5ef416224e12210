package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/internal/app"
	"github.com/LENAX/agent-hub/pkg/cli/output"
)

var (
	serverPort int
	configPath string
	serverHost string
)

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "服务管理命令",
	Long:  `管理Agent Hub HTTP API服务。`,
}

// serverStartCmd 启动服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动HTTP API服务",
	Long: `启动Agent Hub HTTP API服务。

示例：
  # 使用默认配置启动
  agenthub server start

  # 指定端口启动
  agenthub server start --port 8080

  # 指定配置文件启动
  agenthub server start --config ./configs/agenthub.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			for _, p := range []string{"./configs/agenthub.yaml", "./config/agenthub.yaml", "./agenthub.yaml"} {
				if _, err := os.Stat(p); err == nil {
					configPath = p
					break
				}
			}
		}
		if configPath != "" {
			output.Info("使用配置文件: %s", configPath)
		} else {
			output.Warning("未找到配置文件，使用默认配置")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		opts := app.Options{ConfigPath: configPath, Version: Version}
		if cmd.Flags().Changed("host") {
			opts.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			opts.Port = serverPort
		}
		if err := app.Run(ctx, opts); err != nil {
			output.Error("服务异常退出: %v", err)
			return err
		}
		output.Success("服务已停止")
		return nil
	},
}

// serverStatusCmd 查看服务状态
var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看服务健康状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			output.Error("服务不可用: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(h)
		}
		output.Success("%s  version=%s  uptime=%s", h.Status, h.Version, h.Uptime)
		if h.System != nil {
			output.Info("host=%s cpu=%.1f%% mem=%.1f%% goroutines=%d",
				h.System.Hostname, h.System.CPUPercent, h.System.MemoryPercent, h.System.Goroutines)
		}
		return nil
	},
}

func init() {
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "监听端口")
	serverStartCmd.Flags().StringVarP(&serverHost, "host", "H", "0.0.0.0", "监听地址")
	serverStartCmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")

	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStatusCmd)
}
