package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/cli/output"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

var (
	queueMaxConcurrent int
	queueInterval      time.Duration
	queueErrorCeiling  int
)

// queueCmd queue子命令
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "任务队列命令",
	Long:  `查看任务队列状态，调整并发与调度间隔。`,
}

// queueStatusCmd 查看队列状态
var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看队列状态",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().QueueStatus(cmd.Context())
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(st)
		}
		printQueueStatus(st)
		return nil
	},
}

// queueConfigCmd 调整执行参数
var queueConfigCmd = &cobra.Command{
	Use:     "configure",
	Aliases: []string{"config"},
	Short: "调整执行参数",
	Long: `调整最大并发数、队列处理间隔与不健康错误阈值，未指定的参数保持不变。

示例：
  agenthub queue configure --max-concurrent 20 --interval 10s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := dto.ExecutionConfigRequest{
			MaxConcurrentTasks:        queueMaxConcurrent,
			QueueProcessingIntervalMs: queueInterval.Milliseconds(),
			UnhealthyErrorCeiling:     queueErrorCeiling,
		}
		if req == (dto.ExecutionConfigRequest{}) {
			output.Warning("未指定任何参数")
			return nil
		}

		st, err := newClient().ConfigureQueue(cmd.Context(), req)
		if err != nil {
			output.Error("配置失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(st)
		}
		output.Success("执行参数已更新")
		printQueueStatus(st)
		return nil
	},
}

func printQueueStatus(st *dto.QueueStatusResponse) {
	fmt.Printf("排队:     %d (就绪 %d, 延迟 %d)\n", st.Queued, st.Ready, st.Delayed)
	fmt.Printf("执行中:   %d/%d (利用率 %d%%)\n", st.Running, st.MaxConcurrentTasks, output.Percent(st.Running, st.MaxConcurrentTasks))
	fmt.Printf("处理间隔: %s\n", time.Duration(st.QueueProcessingIntervalMs)*time.Millisecond)
	fmt.Println()

	table := output.NewTable("STATUS", "COUNT")
	for _, s := range types.AllTaskStatuses {
		table.AddRow(output.FormatStatus(string(s)), fmt.Sprintf("%d", st.Counts[s]))
	}
	table.Render()
}

func init() {
	queueConfigCmd.Flags().IntVar(&queueMaxConcurrent, "max-concurrent", 0, "最大并发任务数")
	queueConfigCmd.Flags().DurationVar(&queueInterval, "interval", 0, "队列处理间隔，如 5s")
	queueConfigCmd.Flags().IntVar(&queueErrorCeiling, "error-ceiling", 0, "Agent连续错误达到该值时判定为不健康")

	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueConfigCmd)
}
