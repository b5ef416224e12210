package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/cli/hubclient"
	"github.com/LENAX/agent-hub/pkg/cli/output"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

var (
	taskStatuses   []string
	taskAgentID    string
	taskPriority   string
	taskLimit      int
	taskOffset     int
	taskName       string
	taskDesc       string
	taskParams     string
	taskMaxRetries int
	taskTimeoutMs  int
)

// taskCmd task子命令
var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Task管理命令",
	Long:  `管理任务，包括创建、列出、查看、取消、重试和删除。`,
}

// taskListCmd 列出任务
var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().ListTasks(cmd.Context(), hubclient.TaskListOptions{
			Statuses: taskStatuses,
			AgentID:  taskAgentID,
			Priority: taskPriority,
			Limit:    taskLimit,
			Offset:   taskOffset,
		})
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无任务")
			return nil
		}

		table := output.NewTable("ID", "NAME", "AGENT", "PRIORITY", "STATUS", "RETRY", "CREATED")
		for _, t := range result.Items {
			table.AddRow(
				t.ID,
				output.Truncate(t.Name, 32),
				t.AgentID,
				string(t.Priority),
				output.FormatStatus(string(t.Status)),
				fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
				t.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		table.Render()
		fmt.Printf("\n共 %d 条", result.Total)
		if result.HasMore {
			fmt.Print("（还有更多，使用 --offset 翻页）")
		}
		fmt.Println()
		return nil
	},
}

// taskGetCmd 查看任务详情
var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "查看任务详情",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := newClient().GetTask(cmd.Context(), args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(task)
		}
		printTask(task)
		return nil
	},
}

// taskCreateCmd 创建任务
var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建任务",
	Long: `创建任务并加入队列。

示例：
  agenthub task create --agent agent-1 --name "同步线索" --priority HIGH --params '{"source":"crm"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := buildTaskSpec(cmd)
		if err != nil {
			output.Error("参数错误: %v", err)
			return err
		}

		task, err := newClient().CreateTask(cmd.Context(), spec)
		if err != nil {
			output.Error("创建失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(task)
		}
		output.Success("任务已创建: %s", task.ID)
		printTask(task)
		return nil
	},
}

// taskCancelCmd 取消任务
var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "取消任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := newClient().CancelTask(cmd.Context(), args[0])
		if err != nil {
			output.Error("取消失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(task)
		}
		if task.Status == types.TaskStatusRunning {
			output.Warning("任务 %s 正在执行，已发出取消请求", task.ID)
			return nil
		}
		output.Success("任务 %s 已取消", task.ID)
		return nil
	},
}

// taskRetryCmd 重试任务
var taskRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "重试失败的任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := newClient().RetryTask(cmd.Context(), args[0])
		if err != nil {
			output.Error("重试失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(task)
		}
		output.Success("任务 %s 已重新入队", task.ID)
		return nil
	},
}

// taskDeleteCmd 删除任务
var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteTask(cmd.Context(), args[0]); err != nil {
			output.Error("删除失败: %v", err)
			return err
		}
		output.Success("任务 %s 已删除", args[0])
		return nil
	},
}

// buildTaskSpec 从命令行参数构造任务定义
func buildTaskSpec(cmd *cobra.Command) (types.TaskSpec, error) {
	spec := types.TaskSpec{
		AgentID:     taskAgentID,
		Name:        taskName,
		Description: taskDesc,
		TimeoutMs:   taskTimeoutMs,
		CreatedBy:   "cli",
	}
	if spec.AgentID == "" {
		return spec, fmt.Errorf("--agent 不能为空")
	}
	if strings.TrimSpace(spec.Name) == "" {
		return spec, fmt.Errorf("--name 不能为空")
	}
	if taskPriority != "" {
		p, err := types.ParsePriority(taskPriority)
		if err != nil {
			return spec, err
		}
		spec.Priority = p
	}
	if taskParams != "" {
		if err := json.Unmarshal([]byte(taskParams), &spec.Parameters); err != nil {
			return spec, fmt.Errorf("--params 不是合法的JSON对象: %w", err)
		}
	}
	if cmd.Flags().Changed("max-retries") {
		n := taskMaxRetries
		spec.MaxRetries = &n
	}
	return spec, nil
}

func printTask(t *types.Task) {
	fmt.Printf("Task:     %s\n", t.Name)
	fmt.Printf("ID:       %s\n", t.ID)
	fmt.Printf("Agent:    %s\n", t.AgentID)
	fmt.Printf("优先级:   %s\n", t.Priority)
	fmt.Printf("状态:     %s\n", output.FormatStatus(string(t.Status)))
	fmt.Printf("重试:     %d/%d\n", t.RetryCount, t.MaxRetries)
	fmt.Printf("超时:     %dms\n", t.TimeoutMs)
	fmt.Printf("计划时间: %s\n", t.ScheduledAt.Local().Format("2006-01-02 15:04:05"))
	if t.StartedAt != nil {
		fmt.Printf("开始时间: %s\n", t.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("结束时间: %s\n", t.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.ExecutionID != "" {
		fmt.Printf("执行ID:   %s\n", t.ExecutionID)
	}
	if t.Error != nil {
		fmt.Printf("错误:     [%s] %s\n", t.Error.Kind, t.Error.Message)
	}
}

func init() {
	taskListCmd.Flags().StringSliceVar(&taskStatuses, "status", nil, "按状态过滤，可多选 (PENDING,RUNNING,...)")
	taskListCmd.Flags().StringVar(&taskAgentID, "agent", "", "按Agent过滤")
	taskListCmd.Flags().StringVar(&taskPriority, "priority", "", "按优先级过滤")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 50, "每页条数")
	taskListCmd.Flags().IntVar(&taskOffset, "offset", 0, "偏移量")

	taskCreateCmd.Flags().StringVar(&taskAgentID, "agent", "", "执行任务的Agent ID")
	taskCreateCmd.Flags().StringVar(&taskName, "name", "", "任务名称")
	taskCreateCmd.Flags().StringVar(&taskDesc, "description", "", "任务描述")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "", "优先级 (LOW|MEDIUM|HIGH|CRITICAL)")
	taskCreateCmd.Flags().StringVar(&taskParams, "params", "", "任务参数(JSON对象)")
	taskCreateCmd.Flags().IntVar(&taskMaxRetries, "max-retries", 0, "最大重试次数")
	taskCreateCmd.Flags().IntVar(&taskTimeoutMs, "timeout-ms", 0, "超时时间(毫秒)")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskDeleteCmd)
}
