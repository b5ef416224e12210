package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/api/dto"
	"github.com/LENAX/agent-hub/pkg/cli/output"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

var (
	agentPlatformID   string
	agentExternalID   string
	agentName         string
	agentDesc         string
	agentCapabilities []string
	agentConfig       string
)

// agentCmd agent子命令
var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Agent管理命令",
	Long:  `管理Agent，包括注册、列出和健康检查。`,
}

// agentListCmd 列出Agent
var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出Agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().ListAgents(cmd.Context(), agentPlatformID)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}
		if len(result.Items) == 0 {
			output.Info("暂无Agent")
			return nil
		}
		printAgents(result.Items)
		return nil
	},
}

// agentRegisterCmd 注册Agent
var agentRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "注册Agent",
	Long: `将平台上的工作流注册为Agent。

示例：
  agenthub agent register --platform n8n-main --external-id 42 --name "线索同步" --capability crm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if agentPlatformID == "" || agentExternalID == "" {
			err := fmt.Errorf("--platform 与 --external-id 不能为空")
			output.Error("参数错误: %v", err)
			return err
		}
		req := dto.RegisterAgentRequest{
			PlatformID:   agentPlatformID,
			ExternalID:   agentExternalID,
			Name:         agentName,
			Description:  agentDesc,
			Capabilities: agentCapabilities,
		}
		if agentConfig != "" {
			if err := json.Unmarshal([]byte(agentConfig), &req.Configuration); err != nil {
				output.Error("--config 不是合法的JSON对象: %v", err)
				return err
			}
		}

		agent, err := newClient().RegisterAgent(cmd.Context(), req)
		if err != nil {
			output.Error("注册失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(agent)
		}
		output.Success("Agent已注册: %s", agent.ID)
		return nil
	},
}

// agentHealthCmd 查看健康记录
var agentHealthCmd = &cobra.Command{
	Use:   "health <id>",
	Short: "查看Agent健康状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().AgentHealth(cmd.Context(), args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(rec)
		}
		printHealth(rec)
		return nil
	},
}

// agentCheckCmd 立即健康探测
var agentCheckCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "立即执行一次健康探测",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().CheckAgent(cmd.Context(), args[0])
		if err != nil {
			output.Error("探测失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(res)
		}
		if res.Skipped {
			output.Warning("健康检查已关闭，返回当前记录")
		}
		printHealth(&res.Record)
		return nil
	},
}

func printAgents(agents []*types.Agent) {
	table := output.NewTable("ID", "NAME", "PLATFORM", "EXTERNAL", "STATUS", "HEALTH", "CAPABILITIES")
	for _, a := range agents {
		table.AddRow(
			a.ID,
			output.Truncate(a.Name, 32),
			a.PlatformID,
			a.ExternalID,
			output.FormatStatus(string(a.Status)),
			output.FormatStatus(string(a.Health.Status)),
			strings.Join(a.Capabilities, ","),
		)
	}
	table.Render()
}

func printHealth(rec *types.HealthRecord) {
	fmt.Printf("Agent:    %s\n", rec.AgentID)
	fmt.Printf("状态:     %s\n", output.FormatStatus(string(rec.Status)))
	if !rec.LastCheck.IsZero() {
		fmt.Printf("最近检查: %s\n", rec.LastCheck.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("响应时间: %dms\n", rec.ResponseTimeMs)
	fmt.Printf("错误:     连续 %d / 累计 %d\n", rec.ConsecutiveErrors, rec.ErrorCount)
	if rec.LastError != "" {
		fmt.Printf("最近错误: %s\n", rec.LastError)
	}
}

func init() {
	agentListCmd.Flags().StringVar(&agentPlatformID, "platform", "", "按平台过滤")

	agentRegisterCmd.Flags().StringVar(&agentPlatformID, "platform", "", "平台ID")
	agentRegisterCmd.Flags().StringVar(&agentExternalID, "external-id", "", "平台上的工作流ID")
	agentRegisterCmd.Flags().StringVar(&agentName, "name", "", "Agent名称")
	agentRegisterCmd.Flags().StringVar(&agentDesc, "description", "", "Agent描述")
	agentRegisterCmd.Flags().StringSliceVar(&agentCapabilities, "capability", nil, "能力标签，可多次指定")
	agentRegisterCmd.Flags().StringVar(&agentConfig, "config", "", "平台相关配置(JSON对象)")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentRegisterCmd)
	agentCmd.AddCommand(agentHealthCmd)
	agentCmd.AddCommand(agentCheckCmd)
}
