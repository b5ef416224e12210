package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/cli/output"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

var (
	platformID          string
	platformName        string
	platformType        string
	platformBaseURL     string
	platformAuthType    string
	platformCredentials map[string]string
)

// platformCmd platform子命令
var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Platform管理命令",
	Long:  `管理接入的自动化平台（n8n、Make、Zapier）。`,
}

// platformListCmd 列出平台
var platformListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出平台",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().ListPlatforms(cmd.Context())
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}
		if len(result.Items) == 0 {
			output.Info("暂无平台")
			return nil
		}

		table := output.NewTable("ID", "NAME", "TYPE", "BASE URL", "AUTH", "STATUS")
		for _, p := range result.Items {
			table.AddRow(
				p.ID,
				p.Name,
				string(p.Type),
				p.BaseURL,
				string(p.AuthConfig.Type),
				output.FormatStatus(string(p.Status)),
			)
		}
		table.Render()
		return nil
	},
}

// platformRegisterCmd 注册平台
var platformRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "注册平台",
	Long: `注册自动化平台并建立连接。

示例：
  agenthub platform register --type n8n --name prod --base-url https://n8n.example.com --auth api_key --cred api_key=xxx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pt, err := types.ParsePlatformType(platformType)
		if err != nil {
			output.Error("参数错误: %v", err)
			return err
		}
		if platformBaseURL == "" {
			err := fmt.Errorf("--base-url 不能为空")
			output.Error("参数错误: %v", err)
			return err
		}

		p, err := newClient().RegisterPlatform(cmd.Context(), types.PlatformSpec{
			ID:      platformID,
			Name:    platformName,
			Type:    pt,
			BaseURL: platformBaseURL,
			AuthConfig: types.AuthConfig{
				Type:        types.AuthType(platformAuthType),
				Credentials: platformCredentials,
			},
		})
		if err != nil {
			output.Error("注册失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(p)
		}
		output.Success("平台已注册: %s (%s)", p.ID, output.FormatStatus(string(p.Status)))
		return nil
	},
}

// platformDiscoverCmd 从平台发现Agent
var platformDiscoverCmd = &cobra.Command{
	Use:   "discover <platform-id>",
	Short: "从平台发现Agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

// agentDiscoverCmd 同 platform discover
var agentDiscoverCmd = &cobra.Command{
	Use:   "discover <platform-id>",
	Short: "从平台发现并同步Agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	res, err := newClient().DiscoverAgents(cmd.Context(), args[0])
	if err != nil {
		output.Error("发现失败: %v", err)
		return err
	}

	if outputJSON {
		return output.PrintJSON(res)
	}
	output.Success("新增 %d 个Agent，更新 %d 个Agent", len(res.Created), len(res.Updated))
	all := append(append([]*types.Agent{}, res.Created...), res.Updated...)
	if len(all) > 0 {
		printAgents(all)
	}
	return nil
}

func init() {
	platformRegisterCmd.Flags().StringVar(&platformID, "id", "", "平台ID，为空时自动生成")
	platformRegisterCmd.Flags().StringVar(&platformName, "name", "", "平台名称")
	platformRegisterCmd.Flags().StringVar(&platformType, "type", "", "平台类型 (n8n|make|zapier)")
	platformRegisterCmd.Flags().StringVar(&platformBaseURL, "base-url", "", "平台API地址")
	platformRegisterCmd.Flags().StringVar(&platformAuthType, "auth", string(types.AuthAPIKey), "认证方式 (api_key|oauth|basic)")
	platformRegisterCmd.Flags().StringToStringVar(&platformCredentials, "cred", nil, "认证凭据 key=value，可多次指定")

	platformCmd.AddCommand(platformListCmd)
	platformCmd.AddCommand(platformRegisterCmd)
	platformCmd.AddCommand(platformDiscoverCmd)
	agentCmd.AddCommand(agentDiscoverCmd)
}
