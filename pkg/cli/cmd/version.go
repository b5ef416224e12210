package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/LENAX/agent-hub/pkg/cli/output"
)

// 构建时通过 -ldflags "-X" 覆盖
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type buildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildInfo{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime, GoVersion: runtime.Version()}
		out := cmd.OutOrStdout()
		if outputJSON {
			_ = output.WriteJSON(out, info)
			return
		}
		fmt.Fprintf(out, "Agent Hub CLI %s (%s, built %s, %s)\n", info.Version, info.GitCommit, info.BuildTime, info.GoVersion)
	},
}
