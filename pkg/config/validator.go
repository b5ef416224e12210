package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// Validate 校验配置取值
func (c *HubConfig) Validate() error {
	h := &c.AgentHub
	if _, err := logrus.ParseLevel(h.General.LogLevel); err != nil {
		return fmt.Errorf("general.log_level 无效: %s", h.General.LogLevel)
	}
	switch strings.ToLower(h.General.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("general.log_format 只支持 text 或 json: %s", h.General.LogFormat)
	}
	switch strings.ToLower(h.Storage.Database.Type) {
	case "sqlite", "sqlite3", "mysql", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("storage.database.type 不支持: %s", h.Storage.Database.Type)
	}
	if h.Execution.DefaultMaxRetries > types.MaxRetriesLimit {
		return fmt.Errorf("execution.default_max_retries 不能超过 %d", types.MaxRetriesLimit)
	}
	timeoutMs := h.Execution.DefaultTaskTimeout.Milliseconds()
	if timeoutMs < types.MinTimeoutMs || timeoutMs > types.MaxTimeoutMs {
		return fmt.Errorf("execution.default_task_timeout 必须在1s到300s之间")
	}
	if h.Execution.Retry.MaxBackoff < h.Execution.Retry.BaseBackoff {
		return fmt.Errorf("execution.retry.max_backoff 不能小于 base_backoff")
	}
	seen := make(map[string]struct{}, len(h.Platforms))
	for i, p := range h.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platforms[%d].id 不能为空", i)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("platforms[%d].id 重复: %s", i, p.ID)
		}
		seen[p.ID] = struct{}{}
		if _, err := types.ParsePlatformType(p.Type); err != nil {
			return fmt.Errorf("platforms[%d]: %w", i, err)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("platforms[%d].base_url 不能为空", i)
		}
	}
	return nil
}
