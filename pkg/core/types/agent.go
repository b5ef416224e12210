package types

import (
	"strings"
	"time"
)

// AgentStatus Agent状态（对外导出）
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "ACTIVE"
	AgentStatusInactive    AgentStatus = "INACTIVE"
	AgentStatusError       AgentStatus = "ERROR"
	AgentStatusMaintenance AgentStatus = "MAINTENANCE"
)

// ParseAgentStatus 解析Agent状态（大小写不敏感）
func ParseAgentStatus(s string) (AgentStatus, error) {
	st := AgentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case AgentStatusActive, AgentStatusInactive, AgentStatusError, AgentStatusMaintenance:
		return st, nil
	}
	return "", NewError(KindValidation, "未知的Agent状态: %s", s)
}

// Dispatchable 该状态下是否允许接收新任务
// ERROR 状态仍可调度，由执行器预检根据健康记录决定是否短路
func (s AgentStatus) Dispatchable() bool {
	return s == AgentStatusActive || s == AgentStatusError
}

// FollowsHealth 该状态是否随健康检查结果自动切换
func (s AgentStatus) FollowsHealth() bool {
	return s == AgentStatusActive || s == AgentStatusError
}

// Agent 托管在第三方平台上的自动化流程（对外导出）
type Agent struct {
	ID            string                 `json:"id"`
	PlatformID    string                 `json:"platform_id"`
	ExternalID    string                 `json:"external_id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Status        AgentStatus            `json:"status"`
	Health        HealthRecord           `json:"health"`
	HealthConfig  *HealthConfig          `json:"health_config,omitempty"` // 为空时使用全局默认
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Ref 构造适配器调用所需的Agent引用
func (a *Agent) Ref() AgentRef {
	return AgentRef{
		ExternalID:    a.ExternalID,
		Configuration: a.Configuration,
	}
}

// HasCapability 是否具备指定能力
func (a *Agent) HasCapability(c string) bool {
	for _, v := range a.Capabilities {
		if v == c {
			return true
		}
	}
	return false
}

// Clone 复制Agent
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Configuration != nil {
		c.Configuration = make(map[string]interface{}, len(a.Configuration))
		for k, v := range a.Configuration {
			c.Configuration[k] = v
		}
	}
	if a.HealthConfig != nil {
		hc := *a.HealthConfig
		c.HealthConfig = &hc
	}
	return &c
}

// NormalizeCapabilities 能力列表去重并保持原顺序
func NormalizeCapabilities(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// AgentSpec 注册Agent的输入
type AgentSpec struct {
	PlatformID    string                 `json:"platform_id"`
	ExternalID    string                 `json:"external_id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Health        *HealthConfig          `json:"health,omitempty"`
}

// AgentUpdate 更新Agent的输入，nil字段表示不修改
type AgentUpdate struct {
	Name          *string                `json:"name,omitempty"`
	Description   *string                `json:"description,omitempty"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	Status        *AgentStatus           `json:"status,omitempty"`
}

// AgentFilter Agent查询条件
type AgentFilter struct {
	PlatformID string
	Status     AgentStatus
	Capability string
}

// AgentRef 适配器调用时使用的Agent引用
type AgentRef struct {
	ExternalID    string
	Configuration map[string]interface{}
}

// ConfigString 读取字符串类型的配置项
func (r AgentRef) ConfigString(key string) string {
	if r.Configuration == nil {
		return ""
	}
	if v, ok := r.Configuration[key].(string); ok {
		return v
	}
	return ""
}

// AgentDescriptor 平台返回的Agent描述（发现时使用）
type AgentDescriptor struct {
	ExternalID    string                 `json:"external_id"`
	Name          string                 `json:"name"`
	Active        bool                   `json:"active"`
	Capabilities  []string               `json:"capabilities,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}
