package types

import (
	"strings"
	"time"
)

// PlatformType 自动化平台类型（对外导出）
type PlatformType string

const (
	PlatformN8N    PlatformType = "N8N"
	PlatformMake   PlatformType = "MAKE"
	PlatformZapier PlatformType = "ZAPIER"
)

// ParsePlatformType 解析平台类型，未知类型返回 UnsupportedPlatformError
func ParsePlatformType(s string) (PlatformType, error) {
	t := PlatformType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case PlatformN8N, PlatformMake, PlatformZapier:
		return t, nil
	}
	return "", NewError(KindUnsupportedPlatform, "不支持的平台类型: %s", s)
}

// PlatformStatus 平台连接状态
type PlatformStatus string

const (
	PlatformConnected    PlatformStatus = "connected"
	PlatformDisconnected PlatformStatus = "disconnected"
	PlatformError        PlatformStatus = "error"
)

// AuthType 平台认证方式
type AuthType string

const (
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
	AuthBasic  AuthType = "basic"
)

// AuthConfig 平台认证配置，Credentials 对核心不透明
type AuthConfig struct {
	Type        AuthType          `json:"type" yaml:"type" toml:"type"`
	Credentials map[string]string `json:"credentials,omitempty" yaml:"credentials" toml:"credentials"`
}

// Platform 第三方自动化平台（对外导出）
type Platform struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       PlatformType   `json:"type"`
	BaseURL    string         `json:"base_url"`
	AuthConfig AuthConfig     `json:"auth_config"`
	Status     PlatformStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone 复制平台
func (p *Platform) Clone() *Platform {
	if p == nil {
		return nil
	}
	c := *p
	if p.AuthConfig.Credentials != nil {
		c.AuthConfig.Credentials = make(map[string]string, len(p.AuthConfig.Credentials))
		for k, v := range p.AuthConfig.Credentials {
			c.AuthConfig.Credentials[k] = v
		}
	}
	return &c
}

// Redacted 返回隐藏凭证后的副本，用于API输出
func (p *Platform) Redacted() *Platform {
	c := p.Clone()
	if c == nil {
		return nil
	}
	for k := range c.AuthConfig.Credentials {
		c.AuthConfig.Credentials[k] = "******"
	}
	return c
}

// PlatformSpec 注册平台的输入
type PlatformSpec struct {
	ID         string       `json:"id,omitempty"`
	Name       string       `json:"name"`
	Type       PlatformType `json:"type"`
	BaseURL    string       `json:"base_url"`
	AuthConfig AuthConfig   `json:"auth_config"`
}

// Credentials 认证成功后得到的凭证
type Credentials struct {
	Type        AuthType  `json:"type"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// RunResult 平台一次运行的结果
type RunResult struct {
	ExecutionID string      `json:"execution_id,omitempty"`
	Finished    bool        `json:"finished"`
	Success     bool        `json:"success"`
	Output      interface{} `json:"output,omitempty"`
	Message     string      `json:"message,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	FinishedAt  time.Time   `json:"finished_at,omitempty"`
}
