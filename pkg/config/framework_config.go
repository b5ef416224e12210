package config

import (
	"net"
	"strconv"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// HubConfig Agent Hub 框架配置（对外导出）
type HubConfig struct {
	AgentHub struct {
		General       GeneralConfig       `yaml:"general" toml:"general"`
		Storage       StorageConfig       `yaml:"storage" toml:"storage"`
		Execution     ExecutionConfig     `yaml:"execution" toml:"execution"`
		Health        HealthConfig        `yaml:"health" toml:"health"`
		Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
		TokenCache    TokenCacheConfig    `yaml:"token_cache" toml:"token_cache"`
		Platforms     []PlatformConfig    `yaml:"platforms" toml:"platforms"`
		Features      map[string]bool     `yaml:"features" toml:"features"`
		Server        ServerConfig        `yaml:"server" toml:"server"`
	} `yaml:"agent-hub" toml:"agent-hub"`
}

// GeneralConfig 通用配置
type GeneralConfig struct {
	InstanceName string `yaml:"instance_name" toml:"instance_name"`
	LogLevel     string `yaml:"log_level" toml:"log_level"`
	LogFormat    string `yaml:"log_format" toml:"log_format"` // text|json
	LogFile      string `yaml:"log_file" toml:"log_file"`     // 为空时只输出到stdout
	Env          string `yaml:"env" toml:"env"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Database struct {
		Type            string        `yaml:"type" toml:"type"` // sqlite|mysql|postgres|memory
		DSN             string        `yaml:"dsn" toml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns" toml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns" toml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
	} `yaml:"database" toml:"database"`
}

// ExecutionConfig 任务执行配置，支持热更新
type ExecutionConfig struct {
	MaxConcurrentTasks      int           `yaml:"max_concurrent_tasks" toml:"max_concurrent_tasks"`
	QueueProcessingInterval time.Duration `yaml:"queue_processing_interval" toml:"queue_processing_interval"`
	DefaultTaskTimeout      time.Duration `yaml:"default_task_timeout" toml:"default_task_timeout"`
	DefaultMaxRetries       int           `yaml:"default_max_retries" toml:"default_max_retries"`
	UnhealthyErrorCeiling   int           `yaml:"unhealthy_error_ceiling" toml:"unhealthy_error_ceiling"`
	PollInterval            time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	Retry                   struct {
		BaseBackoff time.Duration `yaml:"base_backoff" toml:"base_backoff"`
		Multiplier  float64       `yaml:"multiplier" toml:"multiplier"`
		MaxBackoff  time.Duration `yaml:"max_backoff" toml:"max_backoff"`
	} `yaml:"retry" toml:"retry"`
}

// HealthConfig 健康检查默认配置
type HealthConfig struct {
	Enabled                 *bool         `yaml:"enabled" toml:"enabled"`
	Interval                time.Duration `yaml:"interval" toml:"interval"`
	Timeout                 time.Duration `yaml:"timeout" toml:"timeout"`
	Retries                 int           `yaml:"retries" toml:"retries"`
	ResponseTimeThresholdMs int64         `yaml:"response_time_threshold_ms" toml:"response_time_threshold_ms"`
}

// NotificationsConfig 通知配置
type NotificationsConfig struct {
	BufferSize        int         `yaml:"buffer_size" toml:"buffer_size"`
	LogEvents         bool        `yaml:"log_events" toml:"log_events"`
	NATSURL           string      `yaml:"nats_url" toml:"nats_url"` // 为空时不启用NATS
	NATSSubjectPrefix string      `yaml:"nats_subject_prefix" toml:"nats_subject_prefix"`
	Email             EmailConfig `yaml:"email" toml:"email"`
}

// EmailConfig 告警邮件配置，SMTPHost为空时不发送
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host" toml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port" toml:"smtp_port"`
	Username string   `yaml:"username" toml:"username"`
	Password string   `yaml:"password" toml:"password"`
	From     string   `yaml:"from" toml:"from"`
	To       []string `yaml:"to" toml:"to"`
}

// TokenCacheConfig OAuth令牌缓存配置，Addr为空时使用内存缓存
type TokenCacheConfig struct {
	Addr      string `yaml:"addr" toml:"addr"`
	Password  string `yaml:"password" toml:"password"`
	DB        int    `yaml:"db" toml:"db"`
	KeyPrefix string `yaml:"key_prefix" toml:"key_prefix"`
}

// PlatformConfig 启动时注册的平台
type PlatformConfig struct {
	ID          string            `yaml:"id" toml:"id"`
	Name        string            `yaml:"name" toml:"name"`
	Type        string            `yaml:"type" toml:"type"`
	BaseURL     string            `yaml:"base_url" toml:"base_url"`
	AuthType    string            `yaml:"auth_type" toml:"auth_type"`
	Credentials map[string]string `yaml:"credentials" toml:"credentials"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Host         string        `yaml:"host" toml:"host"`
	Port         int           `yaml:"port" toml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	Mode         string        `yaml:"mode" toml:"mode"` // gin模式: debug|release|test
}

// GetDatabaseType 获取数据库类型
func (c *HubConfig) GetDatabaseType() string {
	return c.AgentHub.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *HubConfig) GetDatabaseDSN() string {
	return c.AgentHub.Storage.Database.DSN
}

// GetMaxConcurrentTasks 获取最大并发任务数
func (c *HubConfig) GetMaxConcurrentTasks() int {
	n := c.AgentHub.Execution.MaxConcurrentTasks
	if n <= 0 {
		return 10 // 默认值
	}
	return n
}

// GetQueueProcessingInterval 获取队列处理间隔
func (c *HubConfig) GetQueueProcessingInterval() time.Duration {
	d := c.AgentHub.Execution.QueueProcessingInterval
	if d <= 0 {
		return 30 * time.Second // 默认值
	}
	return d
}

// FeatureEnabled 功能开关是否开启，未配置视为关闭
func (c *HubConfig) FeatureEnabled(name string) bool {
	return c.AgentHub.Features[name]
}

// HealthDefaults 转换为核心健康检查配置
func (c *HubConfig) HealthDefaults() types.HealthConfig {
	h := c.AgentHub.Health
	enabled := true
	if h.Enabled != nil {
		enabled = *h.Enabled
	}
	return types.HealthConfig{
		Interval:                h.Interval,
		Timeout:                 h.Timeout,
		Retries:                 h.Retries,
		Enabled:                 enabled,
		ResponseTimeThresholdMs: h.ResponseTimeThresholdMs,
	}.WithDefaults()
}

// Addr HTTP监听地址
func (c *HubConfig) Addr() string {
	return net.JoinHostPort(c.AgentHub.Server.Host, strconv.Itoa(c.AgentHub.Server.Port))
}

// ApplyDefaults 应用默认值
func (c *HubConfig) ApplyDefaults() {
	h := &c.AgentHub

	// General默认值
	if h.General.InstanceName == "" {
		h.General.InstanceName = "agent-hub"
	}
	if h.General.LogLevel == "" {
		h.General.LogLevel = "info"
	}
	if h.General.LogFormat == "" {
		h.General.LogFormat = "text"
	}
	if h.General.Env == "" {
		h.General.Env = "dev"
	}

	// Database默认值
	if h.Storage.Database.Type == "" {
		h.Storage.Database.Type = "sqlite"
	}
	if h.Storage.Database.DSN == "" && h.Storage.Database.Type == "sqlite" {
		h.Storage.Database.DSN = "agenthub.db"
	}
	if h.Storage.Database.MaxOpenConns <= 0 {
		h.Storage.Database.MaxOpenConns = 10
	}
	if h.Storage.Database.MaxIdleConns <= 0 {
		h.Storage.Database.MaxIdleConns = 5
	}
	if h.Storage.Database.ConnMaxLifetime <= 0 {
		h.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}

	// Execution默认值
	if h.Execution.MaxConcurrentTasks <= 0 {
		h.Execution.MaxConcurrentTasks = 10
	}
	if h.Execution.QueueProcessingInterval <= 0 {
		h.Execution.QueueProcessingInterval = 30 * time.Second
	}
	if h.Execution.DefaultTaskTimeout <= 0 {
		h.Execution.DefaultTaskTimeout = time.Duration(types.DefaultTimeoutMs) * time.Millisecond
	}
	if h.Execution.DefaultMaxRetries <= 0 {
		h.Execution.DefaultMaxRetries = types.DefaultRetries
	}
	if h.Execution.UnhealthyErrorCeiling <= 0 {
		h.Execution.UnhealthyErrorCeiling = types.DefaultUnhealthyErrorCeiling
	}
	if h.Execution.PollInterval <= 0 {
		h.Execution.PollInterval = 2 * time.Second
	}

	// Retry默认值
	if h.Execution.Retry.BaseBackoff <= 0 {
		h.Execution.Retry.BaseBackoff = 1 * time.Second
	}
	if h.Execution.Retry.Multiplier < 1 {
		h.Execution.Retry.Multiplier = 2.0
	}
	if h.Execution.Retry.MaxBackoff <= 0 {
		h.Execution.Retry.MaxBackoff = 60 * time.Second
	}

	// Notifications默认值
	if h.Notifications.BufferSize <= 0 {
		h.Notifications.BufferSize = 1024
	}
	if h.Notifications.NATSSubjectPrefix == "" {
		h.Notifications.NATSSubjectPrefix = "agenthub"
	}
	if h.TokenCache.KeyPrefix == "" {
		h.TokenCache.KeyPrefix = "agenthub:token:"
	}

	// Server默认值
	if h.Server.Port <= 0 {
		h.Server.Port = 8080
	}
	if h.Server.ReadTimeout <= 0 {
		h.Server.ReadTimeout = 15 * time.Second
	}
	if h.Server.WriteTimeout <= 0 {
		h.Server.WriteTimeout = 15 * time.Second
	}
	if h.Server.Mode == "" {
		h.Server.Mode = "release"
	}
	if h.Features == nil {
		h.Features = map[string]bool{}
	}
}

// Default 返回填充默认值后的配置
func Default() *HubConfig {
	cfg := &HubConfig{}
	cfg.ApplyDefaults()
	return cfg
}
