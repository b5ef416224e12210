package engine

import (
	"time"

	"github.com/LENAX/agent-hub/pkg/config"
	"github.com/LENAX/agent-hub/pkg/core/executor"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// Config 引擎运行参数
type Config struct {
	MaxConcurrentTasks      int
	QueueProcessingInterval time.Duration
	DefaultTimeoutMs        int
	DefaultMaxRetries       int
	UnhealthyErrorCeiling   int
	PollInterval            time.Duration
	Retry                   executor.RetryPolicy
	Health                  types.HealthConfig
	Features                map[string]bool
}

// ConfigFromHub 从框架配置转换
func ConfigFromHub(cfg *config.HubConfig) Config {
	ex := cfg.AgentHub.Execution
	features := make(map[string]bool, len(cfg.AgentHub.Features))
	for k, v := range cfg.AgentHub.Features {
		features[k] = v
	}
	return Config{
		MaxConcurrentTasks:      cfg.GetMaxConcurrentTasks(),
		QueueProcessingInterval: cfg.GetQueueProcessingInterval(),
		DefaultTimeoutMs:        int(ex.DefaultTaskTimeout.Milliseconds()),
		DefaultMaxRetries:       ex.DefaultMaxRetries,
		UnhealthyErrorCeiling:   ex.UnhealthyErrorCeiling,
		PollInterval:            ex.PollInterval,
		Retry: executor.RetryPolicy{
			BaseBackoff: ex.Retry.BaseBackoff,
			Multiplier:  ex.Retry.Multiplier,
			MaxBackoff:  ex.Retry.MaxBackoff,
		},
		Health:   cfg.HealthDefaults(),
		Features: features,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 10
	}
	if c.QueueProcessingInterval <= 0 {
		c.QueueProcessingInterval = 30 * time.Second
	}
	if c.DefaultTimeoutMs <= 0 {
		c.DefaultTimeoutMs = types.DefaultTimeoutMs
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = types.DefaultRetries
	}
	if c.UnhealthyErrorCeiling <= 0 {
		c.UnhealthyErrorCeiling = types.DefaultUnhealthyErrorCeiling
	}
	if c.Features == nil {
		c.Features = map[string]bool{}
	}
	c.Health = c.Health.WithDefaults()
	return c
}

// ExecutionSettings 运行时可调整的执行参数，零值字段保持不变
type ExecutionSettings struct {
	MaxConcurrentTasks      int                   `json:"max_concurrent_tasks,omitempty"`
	QueueProcessingInterval time.Duration         `json:"queue_processing_interval,omitempty"`
	UnhealthyErrorCeiling   int                   `json:"unhealthy_error_ceiling,omitempty"`
	Retry                   *executor.RetryPolicy `json:"retry,omitempty"`
}

// ExecutionFromHub 从重新加载的配置中提取执行参数
func ExecutionFromHub(cfg *config.HubConfig) ExecutionSettings {
	c := ConfigFromHub(cfg)
	retry := c.Retry
	return ExecutionSettings{
		MaxConcurrentTasks:      c.MaxConcurrentTasks,
		QueueProcessingInterval: c.QueueProcessingInterval,
		UnhealthyErrorCeiling:   c.UnhealthyErrorCeiling,
		Retry:                   &retry,
	}
}
