package types

import "time"

// HealthStatus Agent健康状态（对外导出）
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// HealthRecord Agent的滚动健康记录（对外导出）
type HealthRecord struct {
	AgentID           string       `json:"agent_id"`
	Status            HealthStatus `json:"status"`
	LastCheck         time.Time    `json:"last_check"`
	ResponseTimeMs    int64        `json:"response_time_ms"`
	ErrorCount        int          `json:"error_count"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	LastError         string       `json:"last_error,omitempty"`
}

// 健康检查默认值
const (
	DefaultHealthInterval        = 60 * time.Second
	DefaultHealthTimeout         = 10 * time.Second
	DefaultHealthRetries         = 3
	DefaultResponseThresholdMs   = 5_000
	DefaultUnhealthyErrorCeiling = 3
)

// HealthConfig 单个Agent的健康检查配置
type HealthConfig struct {
	Interval                time.Duration `json:"interval"`
	Timeout                 time.Duration `json:"timeout"`
	Retries                 int           `json:"retries"`
	Enabled                 bool          `json:"enabled"`
	ResponseTimeThresholdMs int64         `json:"response_time_threshold_ms"`
}

// DefaultHealthConfig 返回默认健康检查配置
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:                DefaultHealthInterval,
		Timeout:                 DefaultHealthTimeout,
		Retries:                 DefaultHealthRetries,
		Enabled:                 true,
		ResponseTimeThresholdMs: DefaultResponseThresholdMs,
	}
}

// WithDefaults 零值字段填充为默认值
func (c HealthConfig) WithDefaults() HealthConfig {
	d := DefaultHealthConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retries <= 0 {
		c.Retries = d.Retries
	}
	if c.ResponseTimeThresholdMs <= 0 {
		c.ResponseTimeThresholdMs = d.ResponseTimeThresholdMs
	}
	return c
}

// HealthSample 一次健康探测的结果
type HealthSample struct {
	OK           bool          `json:"ok"`
	ResponseTime time.Duration `json:"response_time"`
	Message      string        `json:"message,omitempty"`
}

// ComputeHealthStatus 根据连续错误数和响应时间计算健康状态
// consecutive >= retries 为 unhealthy；有连续错误或响应超过阈值为 degraded
func ComputeHealthStatus(consecutiveErrors int, responseTimeMs int64, retries int, thresholdMs int64) HealthStatus {
	if retries <= 0 {
		retries = DefaultHealthRetries
	}
	if thresholdMs <= 0 {
		thresholdMs = DefaultResponseThresholdMs
	}
	switch {
	case consecutiveErrors >= retries:
		return HealthUnhealthy
	case consecutiveErrors > 0, responseTimeMs > thresholdMs:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// HealthCheckResult 手动健康检查的返回
type HealthCheckResult struct {
	Record  HealthRecord `json:"record"`
	Skipped bool         `json:"skipped"`
}

// MonitoringStatus 健康监控的整体状态
type MonitoringStatus struct {
	Running        bool                    `json:"running"`
	MonitoredCount int                     `json:"monitored_count"`
	Agents         map[string]HealthConfig `json:"agents"`
	StatusCounts   map[HealthStatus]int    `json:"status_counts"`
}
