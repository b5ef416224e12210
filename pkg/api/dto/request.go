package dto

import (
	"strings"
	"time"

	"github.com/LENAX/agent-hub/pkg/core/engine"
	"github.com/LENAX/agent-hub/pkg/core/types"
)

// TaskQueryRequest 任务列表查询请求
type TaskQueryRequest struct {
	Status     string `form:"status"` // 逗号分隔的多个状态
	AgentID    string `form:"agent_id"`
	WorkflowID string `form:"workflow_id"`
	Priority   string `form:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	CreatedBy  string `form:"created_by"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// Filter 转换为任务查询条件
func (r *TaskQueryRequest) Filter() (types.TaskFilter, error) {
	f := types.TaskFilter{
		AgentID:    r.AgentID,
		WorkflowID: r.WorkflowID,
		Priority:   types.TaskPriority(r.Priority),
		CreatedBy:  r.CreatedBy,
	}
	for _, s := range strings.Split(r.Status, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		st, err := types.ParseTaskStatus(s)
		if err != nil {
			return f, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

// Page 转换为分页参数
func (r *TaskQueryRequest) Page() types.Pagination {
	return types.Pagination{Limit: r.Limit, Offset: r.Offset}.Normalize()
}

// AgentQueryRequest Agent列表查询请求
type AgentQueryRequest struct {
	PlatformID string `form:"platform_id"`
	Status     string `form:"status" binding:"omitempty,oneof=ACTIVE INACTIVE ERROR MAINTENANCE"`
	Capability string `form:"capability"`
}

// Filter 转换为Agent查询条件
func (r *AgentQueryRequest) Filter() types.AgentFilter {
	return types.AgentFilter{
		PlatformID: r.PlatformID,
		Status:     types.AgentStatus(r.Status),
		Capability: r.Capability,
	}
}

// HealthConfigRequest 健康检查配置请求，零值字段使用默认值
type HealthConfigRequest struct {
	IntervalMs              int64 `json:"interval_ms" binding:"omitempty,min=1000"`
	TimeoutMs               int64 `json:"timeout_ms" binding:"omitempty,min=100"`
	Retries                 int   `json:"retries" binding:"omitempty,min=1,max=100"`
	Enabled                 *bool `json:"enabled"`
	ResponseTimeThresholdMs int64 `json:"response_time_threshold_ms" binding:"omitempty,min=1"`
}

// Config 转换为核心健康检查配置
func (r *HealthConfigRequest) Config() types.HealthConfig {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return types.HealthConfig{
		Interval:                time.Duration(r.IntervalMs) * time.Millisecond,
		Timeout:                 time.Duration(r.TimeoutMs) * time.Millisecond,
		Retries:                 r.Retries,
		Enabled:                 enabled,
		ResponseTimeThresholdMs: r.ResponseTimeThresholdMs,
	}
}

// RegisterAgentRequest 注册Agent请求
type RegisterAgentRequest struct {
	PlatformID    string                 `json:"platform_id" binding:"required"`
	ExternalID    string                 `json:"external_id" binding:"required"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	Capabilities  []string               `json:"capabilities"`
	Configuration map[string]interface{} `json:"configuration"`
	Health        *HealthConfigRequest   `json:"health"`
}

// Spec 转换为注册参数
func (r *RegisterAgentRequest) Spec() types.AgentSpec {
	spec := types.AgentSpec{
		PlatformID:    r.PlatformID,
		ExternalID:    r.ExternalID,
		Name:          r.Name,
		Description:   r.Description,
		Capabilities:  r.Capabilities,
		Configuration: r.Configuration,
	}
	if r.Health != nil {
		cfg := r.Health.Config()
		spec.Health = &cfg
	}
	return spec
}

// ExecutionConfigRequest 执行配置调整请求，零值字段保持不变
type ExecutionConfigRequest struct {
	MaxConcurrentTasks        int   `json:"max_concurrent_tasks" binding:"omitempty,min=1,max=1000"`
	QueueProcessingIntervalMs int64 `json:"queue_processing_interval_ms" binding:"omitempty,min=10"`
	UnhealthyErrorCeiling     int   `json:"unhealthy_error_ceiling" binding:"omitempty,min=1"`
}

// Settings 转换为引擎执行参数
func (r *ExecutionConfigRequest) Settings() engine.ExecutionSettings {
	return engine.ExecutionSettings{
		MaxConcurrentTasks:      r.MaxConcurrentTasks,
		QueueProcessingInterval: time.Duration(r.QueueProcessingIntervalMs) * time.Millisecond,
		UnhealthyErrorCeiling:   r.UnhealthyErrorCeiling,
	}
}
