package dto

import (
	"time"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// NewTaskList 任务分页结果转换为列表响应
func NewTaskList(page *types.TaskPage) ListResponse[*types.Task] {
	items := page.Items
	if items == nil {
		items = []*types.Task{}
	}
	return ListResponse[*types.Task]{Total: page.Total, Items: items, HasMore: page.HasMore}
}

// QueueStatusResponse 队列状态，时长以毫秒表示
type QueueStatusResponse struct {
	Counts                    map[types.TaskStatus]int `json:"counts"`
	Total                     int                      `json:"total"`
	Queued                    int                      `json:"queued"`
	Ready                     int                      `json:"ready"`
	Delayed                   int                      `json:"delayed"`
	Running                   int                      `json:"running"`
	MaxConcurrentTasks        int                      `json:"max_concurrent_tasks"`
	Available                 int                      `json:"available"`
	Utilization               float64                  `json:"utilization"`
	QueueProcessingIntervalMs int64                    `json:"queue_processing_interval_ms"`
}

// HealthConfigView 健康检查配置，时长以毫秒表示
type HealthConfigView struct {
	IntervalMs              int64 `json:"interval_ms"`
	TimeoutMs               int64 `json:"timeout_ms"`
	Retries                 int   `json:"retries"`
	Enabled                 bool  `json:"enabled"`
	ResponseTimeThresholdMs int64 `json:"response_time_threshold_ms"`
}

// NewHealthConfigView 转换健康检查配置
func NewHealthConfigView(c types.HealthConfig) HealthConfigView {
	return HealthConfigView{
		IntervalMs:              c.Interval.Milliseconds(),
		TimeoutMs:               c.Timeout.Milliseconds(),
		Retries:                 c.Retries,
		Enabled:                 c.Enabled,
		ResponseTimeThresholdMs: c.ResponseTimeThresholdMs,
	}
}

// HealthResponse 服务健康检查响应
type HealthResponse struct {
	Status    string      `json:"status"`
	Version   string      `json:"version"`
	Uptime    string      `json:"uptime"`
	Timestamp string      `json:"timestamp"`
	System    *SystemInfo `json:"system,omitempty"`
}

// SystemInfo 宿主机资源概况
type SystemInfo struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
}

// FormatDuration 格式化时长
func FormatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
