package storage

import (
	"context"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// 查询不到记录时，Get类方法返回 (nil, nil)，由调用方决定是否视为NotFound

// TaskRepository 任务存储接口（对外导出）
type TaskRepository interface {
	// SaveTask 保存任务（创建或覆盖）
	SaveTask(ctx context.Context, task *types.Task) error
	// GetTask 根据ID查询任务
	GetTask(ctx context.Context, id string) (*types.Task, error)
	// DeleteTask 删除任务
	DeleteTask(ctx context.Context, id string) error
	// ListTasks 分页查询任务，返回当前页和总数
	ListTasks(ctx context.Context, filter types.TaskFilter, page types.Pagination) ([]*types.Task, int, error)
	// ListTasksByStatus 查询指定状态的全部任务（启动恢复使用）
	ListTasksByStatus(ctx context.Context, statuses ...types.TaskStatus) ([]*types.Task, error)
	// CompareAndSwapTaskStatus 仅当当前状态等于expected时写入task，返回是否写入成功
	CompareAndSwapTaskStatus(ctx context.Context, id string, expected types.TaskStatus, task *types.Task) (bool, error)
	// CountTasksByStatus 按状态统计任务数
	CountTasksByStatus(ctx context.Context) (map[types.TaskStatus]int, error)
}

// AgentRepository Agent存储接口（对外导出）
type AgentRepository interface {
	// SaveAgent 只保存Agent定义，忽略内嵌的 Health；健康记录由 SaveHealthRecord 单独写入
	SaveAgent(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context, filter types.AgentFilter) ([]*types.Agent, error)
	// FindAgentByExternalID 根据平台ID与平台侧ID查询Agent（发现时去重）
	FindAgentByExternalID(ctx context.Context, platformID, externalID string) (*types.Agent, error)
}

// PlatformRepository 平台存储接口（对外导出）
type PlatformRepository interface {
	SavePlatform(ctx context.Context, platform *types.Platform) error
	GetPlatform(ctx context.Context, id string) (*types.Platform, error)
	DeletePlatform(ctx context.Context, id string) error
	ListPlatforms(ctx context.Context) ([]*types.Platform, error)
}

// HealthRepository 健康记录存储接口（对外导出）
type HealthRepository interface {
	SaveHealthRecord(ctx context.Context, record *types.HealthRecord) error
	GetHealthRecord(ctx context.Context, agentID string) (*types.HealthRecord, error)
}

// ScheduleRepository 周期任务存储接口（对外导出）
type ScheduleRepository interface {
	SaveSchedule(ctx context.Context, schedule *types.Schedule) error
	GetSchedule(ctx context.Context, id string) (*types.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]*types.Schedule, error)
}

// Store 持久化协作者，组合全部Repository（对外导出）
type Store interface {
	TaskRepository
	AgentRepository
	PlatformRepository
	HealthRepository
	ScheduleRepository
	Close() error
}
