package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/agent-hub/pkg/core/types"
)

// EventType 通知事件类型（对外导出）
type EventType string

const (
	EventTaskStatusChanged  EventType = "task.status_changed"
	EventTaskProgress       EventType = "task.progress"
	EventTaskError          EventType = "task.error"
	EventAgentHealthChanged EventType = "agent.health_changed"
)

// AllEventTypes 全部事件类型
var AllEventTypes = []EventType{
	EventTaskStatusChanged,
	EventTaskProgress,
	EventTaskError,
	EventAgentHealthChanged,
}

// Progress 任务进度
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// 执行器上报的进度阶段
const (
	StageDispatching      = "dispatching"
	StageAwaitingPlatform = "awaiting_platform"
	StagePolling          = "polling"
)

// Event 对外发布的通知事件（对外导出）
type Event struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	TaskID    string              `json:"task_id,omitempty"`
	TaskName  string              `json:"task_name,omitempty"`
	AgentID   string              `json:"agent_id,omitempty"`
	OldStatus string              `json:"old_status,omitempty"`
	NewStatus string              `json:"new_status,omitempty"`
	Progress  *Progress           `json:"progress,omitempty"`
	Error     *types.TaskError    `json:"error,omitempty"`
	Health    *types.HealthRecord `json:"health,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

func newEvent(t EventType) *Event {
	return &Event{ID: uuid.NewString(), Type: t, Timestamp: time.Now()}
}

// NewTaskStatusEvent 创建任务状态变更事件
func NewTaskStatusEvent(task *types.Task, from, to types.TaskStatus) *Event {
	e := newEvent(EventTaskStatusChanged)
	e.TaskID = task.ID
	e.TaskName = task.Name
	e.AgentID = task.AgentID
	e.OldStatus = string(from)
	e.NewStatus = string(to)
	e.Error = task.Error
	return e
}

// NewTaskProgressEvent 创建任务进度事件
func NewTaskProgressEvent(task *types.Task, p Progress) *Event {
	e := newEvent(EventTaskProgress)
	e.TaskID = task.ID
	e.TaskName = task.Name
	e.AgentID = task.AgentID
	e.NewStatus = string(task.Status)
	e.Progress = &p
	return e
}

// NewTaskErrorEvent 创建任务错误事件
func NewTaskErrorEvent(task *types.Task, taskErr *types.TaskError) *Event {
	e := newEvent(EventTaskError)
	e.TaskID = task.ID
	e.TaskName = task.Name
	e.AgentID = task.AgentID
	e.NewStatus = string(task.Status)
	e.Error = taskErr
	return e
}

// NewAgentHealthEvent 创建Agent健康状态变更事件
func NewAgentHealthEvent(agentID string, from types.HealthStatus, rec types.HealthRecord) *Event {
	e := newEvent(EventAgentHealthChanged)
	e.AgentID = agentID
	e.OldStatus = string(from)
	e.NewStatus = string(rec.Status)
	e.Health = &rec
	return e
}
