package types

import (
	"fmt"
	"strings"
	"time"
)

// TaskPriority 任务优先级（对外导出）
type TaskPriority string

const (
	PriorityLow      TaskPriority = "LOW"
	PriorityMedium   TaskPriority = "MEDIUM"
	PriorityHigh     TaskPriority = "HIGH"
	PriorityCritical TaskPriority = "CRITICAL"
)

// Rank 优先级序号，越大越优先；未知优先级返回-1
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid 是否为已知优先级
func (p TaskPriority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority 解析优先级（大小写不敏感）
func ParsePriority(s string) (TaskPriority, error) {
	p := TaskPriority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewError(KindValidation, "未知的任务优先级: %s", s)
	}
	return p, nil
}

// TaskStatus 任务状态（对外导出）
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// AllTaskStatuses 所有任务状态，按生命周期顺序
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusRunning,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusCancelled,
}

// ParseTaskStatus 解析任务状态（大小写不敏感）
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllTaskStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", NewError(KindValidation, "未知的任务状态: %s", s)
}

// taskTransitions 任务状态机
// RUNNING -> PENDING 为自动重试回队；FAILED -> PENDING 为显式重试，需另行检查重试预算
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled, TaskStatusPending},
	TaskStatusFailed:  {TaskStatusPending},
}

// CanTransition 状态机是否允许 from -> to
func CanTransition(from, to TaskStatus) bool {
	for _, s := range taskTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// 任务参数边界
const (
	MinTimeoutMs     = 1_000
	MaxTimeoutMs     = 300_000
	MaxRetriesLimit  = 10
	DefaultTimeoutMs = 30_000
	DefaultRetries   = 3
)

// Task 调度到Agent上的一次工作单元（对外导出）
type Task struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Priority    TaskPriority           `json:"priority"`
	Status      TaskStatus             `json:"status"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	MaxRetries  int                    `json:"max_retries"`
	RetryCount  int                    `json:"retry_count"`
	TimeoutMs   int                    `json:"timeout_ms"`
	ScheduledAt time.Time              `json:"scheduled_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Result      interface{}            `json:"result,omitempty"`
	Error       *TaskError             `json:"error,omitempty"`
	CreatedBy   string                 `json:"created_by,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Timeout 单次执行的超时时间
func (t *Task) Timeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return time.Duration(DefaultTimeoutMs) * time.Millisecond
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// CanRetry 是否仍有重试预算
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// IsFinal 是否已处于不可再变化的状态
func (t *Task) IsFinal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusCancelled:
		return true
	case TaskStatusFailed:
		return !t.CanRetry()
	default:
		return false
	}
}

// Validate 校验任务字段范围
func (t *Task) Validate() error {
	if t.AgentID == "" {
		return NewError(KindValidation, "agent_id不能为空")
	}
	if strings.TrimSpace(t.Name) == "" {
		return NewError(KindValidation, "任务名称不能为空")
	}
	if !t.Priority.Valid() {
		return NewError(KindValidation, "未知的任务优先级: %s", t.Priority)
	}
	if t.MaxRetries < 0 || t.MaxRetries > MaxRetriesLimit {
		return NewError(KindValidation, "max_retries必须在0到%d之间，当前: %d", MaxRetriesLimit, t.MaxRetries)
	}
	if t.RetryCount < 0 || t.RetryCount > t.MaxRetries {
		return NewError(KindValidation, "retry_count(%d)不能超过max_retries(%d)", t.RetryCount, t.MaxRetries)
	}
	if t.TimeoutMs < MinTimeoutMs || t.TimeoutMs > MaxTimeoutMs {
		return NewError(KindValidation, "timeout_ms必须在%d到%d之间，当前: %d", MinTimeoutMs, MaxTimeoutMs, t.TimeoutMs)
	}
	return nil
}

// Clone 复制任务，map和指针字段做浅拷贝隔离
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Parameters != nil {
		c.Parameters = make(map[string]interface{}, len(t.Parameters))
		for k, v := range t.Parameters {
			c.Parameters[k] = v
		}
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return &c
}

func (t *Task) String() string {
	return fmt.Sprintf("Task(%s, %s, %s, retry=%d/%d)", t.ID, t.Name, t.Status, t.RetryCount, t.MaxRetries)
}

// TaskSpec 创建任务的输入
type TaskSpec struct {
	AgentID     string                 `json:"agent_id"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Priority    TaskPriority           `json:"priority,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	MaxRetries  *int                   `json:"max_retries,omitempty"`
	TimeoutMs   int                    `json:"timeout_ms,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
	CreatedBy   string                 `json:"created_by,omitempty"`
}

// TaskUpdate 更新任务的输入，nil字段表示不修改
type TaskUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Priority    *TaskPriority          `json:"priority,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	MaxRetries  *int                   `json:"max_retries,omitempty"`
	TimeoutMs   *int                   `json:"timeout_ms,omitempty"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
}

// TaskFilter 任务查询条件
type TaskFilter struct {
	Statuses   []TaskStatus
	AgentID    string
	WorkflowID string
	Priority   TaskPriority
	CreatedBy  string
}

// Pagination 分页参数
type Pagination struct {
	Limit  int
	Offset int
}

// Normalize 填充默认分页参数
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// TaskPage 分页查询结果
type TaskPage struct {
	Items   []*Task `json:"items"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
}
