package dao

import (
	"database/sql"
	"time"
)

// TaskDAO tasks表的数据访问对象（内部使用）
type TaskDAO struct {
	ID          string         `db:"id"`
	AgentID     string         `db:"agent_id"`
	WorkflowID  string         `db:"workflow_id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Priority    string         `db:"priority"`
	Status      string         `db:"status"`
	Parameters  string         `db:"parameters"` // JSON格式存储
	MaxRetries  int            `db:"max_retries"`
	RetryCount  int            `db:"retry_count"`
	TimeoutMs   int            `db:"timeout_ms"`
	ScheduledAt time.Time      `db:"scheduled_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	ExecutionID string         `db:"execution_id"`
	Result      sql.NullString `db:"result"` // JSON格式存储
	Error       sql.NullString `db:"error"`  // JSON格式存储
	CreatedBy   string         `db:"created_by"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// TaskCASDAO 带期望状态的任务更新参数
type TaskCASDAO struct {
	TaskDAO
	ExpectedStatus string `db:"expected_status"`
}

// TaskColumns tasks表的全部列，顺序与建表语句一致
var TaskColumns = []string{
	"id", "agent_id", "workflow_id", "name", "description", "priority", "status",
	"parameters", "max_retries", "retry_count", "timeout_ms", "scheduled_at",
	"started_at", "completed_at", "execution_id", "result", "error",
	"created_by", "created_at", "updated_at",
}
