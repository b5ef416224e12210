package dao

import (
	"database/sql"
	"time"
)

// PlatformDAO platforms表的数据访问对象（内部使用）
type PlatformDAO struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Type        string    `db:"type"`
	BaseURL     string    `db:"base_url"`
	AuthType    string    `db:"auth_type"`
	Credentials string    `db:"credentials"` // JSON对象
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// PlatformColumns platforms表的全部列
var PlatformColumns = []string{
	"id", "name", "type", "base_url", "auth_type", "credentials", "status", "created_at", "updated_at",
}

// ScheduleDAO schedules表的数据访问对象（内部使用）
type ScheduleDAO struct {
	ID         string       `db:"id"`
	Name       string       `db:"name"`
	CronExpr   string       `db:"cron_expr"`
	Template   string       `db:"template"` // JSON格式的TaskSpec
	Enabled    bool         `db:"enabled"`
	LastRunAt  sql.NullTime `db:"last_run_at"`
	LastTaskID string       `db:"last_task_id"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

// ScheduleColumns schedules表的全部列
var ScheduleColumns = []string{
	"id", "name", "cron_expr", "template", "enabled", "last_run_at", "last_task_id", "created_at", "updated_at",
}
