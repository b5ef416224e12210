package types

import "time"

// Schedule 周期任务定义，每次触发按模板创建一个Task
type Schedule struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CronExpr  string     `json:"cron_expr"`
	Template  TaskSpec   `json:"template"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastTask  string     `json:"last_task_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScheduleSpec 创建周期任务的输入
type ScheduleSpec struct {
	Name     string   `json:"name"`
	CronExpr string   `json:"cron_expr"`
	Template TaskSpec `json:"template"`
}
