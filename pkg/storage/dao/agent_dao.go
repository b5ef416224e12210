package dao

import (
	"database/sql"
	"time"
)

// AgentDAO agents表的数据访问对象（内部使用）
type AgentDAO struct {
	ID            string    `db:"id"`
	PlatformID    string    `db:"platform_id"`
	ExternalID    string    `db:"external_id"`
	Name          string    `db:"name"`
	Description   string    `db:"description"`
	Capabilities  string    `db:"capabilities"`  // JSON数组
	Configuration string    `db:"configuration"` // JSON对象
	Status        string    `db:"status"`
	HealthConfig  string    `db:"health_config"` // JSON对象，为空表示默认监控配置
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// AgentColumns agents表的全部列
var AgentColumns = []string{
	"id", "platform_id", "external_id", "name", "description",
	"capabilities", "configuration", "status", "health_config", "created_at", "updated_at",
}

// HealthRecordDAO agent_health表的数据访问对象（内部使用）
type HealthRecordDAO struct {
	AgentID           string       `db:"agent_id"`
	Status            string       `db:"status"`
	LastCheck         sql.NullTime `db:"last_check"`
	ResponseTimeMs    int64        `db:"response_time_ms"`
	ErrorCount        int          `db:"error_count"`
	ConsecutiveErrors int          `db:"consecutive_errors"`
	LastError         string       `db:"last_error"`
}

// HealthRecordColumns agent_health表的全部列
var HealthRecordColumns = []string{
	"agent_id", "status", "last_check", "response_time_ms",
	"error_count", "consecutive_errors", "last_error",
}
