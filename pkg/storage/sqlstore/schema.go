package sqlstore

// 通用DDL，各方言通过 Dialect.TranslateDDL 转换
// 主键统一使用 VARCHAR(64)，MySQL 不支持 TEXT 主键
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS platforms (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		base_url VARCHAR(512) NOT NULL,
		auth_type VARCHAR(32) NOT NULL,
		credentials TEXT,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id VARCHAR(64) PRIMARY KEY,
		platform_id VARCHAR(64) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		capabilities TEXT,
		configuration TEXT,
		status VARCHAR(32) NOT NULL,
		health_config TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_platform_external ON agents(platform_id, external_id)`,
	`CREATE TABLE IF NOT EXISTS agent_health (
		agent_id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		last_check DATETIME,
		response_time_ms BIGINT NOT NULL,
		error_count INTEGER NOT NULL,
		consecutive_errors INTEGER NOT NULL,
		last_error TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(64) PRIMARY KEY,
		agent_id VARCHAR(64) NOT NULL,
		workflow_id VARCHAR(64),
		name VARCHAR(255) NOT NULL,
		description TEXT,
		priority VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		parameters TEXT,
		max_retries INTEGER NOT NULL,
		retry_count INTEGER NOT NULL,
		timeout_ms INTEGER NOT NULL,
		scheduled_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		execution_id VARCHAR(255),
		result TEXT,
		error TEXT,
		created_by VARCHAR(255),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_agent_id ON tasks(agent_id)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		cron_expr VARCHAR(128) NOT NULL,
		template TEXT NOT NULL,
		enabled BOOLEAN NOT NULL,
		last_run_at DATETIME,
		last_task_id VARCHAR(64),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}
