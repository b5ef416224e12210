package storage

import (
	"fmt"
	"strings"
)

// Dialect SQL方言，屏蔽各数据库在upsert、DDL和会话设置上的差异（对外导出）
type Dialect interface {
	Name() string
	// DriverName database/sql 驱动名
	DriverName() string
	// UpsertSQL 按主键写入一行，columns[0]以外的列在冲突时覆盖，参数使用 :name 命名
	UpsertSQL(table string, columns []string, key string) string
	// TranslateDDL 将 schema 中的通用DDL改写为方言可执行的语句
	TranslateDDL(stmt string) string
	// SessionSQL 连接建立后执行的设置语句
	SessionSQL() []string
}

// InsertSQL 生成带命名参数的INSERT前缀
func InsertSQL(table string, columns []string) string {
	named := make([]string, len(columns))
	for i, col := range columns {
		named[i] = ":" + col
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(named, ", "))
}

// OnConflictUpsert SQLite(3.24+)与PostgreSQL共用的 ON CONFLICT DO UPDATE 语法
func OnConflictUpsert(table string, columns []string, key string) string {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != key {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		InsertSQL(table, columns), key, strings.Join(sets, ", "))
}

// IsIndexDDL 是否为建索引语句，建索引失败可忽略
func IsIndexDDL(stmt string) bool {
	return strings.HasPrefix(strings.TrimSpace(stmt), "CREATE INDEX")
}
