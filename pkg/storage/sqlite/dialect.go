package sqlite

import (
	"github.com/LENAX/agent-hub/pkg/storage"
)

// Dialect SQLite方言
type Dialect struct{}

// NewDialect 创建SQLite方言
func NewDialect() Dialect { return Dialect{} }

func (Dialect) Name() string       { return "sqlite" }
func (Dialect) DriverName() string { return "sqlite3" }

// UpsertSQL 使用 ON CONFLICT DO UPDATE，保留行身份而非 REPLACE 的删后重插
func (Dialect) UpsertSQL(table string, columns []string, key string) string {
	return storage.OnConflictUpsert(table, columns, key)
}

// TranslateDDL 通用DDL即SQLite语法
func (Dialect) TranslateDDL(stmt string) string { return stmt }

// SessionSQL WAL模式下读写并发，busy_timeout覆盖任务状态CAS的短暂写锁
func (Dialect) SessionSQL() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=10000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

var _ storage.Dialect = Dialect{}
