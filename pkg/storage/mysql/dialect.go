package mysql

import (
	"fmt"
	"strings"

	"github.com/LENAX/agent-hub/pkg/storage"
)

// Dialect MySQL方言
type Dialect struct{}

// NewDialect 创建MySQL方言
func NewDialect() Dialect { return Dialect{} }

func (Dialect) Name() string       { return "mysql" }
func (Dialect) DriverName() string { return "mysql" }

// UpsertSQL 使用 ON DUPLICATE KEY UPDATE，兼容MariaDB保留 VALUES() 写法
func (Dialect) UpsertSQL(table string, columns []string, key string) string {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != key {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", col, col))
		}
	}
	return storage.InsertSQL(table, columns) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// TranslateDDL 建表追加InnoDB/utf8mb4；MySQL不支持 CREATE INDEX IF NOT EXISTS，重复建索引的错误由调用方忽略
func (Dialect) TranslateDDL(stmt string) string {
	if storage.IsIndexDDL(stmt) {
		return strings.Replace(stmt, "IF NOT EXISTS ", "", 1)
	}
	return strings.TrimRight(stmt, "; \n\t") + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

func (Dialect) SessionSQL() []string {
	return []string{
		"SET SESSION time_zone = '+00:00';",
		"SET SESSION sql_mode = 'STRICT_TRANS_TABLES,NO_ZERO_IN_DATE,NO_ZERO_DATE,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION';",
	}
}

var _ storage.Dialect = Dialect{}
