package postgres

import (
	"strings"

	"github.com/LENAX/agent-hub/pkg/storage"
)

// Dialect PostgreSQL方言
type Dialect struct{}

// NewDialect 创建PostgreSQL方言
func NewDialect() Dialect { return Dialect{} }

func (Dialect) Name() string       { return "postgres" }
func (Dialect) DriverName() string { return "postgres" }

func (Dialect) UpsertSQL(table string, columns []string, key string) string {
	return storage.OnConflictUpsert(table, columns, key)
}

// TranslateDDL 时间列统一存为带时区的时间戳
func (Dialect) TranslateDDL(stmt string) string {
	return strings.ReplaceAll(stmt, "DATETIME", "TIMESTAMPTZ")
}

func (Dialect) SessionSQL() []string {
	return []string{"SET TIME ZONE 'UTC';"}
}

var _ storage.Dialect = Dialect{}
