package sqlite

import (
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/storage/sqlstore"
)

// NewStoreFromDSN 通过DSN创建SQLite存储（对外导出）
// dsn 示例: "file:agenthub.db" 或 ":memory:"
func NewStoreFromDSN(dsn string, log *logrus.Entry) (*sqlstore.Store, error) {
	// SQLite 单写者，避免 database is locked；:memory: 也依赖单连接保持同一个库
	return sqlstore.Open(NewDialect(), dsn, sqlstore.PoolOptions{MaxOpenConns: 1}, log)
}
