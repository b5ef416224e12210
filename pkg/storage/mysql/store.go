package mysql

import (
	"fmt"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/storage/sqlstore"
)

// NewStoreFromDSN 通过DSN创建MySQL存储（对外导出）
// dsn 示例: "user:pass@tcp(127.0.0.1:3306)/agenthub"
func NewStoreFromDSN(dsn string, pool sqlstore.PoolOptions, log *logrus.Entry) (*sqlstore.Store, error) {
	normalized, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(NewDialect(), normalized, pool, log)
}

// normalizeDSN 强制开启 parseTime 与 clientFoundRows
// clientFoundRows 保证条件更新在值未变化时也返回匹配行数
func normalizeDSN(dsn string) (string, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("解析MySQL DSN失败: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}
