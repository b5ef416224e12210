package storage

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LENAX/agent-hub/pkg/storage"
	"github.com/LENAX/agent-hub/pkg/storage/memory"
	"github.com/LENAX/agent-hub/pkg/storage/mysql"
	"github.com/LENAX/agent-hub/pkg/storage/postgres"
	"github.com/LENAX/agent-hub/pkg/storage/sqlite"
	"github.com/LENAX/agent-hub/pkg/storage/sqlstore"
)

// NewStore 根据数据库类型创建存储（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres/memory）
// dsn: 数据库连接字符串
func NewStore(dbType, dsn string, pool sqlstore.PoolOptions, log *logrus.Entry) (storage.Store, error) {
	switch strings.ToLower(dbType) {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "agenthub.db"
		}
		s, err := sqlite.NewStoreFromDSN(dsn, log)
		if err != nil {
			return nil, fmt.Errorf("create sqlite store failed: %w", err)
		}
		return s, nil
	case "mysql":
		s, err := mysql.NewStoreFromDSN(dsn, pool, log)
		if err != nil {
			return nil, fmt.Errorf("create mysql store failed: %w", err)
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := postgres.NewStoreFromDSN(dsn, pool, log)
		if err != nil {
			return nil, fmt.Errorf("create postgres store failed: %w", err)
		}
		return s, nil
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
