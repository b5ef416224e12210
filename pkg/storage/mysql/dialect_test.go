package mysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	d := NewDialect()
	sql := d.UpsertSQL("agents", []string{"id", "name", "status"}, "id")
	assert.Equal(t, "INSERT INTO agents (id, name, status) VALUES (:id, :name, :status) ON DUPLICATE KEY UPDATE name = VALUES(name), status = VALUES(status)", sql)

	ddl := d.TranslateDDL("CREATE TABLE IF NOT EXISTS t (id VARCHAR(64) PRIMARY KEY)")
	assert.True(t, strings.HasSuffix(ddl, ") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"))
	assert.Equal(t, "CREATE INDEX idx ON t(id)", d.TranslateDDL("CREATE INDEX IF NOT EXISTS idx ON t(id)"))
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN("user:pass@tcp(127.0.0.1:3306)/agenthub")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")
}
