package mysql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterfaces(t *testing.T) {
	var _ store.NamespaceStore = (*Store)(nil)
	var _ store.Inspector = (*Store)(nil)
	var _ store.ReportStore = (*Store)(nil)
	var _ store.Locker = (*Locker)(nil)
}

func TestStoreInitialization(t *testing.T) {
	t.Run("New uses the default version table", func(t *testing.T) {
		s := New(nil)

		assert.Equal(t, "`tenant_a`.`migrator_version`", s.qualifiedVersionTable("tenant_a"))
	})

	t.Run("NewWithConfig uses custom table names", func(t *testing.T) {
		config := DefaultTableConfig()
		config.VersionTable = "alembic_version"
		s := NewWithConfig(nil, config)

		assert.Equal(t, "`t-1`.`alembic_version`", s.qualifiedVersionTable("t-1"))
	})
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`a``b`", quote("a`b"))
}

func TestLockName(t *testing.T) {
	t.Run("short names are kept readable", func(t *testing.T) {
		assert.Equal(t, "migrator:tenant_a", lockName("tenant_a"))
	})

	t.Run("long names are hashed to fit", func(t *testing.T) {
		long := strings.Repeat("t", 63)
		name := lockName(long)

		assert.LessOrEqual(t, len(name), maxLockName)
		assert.True(t, strings.HasPrefix(name, "migrator:"))
		assert.Equal(t, name, lockName(long))
		assert.NotEqual(t, name, lockName(strings.Repeat("u", 63)))
	})
}

func TestErrorNumber(t *testing.T) {
	err := fmt.Errorf("query: %w", &mysql.MySQLError{Number: errNoSuchTable, Message: "Table doesn't exist"})

	assert.Equal(t, uint16(errNoSuchTable), errorNumber(err))
	assert.Equal(t, uint16(0), errorNumber(fmt.Errorf("plain")))
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := NormalizeDSN("user:pw@tcp(localhost:3306)/migrator")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "migrator", cfg.DBName)

	_, err = NormalizeDSN("not a dsn")
	assert.Error(t, err)
}
