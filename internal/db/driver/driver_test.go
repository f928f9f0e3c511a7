package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindQuery(t *testing.T) {
	assert.Equal(t, "SELECT 1", rebindQuery("SELECT 1"))
	assert.Equal(t,
		"SELECT id FROM tasks WHERE id = $1 AND status = $2",
		rebindQuery("SELECT id FROM tasks WHERE id = ? AND status = ?"))
	assert.Equal(t,
		"SELECT '?' , $1",
		rebindQuery("SELECT '?' , ?"))
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, 1, extractVersion("engine_001.sql", "engine_"))
	assert.Equal(t, 42, extractVersion("engine_042.sql", "engine_"))
	assert.Equal(t, 0, extractVersion("engine_bad.sql", "engine_"))
}

func TestNewDriver(t *testing.T) {
	d, err := New(DialectSQLite)
	assert.NoError(t, err)
	assert.Equal(t, DialectSQLite, d.Dialect())

	d, err = New(DialectPostgres)
	assert.NoError(t, err)
	assert.Equal(t, DialectPostgres, d.Dialect())

	_, err = New(Dialect("oracle"))
	assert.Error(t, err)
}
