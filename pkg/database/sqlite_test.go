package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")
	db, err := NewSQLiteConnection(path)
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
	assert.FileExists(t, path)

	_, err = NewSQLiteConnection(":memory:")
	assert.NoError(t, err)
}
