package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	first := migrations[0]
	assert.Equal(t, 1, first.Version)
	assert.Contains(t, first.SQL, "CREATE TABLE IF NOT EXISTS availability_rules")
	assert.Contains(t, first.SQL, "WHERE status <> 'cancelled'")
}

func TestLoadMigrationsOrdersAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql":  {Data: []byte("SELECT 10")},
		"m/002_second.sql": {Data: []byte("SELECT 2")},
		"m/README.md":      {Data: []byte("notes")},
		"m/draft.sql":      {Data: []byte("SELECT 0")},
		"m/x_bad.sql":      {Data: []byte("SELECT 0")},
	}

	migrations, err := loadMigrations(fsys, "m")
	require.NoError(t, err)

	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "010_later.sql", migrations[1].Name)
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1")},
		"m/01_b.sql":  {Data: []byte("SELECT 1")},
	}

	_, err := loadMigrations(fsys, "m")
	assert.ErrorContains(t, err, "duplicate migration version 1")
}
