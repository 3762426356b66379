package msstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrationsAndCreatesTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rank0.sqlite3")

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	var names []string
	rows, err := store.DB.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}

	assert.Contains(t, names, "scan")
	assert.Contains(t, names, "spectral_window")
	assert.Contains(t, names, "vis_row")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rank0.sqlite3")

	store1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := Open(path)
	require.NoError(t, err)
	defer store2.Close()

	var count int
	require.NoError(t, store2.DB.Get(&count, `SELECT COUNT(*) FROM scan`))
	assert.Equal(t, 0, count)
}
