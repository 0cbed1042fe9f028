package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/plugin/catalog"
)

// registerCatalog registers the catalog collections for the duration of t.
func registerCatalog(t *testing.T) {
	t.Helper()
	plugin.Reset()
	plugin.Register(catalog.New())
	t.Cleanup(plugin.Reset)
}

// newTestStore opens a migrated file-backed store with the catalog plugin.
func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	registerCatalog(t)

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "entsync.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
