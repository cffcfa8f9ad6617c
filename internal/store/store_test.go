// ABOUTME: Shared helpers for store tests
// ABOUTME: Opens a fresh SQLite store per test under a temp directory

package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// generateTestID creates a predictable ID for tests.
func generateTestID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}
