package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithBackupPristineBoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	require.Nil(t, loadWithBackup(path, mustCompileSchema(`{"type": "object"}`)))

	// Nothing gets created on a read that found nothing.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLoadWithBackupFallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	schema := mustCompileSchema(`{"type": "object"}`)
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))
	require.NoError(t, os.WriteFile(backupPath(path), []byte(`{"ok": true}`), 0o644))

	require.Equal(t, []byte(`{"ok": true}`), loadWithBackup(path, schema))
}

func TestLoadWithBackupBothCorruptStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	schema := mustCompileSchema(`{"type": "object"}`)
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o644))
	require.NoError(t, os.WriteFile(backupPath(path), []byte("[]"), 0o644))

	require.Nil(t, loadWithBackup(path, schema))
}
