package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlacklistAddRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	b := NewBlacklist(path)

	require.True(t, b.Add(42))
	require.False(t, b.Add(42))
	require.True(t, b.Contains(42))
	require.False(t, b.Contains(7))

	require.True(t, b.Remove(42))
	require.False(t, b.Remove(42))
	require.False(t, b.Contains(42))
}

func TestBlacklistSortedPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	b := NewBlacklist(path)
	b.Add(300)
	b.Add(100)
	b.Add(200)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, "[100, 200, 300]", string(data))

	require.Equal(t, []int64{100, 200, 300}, NewBlacklist(path).List())
}

func TestBlacklistRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not": "a list"}`), 0o644))
	b := NewBlacklist(path)
	require.Empty(t, b.List())
}
