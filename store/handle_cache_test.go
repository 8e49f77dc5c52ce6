package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handle_cache.json")

	c := NewHandleCache(path)
	c.Put("douyin_7345", Entry{
		Title:     "测试视频",
		FileID:    SingleHandle("BAACAgUAAx0"),
		ParseMode: ParseModeHTML,
	})
	c.Put("xhs_abc", Entry{
		Title:  "图集",
		FileID: AlbumHandle([]string{"IMAGE:AgACAgUAAx1", "VIDEO:BAACAgUAAx2"}),
	})

	reloaded := NewHandleCache(path)
	e, ok := reloaded.GetFull("douyin_7345")
	require.True(t, ok)
	require.Equal(t, "测试视频", e.Title)
	require.Equal(t, "BAACAgUAAx0", e.FileID.One)
	require.Equal(t, ParseModeHTML, e.ParseMode)

	h, ok := reloaded.Get("xhs_abc")
	require.True(t, ok)
	require.True(t, h.IsAlbum())
	require.Equal(t, []string{"IMAGE:AgACAgUAAx1", "VIDEO:BAACAgUAAx2"}, h.Many)

	require.Equal(t, []string{"douyin_7345", "xhs_abc"}, reloaded.Keys())
}

func TestHandleCacheOrderSurvivesDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handle_cache.json")
	c := NewHandleCache(path)
	for _, vid := range []string{"a", "b", "c"} {
		c.Put(vid, Entry{FileID: SingleHandle(vid)})
	}
	require.True(t, c.Delete("b"))
	require.False(t, c.Delete("b"))
	require.Equal(t, []string{"a", "c"}, NewHandleCache(path).Keys())
}

func TestHandleCacheLegacyShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handle_cache.json")
	legacy := `{
  "bili_BV1xx": "BAACAgUAAxkDAAIB",
  "douyin_123": ["IMAGE:AgAC1", "IMAGE:AgAC2"],
  "music_456": {"title": "老歌", "value": "CQACAgUAAxkDAAIC", "parse_mode": "HTML"}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	c := NewHandleCache(path)

	e, ok := c.GetFull("bili_BV1xx")
	require.True(t, ok)
	require.Equal(t, "BAACAgUAAxkDAAIB", e.FileID.One)
	require.Empty(t, e.Title)

	h, ok := c.Get("douyin_123")
	require.True(t, ok)
	require.Equal(t, []string{"IMAGE:AgAC1", "IMAGE:AgAC2"}, h.Many)

	e, ok = c.GetFull("music_456")
	require.True(t, ok)
	require.Equal(t, "老歌", e.Title)
	require.Equal(t, "CQACAgUAAxkDAAIC", e.FileID.One)
	require.Equal(t, ParseModeHTML, e.ParseMode)
}

func TestHandleCacheBackupFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handle_cache.json")

	c := NewHandleCache(path)
	c.Put("v1", Entry{FileID: SingleHandle("AAA")})
	c.Put("v2", Entry{FileID: SingleHandle("BBB")})

	// Corrupt the primary; the backup written by the second Put still holds v1.
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o644))

	reloaded := NewHandleCache(path)
	_, ok := reloaded.Get("v1")
	require.True(t, ok)
}

func TestHandleCacheCrashDuringTempWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handle_cache.json")

	c := NewHandleCache(path)
	c.Put("v1", Entry{FileID: SingleHandle("AAA")})

	// Simulate dying mid temp write: a half-written temp file must never
	// shadow the committed state.
	require.NoError(t, os.WriteFile(tmpPath(path), []byte(`{"v2": "BB`), 0o644))

	reloaded := NewHandleCache(path)
	h, ok := reloaded.Get("v1")
	require.True(t, ok)
	require.Equal(t, "AAA", h.One)
	_, ok = reloaded.Get("v2")
	require.False(t, ok)
}

func TestHandleCacheStartsEmptyOnDoubleFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "handle_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("broken"), 0o644))
	require.NoError(t, os.WriteFile(backupPath(path), []byte("also broken"), 0o644))

	c := NewHandleCache(path)
	require.Equal(t, 0, c.Len())

	// The store still works for new writes.
	c.Put("fresh", Entry{FileID: SingleHandle("CCC")})
	_, ok := NewHandleCache(path).Get("fresh")
	require.True(t, ok)
}

func TestTitlePairs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handle_cache.json")
	c := NewHandleCache(path)
	c.Put("v1", Entry{Title: "first", FileID: SingleHandle("A")})
	c.Put("v2", Entry{Title: "second", FileID: SingleHandle("B")})
	require.Equal(t, []TitlePair{{"v1", "first"}, {"v2", "second"}}, c.TitlePairs())
}
