package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "big.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestCatboxUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(8<<20))
		require.Equal(t, "fileupload", r.FormValue("reqtype"))
		f, hdr, err := r.FormFile("fileToUpload")
		require.NoError(t, err)
		f.Close()
		require.Equal(t, "big.mp4", hdr.Filename)
		w.Write([]byte("https://files.catbox.moe/abcd.mp4\n"))
	}))
	defer srv.Close()

	c := NewCatbox(srv.URL)
	var sent int64
	url, err := c.Upload(context.Background(), writeTempFile(t, 1<<20), func(n int64) {
		atomic.StoreInt64(&sent, n)
	})
	require.NoError(t, err)
	require.Equal(t, "https://files.catbox.moe/abcd.mp4", url)
	require.Positive(t, atomic.LoadInt64(&sent))
}

func TestCatboxRetriesOnce(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("https://files.catbox.moe/retry.mp4"))
	}))
	defer srv.Close()

	url, err := NewCatbox(srv.URL).Upload(context.Background(), writeTempFile(t, 1024), nil)
	require.NoError(t, err)
	require.Equal(t, "https://files.catbox.moe/retry.mp4", url)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestCatboxRejectsNonURLBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("something went wrong"))
	}))
	defer srv.Close()

	_, err := NewCatbox(srv.URL).Upload(context.Background(), writeTempFile(t, 1024), nil)
	require.Error(t, err)
}
