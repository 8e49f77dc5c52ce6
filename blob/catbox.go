package blob

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clipfetch/clipfetch/log"
)

const DefaultCatboxURL = "https://catbox.moe/user/api.php"

// Catbox uploads to the catbox.moe paste host. One retry on network failure;
// the host is best-effort by nature.
type Catbox struct {
	APIURL     string
	httpClient *http.Client
}

var _ Uploader = (*Catbox)(nil)

func NewCatbox(apiURL string) *Catbox {
	if apiURL == "" {
		apiURL = DefaultCatboxURL
	}
	return &Catbox{
		APIURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (c *Catbox) Upload(ctx context.Context, localPath string, progress ProgressFunc) (string, error) {
	url, err := c.uploadOnce(ctx, localPath, progress)
	if err == nil {
		return url, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	log.LogNoRequestID("catbox upload failed, retrying once", "path", localPath, "error", err)
	return c.uploadOnce(ctx, localPath, progress)
}

// countingReader feeds the progress callback while the request body streams.
type countingReader struct {
	inner    io.Reader
	sent     int64
	progress ProgressFunc
	lastTick time.Time
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 && r.progress != nil {
		atomic.AddInt64(&r.sent, int64(n))
		if time.Since(r.lastTick) >= time.Second {
			r.lastTick = time.Now()
			r.progress(atomic.LoadInt64(&r.sent))
		}
	}
	return n, err
}

func (c *Catbox) uploadOnce(ctx context.Context, localPath string, progress ProgressFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("error opening %s for upload: %w", localPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	w := multipart.NewWriter(pw)
	go func() {
		err := writeCatboxForm(w, f, filepath.Base(localPath))
		w.Close()
		pw.CloseWithError(err)
	}()

	body := &countingReader{inner: pr, progress: progress, lastTick: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error uploading to catbox: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", fmt.Errorf("error reading catbox response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catbox returned status %d: %s", resp.StatusCode, respBody)
	}
	url := strings.TrimSpace(string(respBody))
	if !strings.HasPrefix(url, "http") {
		return "", fmt.Errorf("catbox returned an unexpected body: %s", url)
	}
	if progress != nil {
		progress(atomic.LoadInt64(&body.sent))
	}
	return url, nil
}

func writeCatboxForm(w *multipart.Writer, f *os.File, filename string) error {
	if err := w.WriteField("reqtype", "fileupload"); err != nil {
		return err
	}
	part, err := w.CreateFormFile("fileToUpload", filename)
	if err != nil {
		return err
	}
	buf := make([]byte, 32<<10)
	_, err = io.CopyBuffer(part, f, buf)
	return err
}
