// Package resolver holds the per-platform plugins. Every plugin implements
// the same two-call contract: a cheap Peek that identifies the post for a
// cache probe, and a full Parse that produces deliverable artifacts.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clipfetch/clipfetch/browser"
	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/log"
	"github.com/clipfetch/clipfetch/media"
	"github.com/hashicorp/go-retryablehttp"
)

// Resolver is the uniform plugin contract.
type Resolver interface {
	// Platform names the plugin for limits, metrics and usage records.
	Platform() string
	// Peek determines (vid, title) as cheaply as possible. At most one HTTP
	// round trip or one browser navigation; never downloads media.
	Peek(ctx context.Context, url string) (vid, title string, err error)
	// Parse fully resolves the post into deliverable artifacts.
	Parse(ctx context.Context, url string) (*media.ParseResult, error)
}

// Deps bundles the collaborators plugins share. One instance is built at
// startup and handed to every plugin constructor.
type Deps struct {
	Downloader    *download.Downloader
	Browser       *browser.Pool
	Prober        media.Prober
	DownloadDir   string
	BiliSessData  string
	XhsWebSession string

	httpClient *retryablehttp.Client
}

func NewDeps(dl *download.Downloader, pool *browser.Pool, prober media.Prober, downloadDir string) *Deps {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &Deps{
		Downloader:  dl,
		Browser:     pool,
		Prober:      prober,
		DownloadDir: downloadDir,
		httpClient:  client,
	}
}

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// fetch issues one GET and returns the body. Headers always include a real
// browser user agent; platforms serve bot UAs a different page.
func (d *Deps) fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", desktopUA)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", log.RedactURL(url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, log.RedactURL(url))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", log.RedactURL(url), err)
	}
	return body, nil
}

func (d *Deps) fetchJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	body, err := d.fetch(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding JSON from %s: %w", log.RedactURL(url), err)
	}
	return nil
}

// destPath places a download under the shared download dir. The vid keeps
// concurrent users from colliding; the suffix separates a post's artifacts.
func (d *Deps) destPath(vid, suffix string) string {
	return filepath.Join(d.DownloadDir, fmt.Sprintf("%s_%s", vid, suffix))
}

// fetchFile downloads url to dest unless an earlier request already left the
// artifact on disk. Dest names embed the vid, so an existing file is the same
// content.
func (d *Deps) fetchFile(ctx context.Context, url, dest string, opts download.Options) error {
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		log.LogCtx(ctx, "reusing downloaded artifact", "path", dest)
		return nil
	}
	return d.Downloader.Download(ctx, url, dest, opts)
}

// sizeMBOf stats a downloaded artifact. Parse errors after download are not
// worth failing on, so a stat failure returns zero.
func sizeMBOf(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (1 << 20)
}

// extractJSONBlob cuts the JSON object assigned to marker out of an HTML
// page, balancing braces so trailing script text does not leak in.
func extractJSONBlob(html []byte, marker string) ([]byte, error) {
	idx := bytes.Index(html, []byte(marker))
	if idx < 0 {
		return nil, fmt.Errorf("marker %q not found in page", marker)
	}
	rest := html[idx+len(marker):]
	start := bytes.IndexByte(rest, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object after marker %q", marker)
	}
	rest = rest[start:]

	depth := 0
	inString := false
	escaped := false
	for i, b := range rest {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return rest[:i+1], nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object after marker %q", marker)
}
