// Package download is the segmented HTTP fetch engine. It chases redirects by
// hand, splits large bodies into concurrent range requests and falls back to
// one plain GET when a server refuses to cooperate.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clipfetch/clipfetch/log"
	"github.com/clipfetch/clipfetch/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	// Bodies under this size are not worth segmenting.
	minSegmentedBytes = 2 << 20
	copyChunkBytes    = 8 << 10
	maxWorkerRetries  = 3
	maxSingleRetries  = 3
	progressInterval  = 50 * time.Millisecond
)

// Error is the downloader's failure type. The URL is kept for logging; the
// wrapped cause carries the detail.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download of %s failed: %v", log.RedactURL(e.URL), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// errRangeIgnored marks a server that answers ranged GETs with the full body.
// Retrying will not change its mind, so the segment fails immediately and the
// caller takes the single-stream fallback.
var errRangeIgnored = errors.New("server ignored range request")

// ProgressFunc receives periodic byte counts while a transfer runs. A zero
// total means the size is unknown.
type ProgressFunc func(downloaded, total int64)

// Options tunes one Download call.
type Options struct {
	Headers      map[string]string
	Timeout      time.Duration
	Threads      int
	MultiSession bool
	PoolSize     int
	Progress     ProgressFunc
}

// Downloader owns the HTTP clients used by all transfers. A zero Threads or
// Timeout in Options falls back to the defaults set here.
type Downloader struct {
	DefaultThreads int
	DefaultTimeout time.Duration

	sharedClient *http.Client
}

func New() *Downloader {
	return &Downloader{
		DefaultThreads: 4,
		DefaultTimeout: 10 * time.Minute,
		sharedClient:   newClient(),
	}
}

func newClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (d *Downloader) noRedirectClient() *http.Client {
	return &http.Client{
		Transport: d.sharedClient.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 30 * time.Second,
	}
}

// Download fetches url into dest. The file appears at dest only on success;
// all intermediate part files are cleaned up on every path.
func (d *Downloader) Download(ctx context.Context, url, dest string, opts Options) error {
	threads := opts.Threads
	if threads <= 0 {
		threads = d.DefaultThreads
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	total, segmentable := d.precheck(ctx, url, opts.Headers)

	if segmentable && threads > 1 {
		err := d.downloadSegmented(ctx, url, dest, total, threads, opts)
		if err == nil {
			metrics.Metrics.DownloadDurationSec.WithLabelValues("segmented").Observe(time.Since(start).Seconds())
			return nil
		}
		log.LogNoRequestID("segmented download failed, falling back to single stream",
			"url", log.RedactURL(url), "error", err)
		metrics.Metrics.DownloadFallbacks.Inc()
	}

	if err := d.downloadSingle(ctx, url, dest, total, opts); err != nil {
		return err
	}
	metrics.Metrics.DownloadDurationSec.WithLabelValues("single").Observe(time.Since(start).Seconds())
	return nil
}

// precheck issues a HEAD to size the body and decide whether segmenting is
// worthwhile. Servers that omit Accept-Ranges sometimes honor ranges anyway,
// so a missing header only warns.
func (d *Downloader) precheck(ctx context.Context, url string, headers map[string]string) (total int64, segmentable bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	applyHeaders(req, headers)
	resp, err := d.sharedClient.Do(req)
	if err != nil {
		return 0, false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, false
	}
	total = resp.ContentLength
	if total <= 0 || total < minSegmentedBytes {
		return total, false
	}
	if !strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes") {
		log.LogNoRequestID("server does not advertise range support, attempting segmented anyway",
			"url", log.RedactURL(url))
	}
	return total, true
}

type segment struct {
	index int
	start int64
	end   int64 // inclusive
}

func splitSegments(total int64, n int) []segment {
	if int64(n) > total {
		n = int(total)
	}
	per := total / int64(n)
	segs := make([]segment, 0, n)
	var start int64
	for i := 0; i < n; i++ {
		end := start + per - 1
		if i == n-1 {
			end = total - 1
		}
		segs = append(segs, segment{index: i, start: start, end: end})
		start = end + 1
	}
	return segs
}

func partPath(dest string, index int) string {
	return fmt.Sprintf("%s.part%d", dest, index)
}

func (d *Downloader) downloadSegmented(ctx context.Context, url, dest string, total int64, threads int, opts Options) error {
	segs := splitSegments(total, threads)
	pool := newSessionPool(opts.MultiSession, opts.PoolSize, len(segs), d.sharedClient)
	defer pool.close()

	var (
		mu         sync.Mutex
		downloaded int64
	)
	addProgress := func(n int64) {
		mu.Lock()
		downloaded += n
		mu.Unlock()
	}

	monitorDone := startProgressMonitor(ctx, opts.Progress, total, func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return downloaded
	})

	group, gctx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		seg := seg
		client := pool.clientFor(seg.index)
		group.Go(func() error {
			return d.fetchSegment(gctx, client, url, dest, seg, opts.Headers, addProgress)
		})
	}
	err := group.Wait()
	monitorDone()

	if err != nil {
		removeParts(dest, len(segs))
		return err
	}

	if err := mergeParts(dest, segs); err != nil {
		removeParts(dest, len(segs))
		return err
	}
	metrics.Metrics.DownloadBytes.Add(float64(total))
	return nil
}

// fetchSegment streams one byte range into its part file, retrying with a
// linear backoff. A failed attempt deletes the part so a retry starts clean.
func (d *Downloader) fetchSegment(ctx context.Context, client *http.Client, url, dest string, seg segment, headers map[string]string, addProgress func(int64)) error {
	part := partPath(dest, seg.index)
	var lastErr error
	for attempt := 1; attempt <= maxWorkerRetries; attempt++ {
		err := d.fetchSegmentOnce(ctx, client, url, part, seg, headers, addProgress)
		if err == nil {
			return nil
		}
		lastErr = err
		os.Remove(part)
		if errors.Is(err, errRangeIgnored) {
			return &Error{URL: url, Err: lastErr}
		}
		if ctx.Err() != nil {
			return &Error{URL: url, Err: ctx.Err()}
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return &Error{URL: url, Err: ctx.Err()}
		}
	}
	return &Error{URL: url, Err: fmt.Errorf("segment %d failed after %d attempts: %w", seg.index, maxWorkerRetries, lastErr)}
}

func (d *Downloader) fetchSegmentOnce(ctx context.Context, client *http.Client, url, part string, seg segment, headers map[string]string, addProgress func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	applyHeaders(req, headers)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", seg.start, seg.end))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for range %d-%d", resp.StatusCode, seg.start, seg.end)
	}
	if resp.StatusCode == http.StatusOK && (seg.start > 0 || resp.Header.Get("Content-Range") == "") {
		// A full-body 200 would make every part file a prefix of the whole
		// body and merge into a right-length, wrong-content artifact.
		return fmt.Errorf("range %d-%d answered with status 200: %w", seg.start, seg.end, errRangeIgnored)
	}
	wantRange := fmt.Sprintf("bytes %d-%d/", seg.start, seg.end)
	if cr := resp.Header.Get("Content-Range"); cr != "" && !strings.HasPrefix(cr, wantRange) {
		log.LogNoRequestID("Content-Range mismatch", "want", wantRange, "got", cr)
	}

	f, err := os.Create(part)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, copyChunkBytes)
	want := seg.end - seg.start + 1
	var written int64
	for written < want {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			toWrite := int64(n)
			if written+toWrite > want {
				toWrite = want - written
			}
			if _, werr := f.Write(buf[:toWrite]); werr != nil {
				return werr
			}
			written += toWrite
			addProgress(toWrite)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if written != want {
		return fmt.Errorf("segment %d short read: got %d of %d bytes", seg.index, written, want)
	}
	return nil
}

// mergeParts concatenates part files by ascending start byte into a temp file
// and renames it into place.
func mergeParts(dest string, segs []segment) error {
	ordered := make([]segment, len(segs))
	copy(ordered, segs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start < ordered[j].start })

	merged := dest + ".merged_tmp"
	out, err := os.Create(merged)
	if err != nil {
		return err
	}
	for _, seg := range ordered {
		in, err := os.Open(partPath(dest, seg.index))
		if err != nil {
			out.Close()
			os.Remove(merged)
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(merged)
			return err
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(merged)
		return err
	}
	removeParts(dest, len(segs))
	return os.Rename(merged, dest)
}

func removeParts(dest string, n int) {
	for i := 0; i < n; i++ {
		os.Remove(partPath(dest, i))
	}
}

// downloadSingle is the fallback path: one streaming GET into a side file,
// renamed on success, retried on network errors.
func (d *Downloader) downloadSingle(ctx context.Context, url, dest string, total int64, opts Options) error {
	var lastErr error
	for attempt := 1; attempt <= maxSingleRetries; attempt++ {
		err := d.singleOnce(ctx, url, dest, total, opts)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
		}
	}
	return &Error{URL: url, Err: fmt.Errorf("single stream failed after %d attempts: %w", maxSingleRetries, lastErr)}
}

func (d *Downloader) singleOnce(ctx context.Context, url, dest string, total int64, opts Options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	applyHeaders(req, opts.Headers)

	resp, err := d.sharedClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	tmp := dest + ".single_part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var (
		mu         sync.Mutex
		downloaded int64
	)
	monitorDone := startProgressMonitor(ctx, opts.Progress, total, func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return downloaded
	})

	buf := make([]byte, copyChunkBytes)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				monitorDone()
				f.Close()
				os.Remove(tmp)
				return werr
			}
			mu.Lock()
			downloaded += int64(n)
			mu.Unlock()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			monitorDone()
			f.Close()
			os.Remove(tmp)
			return rerr
		}
	}
	monitorDone()
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	metrics.Metrics.DownloadBytes.Add(float64(downloaded))
	return os.Rename(tmp, dest)
}

// startProgressMonitor snapshots the shared counter on a short interval and
// feeds it to the caller's callback. The returned func stops the monitor and
// delivers one final snapshot.
func startProgressMonitor(ctx context.Context, progress ProgressFunc, total int64, snapshot func() int64) func() {
	if progress == nil {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				progress(snapshot(), total)
			case <-ctx.Done():
				return
			case <-done:
				progress(snapshot(), total)
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
