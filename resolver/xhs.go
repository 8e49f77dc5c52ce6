package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/clipfetch/clipfetch/browser"
	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
)

// XHS resolves xiaohongshu note links. Notes are galleries that may include
// a video; image CDN URLs expire quickly, which is why gallery cache replay
// is a deploy-time switch.
type XHS struct {
	deps *Deps
}

func NewXHS(deps *Deps) *XHS {
	return &XHS{deps: deps}
}

func (x *XHS) Platform() string { return "xhs" }

var xhsNotePattern = regexp.MustCompile(`/(?:explore|discovery/item)/([0-9a-f]{24})`)

func (x *XHS) resolveNoteURL(ctx context.Context, rawURL string) (noteURL, noteID string, err error) {
	final := rawURL
	if strings.Contains(rawURL, "xhslink.com") {
		final, err = x.deps.Downloader.FinalURL(ctx, rawURL, download.FinalURLOptions{
			MaxRedirects: 5,
			UseGet:       true,
			ReturnFlag:   "xiaohongshu.com",
		})
		if err != nil {
			return "", "", err
		}
	}
	m := xhsNotePattern.FindStringSubmatch(final)
	if m == nil {
		return "", "", fmt.Errorf("no note id in resolved url %s", final)
	}
	return final, m[1], nil
}

// xhsNote is the __INITIAL_STATE__ note object reduced to what we read.
type xhsNote struct {
	Title     string `json:"title"`
	Desc      string `json:"desc"`
	Type      string `json:"type"` // "normal" or "video"
	ImageList []struct {
		URLDefault string `json:"urlDefault"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"imageList"`
	Video struct {
		Media struct {
			Stream struct {
				H264 []struct {
					MasterURL string `json:"masterUrl"`
				} `json:"h264"`
			} `json:"stream"`
		} `json:"media"`
	} `json:"video"`
}

func (x *XHS) fetchNote(ctx context.Context, noteURL, noteID string) (*xhsNote, error) {
	page, err := x.fetchNotePage(ctx, noteURL)
	if err != nil {
		return nil, err
	}
	blob, err := extractJSONBlob(page, "window.__INITIAL_STATE__")
	if err != nil {
		return nil, err
	}
	// The state serializer emits undefined for missing values; patch it into
	// valid JSON before decoding.
	blob = []byte(strings.ReplaceAll(string(blob), "undefined", "null"))

	var state struct {
		Note struct {
			NoteDetailMap map[string]struct {
				Note xhsNote `json:"note"`
			} `json:"noteDetailMap"`
		} `json:"note"`
	}
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("error decoding note state: %w", err)
	}
	detail, ok := state.Note.NoteDetailMap[noteID]
	if !ok {
		return nil, fmt.Errorf("note %s missing from page state", noteID)
	}
	return &detail.Note, nil
}

// fetchNotePage prefers a plain GET with the session cookie; when the page
// comes back as the login wall, it falls back to a browser navigation.
func (x *XHS) fetchNotePage(ctx context.Context, noteURL string) ([]byte, error) {
	headers := map[string]string{}
	if x.deps.XhsWebSession != "" {
		headers["Cookie"] = "web_session=" + x.deps.XhsWebSession
	}
	page, err := x.deps.fetch(ctx, noteURL, headers)
	if err == nil && strings.Contains(string(page), "__INITIAL_STATE__") {
		return page, nil
	}

	if x.deps.Browser == nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("note page did not include state data")
	}
	fp, ferr := browser.FingerprintByName("mobile-safari")
	if ferr != nil {
		fp = browser.RandomFingerprint()
	}
	bctx, err := x.deps.Browser.NewContext(ctx, browser.ContextOptions{Fingerprint: &fp})
	if err != nil {
		return nil, err
	}
	defer bctx.Close()
	html, err := bctx.Navigate(ctx, noteURL)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

func xhsTitle(note *xhsNote) string {
	if note.Title != "" {
		return note.Title
	}
	return note.Desc
}

func (x *XHS) Peek(ctx context.Context, rawURL string) (string, string, error) {
	noteURL, noteID, err := x.resolveNoteURL(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	note, err := x.fetchNote(ctx, noteURL, noteID)
	if err != nil {
		return "", "", err
	}
	return "xhs_" + noteID, xhsTitle(note), nil
}

func (x *XHS) Parse(ctx context.Context, rawURL string) (*media.ParseResult, error) {
	noteURL, noteID, err := x.resolveNoteURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	note, err := x.fetchNote(ctx, noteURL, noteID)
	if err != nil {
		return nil, err
	}
	vid := "xhs_" + noteID

	var items []media.Item
	var totalMB float64

	if note.Type == "video" && len(note.Video.Media.Stream.H264) > 0 {
		dest := x.deps.destPath(vid, "0.mp4")
		err := x.deps.fetchFile(ctx, note.Video.Media.Stream.H264[0].MasterURL, dest, download.Options{Threads: 2})
		if err != nil {
			return nil, err
		}
		item := media.Item{LocalPath: dest, FileType: media.FileVideo}
		if x.deps.Prober != nil {
			if probed, perr := x.deps.Prober.ProbeVideo(dest); perr == nil {
				item = probed
			}
		}
		items = append(items, item)
		totalMB += sizeMBOf(dest)
	}

	for i, img := range note.ImageList {
		if img.URLDefault == "" {
			continue
		}
		dest := x.deps.destPath(vid, fmt.Sprintf("%d.jpg", i))
		if err := x.deps.fetchFile(ctx, img.URLDefault, dest, download.Options{Threads: 1}); err != nil {
			return nil, err
		}
		items = append(items, media.Item{LocalPath: dest, FileType: media.FilePhoto, Width: img.Width, Height: img.Height})
		totalMB += sizeMBOf(dest)
	}

	if len(items) == 0 {
		return media.Failed("笔记内容解析失败"), nil
	}

	return &media.ParseResult{
		Success:     true,
		ContentType: media.ContentGallery,
		Title:       xhsTitle(note),
		Vid:         vid,
		OriginalURL: rawURL,
		Items:       items,
		SizeMB:      totalMB,
	}, nil
}
