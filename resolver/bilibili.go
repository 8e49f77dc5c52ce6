package resolver

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"sync"

	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
	"github.com/clipfetch/clipfetch/mux"
)

// Bilibili resolves bilibili.com and b23.tv links. Streams come as separate
// DASH video+audio tracks that get merged locally; paid content only exposes
// a preview segment, which is delivered with a warning flag.
type Bilibili struct {
	deps *Deps

	mutex    sync.Mutex
	lastBvid string
	lastPage int
	lastView *biliView
}

func NewBilibili(deps *Deps) *Bilibili {
	return &Bilibili{deps: deps}
}

func (b *Bilibili) Platform() string { return "bilibili" }

var (
	bvidPattern = regexp.MustCompile(`(BV[0-9A-Za-z]{10})`)
	pagePattern = regexp.MustCompile(`[?&]p=(\d+)`)
)

func (b *Bilibili) resolveBvid(ctx context.Context, rawURL string) (bvid string, page int, err error) {
	final := rawURL
	if m := bvidPattern.FindStringSubmatch(rawURL); m == nil {
		final, err = b.deps.Downloader.FinalURL(ctx, rawURL, download.FinalURLOptions{
			MaxRedirects: 5,
			ReturnFlag:   "bilibili.com/video/",
		})
		if err != nil {
			return "", 0, err
		}
	}
	m := bvidPattern.FindStringSubmatch(final)
	if m == nil {
		return "", 0, fmt.Errorf("no BV id in resolved url %s", final)
	}
	page = 1
	if pm := pagePattern.FindStringSubmatch(final); pm != nil {
		if p, perr := strconv.Atoi(pm[1]); perr == nil && p > 1 {
			page = p
		}
	}
	return m[1], page, nil
}

func biliVid(bvid string, page int) string {
	if page > 1 {
		return fmt.Sprintf("bili_%s_p%d", bvid, page)
	}
	return "bili_" + bvid
}

type biliView struct {
	Title    string `json:"title"`
	Cid      int64  `json:"cid"`
	Duration int64  `json:"duration"` // seconds
	Pages    []struct {
		Cid  int64  `json:"cid"`
		Page int    `json:"page"`
		Part string `json:"part"`
	} `json:"pages"`
}

type biliViewResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    biliView `json:"data"`
}

func (b *Bilibili) apiHeaders() map[string]string {
	headers := map[string]string{
		"Referer": "https://www.bilibili.com",
	}
	if b.deps.BiliSessData != "" {
		headers["Cookie"] = "SESSDATA=" + b.deps.BiliSessData
	}
	return headers
}

func (b *Bilibili) fetchView(ctx context.Context, bvid string, page int) (*biliView, error) {
	b.mutex.Lock()
	if b.lastBvid == bvid && b.lastPage == page && b.lastView != nil {
		view := b.lastView
		b.mutex.Unlock()
		return view, nil
	}
	b.mutex.Unlock()

	api := "https://api.bilibili.com/x/web-interface/view?bvid=" + url.QueryEscape(bvid)
	var resp biliViewResponse
	if err := b.deps.fetchJSON(ctx, api, b.apiHeaders(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bilibili view api returned %d: %s", resp.Code, resp.Message)
	}
	view := resp.Data
	// A multi-part video addresses one part per cid.
	for _, p := range view.Pages {
		if p.Page == page {
			view.Cid = p.Cid
			if page > 1 && p.Part != "" {
				view.Title = view.Title + " - " + p.Part
			}
			break
		}
	}
	b.mutex.Lock()
	b.lastBvid, b.lastPage, b.lastView = bvid, page, &view
	b.mutex.Unlock()
	return &view, nil
}

func (b *Bilibili) Peek(ctx context.Context, rawURL string) (string, string, error) {
	bvid, page, err := b.resolveBvid(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	view, err := b.fetchView(ctx, bvid, page)
	if err != nil {
		return "", "", err
	}
	return biliVid(bvid, page), view.Title, nil
}

type biliDashStream struct {
	ID        int    `json:"id"`
	BaseURL   string `json:"baseUrl"`
	Bandwidth int64  `json:"bandwidth"` // bits per second
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type biliPlayResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		IsPreview  int   `json:"is_preview"`
		Timelength int64 `json:"timelength"` // milliseconds
		Dash       struct {
			Video []biliDashStream `json:"video"`
			Audio []biliDashStream `json:"audio"`
		} `json:"dash"`
	} `json:"data"`
}

func (b *Bilibili) Parse(ctx context.Context, rawURL string) (*media.ParseResult, error) {
	bvid, page, err := b.resolveBvid(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	view, err := b.fetchView(ctx, bvid, page)
	if err != nil {
		return nil, err
	}
	vid := biliVid(bvid, page)

	api := fmt.Sprintf("https://api.bilibili.com/x/player/playurl?bvid=%s&cid=%d&qn=0&fnval=16&fourk=1",
		url.QueryEscape(bvid), view.Cid)
	var play biliPlayResponse
	if err := b.deps.fetchJSON(ctx, api, b.apiHeaders(), &play); err != nil {
		return nil, err
	}
	if play.Code != 0 {
		return media.Failed(fmt.Sprintf("视频流获取失败: %s", play.Message)), nil
	}
	if len(play.Data.Dash.Video) == 0 {
		return media.Failed("视频流获取失败"), nil
	}

	durationSec := float64(play.Data.Timelength) / 1000
	if durationSec <= 0 {
		durationSec = float64(view.Duration)
	}

	videoStream, audioStream := pickBiliStreams(play.Data.Dash.Video, play.Data.Dash.Audio, durationSec)

	videoPath := b.deps.destPath(vid, "video.m4s")
	audioPath := b.deps.destPath(vid, "audio.m4s")
	mergedPath := b.deps.destPath(vid, "merged.mp4")
	defer os.Remove(videoPath)
	defer os.Remove(audioPath)

	limits := config.LimitsFor("bilibili")
	dlOpts := download.Options{
		Headers: b.apiHeaders(),
		Threads: limits.DownloadThreads,
	}
	if err := b.deps.fetchFile(ctx, videoStream.BaseURL, videoPath, dlOpts); err != nil {
		return nil, err
	}
	if audioStream != nil {
		if err := b.deps.fetchFile(ctx, audioStream.BaseURL, audioPath, dlOpts); err != nil {
			return nil, err
		}
		if err := mux.MergeAV(videoPath, audioPath, mergedPath); err != nil {
			return nil, err
		}
	} else {
		if err := os.Rename(videoPath, mergedPath); err != nil {
			return nil, err
		}
	}

	item := media.Item{
		LocalPath:   mergedPath,
		FileType:    media.FileVideo,
		Width:       videoStream.Width,
		Height:      videoStream.Height,
		DurationSec: durationSec,
	}
	if b.deps.Prober != nil {
		if probed, perr := b.deps.Prober.ProbeVideo(mergedPath); perr == nil {
			item = probed
		}
	}

	title := view.Title
	if play.Data.IsPreview == 1 {
		title = config.BiliPreviewTitle + "\n" + title
	}

	return &media.ParseResult{
		Success:          true,
		ContentType:      media.ContentVideo,
		Title:            title,
		Vid:              vid,
		OriginalURL:      rawURL,
		DownloadURL:      videoStream.BaseURL,
		Items:            []media.Item{item},
		SizeMB:           sizeMBOf(mergedPath),
		BiliPreviewVideo: play.Data.IsPreview == 1,
	}, nil
}

// pickBiliStreams chooses the largest rendition whose estimated merged size
// fits the inline limit, then the merge ceiling, then falls back to the
// smallest. Estimates are bandwidth x duration, so the tolerance applies.
func pickBiliStreams(videos, audios []biliDashStream, durationSec float64) (*biliDashStream, *biliDashStream) {
	var audio *biliDashStream
	for i := range audios {
		if audio == nil || audios[i].Bandwidth > audio.Bandwidth {
			audio = &audios[i]
		}
	}
	var audioBits int64
	if audio != nil {
		audioBits = audio.Bandwidth
	}

	estMB := func(v biliDashStream) float64 {
		return float64(v.Bandwidth+audioBits) * durationSec / 8 / (1 << 20)
	}
	pickWithin := func(limit float64) *biliDashStream {
		var best *biliDashStream
		for i := range videos {
			if estMB(videos[i]) > limit*(1+config.SizeEstimateTolerance) {
				continue
			}
			if best == nil || videos[i].Bandwidth > best.Bandwidth {
				best = &videos[i]
			}
		}
		return best
	}

	video := pickWithin(config.MaxInlineUploadMB)
	if video == nil {
		video = pickWithin(config.MaxMergedVideoMB)
	}
	if video == nil {
		smallest := &videos[0]
		for i := range videos {
			if videos[i].Bandwidth < smallest.Bandwidth {
				smallest = &videos[i]
			}
		}
		video = smallest
	}
	return video, audio
}
