package resolver

import (
	"context"
	"fmt"
	"net/url"

	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
)

// TikTok resolves vm/vt/www.tiktok.com links through the tikwm public API,
// which hands back watermark-free URLs per rendition. CDN links it returns
// are short-lived, so button URLs may 302 by the time the user taps them.
type TikTok struct {
	deps *Deps
}

func NewTikTok(deps *Deps) *TikTok {
	return &TikTok{deps: deps}
}

func (t *TikTok) Platform() string { return "tiktok" }

const tikwmAPI = "https://www.tikwm.com/api/"

// tikwmResponse is the API envelope. Sizes are bytes; duration seconds.
type tikwmResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ID       string   `json:"id"`
		Title    string   `json:"title"`
		Play     string   `json:"play"`
		HDPlay   string   `json:"hdplay"`
		WMPlay   string   `json:"wmplay"`
		Size     int64    `json:"size"`
		HDSize   int64    `json:"hd_size"`
		WMSize   int64    `json:"wm_size"`
		Duration int      `json:"duration"`
		Images   []string `json:"images"`
		Music    string   `json:"music"`
		MusicInfo struct {
			Title string `json:"title"`
			Play  string `json:"play"`
		} `json:"music_info"`
	} `json:"data"`
}

func (t *TikTok) query(ctx context.Context, shareURL string) (*tikwmResponse, error) {
	api := tikwmAPI + "?url=" + url.QueryEscape(shareURL) + "&hd=1"
	var resp tikwmResponse
	if err := t.deps.fetchJSON(ctx, api, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("tikwm rejected the link: %s", resp.Msg)
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("tikwm returned no post id")
	}
	return &resp, nil
}

func (t *TikTok) Peek(ctx context.Context, shareURL string) (string, string, error) {
	resp, err := t.query(ctx, shareURL)
	if err != nil {
		return "", "", err
	}
	return "tiktok_" + resp.Data.ID, resp.Data.Title, nil
}

func (t *TikTok) Parse(ctx context.Context, shareURL string) (*media.ParseResult, error) {
	resp, err := t.query(ctx, shareURL)
	if err != nil {
		return nil, err
	}
	vid := "tiktok_" + resp.Data.ID

	if len(resp.Data.Images) > 0 {
		return t.parseGallery(ctx, vid, shareURL, resp)
	}

	opts := tiktokQualities(resp)
	if len(opts) == 0 {
		return media.Failed("视频地址解析失败"), nil
	}
	markPreviewQuality(opts)
	media.SortQualityOptions(opts)

	result := &media.ParseResult{
		Success:               true,
		ContentType:           media.ContentVideo,
		Title:                 resp.Data.Title,
		Vid:                   vid,
		OriginalURL:           shareURL,
		Qualities:             opts,
		NeedsQualitySelection: true,
		AudioURI:              resp.Data.MusicInfo.Play,
		AudioTitle:            resp.Data.MusicInfo.Title,
	}
	if def, ok := result.DefaultQuality(); ok {
		result.PreviewURL = def.DownloadURL
		result.DownloadURL = def.DownloadURL
		result.SizeMB = def.SizeMB
	}
	return result, nil
}

func tiktokQualities(resp *tikwmResponse) []media.QualityOption {
	var opts []media.QualityOption
	add := func(label, playURL string, sizeBytes int64, resolution int) {
		if playURL == "" {
			return
		}
		opts = append(opts, media.QualityOption{
			ResolutionPx: resolution,
			QualityLabel: label,
			DownloadURL:  playURL,
			SizeMB:       float64(sizeBytes) / (1 << 20),
		})
	}
	add("HD", resp.Data.HDPlay, resp.Data.HDSize, 1080)
	add("SD", resp.Data.Play, resp.Data.Size, 720)
	add("水印版", resp.Data.WMPlay, resp.Data.WMSize, 720)
	return opts
}

func (t *TikTok) parseGallery(ctx context.Context, vid, shareURL string, resp *tikwmResponse) (*media.ParseResult, error) {
	items := make([]media.Item, 0, len(resp.Data.Images))
	var totalMB float64
	for i, imgURL := range resp.Data.Images {
		dest := t.deps.destPath(vid, fmt.Sprintf("%d.jpg", i))
		if err := t.deps.fetchFile(ctx, imgURL, dest, download.Options{Threads: 1}); err != nil {
			return nil, err
		}
		items = append(items, media.Item{LocalPath: dest, FileType: media.FilePhoto})
		totalMB += sizeMBOf(dest)
	}
	return &media.ParseResult{
		Success:     true,
		ContentType: media.ContentGallery,
		Title:       resp.Data.Title,
		Vid:         vid,
		OriginalURL: shareURL,
		Items:       items,
		SizeMB:      totalMB,
		AudioURI:    resp.Data.MusicInfo.Play,
		AudioTitle:  resp.Data.MusicInfo.Title,
	}, nil
}
