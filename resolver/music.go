package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
)

// Music resolves netease cloud-music links. Single quality, delivered as an
// audio document.
type Music struct {
	deps *Deps
}

func NewMusic(deps *Deps) *Music {
	return &Music{deps: deps}
}

func (m *Music) Platform() string { return "music" }

var songIDPattern = regexp.MustCompile(`(?:song\?id=|song/)(\d+)`)

func (m *Music) resolveID(ctx context.Context, rawURL string) (string, error) {
	final := rawURL
	if strings.Contains(rawURL, "163cn.tv") {
		var err error
		final, err = m.deps.Downloader.FinalURL(ctx, rawURL, download.FinalURLOptions{
			MaxRedirects: 5,
			ReturnFlag:   "music.163.com",
		})
		if err != nil {
			return "", err
		}
	}
	match := songIDPattern.FindStringSubmatch(final)
	if match == nil {
		return "", fmt.Errorf("no song id in resolved url %s", final)
	}
	return match[1], nil
}

type neteaseDetailResponse struct {
	Code  int `json:"code"`
	Songs []struct {
		Name    string `json:"name"`
		Artists []struct {
			Name string `json:"name"`
		} `json:"artists"`
	} `json:"songs"`
}

type neteasePlayResponse struct {
	Code int `json:"code"`
	Data []struct {
		URL  string `json:"url"`
		Size int64  `json:"size"`
	} `json:"data"`
}

func (m *Music) songTitle(ctx context.Context, id string) (string, error) {
	api := fmt.Sprintf("https://music.163.com/api/song/detail/?id=%s&ids=[%s]", id, id)
	var resp neteaseDetailResponse
	if err := m.deps.fetchJSON(ctx, api, neteaseHeaders(), &resp); err != nil {
		return "", err
	}
	if resp.Code != 200 || len(resp.Songs) == 0 {
		return "", fmt.Errorf("netease detail api returned %d", resp.Code)
	}
	song := resp.Songs[0]
	names := make([]string, 0, len(song.Artists))
	for _, a := range song.Artists {
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return song.Name, nil
	}
	return fmt.Sprintf("%s - %s", song.Name, strings.Join(names, "/")), nil
}

func neteaseHeaders() map[string]string {
	return map[string]string{"Referer": "https://music.163.com"}
}

func (m *Music) Peek(ctx context.Context, rawURL string) (string, string, error) {
	id, err := m.resolveID(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	title, err := m.songTitle(ctx, id)
	if err != nil {
		return "", "", err
	}
	return "music_" + id, title, nil
}

func (m *Music) Parse(ctx context.Context, rawURL string) (*media.ParseResult, error) {
	id, err := m.resolveID(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	title, err := m.songTitle(ctx, id)
	if err != nil {
		return nil, err
	}
	vid := "music_" + id

	api := fmt.Sprintf("https://music.163.com/api/song/enhance/player/url?id=%s&ids=[%s]&br=320000", id, id)
	var play neteasePlayResponse
	if err := m.deps.fetchJSON(ctx, api, neteaseHeaders(), &play); err != nil {
		return nil, err
	}
	if play.Code != 200 || len(play.Data) == 0 || play.Data[0].URL == "" {
		return media.Failed("歌曲无法播放（可能为付费或下架内容）"), nil
	}

	dest := m.deps.destPath(vid, "audio.mp3")
	err = m.deps.fetchFile(ctx, play.Data[0].URL, dest, download.Options{
		Headers: neteaseHeaders(),
		Threads: 1,
	})
	if err != nil {
		return nil, err
	}

	return &media.ParseResult{
		Success:     true,
		ContentType: media.ContentAudio,
		Title:       title,
		Vid:         vid,
		OriginalURL: rawURL,
		DownloadURL: play.Data[0].URL,
		Items:       []media.Item{{LocalPath: dest, FileType: media.FileAudio}},
		SizeMB:      sizeMBOf(dest),
	}, nil
}
