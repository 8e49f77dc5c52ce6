package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
)

// Douyin resolves v.douyin.com share links. Both plain videos and mixed
// photo/video galleries come through here.
type Douyin struct {
	deps *Deps

	mutex  sync.Mutex
	lastID string
	last   *douyinItem
}

func NewDouyin(deps *Deps) *Douyin {
	return &Douyin{deps: deps}
}

func (d *Douyin) Platform() string { return "douyin" }

var douyinIDPattern = regexp.MustCompile(`/(?:video|note|slides)/(\d+)`)

func (d *Douyin) resolveID(ctx context.Context, url string) (string, error) {
	final, err := d.deps.Downloader.FinalURL(ctx, url, download.FinalURLOptions{
		MaxRedirects: 5,
		ReturnFlag:   "iesdouyin.com",
	})
	if err != nil {
		return "", err
	}
	m := douyinIDPattern.FindStringSubmatch(final)
	if m == nil {
		return "", fmt.Errorf("no post id in resolved url %s", final)
	}
	return m[1], nil
}

// douyinItem is the share-page post object, reduced to the fields we read.
type douyinItem struct {
	AwemeID string `json:"aweme_id"`
	Desc    string `json:"desc"`
	Video   struct {
		PlayAddr struct {
			URLList []string `json:"url_list"`
			Width   int      `json:"width"`
			Height  int      `json:"height"`
		} `json:"play_addr"`
		Duration int64 `json:"duration"` // milliseconds
		BitRate  []struct {
			GearName string `json:"gear_name"`
			BitRate  int    `json:"bit_rate"`
			PlayAddr struct {
				URLList  []string `json:"url_list"`
				Width    int      `json:"width"`
				Height   int      `json:"height"`
				DataSize int64    `json:"data_size"`
			} `json:"play_addr"`
		} `json:"bit_rate"`
	} `json:"video"`
	Images []struct {
		URLList []string `json:"url_list"`
		Video   *struct {
			PlayAddr struct {
				URLList []string `json:"url_list"`
			} `json:"play_addr"`
		} `json:"video"`
	} `json:"images"`
	Music struct {
		Title   string `json:"title"`
		PlayURL struct {
			URLList []string `json:"url_list"`
		} `json:"play_url"`
	} `json:"music"`
}

func (d *Douyin) fetchItem(ctx context.Context, id string) (*douyinItem, error) {
	d.mutex.Lock()
	if d.lastID == id && d.last != nil {
		item := d.last
		d.mutex.Unlock()
		return item, nil
	}
	d.mutex.Unlock()

	page, err := d.deps.fetch(ctx, fmt.Sprintf("https://www.iesdouyin.com/share/video/%s/", id), nil)
	if err != nil {
		return nil, err
	}
	blob, err := extractJSONBlob(page, "window._ROUTER_DATA")
	if err != nil {
		return nil, err
	}

	// The page key embeds the post id ("video_(id)/page"), so walk the loader
	// data instead of naming it.
	var router struct {
		LoaderData map[string]json.RawMessage `json:"loaderData"`
	}
	if err := json.Unmarshal(blob, &router); err != nil {
		return nil, fmt.Errorf("error decoding share page data: %w", err)
	}
	for key, raw := range router.LoaderData {
		if !strings.HasSuffix(key, "/page") {
			continue
		}
		var pageData struct {
			VideoInfoRes struct {
				ItemList []douyinItem `json:"item_list"`
			} `json:"videoInfoRes"`
		}
		if err := json.Unmarshal(raw, &pageData); err != nil {
			continue
		}
		if len(pageData.VideoInfoRes.ItemList) > 0 {
			item := pageData.VideoInfoRes.ItemList[0]
			d.mutex.Lock()
			d.lastID, d.last = id, &item
			d.mutex.Unlock()
			return &item, nil
		}
	}
	return nil, fmt.Errorf("share page for %s holds no post data", id)
}

func (d *Douyin) Peek(ctx context.Context, url string) (string, string, error) {
	id, err := d.resolveID(ctx, url)
	if err != nil {
		return "", "", err
	}
	item, err := d.fetchItem(ctx, id)
	if err != nil {
		return "", "", err
	}
	return "douyin_" + id, item.Desc, nil
}

func (d *Douyin) Parse(ctx context.Context, url string) (*media.ParseResult, error) {
	id, err := d.resolveID(ctx, url)
	if err != nil {
		return nil, err
	}
	item, err := d.fetchItem(ctx, id)
	if err != nil {
		return nil, err
	}
	vid := "douyin_" + id

	if len(item.Images) > 0 {
		return d.parseGallery(ctx, vid, url, item)
	}
	return d.parseVideo(vid, url, item)
}

// parseVideo builds the quality ladder from the bit_rate list. Nothing is
// downloaded here: the preview rides its direct URL and the rest become
// buttons.
func (d *Douyin) parseVideo(vid, originalURL string, item *douyinItem) (*media.ParseResult, error) {
	opts := make([]media.QualityOption, 0, len(item.Video.BitRate))
	for _, br := range item.Video.BitRate {
		if len(br.PlayAddr.URLList) == 0 {
			continue
		}
		opts = append(opts, media.QualityOption{
			ResolutionPx: resolutionOf(br.PlayAddr.Height, br.PlayAddr.Width),
			QualityLabel: gearLabel(br.GearName, br.PlayAddr.Height, br.PlayAddr.Width),
			DownloadURL:  br.PlayAddr.URLList[0],
			SizeMB:       float64(br.PlayAddr.DataSize) / (1 << 20),
			BitrateKbps:  br.BitRate / 1000,
		})
	}
	if len(opts) == 0 {
		if len(item.Video.PlayAddr.URLList) == 0 {
			return media.Failed("视频地址解析失败"), nil
		}
		opts = append(opts, media.QualityOption{
			ResolutionPx: resolutionOf(item.Video.PlayAddr.Height, item.Video.PlayAddr.Width),
			QualityLabel: "默认",
			DownloadURL:  item.Video.PlayAddr.URLList[0],
		})
	}

	markPreviewQuality(opts)
	media.SortQualityOptions(opts)

	result := &media.ParseResult{
		Success:               true,
		ContentType:           media.ContentVideo,
		Title:                 item.Desc,
		Vid:                   vid,
		OriginalURL:           originalURL,
		Qualities:             opts,
		NeedsQualitySelection: true,
	}
	if def, ok := result.DefaultQuality(); ok {
		result.PreviewURL = def.DownloadURL
		result.DownloadURL = def.DownloadURL
		result.SizeMB = def.SizeMB
	}
	if len(item.Music.PlayURL.URLList) > 0 {
		result.AudioURI = item.Music.PlayURL.URLList[0]
		result.AudioTitle = item.Music.Title
	}
	return result, nil
}

func (d *Douyin) parseGallery(ctx context.Context, vid, originalURL string, item *douyinItem) (*media.ParseResult, error) {
	items := make([]media.Item, 0, len(item.Images))
	var totalMB float64
	for i, img := range item.Images {
		if img.Video != nil && len(img.Video.PlayAddr.URLList) > 0 {
			dest := d.deps.destPath(vid, fmt.Sprintf("%d.mp4", i))
			err := d.deps.fetchFile(ctx, img.Video.PlayAddr.URLList[0], dest, download.Options{Threads: 1})
			if err != nil {
				return nil, err
			}
			items = append(items, media.Item{LocalPath: dest, FileType: media.FileVideo})
			totalMB += sizeMBOf(dest)
			continue
		}
		if len(img.URLList) == 0 {
			continue
		}
		dest := d.deps.destPath(vid, fmt.Sprintf("%d.jpg", i))
		err := d.deps.fetchFile(ctx, img.URLList[0], dest, download.Options{Threads: 1})
		if err != nil {
			return nil, err
		}
		items = append(items, media.Item{LocalPath: dest, FileType: media.FilePhoto})
		totalMB += sizeMBOf(dest)
	}
	if len(items) == 0 {
		return media.Failed("图集为空"), nil
	}

	result := &media.ParseResult{
		Success:     true,
		ContentType: media.ContentGallery,
		Title:       item.Desc,
		Vid:         vid,
		OriginalURL: originalURL,
		Items:       items,
		SizeMB:      totalMB,
	}
	if len(item.Music.PlayURL.URLList) > 0 {
		result.AudioURI = item.Music.PlayURL.URLList[0]
		result.AudioTitle = item.Music.Title
	}
	return result, nil
}

// markPreviewQuality flags the rendition that will be sent inline: the
// largest one at or under the preview ceiling, else the largest at or under
// the inline upload limit, else none (buttons only).
func markPreviewQuality(opts []media.QualityOption) {
	pick := -1
	var pickSize float64
	within := func(limit float64) {
		for i, q := range opts {
			if q.SizeMB > 0 && q.SizeMB <= limit*(1+config.SizeEstimateTolerance) {
				if pick < 0 || q.SizeMB > pickSize {
					pick, pickSize = i, q.SizeMB
				}
			}
		}
	}
	within(config.PreviewPreferredMB)
	if pick < 0 {
		within(config.MaxInlineUploadMB)
	}
	if pick >= 0 {
		opts[pick].IsDefault = true
	}
}

func resolutionOf(height, width int) int {
	if height >= width {
		return width
	}
	return height
}

var gearDigits = regexp.MustCompile(`\d{3,4}`)

// gearLabel turns gear names like "adapt_lowest_1080_1" into "1080p".
func gearLabel(gearName string, height, width int) string {
	if m := gearDigits.FindString(gearName); m != "" {
		return m + "p"
	}
	if r := resolutionOf(height, width); r > 0 {
		return fmt.Sprintf("%dp", r)
	}
	return "默认"
}
