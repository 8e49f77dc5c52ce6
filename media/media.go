// Package media defines the uniform result every platform resolver produces
// and the helpers the pipeline uses to reason about it.
package media

import (
	"fmt"
	"sort"
)

// ContentType drives the delivery mode for one parsed post.
type ContentType string

const (
	ContentVideo   ContentType = "video"
	ContentAudio   ContentType = "audio"
	ContentGallery ContentType = "image_gallery"
	ContentLink    ContentType = "link"
	ContentUnknown ContentType = "unknown"
)

// FileType is the media kind of one item inside a post.
type FileType string

const (
	FileVideo FileType = "video"
	FilePhoto FileType = "photo"
	FileAudio FileType = "audio"
)

// Item is one downloaded artifact ready for delivery. LocalPath must exist at
// delivery time.
type Item struct {
	LocalPath   string
	FileType    FileType
	Width       int
	Height      int
	DurationSec float64
}

// QualityOption is one selectable rendition of a video post, surfaced to the
// user as a URL button.
type QualityOption struct {
	ResolutionPx int
	QualityLabel string
	DownloadURL  string
	SizeMB       float64
	BitrateKbps  int
	IsDefault    bool
}

// ButtonLabel renders the option the way it appears on the keyboard, with a
// star marking the rendition sent as the inline preview.
func (q QualityOption) ButtonLabel() string {
	label := fmt.Sprintf("%s (%.1fMB)", q.QualityLabel, q.SizeMB)
	if q.IsDefault {
		label += "⭐当前预览"
	}
	return label
}

// SortQualityOptions orders opts for display: the default preview first, then
// resolution descending, ties broken by bitrate descending. Stable so equal
// renditions keep resolver order.
func SortQualityOptions(opts []QualityOption) {
	sort.SliceStable(opts, func(i, j int) bool {
		a, b := opts[i], opts[j]
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		if a.ResolutionPx != b.ResolutionPx {
			return a.ResolutionPx > b.ResolutionPx
		}
		return a.BitrateKbps > b.BitrateKbps
	})
}

// ParseResult is what every resolver returns. When Success is false only
// ErrorMessage is meaningful.
type ParseResult struct {
	Success               bool
	ContentType           ContentType
	Items                 []Item
	Title                 string
	Vid                   string
	OriginalURL           string
	DownloadURL           string
	SizeMB                float64
	TextMessage           string
	AudioURI              string
	AudioTitle            string
	Qualities             []QualityOption
	NeedsQualitySelection bool
	PreviewURL            string
	BiliPreviewVideo      bool
	ErrorMessage          string
}

// Failed builds the uniform failure result.
func Failed(msg string) *ParseResult {
	return &ParseResult{Success: false, ErrorMessage: msg}
}

// DefaultQuality returns the option flagged as the inline preview, falling
// back to the first after sorting.
func (r *ParseResult) DefaultQuality() (QualityOption, bool) {
	for _, q := range r.Qualities {
		if q.IsDefault {
			return q, true
		}
	}
	if len(r.Qualities) > 0 {
		return r.Qualities[0], true
	}
	return QualityOption{}, false
}

// Cacheable reports whether the result may be written to the handle cache.
// An empty vid means the post has no stable identity.
func (r *ParseResult) Cacheable() bool {
	return r.Success && r.Vid != ""
}
