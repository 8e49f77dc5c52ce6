package resolver

import (
	"context"

	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/media"
)

// Unknown is the fallback plugin: anything no pattern matched lands here and
// gets the usage help back through the normal link delivery path.
type Unknown struct{}

func NewUnknown() *Unknown { return &Unknown{} }

func (u *Unknown) Platform() string { return "unknown" }

func (u *Unknown) Peek(ctx context.Context, url string) (string, string, error) {
	// No stable identity, so nothing is ever cached for this plugin.
	return "", "", nil
}

func (u *Unknown) Parse(ctx context.Context, url string) (*media.ParseResult, error) {
	return &media.ParseResult{
		Success:     true,
		ContentType: media.ContentLink,
		OriginalURL: url,
		TextMessage: config.UsageText,
	}, nil
}
