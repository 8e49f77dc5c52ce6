package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortQualityOptions(t *testing.T) {
	opts := []QualityOption{
		{QualityLabel: "1080p", ResolutionPx: 1080, SizeMB: 47, BitrateKbps: 4000},
		{QualityLabel: "720p", ResolutionPx: 720, SizeMB: 18, IsDefault: true},
		{QualityLabel: "2160p", ResolutionPx: 2160, SizeMB: 120, BitrateKbps: 12000},
		{QualityLabel: "1080p60", ResolutionPx: 1080, SizeMB: 60, BitrateKbps: 6000},
	}
	SortQualityOptions(opts)

	labels := make([]string, len(opts))
	for i, q := range opts {
		labels[i] = q.QualityLabel
	}
	require.Equal(t, []string{"720p", "2160p", "1080p60", "1080p"}, labels)
}

func TestButtonLabel(t *testing.T) {
	q := QualityOption{QualityLabel: "720p", SizeMB: 18}
	require.Equal(t, "720p (18.0MB)", q.ButtonLabel())
	q.IsDefault = true
	require.Equal(t, "720p (18.0MB)⭐当前预览", q.ButtonLabel())
}

func TestDefaultQuality(t *testing.T) {
	r := &ParseResult{Qualities: []QualityOption{
		{QualityLabel: "1080p"},
		{QualityLabel: "720p", IsDefault: true},
	}}
	q, ok := r.DefaultQuality()
	require.True(t, ok)
	require.Equal(t, "720p", q.QualityLabel)

	r.Qualities[1].IsDefault = false
	q, ok = r.DefaultQuality()
	require.True(t, ok)
	require.Equal(t, "1080p", q.QualityLabel)

	r.Qualities = nil
	_, ok = r.DefaultQuality()
	require.False(t, ok)
}

func TestCacheable(t *testing.T) {
	require.False(t, Failed("nope").Cacheable())
	require.False(t, (&ParseResult{Success: true}).Cacheable())
	require.True(t, (&ParseResult{Success: true, Vid: "douyin_1"}).Cacheable())
}
