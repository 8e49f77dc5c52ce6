package resolver

import (
	"testing"

	"github.com/clipfetch/clipfetch/media"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlob(t *testing.T) {
	page := []byte(`<script>window._ROUTER_DATA = {"a": {"b": "val}with{braces"}, "n": 1};</script>`)
	blob, err := extractJSONBlob(page, "window._ROUTER_DATA")
	require.NoError(t, err)
	require.JSONEq(t, `{"a": {"b": "val}with{braces"}, "n": 1}`, string(blob))
}

func TestExtractJSONBlobEscapedQuote(t *testing.T) {
	page := []byte(`window.__INITIAL_STATE__={"t":"quote \" and } inside"};`)
	blob, err := extractJSONBlob(page, "window.__INITIAL_STATE__")
	require.NoError(t, err)
	require.JSONEq(t, `{"t":"quote \" and } inside"}`, string(blob))
}

func TestExtractJSONBlobMissingMarker(t *testing.T) {
	_, err := extractJSONBlob([]byte("<html></html>"), "window._ROUTER_DATA")
	require.Error(t, err)
}

func TestMarkPreviewQualityPrefersUnderPreviewCeiling(t *testing.T) {
	opts := []media.QualityOption{
		{QualityLabel: "2160p", SizeMB: 120},
		{QualityLabel: "1080p", SizeMB: 47},
		{QualityLabel: "720p", SizeMB: 18},
		{QualityLabel: "540p", SizeMB: 9},
	}
	markPreviewQuality(opts)
	require.False(t, opts[0].IsDefault)
	require.False(t, opts[1].IsDefault)
	require.True(t, opts[2].IsDefault, "largest option under 20MB wins")
	require.False(t, opts[3].IsDefault)
}

func TestMarkPreviewQualityFallsBackToInlineLimit(t *testing.T) {
	opts := []media.QualityOption{
		{QualityLabel: "2160p", SizeMB: 120},
		{QualityLabel: "1080p", SizeMB: 47},
	}
	markPreviewQuality(opts)
	require.True(t, opts[1].IsDefault)
}

func TestMarkPreviewQualityAllOversize(t *testing.T) {
	opts := []media.QualityOption{
		{QualityLabel: "2160p", SizeMB: 120},
		{QualityLabel: "1080p", SizeMB: 80},
	}
	markPreviewQuality(opts)
	for _, q := range opts {
		require.False(t, q.IsDefault, "oversize options are buttons only")
	}
}

func TestGearLabel(t *testing.T) {
	require.Equal(t, "1080p", gearLabel("adapt_lowest_1080_1", 0, 0))
	require.Equal(t, "720p", gearLabel("normal_720_0", 1280, 720))
	require.Equal(t, "720p", gearLabel("adapt", 1280, 720))
	require.Equal(t, "默认", gearLabel("adapt", 0, 0))
}

func TestDouyinIDPattern(t *testing.T) {
	for _, u := range []string{
		"https://www.iesdouyin.com/share/video/7345678901234567890/?region=CN",
		"https://www.iesdouyin.com/share/note/7345678901234567890",
		"https://www.iesdouyin.com/share/slides/7345678901234567890/",
	} {
		m := douyinIDPattern.FindStringSubmatch(u)
		require.NotNil(t, m, u)
		require.Equal(t, "7345678901234567890", m[1])
	}
	require.Nil(t, douyinIDPattern.FindStringSubmatch("https://www.douyin.com/user/abc"))
}

func TestBvidPatternAndVid(t *testing.T) {
	m := bvidPattern.FindStringSubmatch("https://www.bilibili.com/video/BV1xx411c7mD?p=3")
	require.NotNil(t, m)
	require.Equal(t, "BV1xx411c7mD", m[1])

	require.Equal(t, "bili_BV1xx411c7mD", biliVid("BV1xx411c7mD", 1))
	require.Equal(t, "bili_BV1xx411c7mD_p3", biliVid("BV1xx411c7mD", 3))
}

func TestPickBiliStreams(t *testing.T) {
	// 600s video: 4 Mbps -> ~286MB, 1.5 Mbps -> ~107MB, 500 kbps -> ~36MB
	videos := []biliDashStream{
		{ID: 116, Bandwidth: 4_000_000, Width: 2560, Height: 1440},
		{ID: 80, Bandwidth: 1_500_000, Width: 1920, Height: 1080},
		{ID: 32, Bandwidth: 400_000, Width: 852, Height: 480},
	}
	audios := []biliDashStream{
		{ID: 30280, Bandwidth: 128_000},
		{ID: 30216, Bandwidth: 64_000},
	}

	video, audio := pickBiliStreams(videos, audios, 600)
	require.EqualValues(t, 128_000, audio.Bandwidth)
	require.Equal(t, 32, video.ID, "only the 480p rendition fits under 50MB")

	// A short clip lets the top rendition through.
	video, _ = pickBiliStreams(videos, audios, 60)
	require.Equal(t, 116, video.ID)

	// Nothing fits: fall back to the smallest rendition.
	video, _ = pickBiliStreams(videos[:1], audios, 36000)
	require.Equal(t, 116, video.ID)
}

func TestSongIDPattern(t *testing.T) {
	for _, u := range []string{
		"https://music.163.com/song?id=1901371647&userid=1",
		"https://music.163.com/#/song?id=1901371647",
		"https://music.163.com/song/1901371647",
	} {
		m := songIDPattern.FindStringSubmatch(u)
		require.NotNil(t, m, u)
		require.Equal(t, "1901371647", m[1])
	}
}

func TestXhsNotePattern(t *testing.T) {
	m := xhsNotePattern.FindStringSubmatch("https://www.xiaohongshu.com/explore/65f1a2b3c4d5e6f7a8b9c0d1?xsec_token=x")
	require.NotNil(t, m)
	require.Equal(t, "65f1a2b3c4d5e6f7a8b9c0d1", m[1])

	m = xhsNotePattern.FindStringSubmatch("https://www.xiaohongshu.com/discovery/item/65f1a2b3c4d5e6f7a8b9c0d1")
	require.NotNil(t, m)
}

func TestUnknownResolver(t *testing.T) {
	u := NewUnknown()
	vid, title, err := u.Peek(nil, "https://example.com")
	require.NoError(t, err)
	require.Empty(t, vid)
	require.Empty(t, title)

	res, err := u.Parse(nil, "https://example.com")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, media.ContentLink, res.ContentType)
	require.NotEmpty(t, res.TextMessage)
	require.False(t, res.Cacheable())
}
