package config

var Version = "unknown"

// Clock is swapped for a FixedTimestampGenerator in tests that assert on
// usage-record timestamps.
var Clock TimestampGenerator = RealTimestampGenerator{}

// Telegram rejects inline uploads above this size; anything bigger goes out as
// an external-host link.
const MaxInlineUploadMB = 50.0

// Preferred ceiling for the inline preview of a multi-quality video.
const PreviewPreferredMB = 20.0

// Bilibili merges at most this much before giving up and linking out.
const MaxMergedVideoMB = 150.0

// Resolver size numbers are estimates (bitrate x duration on some platforms,
// Content-Length on others); gate with this much slack.
const SizeEstimateTolerance = 0.10

// Telegram media groups hold at most this many items.
const MediaGroupLimit = 10

// User-visible replies. The bot serves a Chinese-speaking audience; replies
// stay in the original language.
const (
	ExceptionMsg       = "出了点错误! 请稍候重试"
	BusyMsg            = "您已有任务正在进行，请稍候完成后再发起新任务"
	ProcessingMsg      = "正在处理中..."
	VideoUploadingMsg  = "视频下载完成，正在上传..."
	AudioUploadingMsg  = "音频下载完成，正在上传..."
	OversizeUploadMsg  = "视频较大，改用上传至三方平台预览…"
	OversizeButtonsMsg = "视频超过 50 MB，请通过下方按钮选择分辨率下载"
	BiliPreviewTitle   = "⚠️该视频为预览片段（付费/会员内容）"
	WelcomeMsg         = "欢迎！直接发送视频链接开始下载。"
	UsageText          = "直接发送链接即可：\n" +
		"抖音 v.douyin.com\n" +
		"B站 bilibili.com / b23.tv\n" +
		"TikTok vm.tiktok.com / www.tiktok.com\n" +
		"网易云 music.163.com / 163cn.tv\n" +
		"小红书 xiaohongshu.com / xhslink.com"
)

// PlatformLimits is the timeout+retry budget the driver applies around a
// resolver call.
type PlatformLimits struct {
	PeekTimeoutSec  int
	PeekRetries     int
	ParseTimeoutSec int
	ParseRetries    int
	DownloadThreads int
	SessionPoolSize int
}

var DefaultLimits = PlatformLimits{
	PeekTimeoutSec:  15,
	PeekRetries:     2,
	ParseTimeoutSec: 30,
	ParseRetries:    3,
	DownloadThreads: 8,
}

var PlatformLimitsByName = map[string]PlatformLimits{
	"douyin":   {PeekTimeoutSec: 15, PeekRetries: 2, ParseTimeoutSec: 30, ParseRetries: 3, DownloadThreads: 4, SessionPoolSize: 4},
	"tiktok":   {PeekTimeoutSec: 15, PeekRetries: 2, ParseTimeoutSec: 30, ParseRetries: 3, DownloadThreads: 4, SessionPoolSize: 4},
	"bilibili": {PeekTimeoutSec: 20, PeekRetries: 2, ParseTimeoutSec: 40, ParseRetries: 2, DownloadThreads: 8},
	"music":    {PeekTimeoutSec: 10, PeekRetries: 2, ParseTimeoutSec: 20, ParseRetries: 3, DownloadThreads: 4},
	"xhs":      {PeekTimeoutSec: 20, PeekRetries: 2, ParseTimeoutSec: 40, ParseRetries: 2, DownloadThreads: 4},
}

func LimitsFor(platform string) PlatformLimits {
	if l, ok := PlatformLimitsByName[platform]; ok {
		return l
	}
	return DefaultLimits
}
