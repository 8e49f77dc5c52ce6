package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

type Cli struct {
	TelegramToken     string
	AdminID           int64
	PromPort          int
	DataDir           string
	DownloadDir       string
	MinMsgInterval    time.Duration
	MaxWorkers        int
	ImagesCacheSwitch bool

	BlobBackend string // "catbox" or an s3:// bucket URL
	CatboxURL   string
	S3Bucket    string
	S3Region    string

	BiliSessData  string
	XhsWebSession string
	GeminiAPIKeys []string

	FFmpegPath  string
	FFprobePath string
}

// ParseLegacyEnv picks up the environment names the deployment has always
// used, before the CLIPFETCH_* prefixed ones existed.
func (cli *Cli) ParseLegacyEnv() {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cli.TelegramToken = v
	}
	if v := os.Getenv("SESSDATA"); v != "" {
		cli.BiliSessData = v
	}
	if v := os.Getenv("WEB_SESSION"); v != "" {
		cli.XhsWebSession = v
	}
	if v := os.Getenv("GEMINI_API_KEYS"); v != "" {
		cli.GeminiAPIKeys = parseKeyList(v)
	}
}

// parseKeyList accepts either a JSON array of strings or a comma list.
func parseKeyList(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var keys []string
		if err := json.Unmarshal([]byte(s), &keys); err == nil {
			return keys
		}
	}
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = []string{}
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}

func Int64Flag(fs *flag.FlagSet, dest *int64, name string, value int64, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*dest = v
		return nil
	})
}
