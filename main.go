package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/clipfetch/clipfetch/admin"
	"github.com/clipfetch/clipfetch/blob"
	"github.com/clipfetch/clipfetch/browser"
	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/download"
	"github.com/clipfetch/clipfetch/media"
	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/metrics"
	"github.com/clipfetch/clipfetch/pipeline"
	"github.com/clipfetch/clipfetch/pprof"
	"github.com/clipfetch/clipfetch/resolver"
	"github.com/clipfetch/clipfetch/store"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("clipfetch", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	fs.StringVar(&cli.TelegramToken, "telegram-token", "", "Telegram bot API token")
	config.Int64Flag(fs, &cli.AdminID, "admin-id", 0, "Telegram uid of the operator; admin commands and briefs go here")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics port")
	fs.StringVar(&cli.DataDir, "data-dir", "./data", "Directory for the persistent JSON stores")
	fs.StringVar(&cli.DownloadDir, "download-dir", "./downloads", "Scratch directory for downloaded media")
	fs.DurationVar(&cli.MinMsgInterval, "min-msg-interval", 3*time.Second, "Per-user minimum interval between admitted requests")
	fs.IntVar(&cli.MaxWorkers, "max-workers", 5, "Maximum concurrent pipeline tasks")
	fs.BoolVar(&cli.ImagesCacheSwitch, "images-cache", false, "Replay cached gallery handles instead of re-parsing")

	fs.StringVar(&cli.BlobBackend, "blob-backend", "catbox", "External host for oversize artifacts: catbox or s3")
	fs.StringVar(&cli.CatboxURL, "catbox-url", blob.DefaultCatboxURL, "Catbox upload endpoint")
	fs.StringVar(&cli.S3Bucket, "s3-bucket", "", "S3 bucket for oversize artifacts when -blob-backend=s3")
	fs.StringVar(&cli.S3Region, "s3-region", "us-east-1", "S3 region for -s3-bucket")

	fs.StringVar(&cli.BiliSessData, "bili-sessdata", "", "bilibili SESSDATA cookie for member-quality streams")
	fs.StringVar(&cli.XhsWebSession, "xhs-web-session", "", "xiaohongshu web_session cookie")
	config.CommaSliceFlag(fs, &cli.GeminiAPIKeys, "gemini-api-keys", nil, "API keys for the summary sidecar, comma separated")
	fs.StringVar(&cli.FFmpegPath, "ffmpeg-path", "", "Path to the ffmpeg binary (default: from PATH)")
	fs.StringVar(&cli.FFprobePath, "ffprobe-path", "", "Path to the ffprobe binary (default: from PATH)")

	chromePath := fs.String("chrome-path", "", "Path to the Chrome binary for browser-assisted parsing (default: from PATH)")
	chromeProxy := fs.String("chrome-proxy", "", "Proxy server for the headless browser")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("CLIPFETCH"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	cli.ParseLegacyEnv()
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("clipfetch version: %s\n", config.Version)
		return
	}
	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}
	if cli.TelegramToken == "" {
		glog.Fatal("-telegram-token (or TELEGRAM_TOKEN) is required")
	}

	for _, dir := range []string{cli.DataDir, cli.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			glog.Fatalf("error creating %s: %v", dir, err)
		}
	}
	if cli.FFprobePath != "" {
		ffprobe.SetFFProbeBinPath(cli.FFprobePath)
	}
	if cli.FFmpegPath != "" {
		// ffmpeg-go resolves the binary through PATH.
		os.Setenv("PATH", filepath.Dir(cli.FFmpegPath)+string(os.PathListSeparator)+os.Getenv("PATH"))
	}

	go func() {
		stdlog.Println(pprof.ListenAndServe(*pprofPort))
	}()

	handles := store.NewHandleCache(filepath.Join(cli.DataDir, "handle_cache.json"))
	usage := store.NewUsageRecorder(filepath.Join(cli.DataDir, "usage.json"))
	blacklist := store.NewBlacklist(filepath.Join(cli.DataDir, "blacklist.json"))

	var uploader blob.Uploader
	switch cli.BlobBackend {
	case "catbox":
		uploader = blob.NewCatbox(cli.CatboxURL)
	case "s3":
		uploader, err = blob.NewS3(cli.S3Bucket, cli.S3Region)
		if err != nil {
			glog.Fatalf("error creating s3 uploader: %v", err)
		}
	default:
		glog.Fatalf("unknown blob backend %q", cli.BlobBackend)
	}

	pool := browser.NewPool(browser.NewChromeEngine(browser.ChromeOptions{
		ExecPath: *chromePath,
		Proxy:    *chromeProxy,
		Headless: true,
	}))
	defer pool.Close()

	deps := resolver.NewDeps(download.New(), pool, media.Probe{}, cli.DownloadDir)
	deps.BiliSessData = cli.BiliSessData
	deps.XhsWebSession = cli.XhsWebSession

	tg := messenger.NewTelegram(cli.TelegramToken)

	driver := &pipeline.Driver{
		Messenger:          tg,
		Handles:            handles,
		Usage:              usage,
		Blob:               uploader,
		Limiter:            pipeline.NewRateLimiter(cli.MinMsgInterval),
		Tasks:              pipeline.NewTaskManager(),
		GalleryCacheReplay: cli.ImagesCacheSwitch,
	}

	dispatcher := pipeline.NewDispatcher(driver, tg, blacklist, cli.AdminID, cli.MaxWorkers)
	dispatcher.Register(resolver.NewBilibili(deps), "bilibili.com", "b23.tv/")
	dispatcher.Register(resolver.NewDouyin(deps), "v.douyin.com")
	dispatcher.Register(resolver.NewMusic(deps), "music.163.com", "163cn.tv")
	dispatcher.Register(resolver.NewXHS(deps), "xiaohongshu.com", "xhslink.com/")
	dispatcher.Register(resolver.NewTikTok(deps), "vm.tiktok.com", "vt.tiktok.com", "www.tiktok.com")
	dispatcher.RegisterFallback(resolver.NewUnknown())

	adminCtrl := &admin.Controller{
		Messenger: tg,
		Driver:    driver,
		Handles:   handles,
		Usage:     usage,
		Blacklist: blacklist,
		Queue:     dispatcher,
		AdminID:   cli.AdminID,
	}
	dispatcher.Admin = adminCtrl

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})
	group.Go(func() error {
		return metrics.ListenAndServe(cli.PromPort)
	})
	group.Go(func() error {
		return dispatcher.Run(ctx)
	})

	download.StartJanitor(cli.DownloadDir, 24*time.Hour, time.Hour, ctx.Done())
	adminCtrl.AnnounceStartup(ctx)

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
