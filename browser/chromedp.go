package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the process-wide Chrome instance.
type ChromeOptions struct {
	ExecPath string
	Proxy    string
	Headless bool
}

// ChromeEngine drives a headless Chrome through the DevTools protocol. One
// browser process serves all leased contexts; each lease is its own tab.
type ChromeEngine struct {
	opts ChromeOptions

	browserCtx   context.Context
	allocCancel  context.CancelFunc
	browserClose context.CancelFunc
}

var _ Engine = (*ChromeEngine)(nil)

func NewChromeEngine(opts ChromeOptions) *ChromeEngine {
	return &ChromeEngine{opts: opts}
}

func (e *ChromeEngine) Start(ctx context.Context) error {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("lang", "zh-CN"),
		chromedp.Flag("headless", e.opts.Headless),
	)
	if e.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.opts.ExecPath))
	}
	if e.opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(e.opts.Proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserClose := chromedp.NewContext(allocCtx)

	// Launch eagerly so a missing Chrome binary fails the first lease, not a
	// navigation mid-request.
	if err := chromedp.Run(browserCtx); err != nil {
		browserClose()
		allocCancel()
		return fmt.Errorf("error launching chrome: %w", err)
	}

	e.browserCtx = browserCtx
	e.allocCancel = allocCancel
	e.browserClose = browserClose
	return nil
}

func (e *ChromeEngine) NewContext(opts ContextOptions) (Context, error) {
	tabCtx, tabClose := chromedp.NewContext(e.browserCtx)

	var setup []chromedp.Action
	if fp := opts.Fingerprint; fp != nil {
		setup = append(setup,
			emulation.SetUserAgentOverride(fp.UserAgent).WithAcceptLanguage(fp.Locale),
			emulation.SetTimezoneOverride(fp.Timezone),
		)
		if fp.Viewport.Width > 0 && fp.Viewport.Height > 0 {
			setup = append(setup, chromedp.EmulateViewport(
				int64(fp.Viewport.Width), int64(fp.Viewport.Height)))
		}
		if len(fp.ExtraHeaders) > 0 {
			headers := make(network.Headers, len(fp.ExtraHeaders))
			for k, v := range fp.ExtraHeaders {
				headers[k] = v
			}
			setup = append(setup, network.Enable(), network.SetExtraHTTPHeaders(headers))
		}
	}

	return &chromeContext{ctx: tabCtx, close: tabClose, setup: setup}, nil
}

func (e *ChromeEngine) Stop() error {
	if e.browserClose != nil {
		e.browserClose()
	}
	if e.allocCancel != nil {
		e.allocCancel()
	}
	return nil
}

// chromeContext is one leased tab.
type chromeContext struct {
	ctx   context.Context
	close context.CancelFunc
	setup []chromedp.Action

	once sync.Once
}

var _ Context = (*chromeContext)(nil)

func (c *chromeContext) Navigate(ctx context.Context, url string) (string, error) {
	tabCtx, cancel := mergeDeadline(c.ctx, ctx)
	defer cancel()

	actions := append([]chromedp.Action{}, c.setup...)
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", fmt.Errorf("error navigating to page: %w", err)
	}
	return html, nil
}

func (c *chromeContext) Cookies(origin string) (string, error) {
	var header string
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().WithUrls([]string{origin}).Do(ctx)
		if err != nil {
			return err
		}
		parts := make([]string, 0, len(cookies))
		for _, ck := range cookies {
			parts = append(parts, ck.Name+"="+ck.Value)
		}
		header = strings.Join(parts, "; ")
		return nil
	}))
	if err != nil {
		return "", fmt.Errorf("error reading cookies: %w", err)
	}
	return header, nil
}

func (c *chromeContext) Close() error {
	c.once.Do(c.close)
	return nil
}

// mergeDeadline bounds the tab context by the caller's deadline so a slow
// page cannot outlive the request.
func mergeDeadline(tab, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(tab, deadline)
	}
	return context.WithCancel(tab)
}
