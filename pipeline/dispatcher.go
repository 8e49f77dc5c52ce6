package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/log"
	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/resolver"
	"github.com/clipfetch/clipfetch/store"
)

// AdminCommands is implemented by the admin package. Returning true means the
// message was a command and the pipeline should not see it.
type AdminCommands interface {
	HandleCommand(ctx context.Context, msg *messenger.Incoming) bool
	HandleCallback(ctx context.Context, cb *messenger.CallbackQuery) bool
}

// route binds an ordered set of URL substrings to one resolver. First match
// wins, so registration order is the precedence order.
type route struct {
	needles []string
	res     resolver.Resolver
}

// Dispatcher classifies updates, gates blacklisted users and fans admitted
// requests out to a bounded worker pool.
type Dispatcher struct {
	Driver    *Driver
	Messenger messenger.Messenger
	Blacklist *store.Blacklist
	Admin     AdminCommands
	AdminID   int64

	routes   []route
	fallback resolver.Resolver
	sem      chan struct{}
}

func NewDispatcher(driver *Driver, m messenger.Messenger, blacklist *store.Blacklist, adminID int64, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 5
	}
	return &Dispatcher{
		Driver:    driver,
		Messenger: m,
		Blacklist: blacklist,
		AdminID:   adminID,
		sem:       make(chan struct{}, workers),
	}
}

// Register appends a route. Call in precedence order.
func (d *Dispatcher) Register(res resolver.Resolver, needles ...string) {
	d.routes = append(d.routes, route{needles: needles, res: res})
}

// RegisterFallback sets the resolver for unmatched text.
func (d *Dispatcher) RegisterFallback(res resolver.Resolver) {
	d.fallback = res
}

// Classify picks the resolver for a message text, first match wins.
func (d *Dispatcher) Classify(text string) resolver.Resolver {
	for _, r := range d.routes {
		for _, needle := range r.needles {
			if strings.Contains(text, needle) {
				return r.res
			}
		}
	}
	return d.fallback
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// ExtractURL pulls the first URL out of a message. Share texts wrap the link
// in promotional noise, so the raw text is not usable directly.
func ExtractURL(text string) string {
	if m := urlPattern.FindString(text); m != "" {
		return m
	}
	return text
}

// QueueLen reports requests waiting on the worker pool, for /status.
func (d *Dispatcher) QueueLen() int {
	return len(d.sem)
}

// Run consumes the long poll until ctx is done. Poll errors back off and
// retry; the loop only exits on cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		updates, err := d.Messenger.GetUpdates(ctx, offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.LogNoRequestID("error polling updates", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, update := range updates {
			if update.ID >= offset {
				offset = update.ID + 1
			}
			d.HandleUpdate(ctx, update)
		}
	}
}

func (d *Dispatcher) HandleUpdate(ctx context.Context, update messenger.Update) {
	if update.Callback != nil {
		if d.Admin != nil && d.Admin.HandleCallback(ctx, update.Callback) {
			return
		}
		_ = d.Messenger.AnswerCallback(ctx, update.Callback.ID, "")
		return
	}
	if update.Message == nil {
		return
	}
	msg := update.Message

	if d.Blacklist != nil && d.Blacklist.Contains(msg.From.ID) {
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		d.handleCommand(ctx, msg)
		return
	}

	res := d.Classify(msg.Text)
	if res == nil {
		return
	}

	// Seen-acknowledgement before any heavy lifting.
	if err := d.Messenger.React(ctx, msg.ChatID, msg.MessageID, "👀"); err != nil {
		log.LogCtx(ctx, "error reacting to message", "error", err)
	}

	req := Request{
		ChatID:    msg.ChatID,
		MessageID: msg.MessageID,
		UID:       msg.From.ID,
		Uname:     msg.From.Username,
		FullName:  msg.From.FullName(),
		Text:      msg.Text,
		URL:       ExtractURL(msg.Text),
	}

	d.sem <- struct{}{}
	go func() {
		defer func() { <-d.sem }()
		taskCtx := log.WithLogValues(context.Background(), "request_id", requestID(req), "platform", res.Platform())
		outcome := d.Driver.Handle(taskCtx, req, res)
		d.afterTask(taskCtx, req, outcome)
	}()
}

func (d *Dispatcher) handleCommand(ctx context.Context, msg *messenger.Incoming) {
	if msg.Text == "/start" || strings.HasPrefix(msg.Text, "/start ") {
		if _, err := d.Messenger.SendText(ctx, msg.ChatID, config.WelcomeMsg, messenger.SendOpts{}); err != nil {
			log.LogCtx(ctx, "error sending welcome", "error", err)
		}
		return
	}
	if d.Admin != nil && msg.From.ID == d.AdminID && d.Admin.HandleCommand(ctx, msg) {
		return
	}
	if _, err := d.Messenger.SendText(ctx, msg.ChatID, config.UsageText, messenger.SendOpts{}); err != nil {
		log.LogCtx(ctx, "error sending usage", "error", err)
	}
}

// afterTask does the cosmetic cleanup and the admin brief once the pipeline
// finishes.
func (d *Dispatcher) afterTask(ctx context.Context, req Request, outcome Outcome) {
	if outcome.Success {
		if err := d.Messenger.DeleteMessage(ctx, req.ChatID, req.MessageID); err != nil {
			log.LogCtx(ctx, "error deleting original message", "error", err)
		}
	}
	if d.AdminID == 0 || req.UID == d.AdminID || !outcome.Admitted {
		return
	}
	glyph := "✅"
	if !outcome.Success {
		glyph = "❌"
	}
	snippet := req.Text
	if len([]rune(snippet)) > 60 {
		snippet = string([]rune(snippet)[:60]) + "…"
	}
	brief := fmt.Sprintf("%s %s %.1fs @%s\n%s", glyph, outcome.Platform, outcome.Elapsed.Seconds(), req.Uname, snippet)
	if _, err := d.Messenger.SendText(ctx, d.AdminID, brief, messenger.SendOpts{}); err != nil {
		log.LogCtx(ctx, "error sending admin brief", "error", err)
	}
}
