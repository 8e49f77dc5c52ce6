// Package admin implements the operator-only commands: cache inspection,
// blacklist management, broadcast and a process status line. The dispatcher
// forwards slash commands from the admin chat here.
package admin

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/clipfetch/clipfetch/log"
	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/pipeline"
	"github.com/clipfetch/clipfetch/store"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

const defaultShowcacheRows = 10

// QueueReporter is what /status needs from the dispatcher.
type QueueReporter interface {
	QueueLen() int
}

// Controller wires the admin commands to the stores and the pipeline. It
// implements pipeline.AdminCommands.
type Controller struct {
	Messenger messenger.Messenger
	Driver    *pipeline.Driver
	Handles   *store.HandleCache
	Usage     *store.UsageRecorder
	Blacklist *store.Blacklist
	Queue     QueueReporter
	AdminID   int64

	mu      sync.Mutex
	pending *pendingNotify
}

var _ pipeline.AdminCommands = (*Controller)(nil)

// pendingNotify is an unconfirmed broadcast waiting on the Yes/No keyboard.
type pendingNotify struct {
	targets []int64
	text    string
}

// HandleCommand dispatches one admin slash command. Returns false for
// commands this package does not own so the caller can fall through to the
// usage reply.
func (c *Controller) HandleCommand(ctx context.Context, msg *messenger.Incoming) bool {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/getcache":
		c.getCache(ctx, msg.ChatID, args)
	case "/delcache":
		c.delCache(ctx, msg.ChatID, args)
	case "/showcache":
		c.showCache(ctx, msg.ChatID, args)
	case "/blacklist_add":
		c.blacklistAdd(ctx, msg.ChatID, args)
	case "/blacklist_remove":
		c.blacklistRemove(ctx, msg.ChatID, args)
	case "/blacklist_show":
		c.blacklistShow(ctx, msg.ChatID)
	case "/notify":
		c.notify(ctx, msg.ChatID, args)
	case "/status":
		c.status(ctx, msg.ChatID)
	default:
		return false
	}
	return true
}

// HandleCallback consumes the notify confirmation buttons. Non-admin and
// unrelated callbacks are left for the dispatcher.
func (c *Controller) HandleCallback(ctx context.Context, cb *messenger.CallbackQuery) bool {
	if cb.From.ID != c.AdminID {
		return false
	}
	switch cb.Data {
	case "notify:yes":
		c.confirmNotify(ctx, cb)
	case "notify:no":
		c.cancelNotify(ctx, cb)
	default:
		return false
	}
	return true
}

// AnnounceStartup tells the admin chat the service is up.
func (c *Controller) AnnounceStartup(ctx context.Context) {
	if c.AdminID == 0 {
		return
	}
	c.reply(ctx, c.AdminID, "🚀 服务已启动")
}

func (c *Controller) getCache(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		c.reply(ctx, chatID, "用法: /getcache <vid>")
		return
	}
	vid := args[0]
	entry, ok := c.Handles.GetFull(vid)
	if !ok {
		c.reply(ctx, chatID, "未找到缓存: "+vid)
		return
	}
	if err := c.Driver.ReplayCached(ctx, chatID, vid, entry); err != nil {
		c.reply(ctx, chatID, "发送失败: "+err.Error())
	}
}

func (c *Controller) delCache(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		c.reply(ctx, chatID, "用法: /delcache <vid>")
		return
	}
	if c.Handles.Delete(args[0]) {
		c.reply(ctx, chatID, "已删除: "+args[0])
	} else {
		c.reply(ctx, chatID, "未找到缓存: "+args[0])
	}
}

// showCache lists the first N rows, or the last N when N is negative.
func (c *Controller) showCache(ctx context.Context, chatID int64, args []string) {
	n := defaultShowcacheRows
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed == 0 {
			c.reply(ctx, chatID, "用法: /showcache [N]")
			return
		}
		n = parsed
	}

	pairs := c.Handles.TitlePairs()
	if len(pairs) == 0 {
		c.reply(ctx, chatID, "缓存为空")
		return
	}
	if n > 0 && n < len(pairs) {
		pairs = pairs[:n]
	} else if n < 0 && -n < len(pairs) {
		pairs = pairs[len(pairs)+n:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "缓存共 %d 条:\n", c.Handles.Len())
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s | %s\n", p.Vid, p.Title)
	}
	c.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

func (c *Controller) blacklistAdd(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		c.reply(ctx, chatID, "用法: /blacklist_add <uid|@username>")
		return
	}
	uid, ok := c.resolveUID(args[0])
	if !ok {
		c.reply(ctx, chatID, "无法识别用户: "+args[0])
		return
	}
	if c.Blacklist.Add(uid) {
		c.reply(ctx, chatID, fmt.Sprintf("已拉黑 %d", uid))
	} else {
		c.reply(ctx, chatID, fmt.Sprintf("%d 已在黑名单中", uid))
	}
}

func (c *Controller) blacklistRemove(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		c.reply(ctx, chatID, "用法: /blacklist_remove <uid|@username>")
		return
	}
	uid, ok := c.resolveUID(args[0])
	if !ok {
		c.reply(ctx, chatID, "无法识别用户: "+args[0])
		return
	}
	if c.Blacklist.Remove(uid) {
		c.reply(ctx, chatID, fmt.Sprintf("已移出黑名单 %d", uid))
	} else {
		c.reply(ctx, chatID, fmt.Sprintf("%d 不在黑名单中", uid))
	}
}

func (c *Controller) blacklistShow(ctx context.Context, chatID int64) {
	uids := c.Blacklist.List()
	if len(uids) == 0 {
		c.reply(ctx, chatID, "黑名单为空")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "黑名单共 %d 人:\n", len(uids))
	for _, uid := range uids {
		if uname := c.Usage.UnameForUID(uid); uname != "" {
			fmt.Fprintf(&b, "%d (@%s)\n", uid, uname)
		} else {
			fmt.Fprintf(&b, "%d\n", uid)
		}
	}
	c.reply(ctx, chatID, strings.TrimRight(b.String(), "\n"))
}

// resolveUID accepts a numeric uid or an @username known to the usage log.
func (c *Controller) resolveUID(arg string) (int64, bool) {
	if uname, ok := strings.CutPrefix(arg, "@"); ok {
		return c.Usage.UIDForUname(uname)
	}
	uid, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, false
	}
	return uid, true
}

// notify stages a broadcast and asks for confirmation. The broadcast only
// goes out after the Yes button.
func (c *Controller) notify(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		c.reply(ctx, chatID, "用法: /notify <uid,…|--all> <text>")
		return
	}
	var targets []int64
	if args[0] == "--all" {
		targets = c.Usage.KnownUIDs()
	} else {
		for _, part := range strings.Split(args[0], ",") {
			uid, ok := c.resolveUID(strings.TrimSpace(part))
			if !ok {
				c.reply(ctx, chatID, "无法识别用户: "+part)
				return
			}
			targets = append(targets, uid)
		}
	}
	if len(targets) == 0 {
		c.reply(ctx, chatID, "没有可通知的用户")
		return
	}
	text := strings.Join(args[1:], " ")

	c.mu.Lock()
	c.pending = &pendingNotify{targets: targets, text: text}
	c.mu.Unlock()

	preview := fmt.Sprintf("将向 %d 位用户发送:\n%s\n\n确认?", len(targets), text)
	_, err := c.Messenger.SendText(ctx, chatID, preview, messenger.SendOpts{
		Keyboard: messenger.Keyboard{{
			{Text: "✅ Yes", CallbackData: "notify:yes"},
			{Text: "❌ No", CallbackData: "notify:no"},
		}},
	})
	if err != nil {
		log.LogNoRequestID("error sending notify confirmation", "error", err)
	}
}

func (c *Controller) confirmNotify(ctx context.Context, cb *messenger.CallbackQuery) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err := c.Messenger.AnswerCallback(ctx, cb.ID, ""); err != nil {
		log.LogNoRequestID("error answering callback", "error", err)
	}
	if pending == nil {
		c.editQuiet(ctx, cb.ChatID, cb.MessageID, "没有待确认的通知")
		return
	}

	sent := 0
	for _, uid := range pending.targets {
		if _, err := c.Messenger.SendText(ctx, uid, pending.text, messenger.SendOpts{}); err != nil {
			log.LogNoRequestID("error broadcasting notify", "uid", uid, "error", err)
			continue
		}
		sent++
	}
	c.editQuiet(ctx, cb.ChatID, cb.MessageID, fmt.Sprintf("已发送 %d/%d", sent, len(pending.targets)))
}

func (c *Controller) cancelNotify(ctx context.Context, cb *messenger.CallbackQuery) {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	if err := c.Messenger.AnswerCallback(ctx, cb.ID, ""); err != nil {
		log.LogNoRequestID("error answering callback", "error", err)
	}
	c.editQuiet(ctx, cb.ChatID, cb.MessageID, "已取消")
}

// status reports process health: CPU%, RSS%, dispatcher queue and held task
// locks.
func (c *Controller) status(ctx context.Context, chatID int64) {
	cpuPct := -1.0
	if pcts, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	memPct := float32(-1.0)
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.MemoryPercentWithContext(ctx); err == nil {
			memPct = pct
		}
	}

	queueLen := 0
	if c.Queue != nil {
		queueLen = c.Queue.QueueLen()
	}
	c.reply(ctx, chatID, fmt.Sprintf(
		"CPU: %.1f%%\nRSS: %.1f%%\n队列: %d\n进行中任务: %d\n缓存条目: %d",
		cpuPct, memPct, queueLen, c.Driver.Tasks.ActiveCount(), c.Handles.Len()))
}

func (c *Controller) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.Messenger.SendText(ctx, chatID, text, messenger.SendOpts{}); err != nil {
		log.LogNoRequestID("error sending admin reply", "error", err)
	}
}

func (c *Controller) editQuiet(ctx context.Context, chatID int64, messageID int, text string) {
	if err := c.Messenger.EditText(ctx, chatID, messageID, text, messenger.SendOpts{}); err != nil {
		log.LogNoRequestID("error editing admin message", "error", err)
	}
}
