// Package pipeline is the request core: gates, driver, dispatch. One admitted
// request flows gate -> placeholder -> cache probe -> parse -> deliver ->
// cache write -> usage record, with the task lock released on every path.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clipfetch/clipfetch/blob"
	"github.com/clipfetch/clipfetch/config"
	"github.com/clipfetch/clipfetch/errors"
	"github.com/clipfetch/clipfetch/log"
	"github.com/clipfetch/clipfetch/media"
	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/metrics"
	"github.com/clipfetch/clipfetch/resolver"
	"github.com/clipfetch/clipfetch/store"
)

// Send budgets. Deliveries get shorter leashes than parses.
const (
	textSendTimeout  = 10 * time.Second
	textSendTries    = 2
	videoSendTimeout = 60 * time.Second
	videoSendTries   = 2
	groupSendTimeout = 20 * time.Second
	groupSendTries   = 2
)

// Driver orchestrates one request end to end. All collaborators come in as
// ports so tests can fake the world.
type Driver struct {
	Messenger messenger.Messenger
	Handles   *store.HandleCache
	Usage     *store.UsageRecorder
	Blob      blob.Uploader
	Limiter   *RateLimiter
	Tasks     *TaskManager
	Captions  CaptionBuilder

	// GalleryCacheReplay allows album cache hits. Off by default: some
	// platforms cache expiring CDN URLs inside album entries.
	GalleryCacheReplay bool
}

// Request is one admitted message, reduced to what the pipeline needs.
type Request struct {
	ChatID    int64
	MessageID int
	UID       int64
	Uname     string
	FullName  string
	Text      string
	URL       string
}

// Outcome reports what happened, for the dispatcher's admin brief.
type Outcome struct {
	Admitted bool
	Success  bool
	CacheHit bool
	Platform string
	Vid      string
	Title    string
	Elapsed  time.Duration
}

func (d *Driver) Handle(ctx context.Context, req Request, res resolver.Resolver) Outcome {
	start := time.Now()
	platform := res.Platform()
	outcome := Outcome{Platform: platform}

	if !d.Limiter.Allow(req.UID) {
		// Dropped silently: no reply, no usage record.
		log.LogCtx(ctx, "rate limited", "uid", req.UID, "platform", platform)
		return outcome
	}
	if !d.Tasks.Acquire(req.UID) {
		metrics.Metrics.BusyRejectedCount.Inc()
		d.sendTextQuiet(ctx, req.ChatID, config.BusyMsg, messenger.SendOpts{})
		return outcome
	}
	defer d.Tasks.Release(req.UID)
	outcome.Admitted = true

	var placeholder *messenger.Message
	var vid, title string

	defer func() {
		if rec := recover(); rec != nil {
			log.LogError(requestID(req), "panic in pipeline", fmt.Errorf("%v", rec))
			outcome.Success = false
			// The user still gets the apology and the request still gets its
			// one usage record.
			d.editTextQuiet(ctx, req.ChatID, placeholder, config.ExceptionMsg)
			d.record(req, res, vid, title, nil, start, false, false, fmt.Sprintf("panic: %v", rec))
		}
		outcome.Elapsed = time.Since(start)
		metrics.Metrics.RequestCount.WithLabelValues(platform, strconv.FormatBool(outcome.Success)).Inc()
		metrics.Metrics.RequestDurationSec.WithLabelValues(platform, strconv.FormatBool(outcome.CacheHit)).
			Observe(outcome.Elapsed.Seconds())
	}()

	if p, err := d.Messenger.SendText(ctx, req.ChatID, config.ProcessingMsg, messenger.SendOpts{}); err != nil {
		log.LogError(requestID(req), "error sending placeholder", err)
	} else {
		placeholder = p
	}

	limits := config.LimitsFor(platform)

	peekErr := WithRetry(ctx, time.Duration(limits.PeekTimeoutSec)*time.Second, limits.PeekRetries,
		func(ctx context.Context) error {
			var err error
			vid, title, err = res.Peek(ctx, req.URL)
			return err
		})
	if peekErr == nil && vid != "" {
		if hit := d.tryCacheHit(ctx, req, res, vid, title, placeholder, start); hit {
			outcome.Success = true
			outcome.CacheHit = true
			outcome.Vid = vid
			outcome.Title = title
			return outcome
		}
	}

	var result *media.ParseResult
	parseErr := WithRetry(ctx, time.Duration(limits.ParseTimeoutSec)*time.Second, limits.ParseRetries,
		func(ctx context.Context) error {
			var err error
			result, err = recoveredParse(res, ctx, req.URL)
			return err
		})

	if parseErr != nil || result == nil || !result.Success {
		reason := describeFailure(parseErr, result)
		d.editTextQuiet(ctx, req.ChatID, placeholder, config.ExceptionMsg)
		d.record(req, res, vid, title, result, start, false, false, reason)
		log.LogCtx(ctx, "parse failed", "platform", platform, "vid", vid, "reason", reason)
		return outcome
	}
	if result.Vid != "" {
		vid = result.Vid
	}
	if result.Title != "" {
		title = result.Title
	}
	outcome.Vid = vid
	outcome.Title = title

	deliverErr := d.deliver(ctx, req, result, placeholder)
	if deliverErr != nil {
		// The placeholder stays visible as the error message.
		d.editTextQuiet(ctx, req.ChatID, placeholder, config.ExceptionMsg)
		d.record(req, res, vid, title, result, start, false, false, deliverErr.Error())
		log.LogCtx(ctx, "delivery failed", "platform", platform, "vid", vid, "error", deliverErr)
		return outcome
	}

	d.deleteQuiet(ctx, req.ChatID, placeholder)
	d.record(req, res, vid, title, result, start, true, false, "")
	outcome.Success = true
	return outcome
}

// recoveredParse keeps a panicking plugin from taking the pipeline down.
func recoveredParse(res resolver.Resolver, ctx context.Context, url string) (result *media.ParseResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.Wrapf(errors.KindInternal, "resolver panic: %v", rec)
		}
	}()
	return res.Parse(ctx, url)
}

func describeFailure(parseErr error, result *media.ParseResult) string {
	if parseErr != nil {
		return parseErr.Error()
	}
	if result != nil && result.ErrorMessage != "" {
		return result.ErrorMessage
	}
	return "resolver returned no result"
}

// tryCacheHit replays a cached delivery. Returns true when the user got their
// reply from the cache; a stale handle evicts the entry and reports a miss so
// the caller re-parses.
func (d *Driver) tryCacheHit(ctx context.Context, req Request, res resolver.Resolver, vid, title string, placeholder *messenger.Message, start time.Time) bool {
	entry, ok := d.Handles.GetFull(vid)
	if !ok {
		return false
	}
	if entry.FileID.IsAlbum() && !d.GalleryCacheReplay {
		return false
	}

	err := d.ReplayCached(ctx, req.ChatID, vid, entry)
	if err != nil {
		if messenger.IsStaleHandle(err) {
			d.Handles.Delete(vid)
			metrics.Metrics.StaleHandleCount.Inc()
			log.LogCtx(ctx, "evicted stale cache handle", "vid", vid)
			return false
		}
		log.LogCtx(ctx, "cache replay failed", "vid", vid, "error", err)
		return false
	}

	metrics.Metrics.CacheHitCount.WithLabelValues(res.Platform()).Inc()
	d.deleteQuiet(ctx, req.ChatID, placeholder)
	d.record(req, res, vid, title, nil, start, true, true, "")
	return true
}

// ReplayCached replays one cached entry: an external link, an album, an audio
// document or a single video.
func (d *Driver) ReplayCached(ctx context.Context, chatID int64, vid string, entry store.Entry) error {
	opts := messenger.SendOpts{
		ParseMode: entry.ParseMode,
		Keyboard:  keyboardFromStore(entry.Reply),
	}

	if entry.Special == store.SpecialCatbox {
		body := entry.Title
		if body == "" {
			body = entry.FileID.One
		}
		return WithRetry(ctx, textSendTimeout, textSendTries, func(ctx context.Context) error {
			_, err := d.Messenger.SendText(ctx, chatID, body, opts)
			return wrapSendErr(err)
		})
	}

	if entry.FileID.IsAlbum() {
		items := albumToInputMedia(entry.FileID.Many, entry.Title, entry.ParseMode)
		for _, group := range chunkInputMedia(items, config.MediaGroupLimit) {
			group := group
			err := WithRetry(ctx, groupSendTimeout, groupSendTries, func(ctx context.Context) error {
				_, err := d.Messenger.SendMediaGroup(ctx, chatID, group)
				return wrapSendErr(err)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	if strings.HasPrefix(vid, "music_") {
		return WithRetry(ctx, videoSendTimeout, videoSendTries, func(ctx context.Context) error {
			_, err := d.Messenger.SendDocument(ctx, chatID, messenger.HandleRef(entry.FileID.One), entry.Title, opts)
			return wrapSendErr(err)
		})
	}

	return WithRetry(ctx, videoSendTimeout, videoSendTries, func(ctx context.Context) error {
		_, err := d.Messenger.SendVideo(ctx, chatID, messenger.HandleRef(entry.FileID.One), messenger.VideoOpts{
			SendOpts: opts,
			Caption:  entry.Title,
		})
		return wrapSendErr(err)
	})
}

// wrapSendErr makes stale-handle rejections unretriable so the retry loop
// does not hammer a dead handle.
func wrapSendErr(err error) error {
	if err == nil {
		return nil
	}
	if messenger.IsStaleHandle(err) {
		return errors.Unretriable(err)
	}
	return err
}

// albumToInputMedia recovers per-item type from the VIDEO/IMAGE prefixes the
// cache stores album handles with.
func albumToInputMedia(handles []string, caption, parseMode string) []messenger.InputMedia {
	items := make([]messenger.InputMedia, 0, len(handles))
	for i, h := range handles {
		kind := "photo"
		switch {
		case strings.HasPrefix(h, "VIDEO:"):
			kind = "video"
			h = strings.TrimPrefix(h, "VIDEO:")
		case strings.HasPrefix(h, "IMAGE:"):
			h = strings.TrimPrefix(h, "IMAGE:")
		}
		item := messenger.InputMedia{Kind: kind, Media: messenger.HandleRef(h)}
		if i == 0 {
			item.Caption = caption
			item.ParseMode = parseMode
		}
		items = append(items, item)
	}
	return items
}

func chunkInputMedia(items []messenger.InputMedia, size int) [][]messenger.InputMedia {
	var chunks [][]messenger.InputMedia
	for len(items) > size {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}

// deliver routes a fresh parse to the right transport call and writes the
// cache entry on success.
func (d *Driver) deliver(ctx context.Context, req Request, result *media.ParseResult, placeholder *messenger.Message) error {
	switch result.ContentType {
	case media.ContentLink:
		return d.deliverLink(ctx, req, result)
	case media.ContentVideo:
		if result.NeedsQualitySelection && len(result.Qualities) > 0 {
			return d.deliverQualitySelection(ctx, req, result)
		}
		return d.deliverVideo(ctx, req, result, placeholder)
	case media.ContentAudio:
		return d.deliverAudio(ctx, req, result, placeholder)
	case media.ContentGallery:
		return d.deliverGallery(ctx, req, result)
	default:
		return errors.Wrapf(errors.KindInternal, "unhandled content type %q", result.ContentType)
	}
}

func (d *Driver) deliverLink(ctx context.Context, req Request, result *media.ParseResult) error {
	return WithRetry(ctx, textSendTimeout, textSendTries, func(ctx context.Context) error {
		_, err := d.Messenger.SendText(ctx, req.ChatID, result.TextMessage, messenger.SendOpts{
			ParseMode: store.ParseModeHTML,
		})
		return err
	})
}

// deliverQualitySelection sends the preview rendition by URL with the ladder
// as buttons. A failed video send degrades to a captioned keyboard message.
func (d *Driver) deliverQualitySelection(ctx context.Context, req Request, result *media.ParseResult) error {
	kb := BuildQualityKeyboard(result.Qualities, result.AudioURI, result.AudioTitle)
	caption := d.Captions.Bold(result.Title)
	opts := messenger.SendOpts{ParseMode: store.ParseModeHTML, Keyboard: kb}

	var sent *messenger.Message
	var sendErr error
	if def, ok := result.DefaultQuality(); ok && def.IsDefault {
		sendErr = WithRetry(ctx, videoSendTimeout, videoSendTries, func(ctx context.Context) error {
			var err error
			sent, err = d.Messenger.SendVideo(ctx, req.ChatID, messenger.URLRef(def.DownloadURL), messenger.VideoOpts{
				SendOpts: opts,
				Caption:  caption,
			})
			return err
		})
	} else {
		// Every rendition is oversize: buttons only.
		sendErr = errors.Wrapf(errors.KindQuotaOrSize, "no rendition fits inline")
	}

	if sendErr != nil {
		body := caption
		if errors.IsKind(sendErr, errors.KindQuotaOrSize) {
			body = caption + "\n" + config.OversizeButtonsMsg
		}
		err := WithRetry(ctx, textSendTimeout, textSendTries, func(ctx context.Context) error {
			var err error
			sent, err = d.Messenger.SendText(ctx, req.ChatID, body, opts)
			return err
		})
		if err != nil {
			return err
		}
		// No remote media handle to cache from a text fallback.
		return nil
	}

	if result.Cacheable() && sent != nil && sent.RemoteHandle() != "" {
		d.Handles.Put(result.Vid, store.Entry{
			Title:     caption,
			FileID:    store.SingleHandle(sent.RemoteHandle()),
			Reply:     keyboardToStore(kb),
			ParseMode: store.ParseModeHTML,
		})
	}
	return nil
}

func (d *Driver) deliverVideo(ctx context.Context, req Request, result *media.ParseResult, placeholder *messenger.Message) error {
	if len(result.Items) == 0 {
		return errors.Wrapf(errors.KindInternal, "video result with no items")
	}
	item := result.Items[0]

	if result.SizeMB > config.MaxInlineUploadMB*(1+config.SizeEstimateTolerance) {
		return d.deliverOversize(ctx, req, result, placeholder)
	}

	d.editTextQuiet(ctx, req.ChatID, placeholder, config.VideoUploadingMsg)
	d.chatActionQuiet(ctx, req.ChatID, messenger.ActionUploadVideo)

	caption := d.Captions.Bold(result.Title)
	uploadStart := time.Now()
	var sent *messenger.Message
	err := WithRetry(ctx, videoSendTimeout, videoSendTries, func(ctx context.Context) error {
		var err error
		sent, err = d.Messenger.SendVideo(ctx, req.ChatID, messenger.PathRef(item.LocalPath), messenger.VideoOpts{
			SendOpts:    messenger.SendOpts{ParseMode: store.ParseModeHTML},
			Caption:     caption,
			Width:       item.Width,
			Height:      item.Height,
			DurationSec: int(item.DurationSec),
		})
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindTransport, err)
	}
	metrics.Metrics.UploadDurationSec.WithLabelValues("video").Observe(time.Since(uploadStart).Seconds())

	if result.Cacheable() && sent != nil && sent.RemoteHandle() != "" {
		d.Handles.Put(result.Vid, store.Entry{
			Title:     caption,
			FileID:    store.SingleHandle(sent.RemoteHandle()),
			ParseMode: store.ParseModeHTML,
		})
	}
	return nil
}

// deliverOversize pushes the artifact to the external host and replies with a
// bold hyperlink instead of an attachment.
func (d *Driver) deliverOversize(ctx context.Context, req Request, result *media.ParseResult, placeholder *messenger.Message) error {
	if d.Blob == nil {
		return errors.Wrapf(errors.KindQuotaOrSize, "artifact is %.1fMB and no external host is configured", result.SizeMB)
	}
	d.editTextQuiet(ctx, req.ChatID, placeholder, config.OversizeUploadMsg)
	d.chatActionQuiet(ctx, req.ChatID, messenger.ActionUploadDocument)

	uploadStart := time.Now()
	var lastEdit time.Time
	url, err := d.Blob.Upload(ctx, result.Items[0].LocalPath, func(sent int64) {
		if time.Since(lastEdit) < 2*time.Second {
			return
		}
		lastEdit = time.Now()
		d.editTextQuiet(ctx, req.ChatID, placeholder,
			fmt.Sprintf("%s (%.1fMB)", config.OversizeUploadMsg, float64(sent)/(1<<20)))
	})
	if err != nil {
		return errors.Wrap(errors.KindPlatformUnavailable, err)
	}
	metrics.Metrics.UploadDurationSec.WithLabelValues("blob").Observe(time.Since(uploadStart).Seconds())

	body := d.Captions.BoldLink(result.Title, url)
	sendErr := WithRetry(ctx, textSendTimeout, textSendTries, func(ctx context.Context) error {
		_, err := d.Messenger.SendText(ctx, req.ChatID, body, messenger.SendOpts{ParseMode: store.ParseModeHTML})
		return err
	})
	if sendErr != nil {
		return errors.Wrap(errors.KindTransport, sendErr)
	}

	if result.Cacheable() {
		d.Handles.Put(result.Vid, store.Entry{
			Title:     body,
			FileID:    store.SingleHandle(url),
			ParseMode: store.ParseModeHTML,
			Special:   store.SpecialCatbox,
		})
	}
	return nil
}

func (d *Driver) deliverAudio(ctx context.Context, req Request, result *media.ParseResult, placeholder *messenger.Message) error {
	if len(result.Items) == 0 {
		return errors.Wrapf(errors.KindInternal, "audio result with no items")
	}
	d.editTextQuiet(ctx, req.ChatID, placeholder, config.AudioUploadingMsg)
	d.chatActionQuiet(ctx, req.ChatID, messenger.ActionUploadDocument)

	uploadStart := time.Now()
	var sent *messenger.Message
	err := WithRetry(ctx, videoSendTimeout, videoSendTries, func(ctx context.Context) error {
		var err error
		sent, err = d.Messenger.SendDocument(ctx, req.ChatID, messenger.PathRef(result.Items[0].LocalPath),
			result.Title, messenger.SendOpts{})
		return err
	})
	if err != nil {
		return errors.Wrap(errors.KindTransport, err)
	}
	metrics.Metrics.UploadDurationSec.WithLabelValues("audio").Observe(time.Since(uploadStart).Seconds())

	if result.Cacheable() && sent != nil && sent.RemoteHandle() != "" {
		d.Handles.Put(result.Vid, store.Entry{
			Title:  result.Title,
			FileID: store.SingleHandle(sent.RemoteHandle()),
		})
	}
	return nil
}

// deliverGallery batches mixed photo/video items into media groups of ten,
// caption on the first item of the first group only, order preserved.
func (d *Driver) deliverGallery(ctx context.Context, req Request, result *media.ParseResult) error {
	if len(result.Items) == 0 {
		return errors.Wrapf(errors.KindInternal, "gallery result with no items")
	}
	caption := d.Captions.Bold(result.Title)
	if result.AudioURI != "" {
		caption += "\n" + d.Captions.MusicLink(result.AudioTitle, result.AudioURI)
	}

	inputs := make([]messenger.InputMedia, 0, len(result.Items))
	for i, item := range result.Items {
		kind := "photo"
		if item.FileType == media.FileVideo {
			kind = "video"
		}
		input := messenger.InputMedia{Kind: kind, Media: messenger.PathRef(item.LocalPath)}
		if i == 0 {
			input.Caption = caption
			input.ParseMode = store.ParseModeHTML
		}
		inputs = append(inputs, input)
	}

	uploadStart := time.Now()
	var handles []string
	for _, group := range chunkInputMedia(inputs, config.MediaGroupLimit) {
		group := group
		var sent []messenger.Message
		err := WithRetry(ctx, groupSendTimeout, groupSendTries, func(ctx context.Context) error {
			var err error
			sent, err = d.Messenger.SendMediaGroup(ctx, req.ChatID, group)
			return err
		})
		if err != nil {
			return errors.Wrap(errors.KindTransport, err)
		}
		for i, msg := range sent {
			prefix := "IMAGE:"
			if i < len(group) && group[i].Kind == "video" {
				prefix = "VIDEO:"
			}
			handles = append(handles, prefix+msg.RemoteHandle())
		}
	}
	metrics.Metrics.UploadDurationSec.WithLabelValues("media_group").Observe(time.Since(uploadStart).Seconds())

	if result.Cacheable() && len(handles) > 0 {
		d.Handles.Put(result.Vid, store.Entry{
			Title:     caption,
			FileID:    store.AlbumHandle(handles),
			ParseMode: store.ParseModeHTML,
		})
	}
	return nil
}

// record appends the usage record; write failures never fail the pipeline.
func (d *Driver) record(req Request, res resolver.Resolver, vid, title string, result *media.ParseResult, start time.Time, success, cacheHit bool, exception string) {
	workTime := time.Since(start).Seconds()
	rec := store.UsageRecord{
		Timestamp:      time.Unix(config.Clock.GetTimestampUTC(), 0).UTC().Format("2006-01-02 15:04:05"),
		UID:            req.UID,
		Uname:          req.Uname,
		FullName:       req.FullName,
		Platform:       res.Platform(),
		InputText:      req.Text,
		URL:            req.URL,
		Vid:            vid,
		Title:          title,
		IsCachedHit:    cacheHit,
		ParseSuccess:   success,
		ParseException: exception,
		WorkTimeSec:    &workTime,
	}
	if result != nil {
		rec.ParsedURL = result.DownloadURL
		rec.SizeMB = result.SizeMB
	}
	if cacheHit {
		rec.CacheInfo = "hit"
	}
	d.Usage.Record(rec)
}

func requestID(req Request) string {
	return fmt.Sprintf("u%d-m%d", req.UID, req.MessageID)
}

func (d *Driver) sendTextQuiet(ctx context.Context, chatID int64, text string, opts messenger.SendOpts) {
	if _, err := d.Messenger.SendText(ctx, chatID, text, opts); err != nil {
		log.LogCtx(ctx, "error sending text", "error", err)
	}
}

func (d *Driver) editTextQuiet(ctx context.Context, chatID int64, placeholder *messenger.Message, text string) {
	if placeholder == nil {
		return
	}
	if err := d.Messenger.EditText(ctx, chatID, placeholder.ID, text, messenger.SendOpts{}); err != nil {
		log.LogCtx(ctx, "error editing placeholder", "error", err)
	}
}

func (d *Driver) deleteQuiet(ctx context.Context, chatID int64, placeholder *messenger.Message) {
	if placeholder == nil {
		return
	}
	if err := d.Messenger.DeleteMessage(ctx, chatID, placeholder.ID); err != nil {
		log.LogCtx(ctx, "error deleting placeholder", "error", err)
	}
}

func (d *Driver) chatActionQuiet(ctx context.Context, chatID int64, action string) {
	if err := d.Messenger.ChatAction(ctx, chatID, action); err != nil {
		log.LogCtx(ctx, "error sending chat action", "error", err)
	}
}
