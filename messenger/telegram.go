package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/clipfetch/clipfetch/log"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram is the Bot API adapter behind the Messenger port.
type Telegram struct {
	token      string
	base       string
	httpClient *retryablehttp.Client
}

var _ Messenger = (*Telegram)(nil)

func NewTelegram(token string) *Telegram {
	return NewTelegramWithBase(token, defaultAPIBase)
}

// NewTelegramWithBase exists so tests can point the adapter at an httptest
// server.
func NewTelegramWithBase(token, base string) *Telegram {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		// Long polls and large uploads both ride this client.
		Timeout: 120 * time.Second,
	}
	// The API reports user errors as 4xx; those must surface immediately, not
	// after three identical attempts.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Telegram{
		token:      token,
		base:       base,
		httpClient: client,
	}
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.base, t.token, method)
}

// apiResponse is the uniform Bot API envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// APIError keeps the API's own description so stale-handle detection can
// pattern match on it.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed: %d %s", e.Method, e.Code, e.Description)
}

func (t *Telegram) callJSON(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding %s payload: %w", method, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(method, req, result)
}

func (t *Telegram) do(method string, req *retryablehttp.Request, result interface{}) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("error decoding telegram %s response: %w", method, err)
	}
	if !envelope.OK {
		return &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("error decoding telegram %s result: %w", method, err)
		}
	}
	return nil
}

// wire structs, trimmed to the fields the pipeline reads.

type wireMessage struct {
	MessageID int `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text  string `json:"text"`
	Video *struct {
		FileID string `json:"file_id"`
	} `json:"video"`
	Document *struct {
		FileID string `json:"file_id"`
	} `json:"document"`
	Audio *struct {
		FileID string `json:"file_id"`
	} `json:"audio"`
	Photo []struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
	} `json:"photo"`
}

func (w *wireMessage) toMessage() *Message {
	m := &Message{ID: w.MessageID, ChatID: w.Chat.ID, Text: w.Text}
	if w.Video != nil {
		m.VideoHandle = w.Video.FileID
	}
	if w.Document != nil {
		m.DocumentHandle = w.Document.FileID
	}
	if w.Audio != nil {
		m.AudioHandle = w.Audio.FileID
	}
	// Telegram returns every thumbnail size; the last entry is the largest.
	if len(w.Photo) > 0 {
		m.PhotoHandle = w.Photo[len(w.Photo)-1].FileID
	}
	return m
}

func keyboardMarkup(kb Keyboard) map[string]interface{} {
	if len(kb) == 0 {
		return nil
	}
	return map[string]interface{}{"inline_keyboard": kb}
}

func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts SendOpts) (*Message, error) {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.DisableLinkPreview {
		payload["disable_web_page_preview"] = true
	}
	if markup := keyboardMarkup(opts.Keyboard); markup != nil {
		payload["reply_markup"] = markup
	}
	var wire wireMessage
	if err := t.callJSON(ctx, "sendMessage", payload, &wire); err != nil {
		return nil, err
	}
	return wire.toMessage(), nil
}

func (t *Telegram) SendVideo(ctx context.Context, chatID int64, video FileRef, opts VideoOpts) (*Message, error) {
	fields := map[string]string{
		"chat_id":            strconv.FormatInt(chatID, 10),
		"supports_streaming": "true",
	}
	if opts.Caption != "" {
		fields["caption"] = opts.Caption
	}
	if opts.ParseMode != "" {
		fields["parse_mode"] = opts.ParseMode
	}
	if opts.Width > 0 {
		fields["width"] = strconv.Itoa(opts.Width)
	}
	if opts.Height > 0 {
		fields["height"] = strconv.Itoa(opts.Height)
	}
	if opts.DurationSec > 0 {
		fields["duration"] = strconv.Itoa(opts.DurationSec)
	}
	if markup := keyboardMarkup(opts.Keyboard); markup != nil {
		encoded, err := json.Marshal(markup)
		if err != nil {
			return nil, err
		}
		fields["reply_markup"] = string(encoded)
	}
	var wire wireMessage
	if err := t.callFile(ctx, "sendVideo", "video", video, fields, &wire); err != nil {
		return nil, err
	}
	return wire.toMessage(), nil
}

func (t *Telegram) SendDocument(ctx context.Context, chatID int64, doc FileRef, caption string, opts SendOpts) (*Message, error) {
	fields := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if caption != "" {
		fields["caption"] = caption
	}
	if opts.ParseMode != "" {
		fields["parse_mode"] = opts.ParseMode
	}
	if markup := keyboardMarkup(opts.Keyboard); markup != nil {
		encoded, err := json.Marshal(markup)
		if err != nil {
			return nil, err
		}
		fields["reply_markup"] = string(encoded)
	}
	var wire wireMessage
	if err := t.callFile(ctx, "sendDocument", "document", doc, fields, &wire); err != nil {
		return nil, err
	}
	return wire.toMessage(), nil
}

// callFile sends one method that may carry a local file. Remote handles and
// URLs go as a plain field; local paths go as multipart.
func (t *Telegram) callFile(ctx context.Context, method, fileField string, ref FileRef, fields map[string]string, result interface{}) error {
	if ref.Path == "" {
		value := ref.Handle
		if value == "" {
			value = ref.URL
		}
		payload := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			payload[k] = v
		}
		payload[fileField] = value
		// reply_markup was pre-encoded for multipart; decode it back for JSON
		if raw, ok := fields["reply_markup"]; ok {
			var markup json.RawMessage = []byte(raw)
			payload["reply_markup"] = markup
		}
		return t.callJSON(ctx, method, payload, result)
	}

	body, contentType, err := multipartBody(fields, map[string]string{fileField: ref.Path})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.methodURL(method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return t.do(method, req, result)
}

// multipartBody buffers the whole request. Uploads top out at the transport's
// 50 MB inline limit, so buffering is acceptable and keeps retries simple.
func multipartBody(fields map[string]string, files map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for field, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("error opening upload %s: %w", path, err)
		}
		part, err := w.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, "", err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return nil, "", fmt.Errorf("error buffering upload %s: %w", path, err)
		}
		f.Close()
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (t *Telegram) SendMediaGroup(ctx context.Context, chatID int64, items []InputMedia) ([]Message, error) {
	type wireInput struct {
		Type      string `json:"type"`
		Media     string `json:"media"`
		Caption   string `json:"caption,omitempty"`
		ParseMode string `json:"parse_mode,omitempty"`
	}

	wired := make([]wireInput, 0, len(items))
	attachments := make(map[string]string)
	for i, item := range items {
		wi := wireInput{Type: item.Kind, Caption: item.Caption, ParseMode: item.ParseMode}
		switch {
		case item.Media.Path != "":
			name := fmt.Sprintf("file%d", i)
			attachments[name] = item.Media.Path
			wi.Media = "attach://" + name
		case item.Media.Handle != "":
			wi.Media = item.Media.Handle
		default:
			wi.Media = item.Media.URL
		}
		wired = append(wired, wi)
	}

	mediaJSON, err := json.Marshal(wired)
	if err != nil {
		return nil, err
	}

	var wire []wireMessage
	if len(attachments) == 0 {
		payload := map[string]interface{}{
			"chat_id": chatID,
			"media":   json.RawMessage(mediaJSON),
		}
		if err := t.callJSON(ctx, "sendMediaGroup", payload, &wire); err != nil {
			return nil, err
		}
	} else {
		fields := map[string]string{
			"chat_id": strconv.FormatInt(chatID, 10),
			"media":   string(mediaJSON),
		}
		body, contentType, err := multipartBody(fields, attachments)
		if err != nil {
			return nil, err
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMediaGroup"), body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		if err := t.do("sendMediaGroup", req, &wire); err != nil {
			return nil, err
		}
	}

	out := make([]Message, 0, len(wire))
	for i := range wire {
		out = append(out, *wire[i].toMessage())
	}
	return out, nil
}

func (t *Telegram) EditText(ctx context.Context, chatID int64, messageID int, text string, opts SendOpts) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if markup := keyboardMarkup(opts.Keyboard); markup != nil {
		payload["reply_markup"] = markup
	}
	return t.callJSON(ctx, "editMessageText", payload, nil)
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return t.callJSON(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (t *Telegram) React(ctx context.Context, chatID int64, messageID int, emoji string) error {
	return t.callJSON(ctx, "setMessageReaction", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"reaction":   []map[string]string{{"type": "emoji", "emoji": emoji}},
	}, nil)
}

func (t *Telegram) ChatAction(ctx context.Context, chatID int64, action string) error {
	return t.callJSON(ctx, "sendChatAction", map[string]interface{}{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{"callback_query_id": callbackID}
	if text != "" {
		payload["text"] = text
	}
	return t.callJSON(ctx, "answerCallbackQuery", payload, nil)
}

// The from user is present on incoming messages but absent from our own
// sends, so it lives outside wireMessage.
type wireIncoming struct {
	wireMessage
	From struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	} `json:"from"`
}

type wireIncomingUpdate struct {
	UpdateID int64         `json:"update_id"`
	Message  *wireIncoming `json:"message"`
	Callback *struct {
		ID   string `json:"id"`
		From struct {
			ID        int64  `json:"id"`
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"from"`
		Message *wireMessage `json:"message"`
		Data    string       `json:"data"`
	} `json:"callback_query"`
}

func (t *Telegram) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	var wire []wireIncomingUpdate
	err := t.callJSON(ctx, "getUpdates", map[string]interface{}{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message", "callback_query"},
	}, &wire)
	if err != nil {
		return nil, err
	}

	out := make([]Update, 0, len(wire))
	for _, wu := range wire {
		u := Update{ID: wu.UpdateID}
		if wu.Message != nil {
			u.Message = &Incoming{
				MessageID: wu.Message.MessageID,
				ChatID:    wu.Message.Chat.ID,
				Text:      wu.Message.Text,
				From: User{
					ID:        wu.Message.From.ID,
					Username:  wu.Message.From.Username,
					FirstName: wu.Message.From.FirstName,
					LastName:  wu.Message.From.LastName,
				},
			}
		}
		if wu.Callback != nil {
			cb := &CallbackQuery{
				ID:   wu.Callback.ID,
				Data: wu.Callback.Data,
				From: User{
					ID:        wu.Callback.From.ID,
					Username:  wu.Callback.From.Username,
					FirstName: wu.Callback.From.FirstName,
					LastName:  wu.Callback.From.LastName,
				},
			}
			if wu.Callback.Message != nil {
				cb.ChatID = wu.Callback.Message.Chat.ID
				cb.MessageID = wu.Callback.Message.MessageID
			}
			u.Callback = cb
		}
		out = append(out, u)
	}
	return out, nil
}
