// Package messenger is the bot-transport port. The pipeline only ever talks
// to the Messenger interface; the Telegram Bot API adapter lives alongside it.
package messenger

import (
	"context"
)

// Chat actions shown to the user while work is in flight.
const (
	ActionTyping         = "typing"
	ActionUploadDocument = "upload_document"
	ActionUploadVideo    = "upload_video"
	ActionFindLocation   = "find_location"
)

// FileRef names the payload of an upload exactly one way: a local path for a
// fresh upload, a remote handle for a re-send, or a public URL.
type FileRef struct {
	Path   string
	Handle string
	URL    string
}

func PathRef(path string) FileRef     { return FileRef{Path: path} }
func HandleRef(handle string) FileRef { return FileRef{Handle: handle} }
func URLRef(url string) FileRef       { return FileRef{URL: url} }

// Button is one inline keyboard button. Only URL buttons and callback buttons
// are used.
type Button struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Keyboard is a button matrix, rows of buttons.
type Keyboard [][]Button

// SendOpts carries the optional knobs shared by text and file sends.
type SendOpts struct {
	ParseMode          string
	Keyboard           Keyboard
	DisableLinkPreview bool
}

// VideoOpts extends SendOpts with the player hints Telegram wants up front.
type VideoOpts struct {
	SendOpts
	Caption     string
	Width       int
	Height      int
	DurationSec int
}

// InputMedia is one item of a media group. Kind is "photo" or "video"; only
// the first item of a group usually carries a caption.
type InputMedia struct {
	Kind      string
	Media     FileRef
	Caption   string
	ParseMode string
}

// Message is the transport's view of a sent or received message, reduced to
// what the pipeline needs.
type Message struct {
	ID             int
	ChatID         int64
	Text           string
	VideoHandle    string
	DocumentHandle string
	PhotoHandle    string
	AudioHandle    string
}

// RemoteHandle returns the cacheable file handle of the sent media, whichever
// slot the transport filled.
func (m *Message) RemoteHandle() string {
	for _, h := range []string{m.VideoHandle, m.DocumentHandle, m.AudioHandle, m.PhotoHandle} {
		if h != "" {
			return h
		}
	}
	return ""
}

// User is the sender of an incoming update.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// FullName joins the name parts the way they display in the client.
func (u User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Update is one long-poll event: either a message or a callback-button press.
type Update struct {
	ID       int64
	Message  *Incoming
	Callback *CallbackQuery
}

// Incoming is a received chat message.
type Incoming struct {
	MessageID int
	ChatID    int64
	From      User
	Text      string
}

// CallbackQuery is an inline-button press.
type CallbackQuery struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
}

// Messenger is everything the pipeline needs from the bot transport. Send
// results expose the remote handle so deliveries can be cached and replayed.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, opts SendOpts) (*Message, error)
	SendVideo(ctx context.Context, chatID int64, video FileRef, opts VideoOpts) (*Message, error)
	SendDocument(ctx context.Context, chatID int64, doc FileRef, caption string, opts SendOpts) (*Message, error)
	SendMediaGroup(ctx context.Context, chatID int64, items []InputMedia) ([]Message, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, opts SendOpts) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	React(ctx context.Context, chatID int64, messageID int, emoji string) error
	ChatAction(ctx context.Context, chatID int64, action string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error)
}
