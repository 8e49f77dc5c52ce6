package admin

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipfetch/clipfetch/messenger"
	"github.com/clipfetch/clipfetch/pipeline"
	"github.com/clipfetch/clipfetch/store"
	"github.com/stretchr/testify/require"
)

type sentText struct {
	chatID int64
	text   string
	opts   messenger.SendOpts
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int
	texts  []sentText
	videos []messenger.FileRef
	edits  []string
}

var _ messenger.Messenger = (*fakeMessenger)(nil)

func (f *fakeMessenger) SendText(ctx context.Context, chatID int64, text string, opts messenger.SendOpts) (*messenger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, sentText{chatID: chatID, text: text, opts: opts})
	return &messenger.Message{ID: f.nextID, ChatID: chatID}, nil
}

func (f *fakeMessenger) SendVideo(ctx context.Context, chatID int64, video messenger.FileRef, opts messenger.VideoOpts) (*messenger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.videos = append(f.videos, video)
	return &messenger.Message{ID: f.nextID, ChatID: chatID, VideoHandle: "FH_sent"}, nil
}

func (f *fakeMessenger) SendDocument(ctx context.Context, chatID int64, doc messenger.FileRef, caption string, opts messenger.SendOpts) (*messenger.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &messenger.Message{ID: f.nextID, ChatID: chatID, DocumentHandle: "DH_sent"}, nil
}

func (f *fakeMessenger) SendMediaGroup(ctx context.Context, chatID int64, items []messenger.InputMedia) ([]messenger.Message, error) {
	return nil, nil
}

func (f *fakeMessenger) EditText(ctx context.Context, chatID int64, messageID int, text string, opts messenger.SendOpts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return nil
}

func (f *fakeMessenger) React(ctx context.Context, chatID int64, messageID int, emoji string) error {
	return nil
}

func (f *fakeMessenger) ChatAction(ctx context.Context, chatID int64, action string) error {
	return nil
}

func (f *fakeMessenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

func (f *fakeMessenger) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]messenger.Update, error) {
	return nil, nil
}

func (f *fakeMessenger) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1].text
}

func newTestController(t *testing.T) (*Controller, *fakeMessenger) {
	t.Helper()
	dir := t.TempDir()
	fm := &fakeMessenger{}
	handles := store.NewHandleCache(filepath.Join(dir, "handle_cache.json"))
	usage := store.NewUsageRecorder(filepath.Join(dir, "usage.json"))
	driver := &pipeline.Driver{
		Messenger: fm,
		Handles:   handles,
		Usage:     usage,
		Limiter:   pipeline.NewRateLimiter(time.Millisecond),
		Tasks:     pipeline.NewTaskManager(),
	}
	ctrl := &Controller{
		Messenger: fm,
		Driver:    driver,
		Handles:   handles,
		Usage:     usage,
		Blacklist: store.NewBlacklist(filepath.Join(dir, "blacklist.json")),
		AdminID:   1000,
	}
	return ctrl, fm
}

func adminMsg(text string) *messenger.Incoming {
	return &messenger.Incoming{MessageID: 1, ChatID: 1000, From: messenger.User{ID: 1000, Username: "op"}, Text: text}
}

func TestGetCacheReplaysEntry(t *testing.T) {
	ctrl, fm := newTestController(t)
	ctrl.Handles.Put("v_1", store.Entry{Title: "Hello", FileID: store.SingleHandle("FH_abc")})

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/getcache v_1")))
	require.Len(t, fm.videos, 1)
	require.Equal(t, "FH_abc", fm.videos[0].Handle)

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/getcache nope")))
	require.Contains(t, fm.lastText(), "未找到")
}

func TestDelCache(t *testing.T) {
	ctrl, fm := newTestController(t)
	ctrl.Handles.Put("v_1", store.Entry{Title: "Hello", FileID: store.SingleHandle("FH_abc")})

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/delcache v_1")))
	require.Contains(t, fm.lastText(), "已删除")
	_, ok := ctrl.Handles.GetFull("v_1")
	require.False(t, ok)

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/delcache v_1")))
	require.Contains(t, fm.lastText(), "未找到")
}

func TestShowCacheHeadAndTail(t *testing.T) {
	ctrl, fm := newTestController(t)
	for i := 1; i <= 5; i++ {
		ctrl.Handles.Put(fmt.Sprintf("v_%d", i), store.Entry{
			Title:  fmt.Sprintf("title %d", i),
			FileID: store.SingleHandle(fmt.Sprintf("FH_%d", i)),
		})
	}

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/showcache 2")))
	head := fm.lastText()
	require.Contains(t, head, "v_1")
	require.Contains(t, head, "v_2")
	require.NotContains(t, head, "v_3")

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/showcache -2")))
	tail := fm.lastText()
	require.Contains(t, tail, "v_4")
	require.Contains(t, tail, "v_5")
	require.NotContains(t, tail, "v_3")
}

func TestBlacklistByUsername(t *testing.T) {
	ctrl, fm := newTestController(t)
	ctrl.Usage.Record(store.UsageRecord{UID: 77, Uname: "mallory", Vid: "v_x"})

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/blacklist_add @mallory")))
	require.True(t, ctrl.Blacklist.Contains(77))

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/blacklist_show")))
	require.Contains(t, fm.lastText(), "77 (@mallory)")

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/blacklist_remove 77")))
	require.False(t, ctrl.Blacklist.Contains(77))

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/blacklist_add @whoisthis")))
	require.Contains(t, fm.lastText(), "无法识别")
}

func TestNotifyConfirmThenBroadcast(t *testing.T) {
	ctrl, fm := newTestController(t)
	ctrl.Usage.Record(store.UsageRecord{UID: 11, Uname: "a", Vid: "v_1"})
	ctrl.Usage.Record(store.UsageRecord{UID: 22, Uname: "b", Vid: "v_2"})

	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/notify --all 维护将于今晚进行")))
	confirm := fm.texts[len(fm.texts)-1]
	require.Contains(t, confirm.text, "2 位用户")
	require.Len(t, confirm.opts.Keyboard, 1)
	require.Equal(t, "notify:yes", confirm.opts.Keyboard[0][0].CallbackData)

	// Nothing goes out before the Yes button.
	for _, st := range fm.texts {
		require.NotEqual(t, int64(11), st.chatID)
	}

	handled := ctrl.HandleCallback(context.Background(), &messenger.CallbackQuery{
		ID: "cb1", From: messenger.User{ID: 1000}, ChatID: 1000, MessageID: 2, Data: "notify:yes",
	})
	require.True(t, handled)

	var got []int64
	for _, st := range fm.texts {
		if st.text == "维护将于今晚进行" {
			got = append(got, st.chatID)
		}
	}
	require.ElementsMatch(t, []int64{11, 22}, got)
	require.Contains(t, fm.edits[len(fm.edits)-1], "2/2")
}

func TestNotifyCancel(t *testing.T) {
	ctrl, fm := newTestController(t)
	require.True(t, ctrl.HandleCommand(context.Background(), adminMsg("/notify 11 hello")))

	handled := ctrl.HandleCallback(context.Background(), &messenger.CallbackQuery{
		ID: "cb1", From: messenger.User{ID: 1000}, ChatID: 1000, MessageID: 2, Data: "notify:no",
	})
	require.True(t, handled)
	for _, st := range fm.texts {
		require.NotEqual(t, "hello", st.text)
	}
	require.Contains(t, fm.edits[len(fm.edits)-1], "已取消")
}

func TestCallbackFromNonAdminIgnored(t *testing.T) {
	ctrl, _ := newTestController(t)
	handled := ctrl.HandleCallback(context.Background(), &messenger.CallbackQuery{
		ID: "cb1", From: messenger.User{ID: 5}, Data: "notify:yes",
	})
	require.False(t, handled)
}

func TestUnknownCommandFallsThrough(t *testing.T) {
	ctrl, _ := newTestController(t)
	require.False(t, ctrl.HandleCommand(context.Background(), adminMsg("/frobnicate")))
}
