package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func apiStub(t *testing.T, handler func(method string, r *http.Request) (interface{}, *APIError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		result, apiErr := handler(method, r)
		w.Header().Set("Content-Type", "application/json")
		if apiErr != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":          false,
				"error_code":  apiErr.Code,
				"description": apiErr.Description,
			})
			return
		}
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "result": json.RawMessage(raw)})
	}))
}

func TestSendTextReturnsMessage(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		require.Equal(t, "sendMessage", method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		return map[string]interface{}{
			"message_id": 77,
			"chat":       map[string]interface{}{"id": 42},
			"text":       "hello",
		}, nil
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	msg, err := tg.SendText(context.Background(), 42, "hello", SendOpts{
		ParseMode: "HTML",
		Keyboard:  Keyboard{{{Text: "720p (18.0MB)", URL: "https://example.com/a"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 77, msg.ID)
	require.EqualValues(t, 42, msg.ChatID)
	require.Equal(t, "HTML", gotPayload["parse_mode"])
	require.Contains(t, gotPayload, "reply_markup")
}

func TestSendVideoByHandleExposesRemoteHandle(t *testing.T) {
	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		require.Equal(t, "sendVideo", method)
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "FH_abc", payload["video"])
		return map[string]interface{}{
			"message_id": 5,
			"chat":       map[string]interface{}{"id": 42},
			"video":      map[string]interface{}{"file_id": "FH_abc"},
		}, nil
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	msg, err := tg.SendVideo(context.Background(), 42, HandleRef("FH_abc"), VideoOpts{Caption: "Hello"})
	require.NoError(t, err)
	require.Equal(t, "FH_abc", msg.RemoteHandle())
}

func TestSendVideoUploadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really mp4"), 0o644))

	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "42", r.FormValue("chat_id"))
		f, hdr, err := r.FormFile("video")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "clip.mp4", hdr.Filename)
		return map[string]interface{}{
			"message_id": 6,
			"chat":       map[string]interface{}{"id": 42},
			"video":      map[string]interface{}{"file_id": "FH_new"},
		}, nil
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	msg, err := tg.SendVideo(context.Background(), 42, PathRef(path), VideoOpts{Width: 720, Height: 1280})
	require.NoError(t, err)
	require.Equal(t, "FH_new", msg.RemoteHandle())
}

func TestSendMediaGroupMixedRefs(t *testing.T) {
	paths := []string{
		filepath.Join(t.TempDir(), "a.jpg"),
	}
	require.NoError(t, os.WriteFile(paths[0], []byte("jpg"), 0o644))

	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		require.Equal(t, "sendMediaGroup", method)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		var media []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("media")), &media))
		require.Len(t, media, 2)
		require.Equal(t, "attach://file0", media[0]["media"])
		require.Equal(t, "caption here", media[0]["caption"])
		require.Equal(t, "FH_vid", media[1]["media"])
		_, ok := media[1]["caption"]
		require.False(t, ok)
		return []map[string]interface{}{
			{"message_id": 1, "chat": map[string]interface{}{"id": 42}, "photo": []map[string]interface{}{{"file_id": "PH_small"}, {"file_id": "PH_big"}}},
			{"message_id": 2, "chat": map[string]interface{}{"id": 42}, "video": map[string]interface{}{"file_id": "FH_vid"}},
		}, nil
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	msgs, err := tg.SendMediaGroup(context.Background(), 42, []InputMedia{
		{Kind: "photo", Media: PathRef(paths[0]), Caption: "caption here"},
		{Kind: "video", Media: HandleRef("FH_vid")},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "PH_big", msgs[0].RemoteHandle())
	require.Equal(t, "FH_vid", msgs[1].RemoteHandle())
}

func TestGetUpdatesMapsMessageAndCallback(t *testing.T) {
	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		require.Equal(t, "getUpdates", method)
		return []map[string]interface{}{
			{
				"update_id": 100,
				"message": map[string]interface{}{
					"message_id": 9,
					"chat":       map[string]interface{}{"id": 42},
					"from":       map[string]interface{}{"id": 42, "username": "alice", "first_name": "A", "last_name": "L"},
					"text":       "https://v.douyin.com/xyz",
				},
			},
			{
				"update_id": 101,
				"callback_query": map[string]interface{}{
					"id":      "cbq1",
					"from":    map[string]interface{}{"id": 43, "username": "bob"},
					"data":    "notify:yes",
					"message": map[string]interface{}{"message_id": 10, "chat": map[string]interface{}{"id": 43}},
				},
			},
		}, nil
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	updates, err := tg.GetUpdates(context.Background(), 100, 30)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	require.NotNil(t, updates[0].Message)
	require.EqualValues(t, 42, updates[0].Message.From.ID)
	require.Equal(t, "A L", updates[0].Message.From.FullName())
	require.Equal(t, "https://v.douyin.com/xyz", updates[0].Message.Text)

	require.NotNil(t, updates[1].Callback)
	require.Equal(t, "notify:yes", updates[1].Callback.Data)
	require.Equal(t, 10, updates[1].Callback.MessageID)
}

func TestAPIErrorSurfacesDescription(t *testing.T) {
	srv := apiStub(t, func(method string, r *http.Request) (interface{}, *APIError) {
		return nil, &APIError{Code: 400, Description: "Bad Request: wrong file identifier/HTTP URL specified"}
	})
	defer srv.Close()

	tg := NewTelegramWithBase("tok", srv.URL)
	_, err := tg.SendVideo(context.Background(), 42, HandleRef("FH_dead"), VideoOpts{})
	require.Error(t, err)
	require.True(t, IsStaleHandle(err))
}

func TestIsStaleHandle(t *testing.T) {
	require.True(t, IsStaleHandle(&APIError{Code: 400, Description: "Bad Request: file reference expired"}))
	require.False(t, IsStaleHandle(&APIError{Code: 400, Description: "Bad Request: message is too long"}))
	require.False(t, IsStaleHandle(fmt.Errorf("plain network error")))
	require.True(t, IsStaleHandle(fmt.Errorf("send failed: %w", &APIError{Code: 400, Description: "wrong file identifier"})))
}
