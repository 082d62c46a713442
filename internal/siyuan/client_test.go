package siyuan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
)

type kernel struct {
	mu       sync.Mutex
	pushed   []string
	settings string
	auth     []string
}

func (k *kernel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notification/pushMsg", k.push("msg"))
	mux.HandleFunc("/api/notification/pushErrMsg", k.push("err"))
	mux.HandleFunc("/api/file/getFile", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Path string }
		json.NewDecoder(r.Body).Decode(&req)
		if req.Path != SettingsPath || k.settings == "" {
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"code":404,"msg":"file does not exist","data":null}`))
			return
		}
		w.Write([]byte(k.settings))
	})
	return mux
}

func (k *kernel) push(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req pushRequest
		json.Unmarshal(body, &req)
		k.mu.Lock()
		k.pushed = append(k.pushed, kind+":"+req.Msg)
		k.auth = append(k.auth, r.Header.Get("Authorization"))
		k.mu.Unlock()
		w.Write([]byte(`{"code":0,"msg":"","data":{"id":"abc"}}`))
	}
}

func (k *kernel) snapshot() ([]string, []string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.pushed...), append([]string(nil), k.auth...)
}

func TestPushMsg(t *testing.T) {
	k := &kernel{}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	c := NewClient(server.URL, "tok", WithHTTPClient(server.Client()))
	require.NoError(t, c.PushMsg(context.Background(), "对话已清空", 3000))
	require.NoError(t, c.PushErrMsg(context.Background(), "失败", 3000))

	pushed, auth := k.snapshot()
	assert.Equal(t, []string{"msg:对话已清空", "err:失败"}, pushed)
	assert.Equal(t, []string{"Token tok", "Token tok"}, auth)
}

func TestKernelErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1,"msg":"auth failed"}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, "", WithHTTPClient(server.Client())).PushMsg(context.Background(), "x", 0)
	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, -1, kerr.Code)
	assert.Equal(t, "auth failed", kerr.Msg)
}

func TestLoadSettings(t *testing.T) {
	k := &kernel{settings: `{"aiApiKey":"sk-1","aiModel":"deepseek-chat","aiProvider":"deepseek","aiSystemPrompt":"简洁回答"}`}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	s, err := NewClient(server.URL, "", WithHTTPClient(server.Client())).LoadSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-1", s.APIKey)
	assert.Equal(t, config.ProviderDeepSeek, s.Provider)
	assert.Equal(t, "简洁回答", s.SystemPrompt)
	assert.Equal(t, config.DefaultTemperature, s.TemperatureValue())
	assert.Equal(t, config.DefaultMaxTokens, s.MaxTokens)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	k := &kernel{}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	_, err := NewClient(server.URL, "", WithHTTPClient(server.Client())).LoadSettings(context.Background())
	var kerr *KernelError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, 404, kerr.Code)
}

func TestLoadSettingsInvalid(t *testing.T) {
	k := &kernel{settings: `{"aiProvider":"custom","aiModel":"m"}`}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	_, err := NewClient(server.URL, "", WithHTTPClient(server.Client())).LoadSettings(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestLoadSettingsMalformed(t *testing.T) {
	k := &kernel{settings: `{"aiProvider":`}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	_, err := NewClient(server.URL, "", WithHTTPClient(server.Client())).LoadSettings(context.Background())
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestNotifierPushesInBackground(t *testing.T) {
	k := &kernel{}
	server := httptest.NewServer(k.handler())
	defer server.Close()

	n := NewNotifier(NewClient(server.URL, "", WithHTTPClient(server.Client())))
	n.Notify("hello")
	n.NotifyError("oops")

	assert.Eventually(t, func() bool {
		pushed, _ := k.snapshot()
		return len(pushed) == 2
	}, 2*time.Second, 10*time.Millisecond)
	pushed, _ := k.snapshot()
	assert.ElementsMatch(t, []string{"msg:hello", "err:oops"}, pushed)
}
