package chat

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/clipboard"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/notify"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/tokens"
)

func configured() config.Settings {
	s := config.DefaultSettings()
	s.APIKey = "sk-test"
	s.Model = "gpt-x"
	return s
}

type fixture struct {
	session  *Session
	adapter  *provider.MockAdapter
	notifier *notify.Recorder
	copied   *string
}

func newFixture(t *testing.T, settings config.Settings, adapter *provider.MockAdapter) *fixture {
	t.Helper()
	if adapter == nil {
		adapter = &provider.MockAdapter{}
	}
	rec := &notify.Recorder{}
	copied := new(string)
	s := NewSession(
		WithSettings(settings),
		WithAdapter(adapter),
		WithNotifier(rec),
		WithEstimator(tokens.Func(func(text string) int { return len([]rune(text)) })),
		WithClipboard(clipboard.WriterFunc(func(_ context.Context, text string) error {
			*copied = text
			return nil
		})),
	)
	return &fixture{session: s, adapter: adapter, notifier: rec, copied: copied}
}

func send(t *testing.T, f *fixture, text string) *Turn {
	t.Helper()
	f.session.SetDraft(text)
	turn, err := f.session.Send(context.Background())
	require.NoError(t, err)
	require.NotNil(t, turn)
	return turn
}

func TestSendCompletesTurn(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"4"}})

	turn := send(t, f, "2+2?")
	assert.True(t, f.session.Loading(), "loading must be true right after a valid send")

	require.NoError(t, f.session.Wait(context.Background(), turn))

	snap := f.session.Snapshot()
	require.NotEmpty(t, snap.History)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "4"}, snap.History[len(snap.History)-1])
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Buffer)
	assert.Empty(t, snap.Draft)
}

func TestChunksThenCompleteCommitsFullText(t *testing.T) {
	cases := [][]string{
		{},
		{"a"},
		{"Hel", "lo", " ", "世界"},
		{"```go\n", "x := 1\n", "```"},
	}
	for _, chunks := range cases {
		f := newFixture(t, configured(), nil)
		f.session.SetDraft("hi")
		events := make(chan provider.Event, len(chunks)+1)
		for _, c := range chunks {
			events <- provider.Event{Kind: provider.EventChunk, Text: c}
		}
		full := strings.Join(chunks, "")
		events <- provider.Event{Kind: provider.EventComplete, Text: full}
		close(events)
		f.session.adapters = func(config.Provider) (provider.Adapter, error) {
			return provider.AdapterFunc(func(context.Context, provider.Request) (<-chan provider.Event, error) {
				return events, nil
			}), nil
		}

		turn, err := f.session.Send(context.Background())
		require.NoError(t, err)
		require.NoError(t, f.session.Wait(context.Background(), turn))

		snap := f.session.Snapshot()
		last := snap.History[len(snap.History)-1]
		assert.Equal(t, RoleAssistant, last.Role)
		assert.Equal(t, full, last.Content)
		assert.Empty(t, snap.Buffer)
	}
}

func TestApplyChunkUpdatesBuffer(t *testing.T) {
	hold := make(chan struct{})
	f := newFixture(t, configured(), &provider.MockAdapter{Hold: hold})
	turn := send(t, f, "hi")

	assert.True(t, f.session.Apply(turn.ID, provider.Event{Kind: provider.EventChunk, Text: "par"}))
	assert.True(t, f.session.Apply(turn.ID, provider.Event{Kind: provider.EventChunk, Text: "tial"}))
	snap := f.session.Snapshot()
	assert.Equal(t, "partial", snap.Buffer)
	assert.True(t, snap.Loading)
	assert.Equal(t, turn.ID, snap.TurnID)

	assert.True(t, f.session.Apply(turn.ID, provider.Event{Kind: provider.EventComplete, Text: "partial"}))
	assert.False(t, f.session.Loading())
	close(hold)
}

func TestSendWhileLoadingIsNoop(t *testing.T) {
	hold := make(chan struct{})
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"x"}, Hold: hold})

	turn := send(t, f, "first")
	before := f.session.Snapshot().History

	f.session.SetDraft("second")
	again, err := f.session.Send(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, before, f.session.Snapshot().History)
	assert.Equal(t, 1, f.adapter.Calls())

	close(hold)
	require.NoError(t, f.session.Wait(context.Background(), turn))
	assert.False(t, f.session.Loading())
	// 草稿在忙时保留，空闲后可以再发
	assert.Equal(t, "second", f.session.Snapshot().Draft)
}

func TestSendEmptyDraftIsNoop(t *testing.T) {
	f := newFixture(t, configured(), nil)
	f.session.SetDraft("   \n\t")
	turn, err := f.session.Send(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, turn)
	assert.Equal(t, 0, f.adapter.Calls())
	assert.Empty(t, f.session.Snapshot().History)
}

func TestSendMissingKeyReportsConfigurationError(t *testing.T) {
	settings := config.DefaultSettings()
	settings.APIKey = ""
	settings.Model = "gpt-x"
	f := newFixture(t, settings, nil)

	f.session.SetDraft("hello")
	turn, err := f.session.Send(context.Background())
	assert.Nil(t, turn)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"aiApiKey"}, cfgErr.Missing)

	assert.Equal(t, 0, f.adapter.Calls())
	assert.Len(t, f.notifier.Errors(), 1)
	snap := f.session.Snapshot()
	assert.Empty(t, snap.History)
	assert.False(t, snap.Loading)
	assert.Equal(t, "hello", snap.Draft)
}

func TestSendMissingModelReportsConfigurationError(t *testing.T) {
	settings := config.DefaultSettings()
	settings.APIKey = "sk"
	f := newFixture(t, settings, nil)

	f.session.SetDraft("hello")
	_, err := f.session.Send(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"aiModel"}, cfgErr.Missing)
	assert.Equal(t, 0, f.adapter.Calls())
}

func TestOutboundMessagesIncludeSystemPromptFirst(t *testing.T) {
	settings := configured()
	settings.SystemPrompt = "你是思源笔记助手"
	f := newFixture(t, settings, &provider.MockAdapter{Chunks: []string{"ok"}})

	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "one")))
	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "two")))

	reqs := f.adapter.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1]
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "你是思源笔记助手"},
		{Role: provider.RoleUser, Content: "one"},
		{Role: provider.RoleAssistant, Content: "ok"},
		{Role: provider.RoleUser, Content: "two"},
	}, last.Messages)
	assert.Equal(t, "gpt-x", last.Model)
	assert.Equal(t, "sk-test", last.APIKey)
	assert.Equal(t, 0.7, last.Temperature)
	assert.Equal(t, 2000, last.MaxTokens)
	assert.Equal(t, provider.OpenAIBaseURL, last.BaseURL)
}

func TestProviderErrorResetsAndPreservesHistory(t *testing.T) {
	boom := errors.New("rate limited")
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"par"}, Err: boom})

	turn := send(t, f, "hi")
	err := f.session.Wait(context.Background(), turn)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, boom)

	snap := f.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Buffer)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "hi"}}, snap.History)
	require.Len(t, f.notifier.Errors(), 1)
	assert.Contains(t, f.notifier.Errors()[0], "rate limited")
}

func TestSynchronousAdapterErrorResets(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{StreamErr: errors.New("bad request")})

	f.session.SetDraft("hi")
	turn, err := f.session.Send(context.Background())
	assert.Nil(t, turn)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)

	snap := f.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Buffer)
	assert.Len(t, snap.History, 1)
	assert.Len(t, f.notifier.Errors(), 1)
}

func TestPanickingAdapterResets(t *testing.T) {
	f := newFixture(t, configured(), nil)
	f.session.adapters = func(config.Provider) (provider.Adapter, error) {
		return provider.AdapterFunc(func(context.Context, provider.Request) (<-chan provider.Event, error) {
			panic("adapter exploded")
		}), nil
	}

	f.session.SetDraft("hi")
	turn, err := f.session.Send(context.Background())
	assert.Nil(t, turn)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "adapter exploded")
	assert.False(t, f.session.Loading())
}

func TestClosedStreamWithoutTerminalResets(t *testing.T) {
	f := newFixture(t, configured(), nil)
	f.session.adapters = func(config.Provider) (provider.Adapter, error) {
		return provider.AdapterFunc(func(context.Context, provider.Request) (<-chan provider.Event, error) {
			ch := make(chan provider.Event, 1)
			ch <- provider.Event{Kind: provider.EventChunk, Text: "x"}
			close(ch)
			return ch, nil
		}), nil
	}

	err := f.session.Wait(context.Background(), send(t, f, "hi"))
	assert.ErrorIs(t, err, provider.ErrNoTerminalEvent)
	assert.False(t, f.session.Loading())
	assert.Empty(t, f.session.Snapshot().Buffer)
}

func TestClearWithoutSystemPrompt(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"yo"}})
	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "hi")))

	f.session.Clear()
	snap := f.session.Snapshot()
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.Buffer)
	assert.Equal(t, []string{"对话已清空"}, f.notifier.Infos())
}

func TestClearKeepsSystemPrompt(t *testing.T) {
	settings := configured()
	settings.SystemPrompt = "be brief"
	f := newFixture(t, settings, &provider.MockAdapter{Chunks: []string{"yo"}})
	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "hi")))

	f.session.Clear()
	snap := f.session.Snapshot()
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "be brief"}}, snap.History)
	assert.Empty(t, snap.Buffer)
}

func TestClearDuringStreamCancelsTurn(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"x"}, Hold: hold})

	turn := send(t, f, "hi")
	f.session.Clear()

	snap := f.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Buffer)
	assert.Empty(t, snap.History)

	// 旧一轮的事件被忽略
	assert.False(t, f.session.Apply(turn.ID, provider.Event{Kind: provider.EventComplete, Text: "late"}))
	assert.Empty(t, f.session.Snapshot().History)
}

func TestCancel(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"x"}, Hold: hold})

	turn := send(t, f, "hi")
	f.session.Cancel()

	assert.False(t, f.session.Loading())
	assert.Contains(t, f.notifier.Infos(), "已停止生成")
	assert.False(t, f.session.Apply(turn.ID, provider.Event{Kind: provider.EventChunk, Text: "late"}))
	assert.Empty(t, f.session.Snapshot().Buffer)

	// 取消后可以立即再次发送
	f.session.adapters = func(config.Provider) (provider.Adapter, error) {
		return &provider.MockAdapter{Chunks: []string{"y"}}, nil
	}
	next := send(t, f, "again")
	require.NoError(t, f.session.Wait(context.Background(), next))
}

func TestWaitContextCancelled(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	f := newFixture(t, configured(), &provider.MockAdapter{Hold: hold})

	turn := send(t, f, "hi")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.session.Wait(ctx, turn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.session.Loading())
}

func TestRequestTimeout(t *testing.T) {
	settings := configured()
	settings.RequestTimeout = 1
	hold := make(chan struct{})
	defer close(hold)
	f := newFixture(t, settings, &provider.MockAdapter{Hold: hold})

	err := f.session.Wait(context.Background(), send(t, f, "hi"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.session.Loading())
	assert.Len(t, f.notifier.Errors(), 1)
}

func TestCopyAsMarkdown(t *testing.T) {
	settings := configured()
	settings.SystemPrompt = "secret system prompt"
	f := newFixture(t, settings, &provider.MockAdapter{Chunks: []string{"yo"}})
	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "hi")))

	require.NoError(t, f.session.CopyAsMarkdown(context.Background()))

	assert.Equal(t, "👤 **User**\n\nhi\n\n---\n\n🤖 **Assistant**\n\nyo", *f.copied)
	assert.NotContains(t, *f.copied, "secret system prompt")
	assert.Contains(t, f.notifier.Infos(), "已复制为 Markdown")
}

func TestCopyAsMarkdownFailureLeavesState(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"yo"}})
	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "hi")))
	before := f.session.Snapshot()

	f.session.clipboard = clipboard.WriterFunc(func(context.Context, string) error {
		return errors.New("no display")
	})
	err := f.session.CopyAsMarkdown(context.Background())

	var cerr *ClipboardError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, f.notifier.Errors(), 1)

	after := f.session.Snapshot()
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, before.Loading, after.Loading)
}

func TestTokenAccounting(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"four"}})

	f.session.SetDraft("abc")
	assert.Equal(t, 3, f.session.Snapshot().DraftTokens)
	assert.Equal(t, 0, f.session.Snapshot().HistoryTokens)

	turn, err := f.session.Send(context.Background())
	require.NoError(t, err)
	snap := f.session.Snapshot()
	assert.Equal(t, 0, snap.DraftTokens)
	assert.Equal(t, 3, snap.HistoryTokens)

	require.NoError(t, f.session.Wait(context.Background(), turn))
	assert.Equal(t, 7, f.session.Snapshot().HistoryTokens)

	f.session.Clear()
	assert.Equal(t, 0, f.session.Snapshot().HistoryTokens)
}

func TestObserversSeeTransitions(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"a", "b"}})

	var mu sync.Mutex
	var changes []Change
	var loadingAtSend bool
	unsubscribe := f.session.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, s.Change)
		if s.Change == ChangeSent {
			loadingAtSend = s.Loading
		}
	})

	require.NoError(t, f.session.Wait(context.Background(), send(t, f, "hi")))
	unsubscribe()
	f.session.SetDraft("ignored")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Change{ChangeDraft, ChangeSent, ChangeChunk, ChangeChunk, ChangeComplete}, changes)
	assert.True(t, loadingAtSend)
}

func TestSetSettingsUpdatesSystemMessage(t *testing.T) {
	f := newFixture(t, configured(), nil)
	assert.Empty(t, f.session.Snapshot().History)

	s := configured()
	s.SystemPrompt = "v1"
	f.session.SetSettings(s)
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "v1"}}, f.session.Snapshot().History)

	s.SystemPrompt = "v2"
	f.session.SetSettings(s)
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "v2"}}, f.session.Snapshot().History)

	s.SystemPrompt = ""
	f.session.SetSettings(s)
	assert.Empty(t, f.session.Snapshot().History)
}

func TestTurnIDsAreUnique(t *testing.T) {
	f := newFixture(t, configured(), &provider.MockAdapter{Chunks: []string{"x"}})
	a := send(t, f, "one")
	require.NoError(t, f.session.Wait(context.Background(), a))
	b := send(t, f, "two")
	require.NoError(t, f.session.Wait(context.Background(), b))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDefaultEstimatorDoesNotBlockSession(t *testing.T) {
	// 代理接受连接但从不应答
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Setenv("HTTPS_PROXY", "http://"+ln.Addr().String())
	t.Setenv("TIKTOKEN_CACHE_DIR", t.TempDir())

	s := NewSession(WithNotifier(&notify.Recorder{}))
	done := make(chan struct{})
	go func() {
		s.SetDraft("hello")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("SetDraft blocked on the token estimator")
	}

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- s.Snapshot() }()
	select {
	case snap := <-snapped:
		assert.Equal(t, "hello", snap.Draft)
		assert.Positive(t, snap.DraftTokens)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked on the session lock")
	}
}
