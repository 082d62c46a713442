package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/clipboard"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/notify"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/render"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/tokens"
)

type panel struct {
	model    *Model
	session  *chat.Session
	adapter  *provider.MockAdapter
	notifier *notify.Recorder
}

func newPanel(t *testing.T, settings config.Settings, adapter *provider.MockAdapter) *panel {
	t.Helper()
	if adapter == nil {
		adapter = &provider.MockAdapter{}
	}
	rec := &notify.Recorder{}
	toasts := NewToastNotifier()
	session := chat.NewSession(
		chat.WithSettings(settings),
		chat.WithAdapter(adapter),
		chat.WithNotifier(notify.Multi{toasts, rec}),
		chat.WithEstimator(tokens.Func(func(text string) int { return len([]rune(text)) })),
		chat.WithClipboard(clipboard.WriterFunc(func(context.Context, string) error { return nil })),
	)
	m := NewModel(session, Options{
		Renderer:  render.NewTerminal("notty"),
		Toasts:    toasts,
		ExportDir: t.TempDir(),
	})
	t.Cleanup(m.Close)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return &panel{model: m, session: session, adapter: adapter, notifier: rec}
}

func configured() config.Settings {
	s := config.DefaultSettings()
	s.APIKey = "sk-test"
	s.Model = "gpt-4o-mini"
	return s
}

func (p *panel) typeText(text string) {
	p.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func (p *panel) press(msg tea.KeyMsg) tea.Cmd {
	_, cmd := p.model.Update(msg)
	return cmd
}

// runCmd 执行命令并展开批量命令。超时未返回的命令（计时器、等待通知）被忽略。
func runCmd(cmd tea.Cmd, timeout time.Duration) []tea.Msg {
	if cmd == nil {
		return nil
	}
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		if batch, ok := msg.(tea.BatchMsg); ok {
			var out []tea.Msg
			for _, c := range batch {
				out = append(out, runCmd(c, timeout)...)
			}
			return out
		}
		return []tea.Msg{msg}
	case <-time.After(timeout):
		return nil
	}
}

// pump 把流式事件送回 Update，直到这一轮结束
func (p *panel) pump(cmd tea.Cmd) {
	for cmd != nil {
		var next []tea.Cmd
		for _, msg := range runCmd(cmd, 200*time.Millisecond) {
			switch msg := msg.(type) {
			case StreamEventMsg:
				_, c := p.model.Update(msg)
				if c != nil {
					next = append(next, c)
				}
			case ExportSuccessMsg, ExportErrorMsg, CopyDoneMsg:
				p.model.Update(msg)
			}
		}
		if len(next) == 0 {
			return
		}
		cmd = tea.Batch(next...)
	}
}

func TestInputHeight(t *testing.T) {
	tests := []struct {
		name  string
		value string
		width int
		want  int
	}{
		{"empty", "", 40, 1},
		{"single line", "hello", 40, 1},
		{"two lines", "a\nb", 40, 2},
		{"wrapped", strings.Repeat("x", 100), 40, 3},
		{"wide runes wrap", strings.Repeat("中", 30), 40, 2},
		{"clamped", strings.Repeat("line\n", 20), 40, maxInputHeight},
		{"no width", strings.Repeat("x", 500), 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inputHeight(tt.value, tt.width))
		})
	}
}

func TestEnterSendsMessage(t *testing.T) {
	p := newPanel(t, configured(), &provider.MockAdapter{Chunks: []string{"你好", "，世界"}})

	p.typeText("你好")
	cmd := p.press(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, p.model.textarea.Value(), "input must be cleared after a send")
	assert.True(t, p.session.Loading())

	p.pump(cmd)

	snap := p.session.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Content: "你好"}, snap.History[0])
	assert.Equal(t, chat.Message{Role: chat.RoleAssistant, Content: "你好，世界"}, snap.History[1])
	assert.False(t, snap.Loading)
	assert.Contains(t, p.model.viewport.View(), "你好，世界")
}

func TestNewlineKeysDoNotSend(t *testing.T) {
	keys := map[string]tea.KeyMsg{
		"alt+enter": {Type: tea.KeyEnter, Alt: true},
		"ctrl+j":    {Type: tea.KeyCtrlJ},
	}

	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			p := newPanel(t, configured(), nil)

			p.typeText("第一行")
			p.press(key)
			p.typeText("第二行")

			assert.Equal(t, "第一行\n第二行", p.model.textarea.Value())
			assert.Equal(t, 2, p.model.textarea.Height())
			assert.Empty(t, p.adapter.Requests(), "newline must not send")
			assert.Equal(t, "第一行\n第二行", p.session.Snapshot().Draft)
		})
	}
}

func TestEnterWithoutCredentialsKeepsInput(t *testing.T) {
	p := newPanel(t, config.DefaultSettings(), nil)

	p.typeText("hello")
	cmd := p.press(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.Equal(t, "hello", p.model.textarea.Value())
	assert.Empty(t, p.adapter.Requests())
	require.Len(t, p.notifier.Errors(), 1)
	assert.Contains(t, p.notifier.Errors()[0], "aiApiKey")
}

func TestEnterOnBlankInputIsIgnored(t *testing.T) {
	p := newPanel(t, configured(), nil)

	p.typeText("   ")
	cmd := p.press(tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, cmd)
	assert.Empty(t, p.adapter.Requests())
	assert.Empty(t, p.session.Snapshot().Conversation())
}

func TestEscCancelsStream(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	p := newPanel(t, configured(), &provider.MockAdapter{Chunks: []string{"部分"}, Hold: hold})

	p.typeText("问题")
	cmd := p.press(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.True(t, p.session.Loading())

	p.press(tea.KeyMsg{Type: tea.KeyEsc})

	snap := p.session.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Buffer)
	assert.Contains(t, p.notifier.Infos(), "已停止生成")

	// 已取消的轮次的剩余事件被忽略
	p.pump(cmd)
	assert.Len(t, p.session.Snapshot().History, 1)
}

func TestSlashCommands(t *testing.T) {
	p := newPanel(t, configured(), &provider.MockAdapter{Chunks: []string{"答"}})

	p.typeText("问")
	p.pump(p.press(tea.KeyMsg{Type: tea.KeyEnter}))
	require.Len(t, p.session.Snapshot().History, 2)

	p.typeText("/help")
	p.press(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, p.model.viewport.View(), "/clear")

	p.typeText("/clear")
	p.press(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, p.session.Snapshot().History)
	assert.Empty(t, p.model.textarea.Value())
	assert.Contains(t, p.notifier.Infos(), "对话已清空")
	assert.Len(t, p.adapter.Requests(), 1, "commands must not reach the model")
}

func TestCopyKey(t *testing.T) {
	p := newPanel(t, configured(), nil)

	p.pump(p.press(tea.KeyMsg{Type: tea.KeyCtrlY}))

	assert.Contains(t, p.notifier.Infos(), "已复制为 Markdown")
}

func TestExportCommand(t *testing.T) {
	p := newPanel(t, configured(), &provider.MockAdapter{Chunks: []string{"答"}})
	p.typeText("问")
	p.pump(p.press(tea.KeyMsg{Type: tea.KeyEnter}))

	p.pump(p.press(tea.KeyMsg{Type: tea.KeyCtrlS}))

	assert.Contains(t, p.model.toast.Text, "已导出到")
	assert.False(t, p.model.toast.Error)
}

func TestConfigReload(t *testing.T) {
	p := newPanel(t, configured(), nil)

	cfg := config.Default()
	cfg.Settings = configured()
	cfg.SystemPrompt = "你是思源笔记助手"
	p.model.Update(ConfigReloadMsg{Reload: config.Reload{Config: cfg}})

	assert.Equal(t, "你是思源笔记助手", p.session.Settings().SystemPrompt)
	assert.Equal(t, "配置已重新加载", p.model.toast.Text)
}

func TestViewShowsTokenCounts(t *testing.T) {
	p := newPanel(t, configured(), nil)

	p.typeText("abcd")

	view := p.model.View()
	assert.Contains(t, view, "输入 ~4 tokens")
	assert.Contains(t, view, "gpt-4o-mini")
}

func TestToastNotifierNeverBlocks(t *testing.T) {
	n := NewToastNotifier()
	for i := 0; i < toastBuffer*2; i++ {
		n.Notify("msg")
	}
	n.NotifyError("boom")

	msg := n.listen()()
	assert.Equal(t, ToastMsg{Text: "msg"}, msg)
}

func TestSettingsMsgHydratesSession(t *testing.T) {
	p := newPanel(t, config.DefaultSettings(), nil)

	p.model.Update(SettingsMsg{Settings: configured()})
	assert.Equal(t, "gpt-4o-mini", p.session.Settings().Model)
	assert.Contains(t, p.model.View(), "gpt-4o-mini")

	p.model.Update(SettingsMsg{Err: assert.AnError})
	assert.True(t, p.model.toast.Error)
	assert.Equal(t, "gpt-4o-mini", p.session.Settings().Model, "a failed load must keep the current settings")
}
