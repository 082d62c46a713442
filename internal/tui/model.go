package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/export"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/render"
)

const (
	maxDisplayMessages = 50
	toastDuration      = 4 * time.Second
	headerHeight       = 1
	footerHeight       = 1
	streamCursor       = "█"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userLabel      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Render("你: ")
	assistantLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("AI: ")
	thinkingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	toastStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	toastErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Options 面板的可选依赖
type Options struct {
	Renderer *render.Terminal
	// Toasts 应当同时作为会话的通知器，会话通知才会显示在面板上
	Toasts    *ToastNotifier
	Reloads   <-chan config.Reload
	ExportDir string
	// KeepSettings 为 true 时配置文件变化不覆盖 AI 设置（设置来自思源内核）
	KeepSettings bool
}

// Model 是 Copilot 聊天面板。所有会话操作都在 Update 中进行，
// 会话的观察者回调因此也在同一个 goroutine 上执行。
type Model struct {
	session      *chat.Session
	renderer     *render.Terminal
	toasts       *ToastNotifier
	reloads      <-chan config.Reload
	exportDir    string
	keepSettings bool
	commands     *CommandParser
	keys         keyMap

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	help     help.Model

	snap         chat.Snapshot
	settings     config.Settings
	toast        ToastMsg
	toastSeq     int
	showCommands bool
	width        int
	height       int
	ready        bool

	ctx         context.Context    // 用于取消请求的context
	cancel      context.CancelFunc // 取消函数
	unsubscribe func()
}

// NewModel 创建绑定到 session 的面板
func NewModel(session *chat.Session, opts Options) *Model {
	if opts.Renderer == nil {
		opts.Renderer = render.NewTerminal("")
	}
	if opts.Toasts == nil {
		opts.Toasts = NewToastNotifier()
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = thinkingStyle

	ctx, cancel := context.WithCancel(context.Background())

	m := &Model{
		session:      session,
		renderer:     opts.Renderer,
		toasts:       opts.Toasts,
		reloads:      opts.Reloads,
		exportDir:    opts.ExportDir,
		keepSettings: opts.KeepSettings,
		commands:     NewCommandParser(),
		keys:         defaultKeyMap(),
		viewport:     newViewport(80, 20),
		textarea:     newInput(80),
		spinner:      sp,
		help:         help.New(),
		snap:         session.Snapshot(),
		settings:     session.Settings(),
		ctx:          ctx,
		cancel:       cancel,
	}
	m.textarea.SetValue(m.snap.Draft)
	m.unsubscribe = session.Subscribe(m.observe)
	return m
}

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	// 只保留翻页键，字母键留给输入框
	vp.KeyMap = viewport.KeyMap{
		PageDown:     key.NewBinding(key.WithKeys("pgdown")),
		PageUp:       key.NewBinding(key.WithKeys("pgup")),
		HalfPageDown: key.NewBinding(key.WithKeys("ctrl+d")),
		HalfPageUp:   key.NewBinding(key.WithKeys("ctrl+u")),
	}
	vp.MouseWheelEnabled = true
	return vp
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.toasts.listen(), m.listenReload())
}

// Close 取消进行中的请求并注销观察者
func (m *Model) Close() {
	m.session.Cancel()
	m.cancel()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			m.session.Cancel()
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.session.Clear()
			return m, nil
		case key.Matches(msg, m.keys.Copy):
			return m, m.copyCmd()
		case key.Matches(msg, m.keys.Export):
			return m, m.exportCmd("")
		case key.Matches(msg, m.keys.Send):
			// Enter 不换行，只发送
			return m, m.submit()
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case StreamEventMsg:
		return m, m.handleStreamEvent(msg)

	case spinner.TickMsg:
		if !m.snap.Loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ToastMsg:
		return m, tea.Batch(m.toasts.listen(), m.showToast(msg))

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = ToastMsg{}
		}
		return m, nil

	case ExportSuccessMsg:
		logger.Info("对话已导出", "path", msg.FilePath)
		return m, m.showToast(ToastMsg{Text: "已导出到 " + msg.FilePath})

	case ExportErrorMsg:
		logger.Warn("导出对话失败", "error", msg.Error)
		return m, m.showToast(ToastMsg{Text: fmt.Sprintf("导出失败: %v", msg.Error), Error: true})

	case CopyDoneMsg:
		// 结果已经由会话通知
		return m, nil

	case ConfigReloadMsg:
		return m, tea.Batch(m.listenReload(), m.applyReload(msg.Reload))

	case reloadClosedMsg:
		m.reloads = nil
		return m, nil

	case SettingsMsg:
		if msg.Err != nil {
			logger.Warn("加载 AI 设置失败", "error", msg.Err)
			return m, m.showToast(ToastMsg{Text: fmt.Sprintf("读取思源插件设置失败: %v", msg.Err), Error: true})
		}
		m.session.SetSettings(msg.Settings)
		return m, nil
	}

	before := m.textarea.Value()
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	if value := m.textarea.Value(); value != before {
		m.session.SetDraft(value)
		m.layout()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// observe 接收会话快照。输入变化只更新 token 统计，其余变化重绘消息区。
func (m *Model) observe(snap chat.Snapshot) {
	m.snap = snap
	switch snap.Change {
	case chat.ChangeDraft:
		return
	case chat.ChangeSettings:
		m.settings = m.session.Settings()
	}
	m.refreshViewport()
	switch snap.Change {
	case chat.ChangeSent, chat.ChangeChunk, chat.ChangeComplete:
		m.viewport.GotoBottom()
	}
}

// submit 处理 Enter：斜杠命令直接执行，其余内容作为消息发送。
// 发送失败（例如缺少配置）时保留输入框内容。
func (m *Model) submit() tea.Cmd {
	input := m.textarea.Value()
	if c := m.commands.Parse(input); c != nil {
		m.resetInput()
		return m.handleCommand(c)
	}

	m.session.SetDraft(input)
	turn, err := m.session.Send(m.ctx)
	if err != nil || turn == nil {
		return nil
	}
	m.showCommands = false
	m.resetInput()
	return tea.Batch(waitForEvent(turn), m.spinner.Tick)
}

func (m *Model) resetInput() {
	m.textarea.Reset()
	m.session.SetDraft("")
	m.layout()
}

func (m *Model) handleCommand(c *Command) tea.Cmd {
	switch c.Type {
	case CommandTypeClear:
		m.showCommands = false
		m.session.Clear()
	case CommandTypeCopy:
		return m.copyCmd()
	case CommandTypeExport:
		return m.exportCmd(c.Content)
	case CommandTypeCancel:
		m.session.Cancel()
	case CommandTypeHelp:
		m.showCommands = true
		m.refreshViewport()
		m.viewport.GotoBottom()
	}
	return nil
}

// waitForEvent 从一轮请求中读取下一个事件
func waitForEvent(turn *chat.Turn) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-turn.Events
		return StreamEventMsg{Turn: turn, Event: ev, Closed: !ok}
	}
}

// handleStreamEvent 应用一个事件，未结束时继续读取。
// 已取消的轮次仍然读到结束事件为止，事件被会话忽略。
func (m *Model) handleStreamEvent(msg StreamEventMsg) tea.Cmd {
	ev := msg.Event
	if msg.Closed {
		ev = provider.Event{Kind: provider.EventError, Err: provider.ErrNoTerminalEvent}
	}
	m.session.Apply(msg.Turn.ID, ev)
	if msg.Closed || ev.Terminal() {
		return nil
	}
	return waitForEvent(msg.Turn)
}

func (m *Model) copyCmd() tea.Cmd {
	ctx := m.ctx
	session := m.session
	return func() tea.Msg {
		return CopyDoneMsg{Error: session.CopyAsMarkdown(ctx)}
	}
}

// exportCmd 把对话写入文件，path 为空时使用默认文件名
func (m *Model) exportCmd(path string) tea.Cmd {
	if path == "" {
		path = filepath.Join(m.exportDir, export.DefaultFileName(time.Now()))
	}
	history := m.session.Snapshot().History
	return func() tea.Msg {
		if err := export.WriteFile(path, history); err != nil {
			return ExportErrorMsg{Error: err}
		}
		return ExportSuccessMsg{FilePath: path}
	}
}

func (m *Model) showToast(t ToastMsg) tea.Cmd {
	m.toastSeq++
	m.toast = t
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

func (m *Model) listenReload() tea.Cmd {
	ch := m.reloads
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		r, ok := <-ch
		if !ok {
			return reloadClosedMsg{}
		}
		return ConfigReloadMsg{Reload: r}
	}
}

func (m *Model) applyReload(r config.Reload) tea.Cmd {
	if r.Err != nil {
		logger.Warn("重新加载配置失败", "error", r.Err)
		return m.showToast(ToastMsg{Text: fmt.Sprintf("重新加载配置失败: %v", r.Err), Error: true})
	}
	if m.keepSettings || r.Config == nil {
		return nil
	}
	m.session.SetSettings(r.Config.Settings)
	logger.Info("配置已重新加载", "provider", r.Config.Provider, "model", r.Config.Model)
	return m.showToast(ToastMsg{Text: "配置已重新加载"})
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	if !m.ready {
		m.viewport = newViewport(width, 1)
		m.ready = true
	} else {
		m.viewport.Width = width
	}
	m.textarea.SetWidth(width)
	m.help.Width = width
	m.layout()
	m.refreshViewport()
}

// layout 按输入内容调整输入框高度，消息区占用剩余空间
func (m *Model) layout() {
	h := inputHeight(m.textarea.Value(), m.textarea.Width())
	m.textarea.SetHeight(h)
	if !m.ready {
		return
	}
	m.viewport.Height = max(m.height-headerHeight-h-footerHeight, 1)
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	bottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.formatMessages())
	if bottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) formatMessages() string {
	conv := m.snap.Conversation()
	var sb strings.Builder

	if len(conv) == 0 && !m.snap.Loading {
		sb.WriteString("欢迎使用思源 Copilot，输入问题后按 Enter 发送。\n")
		sb.WriteString(dimStyle.Render("输入 /help 查看可用命令"))
		sb.WriteString("\n\n")
	}

	start := 0
	if len(conv) > maxDisplayMessages {
		start = len(conv) - maxDisplayMessages
		sb.WriteString(dimStyle.Render(fmt.Sprintf(
			"... (显示最近 %d 条消息，共 %d 条) ...", maxDisplayMessages, len(conv))))
		sb.WriteString("\n\n")
	}

	width := m.viewport.Width
	for _, msg := range conv[start:] {
		switch msg.Role {
		case chat.RoleUser:
			sb.WriteString(userLabel)
			sb.WriteString(msg.Content)
		case chat.RoleAssistant:
			sb.WriteString(assistantLabel)
			sb.WriteString("\n")
			sb.WriteString(m.renderer.RenderCached(msg.Content, width))
		}
		sb.WriteString("\n\n")
	}

	if m.snap.Loading {
		sb.WriteString(assistantLabel)
		sb.WriteString("\n")
		if m.snap.Buffer != "" {
			sb.WriteString(m.renderer.Render(m.snap.Buffer, width))
		}
		sb.WriteString(streamCursor)
		sb.WriteString("\n")
	}

	if m.showCommands {
		sb.WriteString(dimStyle.Render(commandHelp))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m *Model) View() string {
	if !m.ready {
		return "\n  初始化中..."
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.textarea.View(),
		m.footerView(),
	)
}

func (m *Model) headerView() string {
	title := titleStyle.Render("思源 Copilot")
	model := m.settings.Model
	if model == "" {
		model = "未配置模型"
	}
	info := dimStyle.Render(fmt.Sprintf(" %s · %s", m.settings.Provider, model))
	tokens := dimStyle.Render(fmt.Sprintf("对话 ~%d tokens · 输入 ~%d tokens",
		m.snap.HistoryTokens, m.snap.DraftTokens))

	left := title + info
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(tokens)
	if gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + tokens
}

func (m *Model) footerView() string {
	if m.toast.Text != "" {
		if m.toast.Error {
			return toastErrStyle.Render("✗ " + m.toast.Text)
		}
		return toastStyle.Render("ℹ " + m.toast.Text)
	}
	if m.snap.Loading {
		return m.spinner.View() + thinkingStyle.Render(" AI正在思考中... ") + dimStyle.Render("Esc: 停止生成")
	}
	return m.help.View(m.keys)
}
