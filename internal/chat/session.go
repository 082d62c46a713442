// Package chat 管理侧边栏的对话状态：历史、输入草稿、流式缓冲和加载标记。
//
// 所有状态变化都经过 Session 的方法，观察者只会看到变化完成后的快照。
// 同一时间只有一轮请求在进行，加载中再次发送不会有任何效果。
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/clipboard"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/notify"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/tokens"
)

// AdapterFactory 按服务商返回适配器
type AdapterFactory func(config.Provider) (provider.Adapter, error)

// Turn 是一轮进行中的请求。Events 按顺序产生事件，交给 Session.Apply 处理。
type Turn struct {
	ID     string
	Events <-chan provider.Event
}

type activeTurn struct {
	id     string
	cancel context.CancelFunc
}

type Session struct {
	mu       sync.Mutex
	settings config.Settings
	history  []Message
	draft    string
	buffer   strings.Builder
	loading  bool
	turn     *activeTurn

	historyTokens int
	draftTokens   int

	adapters  AdapterFactory
	estimator tokens.Estimator
	notifier  notify.Notifier
	clipboard clipboard.Writer
	observers observers
}

type Option func(*Session)

// WithAdapter 所有服务商都使用同一个适配器
func WithAdapter(a provider.Adapter) Option {
	return func(s *Session) {
		s.adapters = func(config.Provider) (provider.Adapter, error) { return a, nil }
	}
}

func WithEstimator(e tokens.Estimator) Option {
	return func(s *Session) { s.estimator = e }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

func WithClipboard(c clipboard.Writer) Option {
	return func(s *Session) { s.clipboard = c }
}

// WithSettings 设置初始 AI 设置，等价于创建后调用 SetSettings
func WithSettings(settings config.Settings) Option {
	return func(s *Session) { s.applySettingsLocked(settings) }
}

// NewSession 创建一个空会话。设置通常随后异步加载，通过 SetSettings 注入。
func NewSession(opts ...Option) *Session {
	s := &Session{
		settings: config.DefaultSettings(),
		adapters: func(p config.Provider) (provider.Adapter, error) {
			return provider.New(p)
		},
		estimator: tokens.New(),
		notifier:  notify.Log{},
		clipboard: clipboard.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recountLocked()
	return s
}

// Subscribe 注册观察者，返回取消注册的函数
func (s *Session) Subscribe(fn Observer) (unsubscribe func()) {
	return s.observers.subscribe(fn)
}

// SetSettings 更新设置。新的系统提示词从下一次发送开始生效。
func (s *Session) SetSettings(settings config.Settings) {
	s.mu.Lock()
	s.applySettingsLocked(settings)
	s.recountLocked()
	snap := s.snapshotLocked(ChangeSettings)
	s.mu.Unlock()

	s.observers.publish(snap)
}

func (s *Session) applySettingsLocked(settings config.Settings) {
	settings.Normalize()
	s.settings = settings

	prompt := settings.SystemPrompt
	switch {
	case len(s.history) > 0 && s.history[0].Role == RoleSystem:
		if prompt == "" {
			s.history = s.history[1:]
		} else {
			s.history[0] = Message{Role: RoleSystem, Content: prompt}
		}
	case len(s.history) == 0 && prompt != "":
		s.history = []Message{{Role: RoleSystem, Content: prompt}}
	}
}

// Settings 返回当前设置
func (s *Session) Settings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetDraft 更新输入草稿并重新估算 token
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	estimator := s.estimator
	same := s.draft == text
	s.mu.Unlock()
	if same {
		return
	}
	n := estimator.Estimate(text)

	s.mu.Lock()
	if s.draft == text {
		s.mu.Unlock()
		return
	}
	s.draft = text
	s.draftTokens = n
	snap := s.snapshotLocked(ChangeDraft)
	s.mu.Unlock()

	s.observers.publish(snap)
}

// Send 发送当前草稿。
//
// 草稿为空或正在加载时什么都不做，返回 nil, nil。缺少密钥或模型时通过通知报告
// *ConfigurationError，状态不变。适配器同步返回错误或 panic 时报告 *ProviderError，
// 用户消息保留在历史中，加载状态复位。
func (s *Session) Send(ctx context.Context) (*Turn, error) {
	s.mu.Lock()
	content := strings.TrimSpace(s.draft)
	if content == "" || s.loading {
		s.mu.Unlock()
		return nil, nil
	}

	settings := s.settings
	if missing := settings.MissingCredentials(); len(missing) > 0 {
		s.mu.Unlock()
		err := &ConfigurationError{Missing: missing}
		s.notifier.NotifyError(err.Error())
		return nil, err
	}

	s.history = append(s.history, Message{Role: RoleUser, Content: content})
	s.draft = ""
	s.loading = true
	s.buffer.Reset()
	s.recountLocked()

	turnCtx, cancel := turnContext(ctx, settings.RequestTimeout)
	id := uuid.NewString()
	s.turn = &activeTurn{id: id, cancel: cancel}
	req := provider.NewRequest(settings, s.outboundLocked())
	snap := s.snapshotLocked(ChangeSent)
	s.mu.Unlock()

	s.observers.publish(snap)

	logger.Debug("发送消息", "turn", id, "provider", settings.Provider, "model", settings.Model, "messages", len(req.Messages))

	events, err := s.startStream(turnCtx, settings.Provider, req)
	if err != nil {
		perr := &ProviderError{Err: err}
		logger.Error("调用模型失败", "turn", id, "error", err)
		s.finishTurn(id, ChangeError, func() {})
		s.notifier.NotifyError(perr.Error())
		return nil, perr
	}

	return &Turn{ID: id, Events: events}, nil
}

func turnContext(ctx context.Context, timeoutSeconds int) (context.Context, context.CancelFunc) {
	if timeoutSeconds > 0 {
		return context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	}
	return context.WithCancel(ctx)
}

// startStream 调用适配器，把同步错误和 panic 都转换成错误返回
func (s *Session) startStream(ctx context.Context, p config.Provider, req provider.Request) (events <-chan provider.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("适配器异常: %v", r)
		}
	}()

	adapter, err := s.adapters(p)
	if err != nil {
		return nil, err
	}
	events, err = adapter.Stream(ctx, req)
	if err == nil && events == nil {
		err = errors.New("适配器没有返回事件流")
	}
	return events, err
}

// outboundLocked 组装发给模型的消息：系统提示词（如有）加上去掉系统消息的历史
func (s *Session) outboundLocked() []provider.Message {
	msgs := make([]provider.Message, 0, len(s.history)+1)
	if s.settings.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: s.settings.SystemPrompt})
	}
	for _, m := range s.history {
		if m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	return msgs
}

// Apply 处理一个事件。事件不属于当前这一轮（已取消或已结束）时忽略并返回 false。
func (s *Session) Apply(turnID string, ev provider.Event) bool {
	switch ev.Kind {
	case provider.EventChunk:
		s.mu.Lock()
		if !s.isCurrentLocked(turnID) {
			s.mu.Unlock()
			return false
		}
		s.buffer.WriteString(ev.Text)
		snap := s.snapshotLocked(ChangeChunk)
		s.mu.Unlock()
		s.observers.publish(snap)
		return true

	case provider.EventComplete:
		return s.finishTurn(turnID, ChangeComplete, func() {
			s.history = append(s.history, Message{Role: RoleAssistant, Content: ev.Text})
		})

	case provider.EventError:
		perr := &ProviderError{Err: ev.Err}
		if !s.finishTurn(turnID, ChangeError, func() {}) {
			return false
		}
		logger.Warn("模型返回错误", "turn", turnID, "error", ev.Err)
		s.notifier.NotifyError(perr.Error())
		return true
	}
	return false
}

// finishTurn 结束当前这一轮：执行 commit，清空缓冲，复位加载状态
func (s *Session) finishTurn(turnID string, change Change, commit func()) bool {
	s.mu.Lock()
	if !s.isCurrentLocked(turnID) {
		s.mu.Unlock()
		return false
	}
	commit()
	s.turn.cancel()
	s.turn = nil
	s.loading = false
	s.buffer.Reset()
	s.recountLocked()
	snap := s.snapshotLocked(change)
	s.mu.Unlock()

	s.observers.publish(snap)
	return true
}

func (s *Session) isCurrentLocked(turnID string) bool {
	return s.turn != nil && s.turn.id == turnID
}

// Wait 读完一轮的所有事件并逐个应用，返回这一轮的结果。
// ctx 结束时取消这一轮。
func (s *Session) Wait(ctx context.Context, turn *Turn) error {
	if turn == nil {
		return nil
	}
	for {
		select {
		case ev, ok := <-turn.Events:
			if !ok {
				// 通道关闭却没有结束事件
				ev = provider.Event{Kind: provider.EventError, Err: provider.ErrNoTerminalEvent}
				s.Apply(turn.ID, ev)
				return &ProviderError{Err: ev.Err}
			}
			s.Apply(turn.ID, ev)
			switch ev.Kind {
			case provider.EventComplete:
				return nil
			case provider.EventError:
				return &ProviderError{Err: ev.Err}
			}
		case <-ctx.Done():
			s.cancelTurn(turn.ID)
			return ctx.Err()
		}
	}
}

// Cancel 中止进行中的请求，丢弃已收到的部分回复
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.turn == nil {
		s.mu.Unlock()
		return
	}
	id := s.turn.id
	s.mu.Unlock()

	if s.cancelTurn(id) {
		s.notifier.Notify("已停止生成")
	}
}

func (s *Session) cancelTurn(turnID string) bool {
	ok := s.finishTurn(turnID, ChangeCancelled, func() {})
	if ok {
		logger.Info("请求已取消", "turn", turnID)
	}
	return ok
}

// Clear 清空对话。配置了系统提示词时保留一条系统消息。进行中的请求会被取消。
func (s *Session) Clear() {
	s.mu.Lock()
	if s.turn != nil {
		s.turn.cancel()
		s.turn = nil
	}
	s.loading = false
	s.buffer.Reset()
	if prompt := s.settings.SystemPrompt; prompt != "" {
		s.history = []Message{{Role: RoleSystem, Content: prompt}}
	} else {
		s.history = []Message{}
	}
	s.recountLocked()
	snap := s.snapshotLocked(ChangeCleared)
	s.mu.Unlock()

	s.observers.publish(snap)
	s.notifier.Notify("对话已清空")
}

// CopyAsMarkdown 把对话以 Markdown 格式写入剪贴板。失败只通知，不影响对话状态。
func (s *Session) CopyAsMarkdown(ctx context.Context) error {
	s.mu.Lock()
	md := Markdown(s.history)
	s.mu.Unlock()

	if err := s.clipboard.Write(ctx, md); err != nil {
		cerr := &ClipboardError{Err: err}
		logger.Warn("复制到剪贴板失败", "error", err)
		s.notifier.NotifyError(cerr.Error())
		return cerr
	}
	s.notifier.Notify("已复制为 Markdown")
	return nil
}

// Snapshot 返回当前状态的副本
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

// Loading 报告是否有请求在进行
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Session) snapshotLocked(change Change) Snapshot {
	snap := Snapshot{
		Change:        change,
		Timestamp:     time.Now(),
		History:       append([]Message(nil), s.history...),
		Draft:         s.draft,
		Buffer:        s.buffer.String(),
		Loading:       s.loading,
		SystemPrompt:  s.settings.SystemPrompt,
		HistoryTokens: s.historyTokens,
		DraftTokens:   s.draftTokens,
	}
	if s.turn != nil {
		snap.TurnID = s.turn.id
	}
	return snap
}

// recountLocked 在历史或草稿变化后重新估算 token
func (s *Session) recountLocked() {
	total := 0
	for _, m := range s.history {
		total += s.estimator.Estimate(m.Content)
	}
	s.historyTokens = total
	s.draftTokens = s.estimator.Estimate(s.draft)
}
