package tui

import (
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
)

// Message types for tea.Model

// StreamEventMsg 是从一轮请求的事件通道读到的一个事件。Closed 表示通道已关闭。
type StreamEventMsg struct {
	Turn   *chat.Turn
	Event  provider.Event
	Closed bool
}

// ToastMsg 是一条要在面板底部显示的通知
type ToastMsg struct {
	Text  string
	Error bool
}

type toastExpiredMsg struct {
	seq int
}

type ExportSuccessMsg struct {
	FilePath string
}

type ExportErrorMsg struct {
	Error error
}

type CopyDoneMsg struct {
	Error error
}

// ConfigReloadMsg 在配置文件变化后送达
type ConfigReloadMsg struct {
	Reload config.Reload
}

type reloadClosedMsg struct{}

// SettingsMsg 携带异步加载的 AI 设置，例如从思源内核读取的插件设置
type SettingsMsg struct {
	Settings config.Settings
	Err      error
}
