package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Send    key.Binding
	Newline key.Binding
	Cancel  key.Binding
	Clear   key.Binding
	Copy    key.Binding
	Export  key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Send:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("Enter", "发送")),
		Newline: newlineKeys,
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("Esc", "停止生成")),
		Clear:   key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("Ctrl+L", "清空")),
		Copy:    key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("Ctrl+Y", "复制")),
		Export:  key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("Ctrl+S", "导出")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("Ctrl+C", "退出")),
	}
}

// ShortHelp 实现 help.KeyMap
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Newline, k.Cancel, k.Clear, k.Copy, k.Export, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
