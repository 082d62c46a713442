package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/mattn/go-runewidth"
)

const (
	minInputHeight = 1
	maxInputHeight = 8
)

// newlineKeys 在输入框中插入换行。终端通常无法区分 Shift+Enter 和 Enter，
// 所以同时接受 Alt+Enter 和 Ctrl+J。
var newlineKeys = key.NewBinding(
	key.WithKeys("shift+enter", "alt+enter", "ctrl+j"),
	key.WithHelp("shift+enter", "换行"),
)

func newInput(width int) textarea.Model {
	ta := textarea.New()
	ta.Placeholder = "输入你的问题... (Enter 发送，Shift+Enter 换行)"
	ta.Prompt = "┃ "
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetWidth(width)
	ta.SetHeight(minInputHeight)
	ta.MaxHeight = maxInputHeight
	// Enter 由面板处理，只有带修饰键的 Enter 才换行
	ta.KeyMap.InsertNewline = newlineKeys
	return ta
}

// inputHeight 计算输入框需要的行数：按宽度折行后的行数，限制在 [1, 8]。
// width <= 0 时不折行。
func inputHeight(value string, width int) int {
	rows := 0
	for _, line := range strings.Split(value, "\n") {
		w := runewidth.StringWidth(line)
		if width <= 0 || w <= width {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return min(max(rows, minInputHeight), maxInputHeight)
}
