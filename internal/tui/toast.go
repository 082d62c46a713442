package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

const toastBuffer = 16

// ToastNotifier 把会话通知转成面板消息。通知可能来自任意 goroutine，
// 面板通过 listen 逐条取出。缓冲区满时丢弃新通知，不阻塞调用方。
type ToastNotifier struct {
	ch chan ToastMsg
}

func NewToastNotifier() *ToastNotifier {
	return &ToastNotifier{ch: make(chan ToastMsg, toastBuffer)}
}

func (t *ToastNotifier) Notify(msg string) {
	t.push(ToastMsg{Text: msg})
}

func (t *ToastNotifier) NotifyError(msg string) {
	t.push(ToastMsg{Text: msg, Error: true})
}

func (t *ToastNotifier) push(msg ToastMsg) {
	select {
	case t.ch <- msg:
	default:
	}
}

// listen 等待下一条通知
func (t *ToastNotifier) listen() tea.Cmd {
	return func() tea.Msg {
		return <-t.ch
	}
}
