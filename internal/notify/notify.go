// Package notify 提供用户通知的几种实现。通知是发出即忘的。
package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

type Notifier interface {
	Notify(msg string)
	NotifyError(msg string)
}

// Func 用两个函数组成 Notifier，任一为 nil 时忽略对应通知
type Func struct {
	OnNotify func(string)
	OnError  func(string)
}

func (f Func) Notify(msg string) {
	if f.OnNotify != nil {
		f.OnNotify(msg)
	}
}

func (f Func) NotifyError(msg string) {
	if f.OnError != nil {
		f.OnError(msg)
	}
}

// Multi 把通知转发给多个 Notifier
type Multi []Notifier

func (m Multi) Notify(msg string) {
	for _, n := range m {
		n.Notify(msg)
	}
}

func (m Multi) NotifyError(msg string) {
	for _, n := range m {
		n.NotifyError(msg)
	}
}

// Log 把通知写入日志
type Log struct{}

func (Log) Notify(msg string)      { logger.Info("通知", "message", msg) }
func (Log) NotifyError(msg string) { logger.Warn("错误通知", "message", msg) }

// Writer 把通知逐行写到 w，命令行模式下使用
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "ℹ %s\n", msg)
}

func (n *Writer) NotifyError(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "✗ %s\n", msg)
}

// Recorder 记录收到的通知，测试使用
type Recorder struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (r *Recorder) Notify(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *Recorder) NotifyError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *Recorder) Infos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}

func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
