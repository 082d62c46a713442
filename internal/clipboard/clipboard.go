// Package clipboard 写入系统剪贴板。
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

// ErrUnavailable 表示没有可用的剪贴板
var ErrUnavailable = errors.New("剪贴板不可用")

type Writer interface {
	Write(ctx context.Context, text string) error
}

// WriterFunc 让普通函数满足 Writer
type WriterFunc func(ctx context.Context, text string) error

func (f WriterFunc) Write(ctx context.Context, text string) error { return f(ctx, text) }

// System 优先使用系统剪贴板，不可用时（例如 SSH 会话）通过 OSC52 转义序列交给终端
type System struct {
	// Terminal 是 OSC52 序列的输出目标，默认为标准错误
	Terminal io.Writer
}

func (s System) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !clipboard.Unsupported {
		err := clipboard.WriteAll(text)
		if err == nil {
			return nil
		}
		logger.Debug("系统剪贴板写入失败，改用 OSC52", "error", err)
	}
	return s.writeOSC52(text)
}

func (s System) writeOSC52(text string) error {
	out := s.Terminal
	if out == nil {
		out = os.Stderr
	}
	seq := osc52.New(text)
	if os.Getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if os.Getenv("STY") != "" {
		seq = seq.Screen()
	}
	if _, err := seq.WriteTo(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
