package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
)

var (
	Version = "dev"
)

func main() {
	// 添加panic恢复
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "程序发生panic: %v\n", r)
			fmt.Fprintln(os.Stderr, "堆栈跟踪:")
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !notified(err) {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// notified 报告错误是否已经由会话通知过用户
func notified(err error) bool {
	var (
		cfgErr  *chat.ConfigurationError
		provErr *chat.ProviderError
		clipErr *chat.ClipboardError
	)
	return errors.As(err, &cfgErr) || errors.As(err, &provErr) || errors.As(err, &clipErr)
}
