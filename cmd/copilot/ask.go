package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/export"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/notify"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/render"
)

var (
	askHTML   bool
	askOutput string
)

var askCmd = &cobra.Command{
	Use:   "ask <问题>",
	Short: "单次提问，把回答流式输出到标准输出",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askHTML, "html", false, "回答结束后输出思源面板使用的 HTML 片段，而不是流式文本")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "", "把本次对话导出到文件（.md 或 .html）")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	session := chat.NewSession(
		chat.WithSettings(a.settings(ctx)),
		chat.WithNotifier(a.notifier(notify.NewWriter(cmd.ErrOrStderr()))),
	)

	printed := 0
	unsubscribe := session.Subscribe(func(snap chat.Snapshot) {
		if askHTML || snap.Change != chat.ChangeChunk {
			return
		}
		fmt.Fprint(out, snap.Buffer[printed:])
		printed = len(snap.Buffer)
	})
	defer unsubscribe()

	session.SetDraft(strings.Join(args, " "))
	turn, err := session.Send(ctx)
	if err != nil {
		return err
	}
	if turn == nil {
		return errors.New("问题不能为空")
	}

	if err := session.Wait(ctx, turn); err != nil {
		if printed > 0 {
			fmt.Fprintln(out)
		}
		if errors.Is(err, context.Canceled) {
			return errors.New("已取消")
		}
		return err
	}

	history := session.Snapshot().History
	if askHTML {
		fmt.Fprintln(out, render.Inline(history[len(history)-1].Content))
	} else {
		fmt.Fprintln(out)
	}

	if askOutput != "" {
		if err := export.WriteFile(askOutput, history); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "ℹ 已导出到 %s\n", askOutput)
	}
	return nil
}
