package main

import (
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/tui"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "copilot",
	Short:         "思源笔记 AI Copilot",
	Long:          `在终端中与 AI 对话的思源笔记 Copilot 面板，支持 OpenAI 兼容服务、智谱、Anthropic、Gemini 和 Ollama。`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runPanel,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认 <配置目录>/siyuan-copilot/config.yaml)")
	rootCmd.AddCommand(askCmd, initCmd, versionCmd)
}

func runPanel(cmd *cobra.Command, _ []string) error {
	if !isTerminal() {
		return errors.New("面板需要在交互式终端中运行，单次提问请使用 copilot ask")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	toasts := tui.NewToastNotifier()
	session := chat.NewSession(
		chat.WithSettings(a.cfg.Settings),
		chat.WithNotifier(a.notifier(toasts)),
	)

	reloads, err := config.Watch(ctx, a.cfgPath)
	if err != nil {
		logger.Warn("监听配置文件失败", "error", err)
	}

	model := tui.NewModel(session, tui.Options{
		Toasts:       toasts,
		Reloads:      reloads,
		KeepSettings: a.useKernelSettings(),
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	if a.useKernelSettings() {
		// 插件设置异步加载，面板先用本地配置打开
		go func() {
			s, err := a.kernelSettings(ctx)
			p.Send(tui.SettingsMsg{Settings: s, Err: err})
		}()
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}
