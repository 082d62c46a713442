package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/notify"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/siyuan"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

// kernelRetry 内核可能晚于面板启动，读取插件设置时按退避重试
var kernelRetry = &utils.RetryConfig{
	MaxRetries:        2,
	InitialDelay:      500 * time.Millisecond,
	MaxDelay:          2 * time.Second,
	BackoffMultiplier: 2.0,
	RetryableErrors: func(err error) bool {
		var kerr *siyuan.KernelError
		return utils.IsTransientError(err) &&
			!errors.As(err, &kerr) &&
			!errors.Is(err, siyuan.ErrInvalidSettings)
	},
}

// app 是各个子命令共用的运行环境
type app struct {
	cfg     *config.Config
	cfgPath string
	kernel  *siyuan.Client
}

func loadApp() (*app, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if cfgFile == "" {
		cfg, err = config.LoadConfig()
	} else {
		cfg, err = config.Load(path)
	}
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Info("配置已加载",
		"path", path,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"apiKey", utils.MaskSecret(cfg.APIKey),
	)

	a := &app{cfg: cfg, cfgPath: path}
	if cfg.SiYuan.UseKernelSettings || cfg.SiYuan.PushNotifications {
		a.kernel = siyuan.NewClientFromConfig(cfg.SiYuan)
	}
	return a, nil
}

// configPath 返回 --config 指定的路径，未指定时返回默认位置
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.Path()
}

func (a *app) close() {
	logger.Close()
}

// useKernelSettings 报告 AI 设置是否来自思源内核中的插件设置
func (a *app) useKernelSettings() bool {
	return a.kernel != nil && a.cfg.SiYuan.UseKernelSettings
}

// settings 返回本次运行使用的 AI 设置。从内核读取失败时退回本地配置。
func (a *app) settings(ctx context.Context) config.Settings {
	if !a.useKernelSettings() {
		return a.cfg.Settings
	}
	s, err := a.kernelSettings(ctx)
	if err != nil {
		logger.Warn("读取思源插件设置失败，使用本地配置", "error", err)
		return a.cfg.Settings
	}
	return s
}

// kernelSettings 从内核读取插件设置。连接失败时重试，内核明确报错或设置无效时不重试。
func (a *app) kernelSettings(ctx context.Context) (config.Settings, error) {
	var s config.Settings
	err := utils.WithRetry(ctx, func() error {
		var err error
		s, err = a.kernel.LoadSettings(ctx)
		return err
	}, kernelRetry)
	return s, err
}

// notifier 组合通知渠道：日志、调用方给出的界面渠道，以及可选的思源内核推送
func (a *app) notifier(ui notify.Notifier) notify.Notifier {
	n := notify.Multi{notify.Log{}, ui}
	if a.kernel != nil && a.cfg.SiYuan.PushNotifications {
		n = append(n, siyuan.NewNotifier(a.kernel))
	}
	return n
}
