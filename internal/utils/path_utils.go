package utils

import (
	"os"
	"path/filepath"
)

// AppName 配置目录名
const AppName = "siyuan-copilot"

// GetConfigDir 获取跨平台的配置目录
// Windows: %APPDATA%/siyuan-copilot
// Linux/macOS: $XDG_CONFIG_HOME/siyuan-copilot 或 ~/.config/siyuan-copilot
func GetConfigDir() (string, error) {
	// 自定义配置目录优先
	if configHome := os.Getenv("SIYUAN_COPILOT_CONFIG_HOME"); configHome != "" {
		return configHome, nil
	}

	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, AppName), nil
	}

	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, AppName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// GetConfigPathForDisplay 获取用于显示的配置路径字符串
func GetConfigPathForDisplay() string {
	dir, err := GetConfigDir()
	if err != nil {
		return filepath.Join("~", ".config", AppName, "config.yaml")
	}
	return filepath.Join(dir, "config.yaml")
}

// MaskSecret 隐藏密钥中间部分，用于日志和界面显示
func MaskSecret(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
