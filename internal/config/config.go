package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	configFileName   = "config.yaml"
	DefaultSiYuanURL = "http://127.0.0.1:6806"
	DefaultLogLevel  = "info"
)

type Config struct {
	Settings `yaml:",inline"`
	SiYuan   SiYuanConfig `yaml:"siyuan"`
	Log      LogConfig    `yaml:"log"`
}

// SiYuanConfig 思源内核连接配置
type SiYuanConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// UseKernelSettings 为 true 时从内核读取插件 settings.json，覆盖本地 AI 设置
	UseKernelSettings bool `yaml:"useKernelSettings"`
	// PushNotifications 为 true 时把通知推送到思源界面
	PushNotifications bool `yaml:"pushNotifications"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{Settings: DefaultSettings()}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Settings.Normalize()
	if c.SiYuan.URL == "" {
		c.SiYuan.URL = DefaultSiYuanURL
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate 校验整份配置
func (c *Config) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("未知日志级别: %q", c.Log.Level)
	}
	return nil
}

// LoadConfig 从默认位置加载配置，文件不存在时返回默认配置
func LoadConfig() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(configPath)
}

// Load 从指定路径加载配置并校验
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return &config, nil
}

// SaveConfig 保存到默认位置
func SaveConfig(config *Config) error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	return Save(configPath, config)
}

// Save 保存到指定路径。文件包含密钥，权限为 0600。
func Save(configPath string, config *Config) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Path 返回默认配置文件路径
func Path() (string, error) {
	return getConfigPath()
}

func getConfigPath() (string, error) {
	configDir, err := utils.GetConfigDir()
	if err != nil {
		return "", fmt.Errorf("获取配置目录失败: %w", err)
	}
	return filepath.Join(configDir, configFileName), nil
}
