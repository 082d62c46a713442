package config

import (
	"fmt"
	"strings"
)

// Provider 标识一个模型服务商
type Provider string

const (
	ProviderOpenAI      Provider = "openai"
	ProviderDeepSeek    Provider = "deepseek"
	ProviderMoonshot    Provider = "moonshot"
	ProviderSiliconFlow Provider = "siliconflow"
	ProviderZhipu       Provider = "zhipu"
	ProviderAnthropic   Provider = "anthropic"
	ProviderGemini      Provider = "gemini"
	ProviderOllama      Provider = "ollama"
	ProviderCustom      Provider = "custom"
)

const (
	DefaultProvider    = ProviderOpenAI
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

var knownProviders = []Provider{
	ProviderOpenAI,
	ProviderDeepSeek,
	ProviderMoonshot,
	ProviderSiliconFlow,
	ProviderZhipu,
	ProviderAnthropic,
	ProviderGemini,
	ProviderOllama,
	ProviderCustom,
}

// Providers 返回所有支持的服务商
func Providers() []Provider {
	out := make([]Provider, len(knownProviders))
	copy(out, knownProviders)
	return out
}

// Valid 判断服务商是否受支持
func (p Provider) Valid() bool {
	for _, known := range knownProviders {
		if p == known {
			return true
		}
	}
	return false
}

// RequiresAPIKey 本地服务商（ollama）不需要密钥
func (p Provider) RequiresAPIKey() bool {
	return p != ProviderOllama
}

// Settings 是对话面板使用的 AI 设置。
// 字段名与思源插件 settings.json 中的键保持一致。
type Settings struct {
	APIKey         string   `yaml:"aiApiKey" json:"aiApiKey"`
	Model          string   `yaml:"aiModel" json:"aiModel"`
	Provider       Provider `yaml:"aiProvider" json:"aiProvider"`
	SystemPrompt   string   `yaml:"aiSystemPrompt,omitempty" json:"aiSystemPrompt,omitempty"`
	Temperature    *float64 `yaml:"aiTemperature,omitempty" json:"aiTemperature,omitempty"`
	MaxTokens      int      `yaml:"aiMaxTokens,omitempty" json:"aiMaxTokens,omitempty"`
	CustomAPIURL   string   `yaml:"aiCustomApiUrl,omitempty" json:"aiCustomApiUrl,omitempty"`
	RequestTimeout int      `yaml:"aiRequestTimeout,omitempty" json:"aiRequestTimeout,omitempty"`
}

// DefaultSettings 返回填好默认值的设置
func DefaultSettings() Settings {
	s := Settings{}
	s.Normalize()
	return s
}

// Normalize 填充缺省字段。温度用指针区分“未设置”和 0。
func (s *Settings) Normalize() {
	s.Provider = Provider(strings.ToLower(strings.TrimSpace(string(s.Provider))))
	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	s.CustomAPIURL = strings.TrimSpace(s.CustomAPIURL)
	if s.Temperature == nil {
		t := DefaultTemperature
		s.Temperature = &t
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = DefaultMaxTokens
	}
}

// Validate 校验设置。缺少密钥或模型不在这里报错，发送时才报告。
func (s Settings) Validate() error {
	if !s.Provider.Valid() {
		names := make([]string, 0, len(knownProviders))
		for _, p := range Providers() {
			names = append(names, string(p))
		}
		return fmt.Errorf("不支持的服务商: %q (可选: %s)", s.Provider, strings.Join(names, ", "))
	}
	if t := s.TemperatureValue(); t < 0 || t > 2 {
		return fmt.Errorf("aiTemperature 必须在 0 到 2 之间: %v", t)
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("aiMaxTokens 不能为负数: %d", s.MaxTokens)
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("aiRequestTimeout 不能为负数: %d", s.RequestTimeout)
	}
	if s.Provider == ProviderCustom && s.CustomAPIURL == "" {
		return fmt.Errorf("自定义服务商需要设置 aiCustomApiUrl")
	}
	return nil
}

// TemperatureValue 返回温度，未设置时为默认值
func (s Settings) TemperatureValue() float64 {
	if s.Temperature == nil {
		return DefaultTemperature
	}
	return *s.Temperature
}

// MissingCredentials 返回发送前缺失的必填项
func (s Settings) MissingCredentials() []string {
	var missing []string
	if s.Provider.RequiresAPIKey() && s.APIKey == "" {
		missing = append(missing, "aiApiKey")
	}
	if s.Model == "" {
		missing = append(missing, "aiModel")
	}
	return missing
}
