package chat

import (
	"fmt"
	"strings"
)

// ConfigurationError 缺少发送所需的设置
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("请先在设置中配置 %s", strings.Join(e.Missing, "、"))
}

// ProviderError 模型服务调用失败，本轮对话中止，历史保留
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("AI 请求失败: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClipboardError 复制失败，不影响对话状态
type ClipboardError struct {
	Err error
}

func (e *ClipboardError) Error() string {
	return fmt.Sprintf("复制失败: %v", e.Err)
}

func (e *ClipboardError) Unwrap() error { return e.Err }
