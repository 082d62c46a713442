// Package provider 封装各家模型服务的流式对话接口。
//
// 所有适配器遵守同一约定：Chunk 事件按生成顺序到达，随后恰好一个
// Complete 或 Error 事件，然后通道关闭。Complete 的文本等于之前所有
// Chunk 文本的拼接。ctx 取消会以 Error 事件结束。
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是发送给模型的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次流式对话请求
type Request struct {
	Model       string
	APIKey      string
	BaseURL     string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

type EventKind int

const (
	EventChunk EventKind = iota
	EventComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event 是流中的一个事件。Chunk 和 Complete 使用 Text，Error 使用 Err。
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Terminal 判断事件是否结束了流
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// Adapter 执行一次流式对话。返回的错误表示请求无法发出，
// 发出之后的失败都以 Error 事件送达。
type Adapter interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// AdapterFunc 让普通函数满足 Adapter
type AdapterFunc func(ctx context.Context, req Request) (<-chan Event, error)

func (f AdapterFunc) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	return f(ctx, req)
}

// 各服务商默认地址
const (
	OpenAIBaseURL      = "https://api.openai.com/v1"
	DeepSeekBaseURL    = "https://api.deepseek.com/v1"
	MoonshotBaseURL    = "https://api.moonshot.cn/v1"
	SiliconFlowBaseURL = "https://api.siliconflow.cn/v1"
	ZhipuBaseURL       = "https://open.bigmodel.cn/api/paas/v4"
	OllamaBaseURL      = "http://localhost:11434"
)

// BaseURL 返回服务商的接口地址。custom 非空时总是优先，
// anthropic 和 gemini 为空表示使用 SDK 默认地址。
func BaseURL(p config.Provider, custom string) string {
	if custom != "" {
		return custom
	}
	switch p {
	case config.ProviderOpenAI:
		return OpenAIBaseURL
	case config.ProviderDeepSeek:
		return DeepSeekBaseURL
	case config.ProviderMoonshot:
		return MoonshotBaseURL
	case config.ProviderSiliconFlow:
		return SiliconFlowBaseURL
	case config.ProviderZhipu:
		return ZhipuBaseURL
	case config.ProviderOllama:
		return OllamaBaseURL
	default:
		return ""
	}
}

// NewRequest 由设置和消息列表构造请求
func NewRequest(s config.Settings, messages []Message) Request {
	return Request{
		Model:       s.Model,
		APIKey:      s.APIKey,
		BaseURL:     BaseURL(s.Provider, s.CustomAPIURL),
		Messages:    messages,
		Temperature: s.TemperatureValue(),
		MaxTokens:   s.MaxTokens,
	}
}

type options struct {
	httpClient utils.Doer
}

type Option func(*options)

// WithHTTPClient 替换默认的带重试 HTTP 客户端
func WithHTTPClient(client utils.Doer) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// New 按服务商返回适配器
func New(p config.Provider, opts ...Option) (Adapter, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = utils.NewRetryableHTTPClient(getSharedHTTPClient(), utils.DefaultRetryConfig())
	}

	switch p {
	case config.ProviderOpenAI, config.ProviderDeepSeek, config.ProviderMoonshot,
		config.ProviderSiliconFlow, config.ProviderCustom:
		return NewOpenAIAdapter(o.httpClient), nil
	case config.ProviderZhipu:
		return NewZhipuAdapter(o.httpClient), nil
	case config.ProviderAnthropic, config.ProviderGemini, config.ProviderOllama:
		return NewLangChainAdapter(langChainModel(p, o.httpClient)), nil
	default:
		return nil, fmt.Errorf("不支持的服务商: %q", p)
	}
}

// 全局共享的HTTP客户端，实现连接池化
var (
	sharedHTTPClient *http.Client
	httpClientOnce   sync.Once
)

// getSharedHTTPClient 返回共享的HTTP客户端实例。
// 流式响应可能持续很久，所以只限制响应头超时，整体超时交给 ctx。
func getSharedHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		sharedHTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
				MaxConnsPerHost:       50,
				ResponseHeaderTimeout: 60 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		}
	})
	return sharedHTTPClient
}
