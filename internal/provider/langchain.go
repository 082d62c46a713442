package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"google.golang.org/api/option"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

// ModelFactory 按请求创建 langchaingo 模型
type ModelFactory func(ctx context.Context, req Request) (llms.Model, error)

// LangChainAdapter 通过 langchaingo 调用 anthropic、gemini 和 ollama
type LangChainAdapter struct {
	newModel ModelFactory
}

func NewLangChainAdapter(factory ModelFactory) *LangChainAdapter {
	return &LangChainAdapter{newModel: factory}
}

func (a *LangChainAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	model, err := a.newModel(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("创建模型失败: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	em := newEmitter(ctx)
	go func() {
		callOpts := []llms.CallOption{
			llms.WithTemperature(req.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if !em.chunk(string(chunk)) {
					return ctx.Err()
				}
				return nil
			}),
		}
		if req.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
		}

		resp, err := model.GenerateContent(ctx, content, callOpts...)
		if err != nil {
			logger.WithComponent("langchain").Warn("生成失败", "model", req.Model, "error", err)
			em.fail(err)
			return
		}

		// 不支持流式回调的模型只返回完整结果，作为一个分片补发
		if em.sent() == "" && len(resp.Choices) > 0 {
			if !em.chunk(resp.Choices[0].Content) {
				em.fail(ctx.Err())
				return
			}
		}
		em.complete()
	}()

	return em.out, nil
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// langChainModel 返回按服务商构造模型的工厂
func langChainModel(p config.Provider, client utils.Doer) ModelFactory {
	return func(ctx context.Context, req Request) (llms.Model, error) {
		switch p {
		case config.ProviderAnthropic:
			opts := []anthropic.Option{
				anthropic.WithToken(req.APIKey),
				anthropic.WithModel(req.Model),
				anthropic.WithHTTPClient(client),
			}
			if req.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(req.BaseURL))
			}
			return anthropic.New(opts...)
		case config.ProviderGemini:
			opts := []googleai.Option{
				googleai.WithAPIKey(req.APIKey),
				googleai.WithDefaultModel(req.Model),
			}
			if req.BaseURL != "" {
				opts = append(opts, withGeminiEndpoint(req.BaseURL))
			}
			return googleai.New(ctx, opts...)
		case config.ProviderOllama:
			opts := []ollama.Option{
				ollama.WithModel(req.Model),
				ollama.WithHTTPClient(ollamaHTTPClient(client)),
			}
			if req.BaseURL != "" {
				opts = append(opts, ollama.WithServerURL(req.BaseURL))
			}
			return ollama.New(opts...)
		default:
			return nil, fmt.Errorf("服务商 %q 不走 langchaingo", p)
		}
	}
}

// withGeminiEndpoint 把 gemini 请求发往自定义地址，地址不含 /v1beta。
// 不能同时设置 HTTP 客户端，否则 API Key 不会被带上。
func withGeminiEndpoint(endpoint string) googleai.Option {
	return func(o *googleai.Options) {
		o.ClientOptions = append(o.ClientOptions, option.WithEndpoint(endpoint))
	}
}

// ollamaHTTPClient ollama 只接受 *http.Client，其他 Doer 改用共享客户端
func ollamaHTTPClient(client utils.Doer) *http.Client {
	if hc, ok := client.(*http.Client); ok {
		return hc
	}
	return getSharedHTTPClient()
}
