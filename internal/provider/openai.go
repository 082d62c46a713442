package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

// OpenAIAdapter 适用于所有兼容 OpenAI chat/completions 协议的服务
// （openai、deepseek、moonshot、siliconflow 和自定义地址）。
type OpenAIAdapter struct {
	httpClient utils.Doer
}

func NewOpenAIAdapter(httpClient utils.Doer) *OpenAIAdapter {
	return &OpenAIAdapter{httpClient: httpClient}
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	if req.BaseURL == "" {
		return nil, fmt.Errorf("缺少接口地址")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("缺少模型名称")
	}

	cfg := openai.DefaultConfig(req.APIKey)
	cfg.BaseURL = req.BaseURL
	if a.httpClient != nil {
		cfg.HTTPClient = a.httpClient
	}
	client := openai.NewClientWithConfig(cfg)

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: openAITemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	em := newEmitter(ctx)
	go func() {
		log := logger.WithComponent("openai")

		stream, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			log.Warn("创建流失败", "base_url", req.BaseURL, "model", req.Model, "error", err)
			em.fail(normalizeError(err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				em.complete()
				return
			}
			if err != nil {
				em.fail(normalizeError(err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if !em.chunk(resp.Choices[0].Delta.Content) {
				em.fail(ctx.Err())
				return
			}
		}
	}()

	return em.out, nil
}

// openAITemperature go-openai 会省略值为 0 的 temperature，用最小正数代替
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
