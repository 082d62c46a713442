package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

// ZhipuAdapter 调用智谱 GLM 的 SSE 流式接口
type ZhipuAdapter struct {
	client utils.Doer
}

func NewZhipuAdapter(client utils.Doer) *ZhipuAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &ZhipuAdapter{client: client}
}

func (a *ZhipuAdapter) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = ZhipuBaseURL
	}
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(baseURL, "/"))

	body, err := json.Marshal(zhipuRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", req.APIKey))
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	em := newEmitter(ctx)
	go func() {
		resp, err := a.client.Do(httpReq)
		if err != nil {
			em.fail(fmt.Errorf("请求失败: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			em.fail(readAPIError(resp))
			return
		}

		if err := readSSE(resp.Body, em); err != nil {
			em.fail(err)
			return
		}
		em.complete()
	}()

	return em.out, nil
}

// readSSE 逐行读取 "data: " 事件直到 [DONE] 或 EOF
func readSSE(body io.Reader, em *emitter) error {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("读取流式响应失败: %w", err)
		}
		eof := err == io.EOF

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return nil
			}

			var chunk zhipuStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Debug("跳过无法解析的数据行", "data", data, "error", err)
			} else if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
				if !em.chunk(chunk.Choices[0].Delta.Content) {
					return em.ctx.Err()
				}
			}
		}

		if eof {
			return nil
		}
	}
}

func readAPIError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(bodyBytes))

	var parsed zhipuErrorBody
	if json.Unmarshal(bodyBytes, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
