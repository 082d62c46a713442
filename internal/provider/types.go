package provider

// 智谱 chat/completions 接口的请求与流式响应结构

type zhipuRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type zhipuChoice struct {
	Index        int         `json:"index"`
	Delta        *zhipuDelta `json:"delta,omitempty"`
	FinishReason string      `json:"finish_reason"`
}

type zhipuDelta struct {
	Role             string `json:"role,omitempty"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type zhipuStreamChunk struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []zhipuChoice `json:"choices"`
}

type zhipuErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
