package provider

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoTerminalEvent 表示流在没有 Complete 或 Error 的情况下关闭
var ErrNoTerminalEvent = errors.New("流意外结束")

// APIError 表示 API 请求错误，包含状态码和错误信息
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败 (状态码: %d): %s", e.StatusCode, e.Message)
}

// normalizeError 把 SDK 的错误类型统一成 *APIError
func normalizeError(err error) error {
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return &APIError{StatusCode: oaErr.HTTPStatusCode, Message: oaErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}
