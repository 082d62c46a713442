package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"time"
)

// RetryConfig 配置重试参数
type RetryConfig struct {
	// MaxRetries 最大重试次数（不含首次请求）
	MaxRetries int
	// InitialDelay 初始延迟时间
	InitialDelay time.Duration
	// MaxDelay 最大延迟时间
	MaxDelay time.Duration
	// BackoffMultiplier 退避倍数
	BackoffMultiplier float64
	// RetryableStatusCodes 需要重试的HTTP状态码
	RetryableStatusCodes []int
	// RetryableErrors 判断传输层错误是否需要重试，nil 表示不重试
	RetryableErrors func(error) bool
}

// DefaultRetryConfig 返回默认的重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,      // 408
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
		RetryableErrors: IsTransientError,
	}
}

// IsTransientError 上下文取消和超时不重试，其余网络错误都重试
func IsTransientError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// RetryableHTTPClient 带重试机制的HTTP客户端
// 只在拿到响应头之前重试；响应体（包括流式响应）原样交给调用方。
type RetryableHTTPClient struct {
	client Doer
	config *RetryConfig
}

// NewRetryableHTTPClient 创建新的带重试机制的HTTP客户端
func NewRetryableHTTPClient(client Doer, config *RetryConfig) *RetryableHTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryableHTTPClient{
		client: client,
		config: config,
	}
}

// Do 执行HTTP请求，支持重试
func (r *RetryableHTTPClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := snapshotBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, r.calculateDelay(attempt)); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptReq := req.Clone(ctx)
		if body != nil {
			attemptReq.Body = io.NopCloser(bytes.NewReader(body))
			attemptReq.ContentLength = int64(len(body))
		}

		resp, err := r.client.Do(attemptReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			if !r.shouldRetryError(err) {
				break
			}
			continue
		}

		if !r.shouldRetryStatus(resp.StatusCode) || attempt == r.config.MaxRetries {
			return resp, nil
		}

		// 需要重试，丢弃本次响应体
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("after %d retries: %w", r.config.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间：initialDelay * multiplier^(attempt-1)，不超过 MaxDelay
func (r *RetryableHTTPClient) calculateDelay(attempt int) time.Duration {
	return backoff(r.config, attempt)
}

// shouldRetryStatus 判断是否应该重试某个状态码
func (r *RetryableHTTPClient) shouldRetryStatus(statusCode int) bool {
	return slices.Contains(r.config.RetryableStatusCodes, statusCode)
}

// shouldRetryError 判断是否应该重试某个错误
func (r *RetryableHTTPClient) shouldRetryError(err error) bool {
	if r.config.RetryableErrors == nil {
		return false
	}
	return r.config.RetryableErrors(err)
}

// WithRetry 为函数添加重试机制，ctx 取消时立即返回
func WithRetry(ctx context.Context, fn func() error, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoff(config, attempt)); err != nil {
				return fmt.Errorf("after %d retries: %w", attempt-1, err)
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			break
		}
	}

	return fmt.Errorf("after %d retries: %w", config.MaxRetries, lastErr)
}

func backoff(config *RetryConfig, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// snapshotBody 读出请求体，便于每次重试重新发送
func snapshotBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("读取请求体失败: %w", err)
	}
	return data, nil
}
