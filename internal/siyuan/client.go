// Package siyuan 调用思源笔记内核的 HTTP 接口。
package siyuan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/config"
	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/utils"
)

// SettingsPath 是插件设置在工作空间中的位置
const SettingsPath = "/data/storage/petal/siyuan-plugin-copilot/settings.json"

// ErrInvalidSettings 插件设置无法解析或未通过校验
var ErrInvalidSettings = errors.New("插件设置无效")

// KernelError 内核返回 code != 0
type KernelError struct {
	Code int
	Msg  string
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("思源内核返回错误 (code: %d): %s", e.Code, e.Msg)
}

type kernelResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	baseURL string
	token   string
	http    utils.Doer
}

type Option func(*Client)

// WithHTTPClient 替换默认的带重试客户端
func WithHTTPClient(d utils.Doer) Option {
	return func(c *Client) { c.http = d }
}

// NewClient 创建内核客户端。token 为空时不发送鉴权头。
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		retry := utils.DefaultRetryConfig()
		retry.MaxRetries = 2
		retry.InitialDelay = 200 * time.Millisecond
		c.http = utils.NewRetryableHTTPClient(&http.Client{Timeout: 10 * time.Second}, retry)
	}
	return c
}

// NewClientFromConfig 使用配置文件中的连接信息
func NewClientFromConfig(cfg config.SiYuanConfig, opts ...Option) *Client {
	return NewClient(cfg.URL, cfg.Token, opts...)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求思源内核失败: %w", err)
	}
	return resp, nil
}

// call 发送请求并解析标准的 {code, msg, data} 响应
func (c *Client) call(ctx context.Context, path string, payload any, out any) error {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("思源内核请求失败 (状态码: %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var kr kernelResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return fmt.Errorf("解析内核响应失败: %w", err)
	}
	if kr.Code != 0 {
		return &KernelError{Code: kr.Code, Msg: kr.Msg}
	}
	if out != nil && len(kr.Data) > 0 && string(kr.Data) != "null" {
		if err := json.Unmarshal(kr.Data, out); err != nil {
			return fmt.Errorf("解析内核数据失败: %w", err)
		}
	}
	return nil
}

type pushRequest struct {
	Msg     string `json:"msg"`
	Timeout int    `json:"timeout"`
}

// PushMsg 在思源界面显示一条消息，timeout 为毫秒
func (c *Client) PushMsg(ctx context.Context, msg string, timeout int) error {
	return c.call(ctx, "/api/notification/pushMsg", pushRequest{Msg: msg, Timeout: timeout}, nil)
}

// PushErrMsg 在思源界面显示一条错误消息
func (c *Client) PushErrMsg(ctx context.Context, msg string, timeout int) error {
	return c.call(ctx, "/api/notification/pushErrMsg", pushRequest{Msg: msg, Timeout: timeout}, nil)
}

// GetFile 读取工作空间中的文件。文件存在时内核直接返回文件内容，
// 出错时返回 JSON 格式的 {code, msg}。
func (c *Client) GetFile(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.post(ctx, "/api/file/getFile", map[string]string{"path": path})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取文件内容失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var kr kernelResponse
		if json.Unmarshal(data, &kr) == nil && kr.Code != 0 {
			return nil, &KernelError{Code: kr.Code, Msg: kr.Msg}
		}
		return nil, fmt.Errorf("读取文件失败 (状态码: %d)", resp.StatusCode)
	}
	return data, nil
}

// LoadSettings 读取插件保存在工作空间中的 AI 设置，填充默认值并校验
func (c *Client) LoadSettings(ctx context.Context) (config.Settings, error) {
	data, err := c.GetFile(ctx, SettingsPath)
	if err != nil {
		return config.Settings{}, err
	}

	var s config.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return config.Settings{}, fmt.Errorf("%w: 解析失败: %w", ErrInvalidSettings, err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s, nil
}
