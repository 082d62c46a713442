// Package tokens 估算文本的 token 数，仅用于界面提示。
package tokens

import (
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

const defaultEncoding = "cl100k_base"

func init() {
	// 编码表随二进制分发，不在运行时下载
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Estimator 把文本映射为非负整数，相同输入结果相同
type Estimator interface {
	Estimate(text string) int
}

// Func 让普通函数满足 Estimator
type Func func(string) int

func (f Func) Estimate(text string) int { return f(text) }

// Counter 优先使用 tiktoken 编码，编码不可用时退回启发式估算。
// 编码在创建时于后台解析，Estimate 会等待解析结束。
type Counter struct {
	encoding string
	once     sync.Once
	encoder  *tiktoken.Tiktoken
}

// New 返回使用 cl100k_base 编码的估算器
func New() *Counter {
	return NewWithEncoding(defaultEncoding)
}

// NewWithEncoding 指定 tiktoken 编码名
func NewWithEncoding(encoding string) *Counter {
	c := &Counter{encoding: encoding}
	go c.once.Do(c.load)
	return c
}

func (c *Counter) load() {
	enc, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		logger.Warn("tiktoken 编码不可用，改用估算", "encoding", c.encoding, "error", err)
		return
	}
	c.encoder = enc
}

// Estimate 返回 text 的 token 数
func (c *Counter) Estimate(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(c.load)
	if c.encoder == nil {
		return Heuristic(text)
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// Heuristic 粗略估算：中日韩字符每个算一个 token，其余按单词数与四分之一字符数取大者
func Heuristic(text string) int {
	var cjk int
	var other strings.Builder
	for _, r := range text {
		if isCJK(r) {
			cjk++
			other.WriteByte(' ')
			continue
		}
		other.WriteRune(r)
	}

	rest := other.String()
	wordEstimate := len(strings.Fields(rest))
	charEstimate := (len(strings.TrimSpace(rest)) + 3) / 4
	if wordEstimate > charEstimate {
		return cjk + wordEstimate
	}
	return cjk + charEstimate
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
