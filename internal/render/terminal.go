package render

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/logger"
)

const (
	minWrapWidth = 20
	cacheMaxSize = 500
)

// Terminal 用 glamour 把 Markdown 渲染成终端文本。
// 渲染器按宽度缓存，宽度变化时重建；已提交消息的渲染结果按内容哈希缓存，
// 流式输出时不必每次重新渲染整段历史。
type Terminal struct {
	mu       sync.Mutex
	width    int
	renderer *glamour.TermRenderer
	style    string
	cache    map[string]string
}

// NewTerminal 创建终端渲染器。style 为空时按终端背景自动选择，设置了 NO_COLOR 时不输出颜色。
func NewTerminal(style string) *Terminal {
	if style == "" && os.Getenv("NO_COLOR") != "" {
		style = "notty"
	}
	return &Terminal{style: style, cache: make(map[string]string)}
}

// Render 渲染 content，不使用缓存。glamour 失败时原样返回文本。
func (t *Terminal) Render(content string, width int) string {
	if content == "" {
		return ""
	}
	width = clampWidth(width)

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renderLocked(content, width)
}

// RenderCached 与 Render 相同，但结果按内容和宽度缓存
func (t *Terminal) RenderCached(content string, width int) string {
	if content == "" {
		return ""
	}
	width = clampWidth(width)
	key := cacheKey(content, width)

	t.mu.Lock()
	defer t.mu.Unlock()
	if out, ok := t.cache[key]; ok {
		return out
	}
	out := t.renderLocked(content, width)
	if len(t.cache) >= cacheMaxSize {
		// 超过容量直接清空，重新渲染的代价很小
		t.cache = make(map[string]string)
	}
	t.cache[key] = out
	return out
}

func (t *Terminal) renderLocked(content string, width int) string {
	// glamour 会把 tab 展开成 8 个空格
	content = strings.ReplaceAll(content, "\t", "  ")

	if t.renderer == nil || t.width != width {
		r, err := glamour.NewTermRenderer(t.styleOption(), glamour.WithWordWrap(width))
		if err != nil {
			logger.Warn("创建 Markdown 渲染器失败", "error", err)
			return content
		}
		t.renderer = r
		t.width = width
	}

	out, err := t.renderer.Render(content)
	if err != nil {
		logger.Warn("Markdown 渲染失败", "error", err)
		return content
	}
	return strings.TrimSpace(out)
}

func (t *Terminal) styleOption() glamour.TermRendererOption {
	if t.style == "" {
		return glamour.WithAutoStyle()
	}
	return glamour.WithStandardStyle(t.style)
}

func clampWidth(width int) int {
	if width < minWrapWidth {
		return minWrapWidth
	}
	return width
}

// cacheKey 使用 FNV-1a 哈希加宽度作为缓存键
func cacheKey(content string, width int) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("%x:%d:%d", h.Sum64(), len(content), width)
}
