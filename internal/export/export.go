// Package export 把对话导出为 Markdown 或 HTML 文件。
package export

import (
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/russross/blackfriday/v2"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/chat"
)

// Markdown 与“复制为 Markdown”使用相同格式
func Markdown(history []chat.Message) string {
	return chat.Markdown(history)
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s
</body>
</html>
`

// HTML 把对话渲染成独立的 HTML 页面
func HTML(history []chat.Message, title string) string {
	body := blackfriday.Run(
		[]byte(chat.Markdown(history)),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
	)
	return fmt.Sprintf(htmlTemplate, html.EscapeString(title), bytes.TrimSpace(body))
}

// WriteFile 按扩展名选择格式写入文件：.html/.htm 写 HTML，其余写 Markdown
func WriteFile(path string, history []chat.Message) error {
	var data string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		data = HTML(history, title)
	default:
		data = Markdown(history) + "\n"
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建导出目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	return nil
}

// DefaultFileName 返回按时间命名的导出文件名
func DefaultFileName(now time.Time) string {
	return fmt.Sprintf("copilot-chat-%s.md", now.Format("20060102-150405"))
}
