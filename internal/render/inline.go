// Package render 把消息文本转换为显示格式。
package render

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	fencedCode  = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`\\n]+)`")
	bold        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italic      = regexp.MustCompile(`\*([^*\n]+?)\*`)
	placeholder = regexp.MustCompile("\x00(\\d+)\x00")
)

// Inline 把粗体、斜体、行内代码、代码块和换行转换成 HTML 标记。
// 已提交的消息和正在流式输出的内容都走这里。不做转义。
// 代码中的内容原样保留，只转换换行。
func Inline(text string) string {
	var code []string
	stash := func(html string) string {
		code = append(code, html)
		return "\x00" + strconv.Itoa(len(code)-1) + "\x00"
	}

	out := fencedCode.ReplaceAllStringFunc(text, func(m string) string {
		body := fencedCode.FindStringSubmatch(m)[2]
		return stash("<pre><code>" + body + "</code></pre>")
	})
	out = inlineCode.ReplaceAllStringFunc(out, func(m string) string {
		return stash("<code>" + m[1:len(m)-1] + "</code>")
	})
	out = bold.ReplaceAllString(out, "<strong>$1</strong>")
	out = italic.ReplaceAllString(out, "<em>$1</em>")

	out = placeholder.ReplaceAllStringFunc(out, func(m string) string {
		i, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || i >= len(code) {
			return m
		}
		return code[i]
	})
	return strings.ReplaceAll(out, "\n", "<br>")
}
