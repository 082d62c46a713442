package tui

import (
	"regexp"
	"strings"
)

// CommandType 命令类型
type CommandType int

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeClear
	CommandTypeCopy
	CommandTypeExport
	CommandTypeCancel
	CommandTypeHelp
)

// Command 解析后的命令
type Command struct {
	Type    CommandType
	Raw     string
	Content string
}

// CommandParser 解析输入框里的斜杠命令，其余输入当作普通消息发送
type CommandParser struct {
	patterns map[CommandType][]*regexp.Regexp
	order    []CommandType
}

// NewCommandParser 创建新的命令解析器
func NewCommandParser() *CommandParser {
	parser := &CommandParser{patterns: make(map[CommandType][]*regexp.Regexp)}
	parser.initializePatterns()
	return parser
}

func (p *CommandParser) add(t CommandType, exprs ...string) {
	for _, expr := range exprs {
		p.patterns[t] = append(p.patterns[t], regexp.MustCompile(expr))
	}
	p.order = append(p.order, t)
}

// initializePatterns 初始化正则表达式模式，命令必须以 / 开头避免误触
func (p *CommandParser) initializePatterns() {
	p.add(CommandTypeClear, `(?i)^/clear$`, `^/清空对话$`)
	p.add(CommandTypeCopy, `(?i)^/copy$`, `^/复制$`)
	p.add(CommandTypeExport, `(?i)^/export(?:\s+(.+))?$`, `^/导出(?:\s+(.+))?$`)
	p.add(CommandTypeCancel, `(?i)^/(?:cancel|stop)$`, `^/停止$`)
	p.add(CommandTypeHelp, `(?i)^/help$`, `^/帮助$`)
}

// Parse 解析命令字符串，不是命令时返回 nil
func (p *CommandParser) Parse(input string) *Command {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil
	}

	for _, t := range p.order {
		for _, pattern := range p.patterns[t] {
			matches := pattern.FindStringSubmatch(input)
			if matches == nil {
				continue
			}
			cmd := &Command{Type: t, Raw: input}
			if len(matches) > 1 {
				cmd.Content = strings.TrimSpace(matches[1])
			}
			return cmd
		}
	}
	return nil
}

// commandHelp 是 /help 显示的内容
const commandHelp = `可用命令：
  /clear         清空对话
  /copy          以 Markdown 格式复制对话
  /export [路径]  导出对话，.html 后缀导出为 HTML
  /cancel        停止生成
  /help          显示本帮助`
