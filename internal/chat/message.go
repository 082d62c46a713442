package chat

import (
	"strings"

	"github.com/KuiyueRO/siyuan-plugin-copilot/internal/provider"
)

type Role string

const (
	RoleSystem    Role = provider.RoleSystem
	RoleUser      Role = provider.RoleUser
	RoleAssistant Role = provider.RoleAssistant
)

// Message 是对话历史中的一条消息，加入历史后不再修改
type Message struct {
	Role    Role
	Content string
}

// Conversation 去掉系统消息，返回界面上展示的对话
func Conversation(history []Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

const markdownSeparator = "\n\n---\n\n"

// Markdown 把对话导出为 Markdown：每条消息一个带角色标题的块，块之间用分隔线隔开，
// 系统消息不导出。
func Markdown(history []Message) string {
	blocks := make([]string, 0, len(history))
	for _, m := range Conversation(history) {
		blocks = append(blocks, roleHeading(m.Role)+"\n\n"+m.Content)
	}
	return strings.Join(blocks, markdownSeparator)
}

func roleHeading(r Role) string {
	if r == RoleUser {
		return "👤 **User**"
	}
	return "🤖 **Assistant**"
}
