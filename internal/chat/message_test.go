package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownExport(t *testing.T) {
	history := []Message{
		{Role: RoleSystem, Content: "hidden"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "yo"},
	}

	md := Markdown(history)
	assert.Contains(t, md, "👤 **User**")
	assert.Contains(t, md, "🤖 **Assistant**")
	assert.Contains(t, md, "hi")
	assert.Contains(t, md, "yo")
	assert.Contains(t, md, "\n\n---\n\n")
	assert.NotContains(t, md, "hidden")
	assert.Equal(t, 1, strings.Count(md, "---"))
}

func TestMarkdownEmpty(t *testing.T) {
	assert.Equal(t, "", Markdown(nil))
	assert.Equal(t, "", Markdown([]Message{{Role: RoleSystem, Content: "only system"}}))
}

func TestConversationFiltersSystem(t *testing.T) {
	got := Conversation([]Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
	})
	assert.Equal(t, []Message{{Role: RoleUser, Content: "u"}}, got)
}
