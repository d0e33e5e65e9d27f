package message

import (
	"encoding/json"
	"testing"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/role"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInputText(t *testing.T) {
	msg := NewInputText(role.User, "hello")

	assert.Equal(t, role.User, msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, content.InputText{Value: "hello"}, msg.Content[0])
}

func TestRequest_TextContent(t *testing.T) {
	msg := NewRequest(role.Assistant,
		content.Text{Text: "hello "},
		content.ToolCall{ID: "1", Name: "search"},
		content.Text{Text: "world"},
	)

	assert.Equal(t, "hello world", msg.TextContent())
}

func TestRequest_TextContent_NoBlocks(t *testing.T) {
	msg := NewRequest(role.User)
	assert.Empty(t, msg.TextContent())
}

func TestRequest_ToolCalls(t *testing.T) {
	msg := NewRequest(role.Assistant,
		content.Text{Text: "calling"},
		content.ToolCall{ID: "1", Name: "a"},
		content.ToolCall{ID: "2", Name: "b"},
	)

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].Name)
	assert.Equal(t, "b", calls[1].Name)
}

func TestRequest_ToolCalls_None(t *testing.T) {
	assert.Nil(t, NewRequest(role.User, content.Text{Text: "hi"}).ToolCalls())
}

func TestResolvedInput_JSON(t *testing.T) {
	data := `{
		"system": {"assistant_name": "ChatGPT"},
		"messages": [
			{"role": "user", "content": [{"type": "text", "value": {"name": "Ada"}}]},
			{"role": "assistant", "content": [{"type": "raw_text", "value": "ok"}]}
		]
	}`

	var in ResolvedInput
	require.NoError(t, json.Unmarshal([]byte(data), &in))

	assert.Equal(t, map[string]any{"assistant_name": "ChatGPT"}, in.System)
	require.Len(t, in.Messages, 2)
	assert.Equal(t, role.User, in.Messages[0].Role)
	assert.Equal(t, content.InputText{Value: map[string]any{"name": "Ada"}}, in.Messages[0].Content[0])
	assert.Equal(t, content.RawText{Value: "ok"}, in.Messages[1].Content[0])
}
