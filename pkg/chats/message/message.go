// Package message defines role-tagged messages at the two ends of request
// preparation: resolved input messages and canonical request messages.
package message

import (
	"strings"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/role"
)

// Input is a resolved conversation message, before templates are applied.
type Input struct {
	Role    role.Role      `json:"role"`
	Content content.Inputs `json:"content"`
}

// NewInputText creates an input message holding a single text value. The value
// may be a plain string or a structured object for a schema-backed template.
func NewInputText(r role.Role, value any) Input {
	return Input{Role: r, Content: content.Inputs{content.InputText{Value: value}}}
}

// Request is a message in a canonical inference request.
type Request struct {
	Role    role.Role      `json:"role"`
	Content content.Blocks `json:"content"`
}

// NewRequest creates a request message with the given blocks.
func NewRequest(r role.Role, blocks ...content.Block) Request {
	return Request{Role: r, Content: blocks}
}

// TextContent returns the concatenated text of all Text blocks.
func (m Request) TextContent() string {
	var b strings.Builder

	for _, block := range m.Content {
		if t, ok := block.(content.Text); ok {
			b.WriteString(t.Text)
		}
	}

	return b.String()
}

// ToolCalls returns every tool call block in the message.
func (m Request) ToolCalls() []content.ToolCall {
	var calls []content.ToolCall

	for _, block := range m.Content {
		if tc, ok := block.(content.ToolCall); ok {
			calls = append(calls, tc)
		}
	}

	return calls
}

// ResolvedInput is the caller's conversation: an optional system value and the
// ordered user/assistant messages.
type ResolvedInput struct {
	System   any     `json:"system,omitempty"`
	Messages []Input `json:"messages"`
}
