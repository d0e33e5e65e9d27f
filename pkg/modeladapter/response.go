package modeladapter

import (
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/relay/pkg/chats/content"
	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/modeladapter/usage"
)

// FinishReason is why a provider stopped generating.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCall      FinishReason = "tool_call"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonUnknown       FinishReason = "unknown"
)

// Response is a canonical non-streaming inference response. Output may be
// empty; Usage is always present.
type Response struct {
	ID            uuid.UUID         `json:"id"`
	Created       int64             `json:"created"`
	Output        content.Outputs   `json:"output"`
	System        string            `json:"system,omitempty"`
	InputMessages []message.Request `json:"input_messages"`
	RawRequest    string            `json:"raw_request"`
	RawResponse   string            `json:"raw_response"`
	Usage         usage.Usage       `json:"usage"`
	Latency       time.Duration     `json:"latency"`
	FinishReason  FinishReason      `json:"finish_reason,omitempty"`
}

// NewResponse creates a Response with a fresh time-ordered ID and the current
// creation time, echoing the request's system text and messages.
func NewResponse(req *Request) *Response {
	return &Response{
		ID:            uuid.Must(uuid.NewV7()),
		Created:       time.Now().Unix(),
		System:        req.System,
		InputMessages: req.Messages,
	}
}

// Chunk is one element of a streamed response. Usage is nil on every chunk
// except the terminal one, which also carries the finish reason and no
// content.
type Chunk struct {
	Created      int64          `json:"created"`
	Content      content.Chunks `json:"content"`
	Usage        *usage.Usage   `json:"usage,omitempty"`
	RawResponse  string         `json:"raw_response"`
	Latency      time.Duration  `json:"latency"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
}

// Terminal reports whether c is the usage-bearing final chunk.
func (c *Chunk) Terminal() bool {
	return c.Usage != nil
}
