package modeladapter

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/germanamz/relay/pkg/chats/message"
	"github.com/germanamz/relay/pkg/modeladapter/extra"
)

// FunctionType is the kind of function a request was prepared for.
type FunctionType string

const (
	FunctionTypeChat FunctionType = "chat"
	FunctionTypeJSON FunctionType = "json"
)

// Valid reports whether t is a known function type.
func (t FunctionType) Valid() bool {
	return t == FunctionTypeChat || t == FunctionTypeJSON
}

// JSONMode controls how a provider is asked to produce JSON output.
type JSONMode string

const (
	JSONModeOff          JSONMode = "off"
	JSONModeOn           JSONMode = "on"
	JSONModeStrict       JSONMode = "strict"
	JSONModeImplicitTool JSONMode = "implicit_tool"
)

// Valid reports whether m is a known JSON mode.
func (m JSONMode) Valid() bool {
	switch m {
	case JSONModeOff, JSONModeOn, JSONModeStrict, JSONModeImplicitTool:
		return true
	}

	return false
}

// Tool describes a tool the model may call.
type Tool struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty" yaml:"-"`
	Strict      bool            `json:"strict,omitempty" yaml:"strict"`
}

// ToolChoice selects how the model should use tools: "auto", "none",
// "required", or the name of a specific tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// Specific returns the forced tool name when c names a single tool.
func (c ToolChoice) Specific() (string, bool) {
	switch c {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return "", false
	}

	return string(c), true
}

// ToolConfig is the set of tools offered to the model for one request.
type ToolConfig struct {
	Tools             []Tool     `json:"tools"`
	Choice            ToolChoice `json:"tool_choice"`
	ParallelToolCalls *bool      `json:"parallel_tool_calls,omitempty"`
}

// Tool returns the tool with the given name.
func (c *ToolConfig) Tool(name string) (Tool, bool) {
	if c == nil {
		return Tool{}, false
	}

	i := slices.IndexFunc(c.Tools, func(t Tool) bool { return t.Name == name })
	if i < 0 {
		return Tool{}, false
	}

	return c.Tools[i], true
}

// Request is a canonical inference request. It is built once per inference
// call and must not be modified afterwards.
type Request struct {
	Messages         []message.Request `json:"messages"`
	System           string            `json:"system,omitempty"`
	ToolConfig       *ToolConfig       `json:"tool_config,omitempty"`
	Temperature      *float32          `json:"temperature,omitempty"`
	TopP             *float32          `json:"top_p,omitempty"`
	MaxTokens        *uint32           `json:"max_tokens,omitempty"`
	PresencePenalty  *float32          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32          `json:"frequency_penalty,omitempty"`
	Seed             *uint32           `json:"seed,omitempty"`
	StopSequences    []string          `json:"stop_sequences,omitempty"`
	Stream           bool              `json:"stream"`
	JSONMode         JSONMode          `json:"json_mode"`
	FunctionType     FunctionType      `json:"function_type"`
	OutputSchema     json.RawMessage   `json:"output_schema,omitempty"`
	ExtraBody        extra.FullBody    `json:"extra_body"`
	ExtraHeaders     extra.FullHeaders `json:"extra_headers"`
}

// Provider is a configured inference backend. Every provider supports
// blocking inference; the remaining capabilities are optional interfaces.
type Provider interface {
	// ProviderType names the backend kind, e.g. "dummy".
	ProviderType() string
	Infer(ctx context.Context, req *Request, creds Credentials) (*Response, error)
}

// Streamer is implemented by providers that can stream a response. The
// returned string is the raw outbound request.
type Streamer interface {
	InferStream(ctx context.Context, req *Request, creds Credentials) (*Stream, string, error)
}

// BatchInferer is implemented by providers that support asynchronous batches.
type BatchInferer interface {
	StartBatchInference(ctx context.Context, reqs []*Request, creds Credentials) (*StartBatchResponse, error)
	PollBatchInference(ctx context.Context, row BatchRequestRow, creds Credentials) (*PollBatchResponse, error)
}

// Embedder is implemented by providers that produce embeddings.
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest, creds Credentials) (*EmbeddingResponse, error)
}

// InferStream streams from p, or fails with an [UnsupportedError] when p
// cannot stream.
func InferStream(ctx context.Context, p Provider, req *Request, creds Credentials) (*Stream, string, error) {
	s, ok := p.(Streamer)
	if !ok {
		return nil, "", &UnsupportedError{Operation: "streaming inference", ProviderType: p.ProviderType()}
	}

	return s.InferStream(ctx, req, creds)
}

// StartBatchInference starts a batch on p, or fails with an [UnsupportedError]
// when p has no batch support.
func StartBatchInference(ctx context.Context, p Provider, reqs []*Request, creds Credentials) (*StartBatchResponse, error) {
	b, ok := p.(BatchInferer)
	if !ok {
		return nil, &UnsupportedError{Operation: "batch inference", ProviderType: p.ProviderType()}
	}

	return b.StartBatchInference(ctx, reqs, creds)
}

// PollBatchInference polls a batch on p, or fails with an [UnsupportedError]
// when p has no batch support.
func PollBatchInference(ctx context.Context, p Provider, row BatchRequestRow, creds Credentials) (*PollBatchResponse, error) {
	b, ok := p.(BatchInferer)
	if !ok {
		return nil, &UnsupportedError{Operation: "batch inference", ProviderType: p.ProviderType()}
	}

	return b.PollBatchInference(ctx, row, creds)
}

// Embed embeds with p, or fails with an [UnsupportedError] when p cannot.
func Embed(ctx context.Context, p Provider, req *EmbeddingRequest, creds Credentials) (*EmbeddingResponse, error) {
	e, ok := p.(Embedder)
	if !ok {
		return nil, &UnsupportedError{Operation: "embeddings", ProviderType: p.ProviderType()}
	}

	return e.Embed(ctx, req, creds)
}
