// Package content defines the closed sets of content used across a request's
// lifetime: resolved input content, canonical request blocks, provider output
// blocks, and streaming chunks.
//
// Each set is a sealed interface. Switches over a set end in a default branch
// that reports the unexpected kind, so adding a kind cannot be silently
// mishandled.
package content

import "encoding/json"

// Kind is the wire discriminator of a content value.
type Kind string

const (
	KindText       Kind = "text"
	KindRawText    Kind = "raw_text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindFile       Kind = "file"
	KindThought    Kind = "thought"
	KindUnknown    Kind = "unknown"
)

// Input is a piece of resolved conversation input, before templates apply.
type Input interface {
	Kind() Kind
	isInput()
}

// Block is a piece of canonical request content sent to a provider.
type Block interface {
	Kind() Kind
	isBlock()
}

// Output is a piece of content produced by a provider. Outputs are immutable
// once returned.
type Output interface {
	Kind() Kind
	isOutput()
}

// InputText carries a JSON value: either a plain string or a structured object
// destined for a template.
type InputText struct {
	Value any `json:"value"`
}

func (InputText) Kind() Kind { return KindText }
func (InputText) isInput()   {}

// RawText is input text that bypasses templates entirely.
type RawText struct {
	Value string `json:"value"`
}

func (RawText) Kind() Kind { return KindRawText }
func (RawText) isInput()   {}

// Text is rendered text in a request, or text produced by a provider.
type Text struct {
	Text string `json:"text"`
}

func (Text) Kind() Kind { return KindText }
func (Text) isBlock()   {}
func (Text) isOutput()  {}

// ToolCall is a model's request to invoke a tool. Arguments holds the raw JSON
// string exactly as the provider produced it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (ToolCall) Kind() Kind { return KindToolCall }
func (ToolCall) isInput()   {}
func (ToolCall) isBlock()   {}
func (ToolCall) isOutput()  {}

// ToolResult is the output of a tool invocation fed back to the model.
type ToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

func (ToolResult) Kind() Kind { return KindToolResult }
func (ToolResult) isInput()   {}
func (ToolResult) isBlock()   {}

// File is a binary attachment, referenced by URL or embedded as raw bytes.
type File struct {
	MimeType    string `json:"mime_type"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
}

func (File) Kind() Kind { return KindFile }
func (File) isInput()   {}
func (File) isBlock()   {}

// Thought is a reasoning trace. Signature and ProviderType carry opaque
// provider data that must survive round-trips through conversation history.
// Optional fields use the empty string for absent.
type Thought struct {
	Text         string `json:"text,omitempty"`
	Signature    string `json:"signature,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

func (Thought) Kind() Kind { return KindThought }
func (Thought) isInput()   {}
func (Thought) isBlock()   {}
func (Thought) isOutput()  {}

// Unknown is an opaque provider-specific block. When ModelProviderName is set
// only that provider receives it.
type Unknown struct {
	Data              json.RawMessage `json:"data"`
	ModelProviderName string          `json:"model_provider_name,omitempty"`
}

func (Unknown) Kind() Kind { return KindUnknown }
func (Unknown) isInput()   {}
func (Unknown) isBlock()   {}
