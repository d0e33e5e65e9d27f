package content

import (
	"encoding/json"
	"fmt"
)

// Inputs is a list of input content with a tagged JSON encoding.
type Inputs []Input

// Blocks is a list of request blocks with a tagged JSON encoding.
type Blocks []Block

// Outputs is a list of output blocks with a tagged JSON encoding.
type Outputs []Output

// Chunks is a list of streaming chunks with a tagged JSON encoding.
type Chunks []Chunk

type kinded interface {
	Kind() Kind
}

// tag encodes v as its own JSON object with a leading "type" member.
func tag(v kinded) (json.RawMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	kind, err := json.Marshal(v.Kind())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(kind)+9)
	out = append(out, `{"type":`...)
	out = append(out, kind...)

	if len(body) > 2 {
		out = append(out, ',')
	}

	return append(out, body[1:]...), nil
}

func marshalTagged[T kinded](items []T) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(items))

	for i, item := range items {
		if any(item) == nil {
			return nil, fmt.Errorf("content: encode item %d: nil content", i)
		}

		raw, err := tag(item)
		if err != nil {
			return nil, fmt.Errorf("content: encode item %d: %w", i, err)
		}

		raws = append(raws, raw)
	}

	return json.Marshal(raws)
}

func unmarshalTagged[T any](data []byte, decode func(Kind, []byte) (T, error)) ([]T, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}

	if raws == nil {
		return nil, nil
	}

	items := make([]T, 0, len(raws))

	for i, raw := range raws {
		var head struct {
			Type Kind `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("content: decode item %d: %w", i, err)
		}

		item, err := decode(head.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("content: decode item %d: %w", i, err)
		}

		items = append(items, item)
	}

	return items, nil
}

func decodeAs[T any, I any](raw []byte) (I, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero I
		return zero, err
	}

	out, _ := any(v).(I)

	return out, nil
}

// MarshalJSON implements json.Marshaler.
func (s Inputs) MarshalJSON() ([]byte, error) { return marshalTagged(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Inputs) UnmarshalJSON(data []byte) error {
	items, err := unmarshalTagged(data, DecodeInput)
	*s = items

	return err
}

// MarshalJSON implements json.Marshaler.
func (s Blocks) MarshalJSON() ([]byte, error) { return marshalTagged(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Blocks) UnmarshalJSON(data []byte) error {
	items, err := unmarshalTagged(data, DecodeBlock)
	*s = items

	return err
}

// MarshalJSON implements json.Marshaler.
func (s Outputs) MarshalJSON() ([]byte, error) { return marshalTagged(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Outputs) UnmarshalJSON(data []byte) error {
	items, err := unmarshalTagged(data, DecodeOutput)
	*s = items

	return err
}

// MarshalJSON implements json.Marshaler.
func (s Chunks) MarshalJSON() ([]byte, error) { return marshalTagged(s) }

// UnmarshalJSON implements json.Unmarshaler.
func (s *Chunks) UnmarshalJSON(data []byte) error {
	items, err := unmarshalTagged(data, DecodeChunk)
	*s = items

	return err
}

// DecodeInput decodes a single tagged input object of the given kind.
func DecodeInput(kind Kind, raw []byte) (Input, error) {
	switch kind {
	case KindText:
		return decodeAs[InputText, Input](raw)
	case KindRawText:
		return decodeAs[RawText, Input](raw)
	case KindToolCall:
		return decodeAs[ToolCall, Input](raw)
	case KindToolResult:
		return decodeAs[ToolResult, Input](raw)
	case KindFile:
		return decodeAs[File, Input](raw)
	case KindThought:
		return decodeAs[Thought, Input](raw)
	case KindUnknown:
		return decodeAs[Unknown, Input](raw)
	default:
		return nil, fmt.Errorf("unknown input type %q", kind)
	}
}

// DecodeBlock decodes a single tagged request block of the given kind.
func DecodeBlock(kind Kind, raw []byte) (Block, error) {
	switch kind {
	case KindText:
		return decodeAs[Text, Block](raw)
	case KindToolCall:
		return decodeAs[ToolCall, Block](raw)
	case KindToolResult:
		return decodeAs[ToolResult, Block](raw)
	case KindFile:
		return decodeAs[File, Block](raw)
	case KindThought:
		return decodeAs[Thought, Block](raw)
	case KindUnknown:
		return decodeAs[Unknown, Block](raw)
	default:
		return nil, fmt.Errorf("unknown block type %q", kind)
	}
}

// DecodeOutput decodes a single tagged output block of the given kind.
func DecodeOutput(kind Kind, raw []byte) (Output, error) {
	switch kind {
	case KindText:
		return decodeAs[Text, Output](raw)
	case KindToolCall:
		return decodeAs[ToolCall, Output](raw)
	case KindThought:
		return decodeAs[Thought, Output](raw)
	default:
		return nil, fmt.Errorf("unknown output type %q", kind)
	}
}

// DecodeChunk decodes a single tagged streaming chunk of the given kind.
func DecodeChunk(kind Kind, raw []byte) (Chunk, error) {
	switch kind {
	case KindText:
		return decodeAs[TextChunk, Chunk](raw)
	case KindToolCall:
		return decodeAs[ToolCallChunk, Chunk](raw)
	case KindThought:
		return decodeAs[ThoughtChunk, Chunk](raw)
	default:
		return nil, fmt.Errorf("unknown chunk type %q", kind)
	}
}
