package content

import (
	"fmt"
	"strings"
)

type collectKey struct {
	kind Kind
	id   string
}

type collected struct {
	kind      Kind
	id        string
	text      strings.Builder
	name      strings.Builder
	signature strings.Builder
	provider  string
}

// Collect merges streamed chunks into output blocks. Fragments sharing a kind
// and ID are concatenated; blocks are returned in the order their first
// fragment was seen.
func Collect(chunks []Chunk) ([]Output, error) {
	var order []*collected

	index := make(map[collectKey]*collected)

	for _, c := range chunks {
		if c == nil {
			continue
		}

		key := collectKey{kind: c.Kind(), id: c.ChunkID()}

		acc, ok := index[key]
		if !ok {
			acc = &collected{kind: key.kind, id: key.id}
			index[key] = acc
			order = append(order, acc)
		}

		switch v := c.(type) {
		case TextChunk:
			acc.text.WriteString(v.Text)
		case ToolCallChunk:
			acc.name.WriteString(v.RawName)
			acc.text.WriteString(v.RawArguments)
		case ThoughtChunk:
			acc.text.WriteString(v.Text)
			acc.signature.WriteString(v.Signature)

			if v.ProviderType != "" {
				acc.provider = v.ProviderType
			}
		default:
			return nil, fmt.Errorf("content: collect: unexpected chunk %T", c)
		}
	}

	out := make([]Output, 0, len(order))

	for _, acc := range order {
		switch acc.kind {
		case KindText:
			out = append(out, Text{Text: acc.text.String()})
		case KindToolCall:
			out = append(out, ToolCall{ID: acc.id, Name: acc.name.String(), Arguments: acc.text.String()})
		case KindThought:
			out = append(out, Thought{
				Text:         acc.text.String(),
				Signature:    acc.signature.String(),
				ProviderType: acc.provider,
			})
		default:
			return nil, fmt.Errorf("content: collect: unexpected kind %q", acc.kind)
		}
	}

	return out, nil
}
