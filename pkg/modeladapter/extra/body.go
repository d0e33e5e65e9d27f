// Package extra layers caller-supplied overrides onto provider request bodies
// and headers.
//
// A variant may declare overrides in configuration; a single inference may
// add its own, each optionally scoped to one variant. Variant overrides apply
// first, inference overrides second, so the inference wins on conflicts.
package extra

import (
	"fmt"
	"strconv"
	"strings"
)

// Replacement sets (or deletes) the value at a JSON pointer in a request body.
type Replacement struct {
	Pointer string `json:"pointer" yaml:"pointer"`
	Value   any    `json:"value,omitempty" yaml:"value"`
	Delete  bool   `json:"delete,omitempty" yaml:"delete"`
}

// Body is a variant-level body overlay.
type Body []Replacement

// InferenceReplacement is a Replacement supplied with a single inference. An
// empty VariantName applies it to every variant.
type InferenceReplacement struct {
	VariantName string `json:"variant_name,omitempty"`
	Pointer     string `json:"pointer"`
	Value       any    `json:"value,omitempty"`
	Delete      bool   `json:"delete,omitempty"`
}

// InferenceBody is an inference-level body overlay.
type InferenceBody []InferenceReplacement

// Filter returns the replacements that apply to the named variant.
func (b InferenceBody) Filter(variant string) InferenceBody {
	var out InferenceBody

	for _, r := range b {
		if r.VariantName == "" || r.VariantName == variant {
			out = append(out, r)
		}
	}

	return out
}

// FullBody is the effective body overlay forwarded to a provider.
type FullBody struct {
	Variant   Body          `json:"variant,omitempty"`
	Inference InferenceBody `json:"inference,omitempty"`
}

// Empty reports whether the overlay changes nothing.
func (f FullBody) Empty() bool {
	return len(f.Variant) == 0 && len(f.Inference) == 0
}

// Apply writes the overlay into body in place.
func (f FullBody) Apply(body map[string]any) error {
	for _, r := range f.Variant {
		if err := apply(body, r.Pointer, r.Value, r.Delete); err != nil {
			return err
		}
	}

	for _, r := range f.Inference {
		if err := apply(body, r.Pointer, r.Value, r.Delete); err != nil {
			return err
		}
	}

	return nil
}

func apply(body map[string]any, pointer string, value any, del bool) error {
	tokens, err := parsePointer(pointer)
	if err != nil {
		return err
	}

	if len(tokens) == 0 {
		return fmt.Errorf("extra: pointer %q: cannot replace the whole body", pointer)
	}

	var cur any = body

	for i, tok := range tokens {
		last := i == len(tokens)-1

		switch node := cur.(type) {
		case map[string]any:
			if last {
				if del {
					delete(node, tok)
				} else {
					node[tok] = value
				}

				return nil
			}

			next, ok := node[tok]
			if !ok || next == nil {
				if del {
					return nil
				}

				next = make(map[string]any)
				node[tok] = next
			}

			cur = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("extra: pointer %q: invalid array index %q", pointer, tok)
			}

			if last {
				if del {
					return fmt.Errorf("extra: pointer %q: cannot delete array elements", pointer)
				}

				node[idx] = value

				return nil
			}

			cur = node[idx]
		default:
			return fmt.Errorf("extra: pointer %q: %q is not a container", pointer, strings.Join(tokens[:i], "/"))
		}
	}

	return nil
}

// parsePointer splits an RFC 6901 JSON pointer into unescaped reference tokens.
func parsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}

	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("extra: pointer %q must start with '/'", pointer)
	}

	parts := strings.Split(pointer[1:], "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}

	return parts, nil
}
