package extra

import (
	"net/http"
	"slices"
)

// Header sets (or deletes) one request header.
type Header struct {
	Name   string `json:"name" yaml:"name"`
	Value  string `json:"value,omitempty" yaml:"value"`
	Delete bool   `json:"delete,omitempty" yaml:"delete"`
}

// Headers is a variant-level header overlay.
type Headers []Header

// InferenceHeader is a Header supplied with a single inference. An empty
// VariantName applies it to every variant.
type InferenceHeader struct {
	VariantName string `json:"variant_name,omitempty"`
	Name        string `json:"name"`
	Value       string `json:"value,omitempty"`
	Delete      bool   `json:"delete,omitempty"`
}

// InferenceHeaders is an inference-level header overlay.
type InferenceHeaders []InferenceHeader

// Filter returns the headers that apply to the named variant.
func (h InferenceHeaders) Filter(variant string) InferenceHeaders {
	var out InferenceHeaders

	for _, x := range h {
		if x.VariantName == "" || x.VariantName == variant {
			out = append(out, x)
		}
	}

	return out
}

// FullHeaders is the effective header overlay forwarded to a provider.
type FullHeaders struct {
	Variant   Headers          `json:"variant,omitempty"`
	Inference InferenceHeaders `json:"inference,omitempty"`
}

// Empty reports whether the overlay changes nothing.
func (f FullHeaders) Empty() bool {
	return len(f.Variant) == 0 && len(f.Inference) == 0
}

// Apply writes the overlay into h in place.
func (f FullHeaders) Apply(h http.Header) {
	for _, x := range f.Variant {
		set(h, x.Name, x.Value, x.Delete)
	}

	for _, x := range f.Inference {
		set(h, x.Name, x.Value, x.Delete)
	}
}

// Effective returns the overlay as (canonical name, value) pairs sorted by
// name. Deleted headers are omitted.
func (f FullHeaders) Effective() [][2]string {
	h := make(http.Header)
	f.Apply(h)

	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}

	slices.Sort(names)

	out := make([][2]string, 0, len(names))
	for _, name := range names {
		out = append(out, [2]string{name, h.Get(name)})
	}

	return out
}

func set(h http.Header, name, value string, del bool) {
	if del {
		h.Del(name)
		return
	}

	h.Set(name, value)
}
