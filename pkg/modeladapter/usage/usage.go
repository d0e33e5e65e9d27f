// Package usage provides token accounting for inference calls.
package usage

import "sync"

// Usage holds input and output token counts for a single inference call.
type Usage struct {
	InputTokens  uint32 `json:"input_tokens"`
	OutputTokens uint32 `json:"output_tokens"`
}

// Total returns the sum of input and output tokens.
func (u Usage) Total() uint64 {
	return uint64(u.InputTokens) + uint64(u.OutputTokens)
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// Tracker accumulates usage per key (typically a model name).
// The zero value is ready to use and it is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	totals map[string]Usage
	calls  map[string]int
}

// Add records one call's usage under key.
func (t *Tracker) Add(key string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totals == nil {
		t.totals = make(map[string]Usage)
		t.calls = make(map[string]int)
	}

	t.totals[key] = t.totals[key].Add(u)
	t.calls[key]++
}

// Get returns the accumulated usage and call count for key.
func (t *Tracker) Get(key string) (Usage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totals[key], t.calls[key]
}

// Total returns the aggregate usage across all keys.
func (t *Tracker) Total() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total Usage
	for _, u := range t.totals {
		total = total.Add(u)
	}

	return total
}

// Snapshot returns a copy of the per-key totals.
func (t *Tracker) Snapshot() map[string]Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Usage, len(t.totals))
	for k, u := range t.totals {
		out[k] = u
	}

	return out
}

// Reset clears all recorded usage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totals = nil
	t.calls = nil
}
